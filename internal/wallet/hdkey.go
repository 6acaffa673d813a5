package wallet

import (
	"fmt"

	"github.com/bastille-chain/bastille/pkg/crypto"
	"github.com/bastille-chain/bastille/pkg/tx"
	"github.com/bastille-chain/bastille/pkg/types"
	"github.com/tyler-smith/go-bip32"
)

// BIP-44 derivation path constants.
// Full path: m/44'/CoinType'/account'/change/index
const (
	// PurposeBIP44 is the BIP-44 purpose field (hardened).
	PurposeBIP44 = bip32.FirstHardenedChild + 44

	// CoinTypeBastille is our registered (placeholder) coin type (hardened).
	// TODO: Register an actual coin type number.
	CoinTypeBastille = bip32.FirstHardenedChild + 8888

	// ChangeExternal is for receiving addresses.
	ChangeExternal = 0

	// ChangeInternal is for change addresses.
	ChangeInternal = 1
)

// HDKey represents a hierarchical deterministic key (BIP-32).
type HDKey struct {
	key *bip32.Key
}

// NewMasterKey creates a master HD key from a 64-byte seed.
func NewMasterKey(seed []byte) (*HDKey, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}
	return &HDKey{key: master}, nil
}

// DeriveChild derives a child key at the given index.
// For hardened derivation, add bip32.FirstHardenedChild to the index.
func (k *HDKey) DeriveChild(index uint32) (*HDKey, error) {
	child, err := k.key.NewChildKey(index)
	if err != nil {
		return nil, fmt.Errorf("derive child %d: %w", index, err)
	}
	return &HDKey{key: child}, nil
}

// DerivePath derives a key along a sequence of indices.
func (k *HDKey) DerivePath(indices ...uint32) (*HDKey, error) {
	current := k
	for _, idx := range indices {
		child, err := current.DeriveChild(idx)
		if err != nil {
			return nil, err
		}
		current = child
	}
	return current, nil
}

// DeriveAddress derives the key at m/44'/8888'/account'/change/index. The
// derived key's 32-byte entropy seeds the account's three post-quantum
// keypairs (see Entropy/PublicKeys/Address).
func (k *HDKey) DeriveAddress(account, change, index uint32) (*HDKey, error) {
	return k.DerivePath(
		PurposeBIP44,
		CoinTypeBastille,
		bip32.FirstHardenedChild+account,
		change,
		index,
	)
}

// Entropy returns the raw 32-byte value used to seed this account's
// Dilithium/Falcon/SPHINCS+ keypairs (see pkg/tx.DerivePublicKeys and
// Transaction.Sign). Returns nil if this is a public-only key.
func (k *HDKey) Entropy() []byte {
	if !k.key.IsPrivate {
		return nil
	}
	// bip32 Key.Key is 33 bytes with a leading 0x00 for private keys.
	raw := k.key.Key
	if len(raw) == 33 && raw[0] == 0 {
		return raw[1:]
	}
	return raw
}

// PublicKeys derives this account's {Dilithium, Falcon, SPHINCS+} public
// key set from its entropy. Returns an error if this is a public-only key;
// an HD tree holds no usable public key material on its own, since the
// account model's addressing scheme needs the derived triple, not the
// BIP-32 curve point.
func (k *HDKey) PublicKeys() (types.PublicKeySet, error) {
	entropy := k.Entropy()
	if entropy == nil {
		return types.PublicKeySet{}, fmt.Errorf("cannot derive public keys from a public-only HD key")
	}
	return tx.DerivePublicKeys(entropy), nil
}

// Address derives this account's address: prefix + hex(AddressHash(pubD,
// pubF, pubS)), using the globally configured types.AddressPrefix.
func (k *HDKey) Address() (types.Address, error) {
	keys, err := k.PublicKeys()
	if err != nil {
		return "", err
	}
	truncated := crypto.AddressHash(keys.Dilithium, keys.Falcon, keys.Sphincs)
	return types.NewAddress(types.AddressPrefix, truncated), nil
}

// IsPrivate returns true if this key contains a private key.
func (k *HDKey) IsPrivate() bool {
	return k.key.IsPrivate
}

// Depth returns the derivation depth (0 for master).
func (k *HDKey) Depth() uint8 {
	return k.key.Depth
}

// Neuter returns a public-key-only copy usable for further BIP-32 child
// derivation, e.g. to hand a branch of the tree to a watch-only process.
// Its Address/PublicKeys cannot be recovered this way: the account
// model's post-quantum keypairs are derived from entropy, which a
// neutered key no longer carries.
func (k *HDKey) Neuter() *HDKey {
	return &HDKey{key: k.key.PublicKey()}
}
