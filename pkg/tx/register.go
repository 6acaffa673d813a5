package tx

import (
	"encoding/binary"
	"fmt"

	"github.com/bastille-chain/bastille/pkg/crypto"
	"github.com/bastille-chain/bastille/pkg/types"
)

// EncodeKeyRegistration packs a public key set into a transaction's Data
// field using the same length-prefixed convention as a signature triple
// (see appendSig). A fresh address has no registered keys yet, so the
// first regular transaction it sends carries this encoding as proof of
// the keys the address was derived from; every later transaction from
// that address can omit it once the keys are on record.
func EncodeKeyRegistration(keys types.PublicKeySet) []byte {
	buf := appendSig(nil, keys.Dilithium)
	buf = appendSig(buf, keys.Falcon)
	buf = appendSig(buf, keys.Sphincs)
	return buf
}

// DecodeKeyRegistration reverses EncodeKeyRegistration.
func DecodeKeyRegistration(data []byte) (types.PublicKeySet, error) {
	var keys types.PublicKeySet
	rest := data
	for _, dst := range []*[]byte{&keys.Dilithium, &keys.Falcon, &keys.Sphincs} {
		if len(rest) < 4 {
			return types.PublicKeySet{}, fmt.Errorf("truncated key registration")
		}
		n := binary.BigEndian.Uint32(rest[:4])
		rest = rest[4:]
		if uint32(len(rest)) < n {
			return types.PublicKeySet{}, fmt.Errorf("truncated key registration")
		}
		*dst = rest[:n]
		rest = rest[n:]
	}
	return keys, nil
}

// VerifyAddressBinding reports whether keys hash to the 20-byte suffix
// encoded in addr, i.e. that addr was actually derived from this key set.
func VerifyAddressBinding(addr types.Address, prefix string, keys types.PublicKeySet) bool {
	want := crypto.AddressHash(keys.Dilithium, keys.Falcon, keys.Sphincs)
	return addr == types.NewAddress(prefix, want)
}

// ResolveKeys returns the public keys that should be used to verify tx's
// signature: the already-registered set for addresses with one on record,
// or a fresh set decoded from tx.Data (and checked against tx.From) for a
// first-time sender. It never mutates registered; callers that accept the
// transaction are responsible for persisting a freshly resolved key set.
func ResolveKeys(transaction *Transaction, registered types.PublicKeySet, prefix string) (types.PublicKeySet, error) {
	if !registered.IsZero() {
		return registered, nil
	}
	keys, err := DecodeKeyRegistration(transaction.Data)
	if err != nil {
		return types.PublicKeySet{}, fmt.Errorf("%w: %v", ErrPublicKeysMissing, err)
	}
	if !VerifyAddressBinding(transaction.From, prefix, keys) {
		return types.PublicKeySet{}, fmt.Errorf("%w: keys do not hash to from address", ErrPublicKeysMissing)
	}
	return keys, nil
}
