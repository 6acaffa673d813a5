package types

import (
	"encoding/hex"
	"encoding/json"
)

// PublicKeySet holds the three post-quantum public keys registered for an
// address. A zero-value set means no keys have been registered yet (the
// address has never signed a regular transaction).
type PublicKeySet struct {
	Dilithium []byte `json:"dilithium_pub"`
	Falcon    []byte `json:"falcon_pub"`
	Sphincs   []byte `json:"sphincs_pub"`
}

// IsZero reports whether no public keys are registered.
func (p PublicKeySet) IsZero() bool {
	return len(p.Dilithium) == 0 && len(p.Falcon) == 0 && len(p.Sphincs) == 0
}

type publicKeySetJSON struct {
	Dilithium string `json:"dilithium_pub"`
	Falcon    string `json:"falcon_pub"`
	Sphincs   string `json:"sphincs_pub"`
}

// MarshalJSON hex-encodes the three key byte slices.
func (p PublicKeySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(publicKeySetJSON{
		Dilithium: hex.EncodeToString(p.Dilithium),
		Falcon:    hex.EncodeToString(p.Falcon),
		Sphincs:   hex.EncodeToString(p.Sphincs),
	})
}

// UnmarshalJSON decodes the hex-encoded key byte slices.
func (p *PublicKeySet) UnmarshalJSON(data []byte) error {
	var j publicKeySetJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	var err error
	if p.Dilithium, err = hex.DecodeString(j.Dilithium); err != nil {
		return err
	}
	if p.Falcon, err = hex.DecodeString(j.Falcon); err != nil {
		return err
	}
	if p.Sphincs, err = hex.DecodeString(j.Sphincs); err != nil {
		return err
	}
	return nil
}

// Account is the persisted per-address state: balance, nonce, and the
// post-quantum public keys registered by the address's first regular
// transaction.
type Account struct {
	Balance    uint64       `json:"balance"`
	Nonce      uint64       `json:"nonce"`
	PublicKeys PublicKeySet `json:"public_keys,omitempty"`
}
