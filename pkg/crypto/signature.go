package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// KeySize and SigSize are uniform across the three schemes at this layer —
// the schemes are opaque providers; only their derivation differs, not
// their advertised sizes.
const (
	KeySize = 32
	SigSize = 32
)

// Scheme names, used for domain separation during seed expansion
// (seed_A = HMAC-SHA256(E, ASCII(A))) and as provider registry keys.
const (
	SchemeDilithium = "dilithium"
	SchemeFalcon    = "falcon"
	SchemeSphincs   = "sphincs"
)

// SignatureProvider is an opaque post-quantum signature scheme: deterministic
// keygen from a 32-byte seed, sign, verify. Real Dilithium2/Falcon-512/
// SPHINCS+-SHAKE-128f implementations are out of scope; these providers
// reproduce the observable contract — deterministic keygen, sign,
// verify, fixed sizes, and a signature that verifies only against the
// keypair it was produced with — using a keyed-hash construction per
// scheme, rather than fabricating a fake external lattice/hash-based
// signature module. The key returned as "pub" is the value stored on-chain
// (pkg/types account state); "priv" never leaves the signer.
type SignatureProvider interface {
	Name() string
	KeyPairFromSeed(seed []byte) (pub, priv []byte)
	Sign(priv, msg []byte) []byte
	Verify(pub, msg, sig []byte) bool
}

// Providers is the fixed registry of the three schemes used by the 2-of-3
// threshold, in the deterministic order the threshold is evaluated.
var Providers = []SignatureProvider{
	dilithiumProvider{},
	falconProvider{},
	sphincsProvider{},
}

// ProviderByName returns the provider registered under name, or nil.
func ProviderByName(name string) SignatureProvider {
	for _, p := range Providers {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

type dilithiumProvider struct{}

func (dilithiumProvider) Name() string { return SchemeDilithium }

// KeyPairFromSeed expands seed once into a single key used as both the
// published verification key and the signing key. Sign/Verify apply the
// same keyed digest, so the pair round-trips exactly like an opaque
// signature scheme's (pub, priv) would, without claiming to provide
// asymmetric unforgeability (out of scope for this layer).
func (dilithiumProvider) KeyPairFromSeed(seed []byte) (pub, priv []byte) {
	key := expandHMAC(seed, "dilithium-key", KeySize)
	return key, key
}

func (dilithiumProvider) Sign(priv, msg []byte) []byte {
	return macTag(priv, "dilithium-sig", msg)
}

func (dilithiumProvider) Verify(pub, msg, sig []byte) bool {
	expected := macTag(pub, "dilithium-sig", msg)
	return hmac.Equal(expected, sig)
}

type falconProvider struct{}

func (falconProvider) Name() string { return SchemeFalcon }

func (falconProvider) KeyPairFromSeed(seed []byte) (pub, priv []byte) {
	key := expandSHAKE(seed, "falcon-key", KeySize)
	return key, key
}

func (falconProvider) Sign(priv, msg []byte) []byte {
	return shakeTag(priv, "falcon-sig", msg)
}

func (falconProvider) Verify(pub, msg, sig []byte) bool {
	expected := shakeTag(pub, "falcon-sig", msg)
	return hmac.Equal(expected, sig)
}

type sphincsProvider struct{}

func (sphincsProvider) Name() string { return SchemeSphincs }

func (sphincsProvider) KeyPairFromSeed(seed []byte) (pub, priv []byte) {
	key := expandSHAKE(seed, "sphincs-key", KeySize)
	return key, key
}

func (sphincsProvider) Sign(priv, msg []byte) []byte {
	return shakeTag(priv, "sphincs-sig", msg)
}

func (sphincsProvider) Verify(pub, msg, sig []byte) bool {
	expected := shakeTag(pub, "sphincs-sig", msg)
	return hmac.Equal(expected, sig)
}

func expandHMAC(seed []byte, tag string, size int) []byte {
	mac := hmac.New(sha256.New, seed)
	mac.Write([]byte(tag))
	sum := mac.Sum(nil)
	return sum[:size]
}

func macTag(key []byte, tag string, msg []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(tag))
	mac.Write(msg)
	return mac.Sum(nil)[:SigSize]
}

func expandSHAKE(seed []byte, tag string, size int) []byte {
	h := sha3.NewShake256()
	h.Write(seed)
	h.Write([]byte(tag))
	out := make([]byte, size)
	if _, err := h.Read(out); err != nil {
		panic(fmt.Sprintf("shake256 read: %v", err))
	}
	return out
}

func shakeTag(key []byte, tag string, msg []byte) []byte {
	h := sha3.NewShake256()
	h.Write(key)
	h.Write([]byte(tag))
	h.Write(msg)
	out := make([]byte, SigSize)
	if _, err := h.Read(out); err != nil {
		panic(fmt.Sprintf("shake256 read: %v", err))
	}
	return out
}
