package tx

import (
	"crypto/hmac"
	"crypto/sha256"

	"github.com/bastille-chain/bastille/pkg/crypto"
	"github.com/bastille-chain/bastille/pkg/types"
)

// SubSeed derives the per-scheme seed from 32-byte master entropy:
// seed_A = HMAC-SHA256(E, ASCII(A)).
func SubSeed(entropy []byte, scheme string) []byte {
	mac := hmac.New(sha256.New, entropy)
	mac.Write([]byte(scheme))
	return mac.Sum(nil)
}

// DerivePublicKeys derives the {dilithium_pub, falcon_pub, sphincs_pub}
// triple from 32-byte master entropy.
func DerivePublicKeys(entropy []byte) types.PublicKeySet {
	dPub, _ := crypto.ProviderByName(crypto.SchemeDilithium).KeyPairFromSeed(SubSeed(entropy, crypto.SchemeDilithium))
	fPub, _ := crypto.ProviderByName(crypto.SchemeFalcon).KeyPairFromSeed(SubSeed(entropy, crypto.SchemeFalcon))
	sPub, _ := crypto.ProviderByName(crypto.SchemeSphincs).KeyPairFromSeed(SubSeed(entropy, crypto.SchemeSphincs))
	return types.PublicKeySet{Dilithium: dPub, Falcon: fPub, Sphincs: sPub}
}

// Sign derives the three PQ private keys from entropy and signs the
// transaction's signing message, filling in Signature, SignatureType, and
// Hash. The caller must already have set From/To/Amount/Fee/Nonce/
// Timestamp/Data.
func (tx *Transaction) Sign(entropy []byte) {
	msg := tx.SigningMessage()

	_, dPriv := crypto.ProviderByName(crypto.SchemeDilithium).KeyPairFromSeed(SubSeed(entropy, crypto.SchemeDilithium))
	_, fPriv := crypto.ProviderByName(crypto.SchemeFalcon).KeyPairFromSeed(SubSeed(entropy, crypto.SchemeFalcon))
	_, sPriv := crypto.ProviderByName(crypto.SchemeSphincs).KeyPairFromSeed(SubSeed(entropy, crypto.SchemeSphincs))

	tx.SignatureType = SignatureRegular
	tx.Signature = ThresholdSignature{
		Dilithium: crypto.ProviderByName(crypto.SchemeDilithium).Sign(dPriv, msg),
		Falcon:    crypto.ProviderByName(crypto.SchemeFalcon).Sign(fPriv, msg),
		Sphincs:   crypto.ProviderByName(crypto.SchemeSphincs).Sign(sPriv, msg),
	}
	tx.Rehash()
}

// VerifyThreshold checks the 2-of-3 post-quantum threshold: the
// transaction is authentic iff at least two of the three schemes verify
// against the keys registered for tx.From.
func (tx *Transaction) VerifyThreshold(keys types.PublicKeySet) bool {
	if tx.SignatureType != SignatureRegular {
		return false
	}
	msg := tx.SigningMessage()
	votes := 0
	if crypto.ProviderByName(crypto.SchemeDilithium).Verify(keys.Dilithium, msg, tx.Signature.Dilithium) {
		votes++
	}
	if crypto.ProviderByName(crypto.SchemeFalcon).Verify(keys.Falcon, msg, tx.Signature.Falcon) {
		votes++
	}
	if crypto.ProviderByName(crypto.SchemeSphincs).Verify(keys.Sphincs, msg, tx.Signature.Sphincs) {
		votes++
	}
	return votes >= 2
}
