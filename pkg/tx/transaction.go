// Package tx defines the account-model transaction type, its canonical
// serialization, fee computation, and post-quantum signing/verification.
package tx

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"

	"github.com/bastille-chain/bastille/pkg/crypto"
	"github.com/bastille-chain/bastille/pkg/types"
)

// SignatureType distinguishes a regular (2-of-3 PQ signed) transaction from
// a coinbase (sentinel-signed) one.
type SignatureType uint8

const (
	SignatureRegular SignatureType = iota
	SignatureCoinbase
)

func (s SignatureType) String() string {
	switch s {
	case SignatureRegular:
		return "regular"
	case SignatureCoinbase:
		return "coinbase"
	default:
		return "unknown"
	}
}

// ThresholdSignature is the {σ_d, σ_f, σ_s} triple produced for a regular
// transaction. A Coinbase transaction carries the zero value.
type ThresholdSignature struct {
	Dilithium []byte `json:"dilithium_sig"`
	Falcon    []byte `json:"falcon_sig"`
	Sphincs   []byte `json:"sphincs_sig"`
}

// IsZero reports whether the signature triple is entirely empty.
func (s ThresholdSignature) IsZero() bool {
	return len(s.Dilithium) == 0 && len(s.Falcon) == 0 && len(s.Sphincs) == 0
}

// Transaction is a single account-model transfer between two addresses.
type Transaction struct {
	From          types.Address       `json:"from"`
	To            types.Address       `json:"to"`
	Amount        uint64              `json:"amount"`
	Fee           uint64              `json:"fee"`
	Nonce         uint64              `json:"nonce"`
	Timestamp     int64               `json:"timestamp"`
	Data          []byte              `json:"data"`
	SignatureType SignatureType       `json:"signature_type"`
	Signature     ThresholdSignature  `json:"signature"`
	Hash          types.Hash          `json:"hash"`
}

// txJSON mirrors Transaction with hex-encoded Data and a readable
// signature_type string.
type txJSON struct {
	From          types.Address      `json:"from"`
	To            types.Address      `json:"to"`
	Amount        uint64             `json:"amount"`
	Fee           uint64             `json:"fee"`
	Nonce         uint64             `json:"nonce"`
	Timestamp     int64              `json:"timestamp"`
	Data          string             `json:"data"`
	SignatureType string             `json:"signature_type"`
	Signature     ThresholdSignature `json:"signature"`
	Hash          types.Hash         `json:"hash"`
}

// MarshalJSON hex-encodes Data and renders SignatureType as a string.
func (tx Transaction) MarshalJSON() ([]byte, error) {
	return json.Marshal(txJSON{
		From:          tx.From,
		To:            tx.To,
		Amount:        tx.Amount,
		Fee:           tx.Fee,
		Nonce:         tx.Nonce,
		Timestamp:     tx.Timestamp,
		Data:          hex.EncodeToString(tx.Data),
		SignatureType: tx.SignatureType.String(),
		Signature:     tx.Signature,
		Hash:          tx.Hash,
	})
}

// UnmarshalJSON decodes a hex-encoded Data and string SignatureType.
func (tx *Transaction) UnmarshalJSON(data []byte) error {
	var j txJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	d, err := hex.DecodeString(j.Data)
	if err != nil {
		return err
	}
	tx.From = j.From
	tx.To = j.To
	tx.Amount = j.Amount
	tx.Fee = j.Fee
	tx.Nonce = j.Nonce
	tx.Timestamp = j.Timestamp
	tx.Data = d
	tx.Signature = j.Signature
	tx.Hash = j.Hash
	switch j.SignatureType {
	case "coinbase":
		tx.SignatureType = SignatureCoinbase
	default:
		tx.SignatureType = SignatureRegular
	}
	return nil
}

// SigningMessage returns the short message signed by the three PQ schemes:
// from ‖ to ‖ u64_be(amount) ‖ u64_be(nonce) ‖ u64_be(timestamp).
func (tx *Transaction) SigningMessage() []byte {
	buf := make([]byte, 0, len(tx.From)+len(tx.To)+24)
	buf = append(buf, tx.From...)
	buf = append(buf, tx.To...)
	buf = binary.BigEndian.AppendUint64(buf, tx.Amount)
	buf = binary.BigEndian.AppendUint64(buf, tx.Nonce)
	buf = binary.BigEndian.AppendUint64(buf, uint64(tx.Timestamp))
	return buf
}

// HashBytes returns the byte string SHA-256'd to produce tx.Hash:
// from ‖ to ‖ u64_be(amount) ‖ u32_be(fee) ‖ u64_be(nonce) ‖
// u64_be(timestamp) ‖ data ‖ ascii(signature_type). Fee is truncated to
// 32 bits here even though the field is a uint64 elsewhere.
func (tx *Transaction) HashBytes() []byte {
	buf := make([]byte, 0, len(tx.From)+len(tx.To)+28+len(tx.Data)+8)
	buf = append(buf, tx.From...)
	buf = append(buf, tx.To...)
	buf = binary.BigEndian.AppendUint64(buf, tx.Amount)
	buf = binary.BigEndian.AppendUint32(buf, uint32(tx.Fee))
	buf = binary.BigEndian.AppendUint64(buf, tx.Nonce)
	buf = binary.BigEndian.AppendUint64(buf, uint64(tx.Timestamp))
	buf = append(buf, tx.Data...)
	buf = append(buf, []byte(tx.SignatureType.String())...)
	return buf
}

// ComputeHash recomputes the transaction hash. Mutating any field
// invalidates the stored Hash until ComputeHash is called again.
func (tx *Transaction) ComputeHash() types.Hash {
	return crypto.SHA256(tx.HashBytes())
}

// Rehash recomputes and stores tx.Hash.
func (tx *Transaction) Rehash() {
	tx.Hash = tx.ComputeHash()
}

// CanonicalBytes returns the fixed binary form used as each
// transaction's contribution to the mining input (Merkle leaves are the
// transaction hashes, not these bytes): the
// same field layout as HashBytes, plus the signature triple and the
// recorded hash, so that two structurally distinct transactions never
// collide in the serialized stream even if HashBytes happens to match.
func (tx *Transaction) CanonicalBytes() []byte {
	buf := tx.HashBytes()
	buf = append(buf, byte(tx.SignatureType))
	buf = appendSig(buf, tx.Signature.Dilithium)
	buf = appendSig(buf, tx.Signature.Falcon)
	buf = appendSig(buf, tx.Signature.Sphincs)
	buf = append(buf, tx.Hash[:]...)
	return buf
}

func appendSig(buf, sig []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(sig)))
	return append(buf, sig...)
}
