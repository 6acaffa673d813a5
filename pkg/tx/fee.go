package tx

import "github.com/bastille-chain/bastille/pkg/crypto"

// SizeBytes returns the transaction's serialized size used for fee
// calculation: the canonical byte form including a full-size
// signature triple, so the fee is known before the caller signs.
func (tx *Transaction) SizeBytes() int {
	size := len(tx.HashBytes()) + 1 // + signature_type byte
	if tx.SignatureType == SignatureCoinbase {
		return size
	}
	// Each scheme contributes a 4-byte length prefix plus crypto.SigSize
	// bytes, whether or not the signature has been attached yet.
	return size + 3*(4+crypto.SigSize)
}

// ComputeFee returns the required fee for a regular transaction:
// fee = max(min_fee, size_bytes × fee_per_byte). Coinbase transactions
// always carry a zero fee.
func (tx *Transaction) ComputeFee(feePerByte, minFee uint64) uint64 {
	if tx.SignatureType == SignatureCoinbase {
		return 0
	}
	fee := uint64(tx.SizeBytes()) * feePerByte
	if fee < minFee {
		return minFee
	}
	return fee
}
