package tx

import (
	"errors"
	"fmt"

	"github.com/bastille-chain/bastille/config"
	"github.com/bastille-chain/bastille/pkg/types"
)

// Validation errors: structural and authentication error kinds.
var (
	ErrBadFromAddress    = errors.New("bad from address format")
	ErrBadToAddress      = errors.New("bad to address format")
	ErrZeroAmount        = errors.New("amount must be positive")
	ErrDataTooLarge      = errors.New("data field too large")
	ErrMissingSignature  = errors.New("regular transaction missing signature")
	ErrUnexpectedSig     = errors.New("coinbase transaction must not carry a signature")
	ErrHashMismatch      = errors.New("stored hash does not match recomputed hash")
	ErrInsufficientFee   = errors.New("fee below minimum for transaction size")
	ErrInvalidSignature  = errors.New("fewer than two of three signatures verify")
	ErrPublicKeysMissing = errors.New("from address has no registered public keys")
)

// Validate checks structural well-formedness. A coinbase may pay the
// "<prefix>Revolution" sentinel, the genesis allocation recipient. It does
// not touch account state — see the chain engine's admitLocked for
// balance/nonce checks, and VerifyThreshold for signature checks.
func (tx *Transaction) Validate(prefix string) error {
	if !tx.From.Valid(prefix) {
		return fmt.Errorf("%w: %q", ErrBadFromAddress, tx.From)
	}
	revolutionPayout := tx.SignatureType == SignatureCoinbase && tx.To == types.RevolutionSentinel(prefix)
	if !tx.To.Valid(prefix) && !revolutionPayout {
		return fmt.Errorf("%w: %q", ErrBadToAddress, tx.To)
	}
	if tx.Amount == 0 && tx.SignatureType == SignatureRegular {
		return ErrZeroAmount
	}
	if len(tx.Data) > config.MaxTxDataBytes {
		return fmt.Errorf("%w: %d bytes, max %d", ErrDataTooLarge, len(tx.Data), config.MaxTxDataBytes)
	}

	switch tx.SignatureType {
	case SignatureRegular:
		if tx.Signature.IsZero() {
			return ErrMissingSignature
		}
	case SignatureCoinbase:
		if !tx.Signature.IsZero() {
			return ErrUnexpectedSig
		}
	default:
		return fmt.Errorf("unknown signature_type %d", tx.SignatureType)
	}

	if tx.Hash != tx.ComputeHash() {
		return ErrHashMismatch
	}
	return nil
}

// ValidateFee rejects a regular transaction whose fee is below the minimum
// required for its size. It runs before any account-state validation.
func (tx *Transaction) ValidateFee(feePerByte, minFee uint64) error {
	if tx.SignatureType == SignatureCoinbase {
		return nil
	}
	required := tx.ComputeFee(feePerByte, minFee)
	if tx.Fee < required {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientFee, tx.Fee, required)
	}
	return nil
}

// VerifyAuthenticity checks the 2-of-3 PQ threshold for a regular
// transaction.
func (tx *Transaction) VerifyAuthenticity(keys types.PublicKeySet) error {
	if tx.SignatureType == SignatureCoinbase {
		return nil
	}
	if keys.IsZero() {
		return ErrPublicKeysMissing
	}
	if !tx.VerifyThreshold(keys) {
		return ErrInvalidSignature
	}
	return nil
}
