package tx

import (
	"bytes"
	"errors"
	"testing"

	"github.com/bastille-chain/bastille/pkg/types"
)

const testPrefix = "1789"

func signedTx(entropy byte) *Transaction {
	tx := testTx()
	tx.Sign(bytes.Repeat([]byte{entropy}, 32))
	return tx
}

func TestValidate_Valid(t *testing.T) {
	tx := signedTx(0x01)
	if err := tx.Validate(testPrefix); err != nil {
		t.Errorf("valid tx should pass: %v", err)
	}
}

func TestValidate_BadFromAddress(t *testing.T) {
	tx := signedTx(0x01)
	tx.From = "not-an-address"
	if err := tx.Validate(testPrefix); !errors.Is(err, ErrBadFromAddress) {
		t.Errorf("expected ErrBadFromAddress, got %v", err)
	}
}

func TestValidate_BadToAddress(t *testing.T) {
	tx := signedTx(0x01)
	tx.To = "wrongprefix0000000000000000000000000000000000"
	if err := tx.Validate(testPrefix); !errors.Is(err, ErrBadToAddress) {
		t.Errorf("expected ErrBadToAddress, got %v", err)
	}
}

func TestValidate_ZeroAmountRegular(t *testing.T) {
	tx := signedTx(0x01)
	tx.Amount = 0
	tx.Rehash()
	if err := tx.Validate(testPrefix); !errors.Is(err, ErrZeroAmount) {
		t.Errorf("expected ErrZeroAmount, got %v", err)
	}
}

func TestValidate_DataTooLarge(t *testing.T) {
	tx := testTx()
	tx.Data = make([]byte, 70_000)
	tx.Sign(bytes.Repeat([]byte{0x01}, 32))
	if err := tx.Validate(testPrefix); !errors.Is(err, ErrDataTooLarge) {
		t.Errorf("expected ErrDataTooLarge, got %v", err)
	}
}

func TestValidate_MissingSignature(t *testing.T) {
	tx := testTx()
	if err := tx.Validate(testPrefix); !errors.Is(err, ErrMissingSignature) {
		t.Errorf("expected ErrMissingSignature, got %v", err)
	}
}

func TestValidate_CoinbaseWithSignature(t *testing.T) {
	tx := signedTx(0x01)
	tx.SignatureType = SignatureCoinbase
	if err := tx.Validate(testPrefix); !errors.Is(err, ErrUnexpectedSig) {
		t.Errorf("expected ErrUnexpectedSig, got %v", err)
	}
}

func TestValidate_HashMismatch(t *testing.T) {
	tx := signedTx(0x01)
	tx.Amount = 99999 // mutate without rehashing
	if err := tx.Validate(testPrefix); !errors.Is(err, ErrHashMismatch) {
		t.Errorf("expected ErrHashMismatch, got %v", err)
	}
}

func TestValidate_Coinbase(t *testing.T) {
	tx := &Transaction{
		From:          types.GenesisSentinel(testPrefix),
		To:            types.RevolutionSentinel(testPrefix),
		Amount:        178_900_000_000_000_000,
		SignatureType: SignatureCoinbase,
		Timestamp:     1789000000,
		Data:          []byte("Liberté, Égalité, Fraternité"),
	}
	tx.Rehash()
	if err := tx.Validate(testPrefix); err != nil {
		t.Errorf("coinbase tx should pass Validate: %v", err)
	}
}

func TestValidateFee_RejectsBelowMinimum(t *testing.T) {
	tx := signedTx(0x01)
	tx.Fee = 1
	if err := tx.ValidateFee(10_000, 100_000); !errors.Is(err, ErrInsufficientFee) {
		t.Errorf("expected ErrInsufficientFee, got %v", err)
	}
}

func TestValidateFee_Coinbase(t *testing.T) {
	tx := testTx()
	tx.SignatureType = SignatureCoinbase
	tx.Fee = 0
	if err := tx.ValidateFee(10_000, 100_000); err != nil {
		t.Errorf("coinbase should never fail fee validation: %v", err)
	}
}

func TestVerifyAuthenticity_Valid(t *testing.T) {
	entropy := bytes.Repeat([]byte{0x07}, 32)
	tx := testTx()
	tx.Sign(entropy)
	keys := DerivePublicKeys(entropy)

	if err := tx.VerifyAuthenticity(keys); err != nil {
		t.Errorf("valid signature should authenticate: %v", err)
	}
}

func TestVerifyAuthenticity_MissingKeys(t *testing.T) {
	tx := signedTx(0x01)
	if err := tx.VerifyAuthenticity(types.PublicKeySet{}); !errors.Is(err, ErrPublicKeysMissing) {
		t.Errorf("expected ErrPublicKeysMissing, got %v", err)
	}
}

func TestVerifyAuthenticity_WrongKeys(t *testing.T) {
	tx := signedTx(0x01)
	wrongKeys := DerivePublicKeys(bytes.Repeat([]byte{0x99}, 32))
	if err := tx.VerifyAuthenticity(wrongKeys); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyAuthenticity_OneCorruptedSignatureStillPasses(t *testing.T) {
	entropy := bytes.Repeat([]byte{0x07}, 32)
	tx := testTx()
	tx.Sign(entropy)
	tx.Signature.Sphincs[0] ^= 0xFF // corrupt one of three

	keys := DerivePublicKeys(entropy)
	if err := tx.VerifyAuthenticity(keys); err != nil {
		t.Errorf("2-of-3 threshold should tolerate one corrupted signature: %v", err)
	}
}

func TestVerifyAuthenticity_TwoCorruptedSignaturesFails(t *testing.T) {
	entropy := bytes.Repeat([]byte{0x07}, 32)
	tx := testTx()
	tx.Sign(entropy)
	tx.Signature.Sphincs[0] ^= 0xFF
	tx.Signature.Falcon[0] ^= 0xFF

	keys := DerivePublicKeys(entropy)
	if err := tx.VerifyAuthenticity(keys); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature with two corrupted signatures, got %v", err)
	}
}
