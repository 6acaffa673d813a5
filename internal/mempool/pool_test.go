package mempool

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/bastille-chain/bastille/config"
	"github.com/bastille-chain/bastille/pkg/tx"
	"github.com/bastille-chain/bastille/pkg/types"
)

const testPrefix = "1789"

var (
	fromAddr = types.Address(testPrefix + "0000000000000000000000000000000000000001")
	toAddr   = types.Address(testPrefix + "0000000000000000000000000000000000000002")
)

// fakeAccounts is a simple in-memory AccountProvider for tests.
type fakeAccounts struct {
	accounts map[types.Address]types.Account
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{accounts: make(map[types.Address]types.Account)}
}

func (f *fakeAccounts) Account(addr types.Address) (types.Account, error) {
	a, ok := f.accounts[addr]
	if !ok {
		return types.Account{}, errors.New("no such account")
	}
	return a, nil
}

func (f *fakeAccounts) set(addr types.Address, balance, nonce uint64, keys types.PublicKeySet) {
	f.accounts[addr] = types.Account{Balance: balance, Nonce: nonce, PublicKeys: keys}
}

func testGenesis() *config.Genesis {
	return &config.Genesis{
		AddressPrefix: testPrefix,
		FeePerByte:    0,
		MinFee:        1,
	}
}

// signedTx builds and signs a valid regular transaction using the given
// entropy byte to derive a distinct keypair, mirroring pkg/tx's own test
// helper convention. Nonces count sent transactions starting at 1, so a
// fresh account (stored nonce 0) sends its first transaction with nonce 1.
func signedTx(entropy byte, from types.Address, amount, fee, nonce uint64, timestamp int64) (*tx.Transaction, types.PublicKeySet) {
	seed := bytes.Repeat([]byte{entropy}, 32)
	transaction := &tx.Transaction{
		From:      from,
		To:        toAddr,
		Amount:    amount,
		Fee:       fee,
		Nonce:     nonce,
		Timestamp: timestamp,
	}
	transaction.Sign(seed)
	return transaction, tx.DerivePublicKeys(seed)
}

func TestPool_Add(t *testing.T) {
	transaction, keys := signedTx(0x01, fromAddr, 4000, 100, 1, 1000)

	accounts := newFakeAccounts()
	accounts.set(fromAddr, 5000, 0, keys)

	pool := New(accounts, testGenesis(), 100)

	fee, err := pool.Add(transaction)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if fee != 100 {
		t.Errorf("fee = %d, want 100", fee)
	}
	if pool.Count() != 1 {
		t.Errorf("count = %d, want 1", pool.Count())
	}
}

func TestPool_Add_Duplicate(t *testing.T) {
	transaction, keys := signedTx(0x01, fromAddr, 4000, 100, 1, 1000)

	accounts := newFakeAccounts()
	accounts.set(fromAddr, 5000, 0, keys)

	pool := New(accounts, testGenesis(), 100)
	pool.Add(transaction)
	_, err := pool.Add(transaction)
	if !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got: %v", err)
	}
}

func TestPool_Add_NonceConflict(t *testing.T) {
	accounts := newFakeAccounts()
	pool := New(accounts, testGenesis(), 100)

	tx1, keys := signedTx(0x01, fromAddr, 1000, 100, 1, 1000)
	accounts.set(fromAddr, 5000, 0, keys)
	tx2, _ := signedTx(0x01, fromAddr, 2000, 100, 1, 1001) // Same nonce — conflict.

	if _, err := pool.Add(tx1); err != nil {
		t.Fatalf("Add tx1: %v", err)
	}
	_, err := pool.Add(tx2)
	if !errors.Is(err, ErrNonceConflict) {
		t.Errorf("expected ErrNonceConflict, got: %v", err)
	}
}

func TestPool_Add_BadNonce(t *testing.T) {
	transaction, keys := signedTx(0x01, fromAddr, 1000, 100, 1, 1000)

	accounts := newFakeAccounts()
	accounts.set(fromAddr, 5000, 3, keys) // Account is at nonce 3, wants nonce 4; tx carries 1.

	pool := New(accounts, testGenesis(), 100)
	_, err := pool.Add(transaction)
	if !errors.Is(err, ErrBadNonce) {
		t.Errorf("expected ErrBadNonce, got: %v", err)
	}
}

func TestPool_Add_InsufficientFunds(t *testing.T) {
	transaction, keys := signedTx(0x01, fromAddr, 1000, 100, 1, 1000)

	accounts := newFakeAccounts()
	accounts.set(fromAddr, 500, 0, keys)

	pool := New(accounts, testGenesis(), 100)
	_, err := pool.Add(transaction)
	if !errors.Is(err, ErrInsufficientFund) {
		t.Errorf("expected ErrInsufficientFund, got: %v", err)
	}
}

func TestPool_Add_UnknownAccount(t *testing.T) {
	transaction, _ := signedTx(0x01, fromAddr, 1000, 100, 1, 1000)

	accounts := newFakeAccounts() // No account registered.
	pool := New(accounts, testGenesis(), 100)
	_, err := pool.Add(transaction)
	if !errors.Is(err, ErrUnknownAccount) {
		t.Errorf("expected ErrUnknownAccount, got: %v", err)
	}
}

func TestPool_Add_PoolFull(t *testing.T) {
	accounts := newFakeAccounts()
	pool := New(accounts, testGenesis(), 2) // Max 2 transactions.

	addrs := []types.Address{
		types.Address(testPrefix + "0000000000000000000000000000000000000011"),
		types.Address(testPrefix + "0000000000000000000000000000000000000012"),
		types.Address(testPrefix + "0000000000000000000000000000000000000013"),
	}
	for i, a := range addrs {
		_, keys := signedTx(byte(i+1), a, 1000, 100, 1, 1000)
		accounts.set(a, 5000, 0, keys)
	}

	tx1, _ := signedTx(1, addrs[0], 1000, 100, 1, 1000)
	tx2, _ := signedTx(2, addrs[1], 1000, 100, 1, 1000)
	tx3, _ := signedTx(3, addrs[2], 1000, 1, 1, 1000) // Lower fee.

	pool.Add(tx1)
	pool.Add(tx2)
	_, err := pool.Add(tx3)
	if !errors.Is(err, ErrPoolFull) {
		t.Errorf("expected ErrPoolFull, got: %v", err)
	}
}

func TestPool_Remove(t *testing.T) {
	transaction, keys := signedTx(0x01, fromAddr, 1000, 100, 1, 1000)

	accounts := newFakeAccounts()
	accounts.set(fromAddr, 5000, 0, keys)

	pool := New(accounts, testGenesis(), 100)
	pool.Add(transaction)

	pool.Remove(transaction.Hash)
	if pool.Count() != 0 {
		t.Errorf("count = %d, want 0", pool.Count())
	}
	if pool.Has(transaction.Hash) {
		t.Error("Has should return false after Remove")
	}
}

func TestPool_Remove_ClearsNonceIndex(t *testing.T) {
	tx1, keys := signedTx(0x01, fromAddr, 1000, 100, 1, 1000)

	accounts := newFakeAccounts()
	accounts.set(fromAddr, 5000, 0, keys)

	pool := New(accounts, testGenesis(), 100)
	pool.Add(tx1)
	pool.Remove(tx1.Hash)

	tx2, _ := signedTx(0x01, fromAddr, 2000, 100, 1, 1001)
	_, err := pool.Add(tx2)
	if err != nil {
		t.Fatalf("Add after Remove should succeed: %v", err)
	}
}

func TestPool_RemoveConfirmed(t *testing.T) {
	accounts := newFakeAccounts()
	pool := New(accounts, testGenesis(), 100)

	tx1, keys := signedTx(0x01, fromAddr, 1000, 100, 1, 1000)
	accounts.set(fromAddr, 10000, 0, keys)
	pool.Add(tx1)

	accounts.set(fromAddr, 10000, 1, keys)
	tx2, _ := signedTx(0x01, fromAddr, 1000, 100, 2, 1001)
	pool.Add(tx2)

	pool.RemoveConfirmed([]*tx.Transaction{tx1})
	if pool.Count() != 1 {
		t.Errorf("count = %d, want 1", pool.Count())
	}
	if pool.Has(tx1.Hash) {
		t.Error("tx1 should be removed")
	}
	if !pool.Has(tx2.Hash) {
		t.Error("tx2 should still be in pool")
	}
}

func TestPool_SelectForBlock_OrdersByFeeThenTimestampThenHash(t *testing.T) {
	accounts := newFakeAccounts()
	pool := New(accounts, testGenesis(), 100)

	addrs := []types.Address{
		types.Address(testPrefix + "0000000000000000000000000000000000000021"),
		types.Address(testPrefix + "0000000000000000000000000000000000000022"),
		types.Address(testPrefix + "0000000000000000000000000000000000000023"),
	}

	tx1, k1 := signedTx(1, addrs[0], 1000, 100, 1, 1000) // Low fee.
	tx2, k2 := signedTx(2, addrs[1], 1000, 500, 1, 1000) // High fee.
	tx3, k3 := signedTx(3, addrs[2], 1000, 100, 1, 900)  // Low fee, earlier timestamp.

	accounts.set(addrs[0], 50000, 0, k1)
	accounts.set(addrs[1], 50000, 0, k2)
	accounts.set(addrs[2], 50000, 0, k3)

	pool.Add(tx1)
	pool.Add(tx2)
	pool.Add(tx3)

	selected := pool.SelectForBlock(3)
	if len(selected) != 3 {
		t.Fatalf("selected %d, want 3", len(selected))
	}
	if selected[0].Hash != tx2.Hash {
		t.Error("highest-fee tx should be first")
	}
	if selected[1].Hash != tx3.Hash {
		t.Error("earlier-timestamp tx should come before later one at equal fee")
	}
	if selected[2].Hash != tx1.Hash {
		t.Error("later-timestamp tx should be last")
	}
}

func TestPool_SelectForBlock_LimitExceedsPool(t *testing.T) {
	transaction, keys := signedTx(0x01, fromAddr, 1000, 100, 1, 1000)

	accounts := newFakeAccounts()
	accounts.set(fromAddr, 5000, 0, keys)

	pool := New(accounts, testGenesis(), 100)
	pool.Add(transaction)

	selected := pool.SelectForBlock(100)
	if len(selected) != 1 {
		t.Errorf("selected %d, want 1", len(selected))
	}
}

func TestPool_Evict(t *testing.T) {
	accounts := newFakeAccounts()
	pool := New(accounts, testGenesis(), 5)

	for i := 0; i < 5; i++ {
		addr := types.Address(fmt.Sprintf("%s%039d%d", testPrefix, 0, i))
		transaction, keys := signedTx(byte(i+1), addr, 1000, uint64(100+i*10), 1, 1000)
		accounts.set(addr, 50000, 0, keys)
		pool.Add(transaction)
	}

	if pool.Count() != 5 {
		t.Fatalf("count = %d, want 5", pool.Count())
	}

	pool.maxSize = 3
	evicted := pool.Evict()
	if evicted != 2 {
		t.Errorf("evicted = %d, want 2", evicted)
	}
	if pool.Count() != 3 {
		t.Errorf("count after evict = %d, want 3", pool.Count())
	}
}

func TestPool_Evict_NotNeeded(t *testing.T) {
	transaction, keys := signedTx(0x01, fromAddr, 1000, 100, 1, 1000)

	accounts := newFakeAccounts()
	accounts.set(fromAddr, 5000, 0, keys)

	pool := New(accounts, testGenesis(), 100)
	pool.Add(transaction)

	if evicted := pool.Evict(); evicted != 0 {
		t.Errorf("evicted = %d, want 0", evicted)
	}
}

func TestPool_EvictStale_NotNeeded(t *testing.T) {
	transaction, keys := signedTx(0x01, fromAddr, 1000, 100, 1, 1000)

	accounts := newFakeAccounts()
	accounts.set(fromAddr, 5000, 0, keys)

	pool := New(accounts, testGenesis(), 100)
	pool.Add(transaction)

	if evicted := pool.EvictStale(); evicted != 0 {
		t.Errorf("evicted = %d, want 0 (transaction was just added)", evicted)
	}
}

func TestPolicy_Check(t *testing.T) {
	transaction, _ := signedTx(0x01, fromAddr, 1000, 100, 1, 1000)

	policy := DefaultPolicy()
	if err := policy.Check(transaction); err != nil {
		t.Errorf("valid tx should pass policy: %v", err)
	}

	policy.MaxTxSize = 1
	if err := policy.Check(transaction); err == nil {
		t.Error("oversized tx should fail policy")
	}
}

func TestPolicy_Check_DataTooLarge(t *testing.T) {
	transaction, _ := signedTx(0x01, fromAddr, 1000, 100, 1, 1000)
	transaction.Data = make([]byte, config.MaxTxDataBytes+1)

	policy := DefaultPolicy()
	if err := policy.Check(transaction); err == nil {
		t.Error("oversized data field should fail policy")
	}
}

func TestNew_DefaultMaxSize(t *testing.T) {
	accounts := newFakeAccounts()
	pool := New(accounts, testGenesis(), 0)
	if pool.maxSize != 5000 {
		t.Errorf("maxSize = %d, want 5000", pool.maxSize)
	}
}

func TestPool_GetFee(t *testing.T) {
	transaction, keys := signedTx(0x01, fromAddr, 1000, 100, 1, 1000)

	accounts := newFakeAccounts()
	accounts.set(fromAddr, 5000, 0, keys)

	pool := New(accounts, testGenesis(), 100)
	pool.Add(transaction)

	if got := pool.GetFee(transaction.Hash); got != 100 {
		t.Errorf("GetFee = %d, want 100", got)
	}
	if got := pool.GetFee(types.Hash{0xff}); got != 0 {
		t.Errorf("GetFee for unknown = %d, want 0", got)
	}
}
