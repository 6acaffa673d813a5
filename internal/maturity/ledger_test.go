package maturity

import (
	"errors"
	"testing"

	"github.com/bastille-chain/bastille/pkg/types"
)

// fakeDebitor tracks DebitBalance calls against an in-memory balance map.
type fakeDebitor struct {
	balances map[types.Address]uint64
	err      error
}

func newFakeDebitor() *fakeDebitor {
	return &fakeDebitor{balances: make(map[types.Address]uint64)}
}

func (f *fakeDebitor) DebitBalance(addr types.Address, amount uint64) error {
	if f.err != nil {
		return f.err
	}
	if f.balances[addr] < amount {
		f.balances[addr] = 0
		return nil
	}
	f.balances[addr] -= amount
	return nil
}

var (
	addrA = types.Address("1789000000000000000000000000000000000001")
	addrB = types.Address("1789000000000000000000000000000000000002")
	hash1 = types.Hash{0x01}
	hash2 = types.Hash{0x02}
)

func alwaysMainChain(types.Hash) bool { return true }

func TestLedger_Add_StartsImmature(t *testing.T) {
	debitor := newFakeDebitor()
	l := New(5, debitor)
	l.Add(hash1, 1000, addrA, 1)

	e, ok := l.Get(hash1)
	if !ok {
		t.Fatal("entry should exist after Add")
	}
	if e.Status != Immature {
		t.Errorf("status = %v, want Immature", e.Status)
	}
	if e.MaturityHeight != 6 {
		t.Errorf("maturity height = %d, want 6", e.MaturityHeight)
	}
}

func TestLedger_BalanceBreakdown(t *testing.T) {
	debitor := newFakeDebitor()
	l := New(5, debitor)
	l.Add(hash1, 1000, addrA, 1)

	bd := l.BalanceBreakdown(addrA, 1000)
	if bd.Total != 1000 || bd.Immature != 1000 || bd.Mature != 0 {
		t.Errorf("breakdown = %+v, want total=1000 immature=1000 mature=0", bd)
	}
}

func TestLedger_ProcessMaturity_Matures(t *testing.T) {
	debitor := newFakeDebitor()
	debitor.balances[addrA] = 1000
	l := New(5, debitor)
	l.Add(hash1, 1000, addrA, 1) // Matures at height 6.

	matured, orphaned := l.ProcessMaturity(5, alwaysMainChain)
	if matured != 0 || orphaned != 0 {
		t.Fatalf("at height 5 nothing should mature yet, got matured=%d orphaned=%d", matured, orphaned)
	}

	matured, orphaned = l.ProcessMaturity(6, alwaysMainChain)
	if matured != 1 || orphaned != 0 {
		t.Fatalf("at height 6 entry should mature, got matured=%d orphaned=%d", matured, orphaned)
	}

	e, _ := l.Get(hash1)
	if e.Status != Mature {
		t.Errorf("status = %v, want Mature", e.Status)
	}
	// Maturing never changes the stored balance — only the status flips.
	if debitor.balances[addrA] != 1000 {
		t.Errorf("balance should be untouched by maturity, got %d", debitor.balances[addrA])
	}
}

func TestLedger_ProcessMaturity_OrphansOffMainChain(t *testing.T) {
	debitor := newFakeDebitor()
	debitor.balances[addrA] = 1789
	l := New(5, debitor)
	l.Add(hash1, 1789, addrA, 1)

	notMainChain := func(h types.Hash) bool { return h != hash1 }
	matured, orphaned := l.ProcessMaturity(6, notMainChain)
	if matured != 0 || orphaned != 1 {
		t.Fatalf("expected 1 orphaned, got matured=%d orphaned=%d", matured, orphaned)
	}

	if _, ok := l.Get(hash1); ok {
		t.Error("orphaned entry should be removed")
	}
	if debitor.balances[addrA] != 0 {
		t.Errorf("balance should be debited to 0, got %d", debitor.balances[addrA])
	}
}

func TestLedger_MarkOrphaned(t *testing.T) {
	debitor := newFakeDebitor()
	debitor.balances[addrA] = 1789
	l := New(5, debitor)
	l.Add(hash1, 1789, addrA, 1)

	if err := l.MarkOrphaned(hash1); err != nil {
		t.Fatalf("MarkOrphaned: %v", err)
	}
	if _, ok := l.Get(hash1); ok {
		t.Error("entry should be removed after MarkOrphaned")
	}
	if debitor.balances[addrA] != 0 {
		t.Errorf("balance = %d, want 0", debitor.balances[addrA])
	}
}

func TestLedger_MarkOrphaned_UnknownHashIsNoop(t *testing.T) {
	debitor := newFakeDebitor()
	l := New(5, debitor)

	if err := l.MarkOrphaned(hash2); err != nil {
		t.Errorf("MarkOrphaned of unknown hash should be a no-op, got: %v", err)
	}
}

func TestLedger_MarkOrphaned_AlreadyMatureIsNoop(t *testing.T) {
	debitor := newFakeDebitor()
	debitor.balances[addrA] = 1789
	l := New(5, debitor)
	l.Add(hash1, 1789, addrA, 1)
	l.ProcessMaturity(6, alwaysMainChain)

	if err := l.MarkOrphaned(hash1); err != nil {
		t.Fatalf("MarkOrphaned: %v", err)
	}
	if debitor.balances[addrA] != 1789 {
		t.Errorf("mature entry's balance should not be touched, got %d", debitor.balances[addrA])
	}
}

func TestLedger_MarkOrphaned_PropagatesDebitorError(t *testing.T) {
	debitor := newFakeDebitor()
	debitor.err = errors.New("storage write failed")
	l := New(5, debitor)
	l.Add(hash1, 1789, addrA, 1)

	if err := l.MarkOrphaned(hash1); err == nil {
		t.Error("expected debitor error to propagate")
	}
}

func TestLedger_GC_RemovesOldMatureEntries(t *testing.T) {
	debitor := newFakeDebitor()
	l := New(5, debitor)
	l.Add(hash1, 1000, addrA, 1)
	l.ProcessMaturity(6, alwaysMainChain)

	// Far beyond 4*M blocks past should be collected.
	removed := l.GC(1 + 4*5 + 1)
	if removed != 1 {
		t.Errorf("GC removed = %d, want 1", removed)
	}
	if l.Count() != 0 {
		t.Errorf("count after GC = %d, want 0", l.Count())
	}
}

func TestLedger_GC_KeepsImmatureRegardlessOfAge(t *testing.T) {
	debitor := newFakeDebitor()
	l := New(5, debitor)
	l.Add(hash1, 1000, addrA, 1)

	removed := l.GC(1_000_000)
	if removed != 0 {
		t.Errorf("GC should never remove Immature entries, removed %d", removed)
	}
	if l.Count() != 1 {
		t.Errorf("count = %d, want 1", l.Count())
	}
}

func TestLedger_BalanceBreakdown_MultipleAddresses(t *testing.T) {
	debitor := newFakeDebitor()
	l := New(5, debitor)
	l.Add(hash1, 1000, addrA, 1)
	l.Add(hash2, 2000, addrB, 1)

	bdA := l.BalanceBreakdown(addrA, 1000)
	bdB := l.BalanceBreakdown(addrB, 2000)
	if bdA.Immature != 1000 {
		t.Errorf("A immature = %d, want 1000", bdA.Immature)
	}
	if bdB.Immature != 2000 {
		t.Errorf("B immature = %d, want 2000", bdB.Immature)
	}
}
