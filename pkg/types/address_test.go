package types

import (
	"encoding/json"
	"testing"
)

func TestAddress_Valid(t *testing.T) {
	const prefix = "1789"
	tests := []struct {
		name  string
		addr  Address
		valid bool
	}{
		{"well formed", Address(prefix + "0123456789abcdef0123456789abcdef01234567"), true},
		{"genesis sentinel", GenesisSentinel(prefix), true},
		{"revolution sentinel", RevolutionSentinel(prefix), false},
		{"wrong prefix", Address("f789" + "0123456789abcdef0123456789abcdef01234567"), false},
		{"uppercase hex", Address(prefix + "0123456789ABCDEF0123456789abcdef01234567"), false},
		{"too short", Address(prefix + "abcd"), false},
		{"empty", Address(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.addr.Valid(prefix); got != tt.valid {
				t.Errorf("Valid() = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestParseAddress(t *testing.T) {
	const prefix = "1789"
	good := prefix + "0123456789abcdef0123456789abcdef01234567"

	if _, err := ParseAddress(good, prefix); err != nil {
		t.Fatalf("ParseAddress(%q): %v", good, err)
	}
	if _, err := ParseAddress("nope", prefix); err == nil {
		t.Error("ParseAddress(bad) should have returned an error")
	}
}

func TestNewAddress(t *testing.T) {
	const prefix = "1789"
	var h [20]byte
	for i := range h {
		h[i] = byte(i)
	}
	a := NewAddress(prefix, h)
	if !a.Valid(prefix) {
		t.Fatalf("NewAddress produced invalid address: %s", a)
	}
	want := prefix + "000102030405060708090a0b0c0d0e0f10111213"
	if string(a) != want {
		t.Errorf("NewAddress() = %s, want %s", a, want)
	}
}

func TestAddress_JSON_RoundTrip(t *testing.T) {
	original := Address("1789" + "0123456789abcdef0123456789abcdef01234567")

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded Address
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if original != decoded {
		t.Errorf("roundtrip mismatch: original=%s, decoded=%s", original, decoded)
	}
}

func TestAddress_IsZero(t *testing.T) {
	var zero Address
	if !zero.IsZero() {
		t.Error("zero-value Address should be zero")
	}
	if Address("x").IsZero() {
		t.Error("non-empty Address should not be zero")
	}
}
