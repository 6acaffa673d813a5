package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AddressHexLen is the number of lowercase hex characters following the prefix.
const AddressHexLen = 40

// AddressPrefix is the configured address prefix (e.g. "1789" or "f789").
// Set once at startup via SetAddressPrefix(). Defaults to the mainnet prefix.
var AddressPrefix = "1789"

// SetAddressPrefix sets the active address prefix.
func SetAddressPrefix(prefix string) {
	AddressPrefix = prefix
}

// GenesisSentinelSuffix is appended to the prefix to form the coinbase
// source sentinel recognized as a transaction "from" address.
const GenesisSentinelSuffix = "Genesis"

// RevolutionSentinelSuffix is appended to the prefix to form the genesis
// coinbase recipient.
const RevolutionSentinelSuffix = "Revolution"

// Address is a flat string: prefix followed by 40 lowercase hex characters.
// Two sentinels are recognized outside that shape: "<prefix>Genesis" (valid
// only as a transaction's "from") and "<prefix>Revolution" (the genesis
// allocation recipient).
type Address string

// GenesisSentinel returns the "<prefix>Genesis" sentinel for prefix.
func GenesisSentinel(prefix string) Address {
	return Address(prefix + GenesisSentinelSuffix)
}

// RevolutionSentinel returns the "<prefix>Revolution" sentinel for prefix.
func RevolutionSentinel(prefix string) Address {
	return Address(prefix + RevolutionSentinelSuffix)
}

// IsZero returns true if the address is the empty string.
func (a Address) IsZero() bool {
	return a == ""
}

// String returns the address as-is.
func (a Address) String() string {
	return string(a)
}

// MarshalJSON encodes the address as a plain JSON string.
func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(a))
}

// UnmarshalJSON decodes a plain JSON string into an address. No format
// validation is performed here; use Valid() or ParseAddress() where the
// caller needs to enforce the prefix/hex shape.
func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*a = Address(s)
	return nil
}

// Valid reports whether a has length len(prefix)+40, begins with prefix,
// and its suffix is lowercase hex. The genesis sentinel "<prefix>Genesis"
// is also accepted (it is only ever used as a coinbase "from").
func (a Address) Valid(prefix string) bool {
	s := string(a)
	if s == prefix+GenesisSentinelSuffix {
		return true
	}
	if len(s) != len(prefix)+AddressHexLen {
		return false
	}
	if !strings.HasPrefix(s, prefix) {
		return false
	}
	return isLowerHex(s[len(prefix):])
}

// ParseAddress validates s against prefix and returns it as an Address.
func ParseAddress(s, prefix string) (Address, error) {
	a := Address(s)
	if !a.Valid(prefix) {
		return "", fmt.Errorf("invalid address %q: want %s + %d lowercase hex chars", s, prefix, AddressHexLen)
	}
	return a, nil
}

// NewAddress builds an address from a prefix and a 20-byte hash, encoding
// the hash as lowercase hex.
func NewAddress(prefix string, truncated [20]byte) Address {
	const hexdigits = "0123456789abcdef"
	buf := make([]byte, len(prefix)+AddressHexLen)
	copy(buf, prefix)
	for i, b := range truncated {
		buf[len(prefix)+i*2] = hexdigits[b>>4]
		buf[len(prefix)+i*2+1] = hexdigits[b&0x0f]
	}
	return Address(buf)
}

func isLowerHex(s string) bool {
	if len(s) != AddressHexLen {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
