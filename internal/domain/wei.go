package domain

import (
	"strings"

	"github.com/holiman/uint256"
)

// 256-bit quantities cross every external boundary as base-10 strings
// so JSON consumers never lose width. Internally they are uint256
// values; string arithmetic is forbidden, these two helpers are the
// only conversion points.

// ParseWei parses a base-10 wei string into a uint256 value.
func ParseWei(s string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, NewError(KindConfigInvalid, "empty wei amount")
	}
	v, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, WrapError(KindConfigInvalid, err, "invalid wei amount %q", s)
	}
	return v, nil
}

// MustParseWei is ParseWei for trusted literals (tests, defaults).
// Panics on malformed input.
func MustParseWei(s string) *uint256.Int {
	v, err := ParseWei(s)
	if err != nil {
		panic(err)
	}
	return v
}

// FormatWei renders a uint256 value as a base-10 string. A nil value
// formats as "0".
func FormatWei(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
