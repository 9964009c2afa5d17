// Package types provides the calendar-day and quantity value types shared by
// the ledger, snapshots and reports.
package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Quantity is a fixed-point quantity in ten-thousandths, matching the
// NUMERIC(19,4) columns. Balances add and subtract exactly.
type Quantity int64

const quantityDigits int32 = 4

var (
	maxQuantity = decimal.New(1<<63-1, -quantityDigits)
	minQuantity = decimal.New(-1<<63, -quantityDigits)
)

// ErrQuantityRange is returned for values outside the representable range.
var ErrQuantityRange = errors.New("quantity out of range")

// NewQuantityFromDecimal converts a NUMERIC value read from the database.
// Digits beyond the fourth fractional place are rounded half away from zero.
func NewQuantityFromDecimal(d decimal.Decimal) Quantity {
	return Quantity(d.Shift(quantityDigits).Round(0).IntPart())
}

// ParseQuantity parses a decimal string such as "12.5", "-0.001" or "1e3".
// Extra fractional digits are rounded like NewQuantityFromDecimal.
func ParseQuantity(s string) (Quantity, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty quantity")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse quantity %q: %w", s, err)
	}
	d = d.Round(quantityDigits)
	if d.GreaterThan(maxQuantity) || d.LessThan(minQuantity) {
		return 0, fmt.Errorf("parse quantity %q: %w", s, ErrQuantityRange)
	}
	return NewQuantityFromDecimal(d), nil
}

// MustQuantity parses s and panics on error. Use only for constants and tests.
func MustQuantity(s string) Quantity {
	q, err := ParseQuantity(s)
	if err != nil {
		panic(err)
	}
	return q
}

// Decimal returns the exact value for NUMERIC columns.
func (q Quantity) Decimal() decimal.Decimal {
	return decimal.New(int64(q), -quantityDigits)
}

func (q Quantity) IsZero() bool { return q == 0 }

func (q Quantity) IsPositive() bool { return q > 0 }

func (q Quantity) IsNegative() bool { return q < 0 }

// String returns the value with exactly four fractional digits.
func (q Quantity) String() string {
	return q.Decimal().StringFixed(quantityDigits)
}

// MarshalJSON encodes a JSON number with four fractional digits.
func (q Quantity) MarshalJSON() ([]byte, error) {
	return []byte(q.String()), nil
}

// UnmarshalJSON accepts a JSON number or a numeric string. null leaves zero.
func (q *Quantity) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*q = 0
		return nil
	}

	s := string(data)
	if data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	}
	parsed, err := ParseQuantity(s)
	if err != nil {
		return err
	}
	*q = parsed
	return nil
}

// MaxQuantity returns the larger of a and b.
func MaxQuantity(a, b Quantity) Quantity {
	if a > b {
		return a
	}
	return b
}
