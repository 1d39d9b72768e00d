// Package money converts between the remote billing API's wire units and local values.
//
// Amounts cross the remote boundary as integer minor units (cents) and timestamps as
// Unix seconds. Locally amounts are decimal.Decimal and timestamps are optional UTC times.
package money

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("invalid_amount")

var hundred = decimal.NewFromInt(100)

// ToDecimal converts minor units to a decimal currency amount.
func ToDecimal(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// ToNullDecimal converts an optional minor-unit amount.
func ToNullDecimal(minor *int64) decimal.NullDecimal {
	if minor == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: ToDecimal(*minor), Valid: true}
}

// FromDecimal converts a decimal amount to minor units, truncating sub-cent digits.
func FromDecimal(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Truncate(0).IntPart()
}

// ParseAmount parses a decimal string such as "12.50". Exponent and float notations are rejected.
func ParseAmount(raw string) (decimal.Decimal, error) {
	value := strings.TrimSpace(raw)
	if value == "" || strings.ContainsAny(value, "eE") {
		return decimal.Decimal{}, ErrInvalidAmount
	}
	amount, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Decimal{}, ErrInvalidAmount
	}
	return amount, nil
}

// ToTime converts optional Unix seconds to a UTC time. Absent stays absent.
func ToTime(unix *int64) *time.Time {
	if unix == nil {
		return nil
	}
	t := time.Unix(*unix, 0).UTC()
	return &t
}

// FromTime converts an optional time back to Unix seconds.
func FromTime(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	unix := t.Unix()
	return &unix
}
