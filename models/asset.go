package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Asset is a monetary amount parsed from the compound string representation
// used across the Hive condenser API, e.g. "12.345 HIVE". The digit string is
// kept verbatim so unconverted amounts are re-emitted with exactly the
// precision the chain delivered.
type Asset struct {
	Value  decimal.Decimal
	Symbol string

	digits string
}

// ParseAsset parses "<decimal> <SYMBOL>" into an Asset. Malformed input is an
// error; the exporter treats it as fatal.
func ParseAsset(raw string) (Asset, error) {
	fields := strings.Fields(strings.TrimSpace(raw))
	if len(fields) != 2 {
		return Asset{}, fmt.Errorf("malformed asset string %q", raw)
	}

	value, err := decimal.NewFromString(fields[0])
	if err != nil {
		return Asset{}, fmt.Errorf("malformed asset amount %q: %w", raw, err)
	}

	return Asset{
		Value:  value,
		Symbol: fields[1],
		digits: fields[0],
	}, nil
}

// Digits returns the amount exactly as it appeared on the wire. For assets
// built by computation rather than parsing it falls back to the decimal
// representation.
func (a Asset) Digits() string {
	if a.digits != "" {
		return a.digits
	}
	return a.Value.String()
}

// IsPositive reports whether the amount is strictly greater than zero.
func (a Asset) IsPositive() bool {
	return a.Value.IsPositive()
}

// Float returns the amount as a 64-bit float. Used for the vesting fund /
// share supply ratio where float precision matches the upstream behaviour.
func (a Asset) Float() float64 {
	f, _ := a.Value.Float64()
	return f
}

func (a Asset) String() string {
	return a.Digits() + " " + a.Symbol
}
