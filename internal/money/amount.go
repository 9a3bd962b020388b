// Package money provides exact-precision payment amount handling using integer arithmetic.
// All amounts are stored as base units (1 = 0.0001 of the named currency, i.e. 1.0000 = 10_000).
package money

import (
	"database/sql/driver"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount represents a payment amount in atomic base units (1 = 0.0001).
// This is the fixed-point representation the reconciliation engine compares,
// persists and perturbs — never a raw float64.
type Amount int64

// Scale is the number of decimal places represented by Amount (10^4).
const Scale = 10_000

// Epsilon is the largest difference between two Amounts that is still
// considered equal for settlement-matching purposes (1e-4 in decimal terms,
// i.e. one base unit).
const Epsilon Amount = 1

// FromFloat converts a human-readable float (e.g. 5.1234) to an Amount.
// Uses math.Round to avoid float truncation.
func FromFloat(f float64) Amount {
	return Amount(math.Round(f * Scale))
}

// FromString parses a decimal string (e.g. "5.1234") into an Amount using
// exact decimal arithmetic rather than a float64 intermediate, so that
// amounts read back from the explorer or a config file never pick up
// binary floating-point rounding noise.
func FromString(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("money: cannot parse %q: %w", s, err)
	}
	scaled := d.Mul(decimal.New(Scale, 0)).Round(0)
	return Amount(scaled.IntPart()), nil
}

// Float returns the human-readable float64 value.
func (a Amount) Float() float64 {
	return float64(a) / Scale
}

// Decimal returns the exact decimal.Decimal representation.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), 0).Div(decimal.New(Scale, 0))
}

func formatAmount(abs uint64) string {
	whole := abs / Scale
	frac := abs % Scale
	s := fmt.Sprintf("%d.%04d", whole, frac)

	dotIdx := strings.IndexByte(s, '.')
	minKeep := dotIdx + 3 // at least ".XX"
	lastNonZero := len(s) - 1
	for lastNonZero > minKeep-1 && s[lastNonZero] == '0' {
		lastNonZero--
	}
	return s[:lastNonZero+1]
}

// String returns a human-readable string with minimum 2 decimal places,
// trailing zeros trimmed beyond that.
func (a Amount) String() string {
	negative := a < 0
	var abs uint64
	if negative {
		if a == Amount(math.MinInt64) {
			abs = uint64(math.MaxInt64) + 1
		} else {
			abs = uint64(-int64(a))
		}
	} else {
		abs = uint64(a)
	}
	s := formatAmount(abs)
	if negative {
		return "-" + s
	}
	return s
}

// Masked returns the log-safe representation mandated for amounts in log
// lines: the shape, never the value.
func (a Amount) Masked() string {
	return "***.**"
}

// MarshalJSON outputs the raw integer as a JSON string: "51234".
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + strconv.FormatInt(int64(a), 10) + `"`), nil
}

// UnmarshalJSON parses from a JSON string ("51234") or number (51234).
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("money: cannot parse %q as Amount: %w", string(data), err)
	}
	*a = Amount(v)
	return nil
}

// Value implements database/sql/driver.Valuer. Amounts are stored as the
// human-readable decimal float the schema declares (real), not base units,
// so the embedded database stays directly inspectable with a plain SQL
// client.
func (a Amount) Value() (driver.Value, error) {
	return a.Float(), nil
}

// Scan implements database/sql.Scanner.
func (a *Amount) Scan(src any) error {
	if a == nil {
		return fmt.Errorf("money: scan into nil *Amount")
	}
	switch v := src.(type) {
	case nil:
		*a = 0
		return nil
	case float64:
		*a = FromFloat(v)
		return nil
	case int64:
		*a = Amount(v) * Scale
		return nil
	case string:
		parsed, err := FromString(v)
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	case []byte:
		parsed, err := FromString(string(v))
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	default:
		return fmt.Errorf("money: cannot scan %T into Amount", src)
	}
}

// CloseEnough reports whether a and b differ by no more than Epsilon base
// units, i.e. the 10^-4 tolerance used throughout settlement matching.
func (a Amount) CloseEnough(b Amount) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff <= Epsilon
}
