package model

import (
	"fmt"
	"math"
	"strconv"
)

// Decimal is a decimal-preserving numeric value carried in its original
// string form. Exchange payloads mix quoted strings (Kraken REST) and bare
// numbers (Kraken WS v2); Decimal accepts both on input and always marshals
// as a quoted string, so a price like "29456.10" survives every hop without
// float re-encoding.
type Decimal string

// UnmarshalJSON accepts both a JSON string and a JSON number.
func (d *Decimal) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "" || s == "null" {
		*d = ""
		return nil
	}
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return fmt.Errorf("invalid decimal %q", s)
	}
	*d = Decimal(s)
	return nil
}

// MarshalJSON emits the value as a quoted string. Empty decimals marshal
// as "0" so consumers never see a blank numeric field.
func (d Decimal) MarshalJSON() ([]byte, error) {
	if d == "" {
		return []byte(`"0"`), nil
	}
	return strconv.AppendQuote(make([]byte, 0, len(d)+2), string(d)), nil
}

// Float64 returns the numeric value. Empty or unparseable decimals yield 0.
func (d Decimal) Float64() float64 {
	f, err := strconv.ParseFloat(string(d), 64)
	if err != nil {
		return 0
	}
	return f
}

// IsZero reports whether the decimal is empty or exactly zero.
func (d Decimal) IsZero() bool {
	return d == "" || d.Float64() == 0
}

// DecimalFromFloat formats f with the minimal digits that round-trip.
// Non-finite values collapse to "0"; they have no decimal representation.
func DecimalFromFloat(f float64) Decimal {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "0"
	}
	return Decimal(strconv.FormatFloat(f, 'f', -1, 64))
}
