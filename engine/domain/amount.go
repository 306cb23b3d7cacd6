package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Amount is a currency value in cents.
type Amount int64

// ParseAmount reads a decimal string such as "2.5" or "$10.00".
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "$")
	if s == "" {
		return 0, NewValidationError("amount", s, ErrInvalidRequest)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, NewValidationError("amount", s, ErrInvalidRequest)
	}
	return AmountFromFloat(f), nil
}

// AmountFromFloat rounds a dollar value to the nearest cent.
func AmountFromFloat(f float64) Amount { return Amount(math.Round(f * 100)) }

// Times multiplies the per-unit amount by n.
func (a Amount) Times(n int) Amount { return a * Amount(n) }

func (a Amount) String() string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign, v = "-", -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// MarshalJSON writes the dollar value as a JSON number.
func (a Amount) MarshalJSON() ([]byte, error) { return []byte(a.String()), nil }

// UnmarshalJSON accepts a JSON number or a numeric string.
func (a *Amount) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		var s string
		if err2 := json.Unmarshal(b, &s); err2 != nil {
			return err
		}
		n = json.Number(s)
	}
	v, err := ParseAmount(n.String())
	if err != nil {
		return err
	}
	*a = v
	return nil
}
