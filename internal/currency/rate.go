package currency

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// ratePrecision is the number of significant digits kept in exchange
// rates, matching the admin service contract.
const ratePrecision = 6

// Rate is one normalized exchange rate tuple. Immutable once produced.
type Rate struct {
	From string
	To   string
	Rate decimal.Decimal
}

func (r Rate) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{
		"from_currency": r.From,
		"to_currency":   r.To,
		"rate":          r.Rate.String(),
	})
}

// RoundRate trims d to the rate precision in significant digits, not
// decimal places: 27.34567 -> 27.3457, 0.0366972 -> 0.0366972.
func RoundRate(d decimal.Decimal) decimal.Decimal {
	if d.IsZero() {
		return d
	}
	magnitude := int32(d.NumDigits()) + d.Exponent()
	return d.Round(ratePrecision - magnitude)
}

// Inverse computes the reverse rate as 1/sell.
func Inverse(sell decimal.Decimal) decimal.Decimal {
	return RoundRate(decimal.NewFromInt(1).DivRound(sell, 2*ratePrecision))
}
