// Package tax maps tax jurisdictions to sales tax percentages.
package tax

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DefaultRate is the percentage applied to regions missing from the table.
// Unmapped and international regions intentionally land here.
var DefaultRate = decimal.RequireFromString("5.0")

var hundred = decimal.NewFromInt(100)

// stateRates holds base state sales tax percentages keyed by state name.
var stateRates = map[string]string{
	"Alabama":        "4",
	"Alaska":         "0",
	"Arizona":        "5.6",
	"Arkansas":       "6.5",
	"California":     "7.25",
	"Colorado":       "2.9",
	"Connecticut":    "6.35",
	"Delaware":       "0",
	"Florida":        "6",
	"Georgia":        "4",
	"Hawaii":         "4",
	"Idaho":          "6",
	"Illinois":       "6.25",
	"Indiana":        "7",
	"Iowa":           "6",
	"Kansas":         "6.5",
	"Kentucky":       "6",
	"Louisiana":      "4.45",
	"Maine":          "5.5",
	"Maryland":       "6",
	"Massachusetts":  "6.25",
	"Michigan":       "6",
	"Minnesota":      "6.875",
	"Mississippi":    "7",
	"Missouri":       "4.225",
	"Montana":        "0",
	"Nebraska":       "5.5",
	"Nevada":         "6.85",
	"New Hampshire":  "0",
	"New Jersey":     "6.625",
	"New Mexico":     "5",
	"New York":       "4",
	"North Carolina": "4.75",
	"North Dakota":   "5",
	"Ohio":           "5.75",
	"Oklahoma":       "4.5",
	"Oregon":         "0",
	"Pennsylvania":   "6",
	"Rhode Island":   "7",
	"South Carolina": "6",
	"South Dakota":   "4.5",
	"Tennessee":      "7",
	"Texas":          "6.25",
	"Utah":           "6.1",
	"Vermont":        "6",
	"Virginia":       "5.3",
	"Washington":     "6.5",
	"West Virginia":  "6",
	"Wisconsin":      "5",
	"Wyoming":        "4",
}

// MaxRatePlaces is the number of decimal places a stored rate keeps.
const MaxRatePlaces int32 = 3

var (
	// ErrRateOutOfRange is returned for a percentage outside [0, 100].
	ErrRateOutOfRange = errors.New("tax rate must be between 0 and 100")
	// ErrRatePrecision is returned for a percentage with more than
	// MaxRatePlaces decimal places.
	ErrRatePrecision = errors.New("tax rate must have at most 3 decimal places")
)

// Validate reports whether rate is a percentage the order store can hold
// without rounding.
func Validate(rate decimal.Decimal) error {
	if !inRange(rate) {
		return errors.Wrapf(ErrRateOutOfRange, "rate %s", rate)
	}
	if !rate.Equal(rate.Round(MaxRatePlaces)) {
		return errors.Wrapf(ErrRatePrecision, "rate %s", rate)
	}
	return nil
}

// Table resolves a region code to a tax percentage. The zero value has no
// entries and a zero fallback; use New or Default.
type Table struct {
	rates    map[string]decimal.Decimal
	fallback decimal.Decimal
}

// New builds a Table from the given rates. Lookups are exact and
// case-preserving; regions absent from rates resolve to fallback.
func New(rates map[string]decimal.Decimal, fallback decimal.Decimal) (*Table, error) {
	if err := Validate(fallback); err != nil {
		return nil, errors.Wrap(err, "default")
	}
	t := &Table{
		rates:    make(map[string]decimal.Decimal, len(rates)),
		fallback: fallback,
	}
	for region, rate := range rates {
		if err := Validate(rate); err != nil {
			return nil, errors.Wrapf(err, "region %q", region)
		}
		t.rates[region] = rate
	}
	return t, nil
}

// Default returns the built-in state table with DefaultRate as fallback.
func Default() *Table {
	t, err := WithFallback(DefaultRate)
	if err != nil {
		panic(err)
	}
	return t
}

// WithFallback returns the built-in state table with a custom fallback rate.
func WithFallback(fallback decimal.Decimal) (*Table, error) {
	rates := make(map[string]decimal.Decimal, len(stateRates))
	for region, rate := range stateRates {
		rates[region] = decimal.RequireFromString(rate)
	}
	return New(rates, fallback)
}

// RateFor returns the percentage for region, or the fallback rate when the
// region is not in the table. It never fails.
func (t *Table) RateFor(region string) decimal.Decimal {
	if rate, ok := t.rates[region]; ok {
		return rate
	}
	return t.fallback
}

// Fallback returns the rate used for unmapped regions.
func (t *Table) Fallback() decimal.Decimal {
	return t.fallback
}

func inRange(rate decimal.Decimal) bool {
	return !rate.IsNegative() && rate.LessThanOrEqual(hundred)
}
