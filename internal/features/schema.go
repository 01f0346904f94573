// Package features turns a TransactionRecord into the numeric vector the
// classifier expects, in the order fixed by the artifact feature list.
package features

import (
	"github.com/Thisen-Ekanayake/Plutus/internal/domain"
)

// Kind classifies how a record field becomes a vector entry.
type Kind int

const (
	// KindNumeric is a non-negative finite real.
	KindNumeric Kind = iota
	// KindCount is a non-negative integer.
	KindCount
	// KindFlag is 0 or 1.
	KindFlag
	// KindCategorical is encoded through the artifact encoder.
	KindCategorical
	// KindDerived is computed from another field.
	KindDerived
)

func (k Kind) String() string {
	switch k {
	case KindNumeric:
		return "numeric"
	case KindCount:
		return "count"
	case KindFlag:
		return "flag"
	case KindCategorical:
		return "categorical"
	case KindDerived:
		return "derived"
	default:
		return "unknown"
	}
}

// Field describes one feature the builder knows how to resolve.
type Field struct {
	Name string
	Kind Kind

	// Check is a CEL predicate over `value` (double) that every accepted
	// value satisfies. Categorical fields have none.
	Check string

	// Reason is reported when Check fails.
	Reason string

	numeric func(*domain.TransactionRecord) float64
	text    func(*domain.TransactionRecord) string
}

// Domain predicates.
const (
	checkNonNegative = `value >= 0.0 && value <= max_double`
	checkCount       = `value >= 0.0`
	checkFlag        = `value == 0.0 || value == 1.0`
	checkHour        = `value >= 0.0 && value <= 23.0`

	// deriveHour is evaluated with the naive wall-clock time mapped to UTC.
	deriveHour = `ts.getHours()`
)

var schema = []Field{
	numericField(domain.FieldAmount, func(r *domain.TransactionRecord) float64 { return r.Amount }),
	categoricalField(domain.FieldMerchantCategory, func(r *domain.TransactionRecord) string { return r.MerchantCategory }),
	categoricalField(domain.FieldPaymentMethod, func(r *domain.TransactionRecord) string { return r.PaymentMethod }),
	categoricalField(domain.FieldCountryCode, func(r *domain.TransactionRecord) string { return r.CountryCode }),
	{Name: domain.FieldHour, Kind: KindDerived, Check: checkHour, Reason: "must be an hour in [0,23]"},
	flagField(domain.FieldIsNight, func(r *domain.TransactionRecord) int { return r.IsNight }),
	flagField(domain.FieldIsWeekend, func(r *domain.TransactionRecord) int { return r.IsWeekend }),
	countField(domain.FieldTxnCount1h, func(r *domain.TransactionRecord) int { return r.TxnCount1h }),
	countField(domain.FieldTxnCount24h, func(r *domain.TransactionRecord) int { return r.TxnCount24h }),
	numericField(domain.FieldAvgAmount7d, func(r *domain.TransactionRecord) float64 { return r.AvgAmount7d }),
	numericField(domain.FieldTimeSinceLastTxn, func(r *domain.TransactionRecord) float64 { return r.TimeSinceLastTxn }),
	flagField(domain.FieldNewMerchantFlag, func(r *domain.TransactionRecord) int { return r.NewMerchantFlag }),
	numericField(domain.FieldAmountDeviation, func(r *domain.TransactionRecord) float64 { return r.AmountDeviation }),
	flagField(domain.FieldHighAmountFlag, func(r *domain.TransactionRecord) int { return r.HighAmountFlag }),
	flagField(domain.FieldGeoJump, func(r *domain.TransactionRecord) int { return r.GeoJump }),
}

// Schema returns every feature a record can supply, in training order.
func Schema() []Field {
	out := make([]Field, len(schema))
	copy(out, schema)
	return out
}

func lookup(name string) (*Field, bool) {
	for i := range schema {
		if schema[i].Name == name {
			return &schema[i], true
		}
	}
	return nil, false
}

func numericField(name string, get func(*domain.TransactionRecord) float64) Field {
	return Field{Name: name, Kind: KindNumeric, Check: checkNonNegative, Reason: "must be a non-negative number", numeric: get}
}

func countField(name string, get func(*domain.TransactionRecord) int) Field {
	return Field{
		Name: name, Kind: KindCount, Check: checkCount, Reason: "must be a non-negative integer",
		numeric: func(r *domain.TransactionRecord) float64 { return float64(get(r)) },
	}
}

func flagField(name string, get func(*domain.TransactionRecord) int) Field {
	return Field{
		Name: name, Kind: KindFlag, Check: checkFlag, Reason: "must be 0 or 1",
		numeric: func(r *domain.TransactionRecord) float64 { return float64(get(r)) },
	}
}

func categoricalField(name string, get func(*domain.TransactionRecord) string) Field {
	return Field{Name: name, Kind: KindCategorical, text: get}
}
