package domain

// TransactionRecord is a single card transaction as supplied by the caller.
// Rolling features (counts, averages, flags) are computed upstream; the
// engine only validates and encodes them.
type TransactionRecord struct {
	// Timestamp is an ISO-8601 date-time. The hour feature is derived from it.
	Timestamp string `json:"timestamp"`

	Amount           float64 `json:"amount"`
	MerchantCategory string  `json:"merchant_category"`
	PaymentMethod    string  `json:"payment_method"`
	CountryCode      string  `json:"country_code"`

	TxnCount1h       int     `json:"txn_count_1h"`
	TxnCount24h      int     `json:"txn_count_24h"`
	AvgAmount7d      float64 `json:"avg_amount_7d"`
	AmountDeviation  float64 `json:"amount_deviation"`
	TimeSinceLastTxn float64 `json:"time_since_last_txn"`

	// Binary flags, each 0 or 1.
	IsNight         int `json:"is_night"`
	IsWeekend       int `json:"is_weekend"`
	NewMerchantFlag int `json:"new_merchant_flag"`
	GeoJump         int `json:"geo_jump"`
	HighAmountFlag  int `json:"high_amount_flag"`
}

// RecordInput is the wire form of a TransactionRecord. Every field is
// required, so the fields are pointers to tell absent from zero.
type RecordInput struct {
	Timestamp        *string  `json:"timestamp"`
	Amount           *float64 `json:"amount"`
	MerchantCategory *string  `json:"merchant_category"`
	PaymentMethod    *string  `json:"payment_method"`
	CountryCode      *string  `json:"country_code"`
	TxnCount1h       *int     `json:"txn_count_1h"`
	TxnCount24h      *int     `json:"txn_count_24h"`
	AvgAmount7d      *float64 `json:"avg_amount_7d"`
	AmountDeviation  *float64 `json:"amount_deviation"`
	TimeSinceLastTxn *float64 `json:"time_since_last_txn"`
	IsNight          *int     `json:"is_night"`
	IsWeekend        *int     `json:"is_weekend"`
	NewMerchantFlag  *int     `json:"new_merchant_flag"`
	GeoJump          *int     `json:"geo_jump"`
	HighAmountFlag   *int     `json:"high_amount_flag"`
}

// Record converts the input into a TransactionRecord, reporting the first
// missing field in record order. Absent fields are never defaulted.
func (in *RecordInput) Record() (*TransactionRecord, error) {
	rec := &TransactionRecord{}
	checks := []struct {
		field string
		set   bool
		apply func()
	}{
		{FieldTimestamp, in.Timestamp != nil, func() { rec.Timestamp = *in.Timestamp }},
		{FieldAmount, in.Amount != nil, func() { rec.Amount = *in.Amount }},
		{FieldMerchantCategory, in.MerchantCategory != nil, func() { rec.MerchantCategory = *in.MerchantCategory }},
		{FieldPaymentMethod, in.PaymentMethod != nil, func() { rec.PaymentMethod = *in.PaymentMethod }},
		{FieldCountryCode, in.CountryCode != nil, func() { rec.CountryCode = *in.CountryCode }},
		{FieldTxnCount1h, in.TxnCount1h != nil, func() { rec.TxnCount1h = *in.TxnCount1h }},
		{FieldTxnCount24h, in.TxnCount24h != nil, func() { rec.TxnCount24h = *in.TxnCount24h }},
		{FieldAvgAmount7d, in.AvgAmount7d != nil, func() { rec.AvgAmount7d = *in.AvgAmount7d }},
		{FieldAmountDeviation, in.AmountDeviation != nil, func() { rec.AmountDeviation = *in.AmountDeviation }},
		{FieldTimeSinceLastTxn, in.TimeSinceLastTxn != nil, func() { rec.TimeSinceLastTxn = *in.TimeSinceLastTxn }},
		{FieldIsNight, in.IsNight != nil, func() { rec.IsNight = *in.IsNight }},
		{FieldIsWeekend, in.IsWeekend != nil, func() { rec.IsWeekend = *in.IsWeekend }},
		{FieldNewMerchantFlag, in.NewMerchantFlag != nil, func() { rec.NewMerchantFlag = *in.NewMerchantFlag }},
		{FieldGeoJump, in.GeoJump != nil, func() { rec.GeoJump = *in.GeoJump }},
		{FieldHighAmountFlag, in.HighAmountFlag != nil, func() { rec.HighAmountFlag = *in.HighAmountFlag }},
	}
	for _, c := range checks {
		if !c.set {
			return nil, &InvalidValueError{Feature: c.field, Reason: "is required"}
		}
		c.apply()
	}
	return rec, nil
}

// Record field names, shared by the feature schema, the transport and
// error messages.
const (
	FieldTimestamp        = "timestamp"
	FieldAmount           = "amount"
	FieldMerchantCategory = "merchant_category"
	FieldPaymentMethod    = "payment_method"
	FieldCountryCode      = "country_code"
	FieldTxnCount1h       = "txn_count_1h"
	FieldTxnCount24h      = "txn_count_24h"
	FieldAvgAmount7d      = "avg_amount_7d"
	FieldAmountDeviation  = "amount_deviation"
	FieldTimeSinceLastTxn = "time_since_last_txn"
	FieldIsNight          = "is_night"
	FieldIsWeekend        = "is_weekend"
	FieldNewMerchantFlag  = "new_merchant_flag"
	FieldGeoJump          = "geo_jump"
	FieldHighAmountFlag   = "high_amount_flag"

	// FieldHour is derived from Timestamp, never supplied directly.
	FieldHour = "hour"
)
