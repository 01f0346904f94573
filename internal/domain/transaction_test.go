package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

const completeRecord = `{
	"timestamp": "2025-01-15T14:30:00",
	"amount": 0,
	"merchant_category": "electronics",
	"payment_method": "card",
	"country_code": "US",
	"txn_count_1h": 0,
	"txn_count_24h": 15,
	"avg_amount_7d": 120.0,
	"amount_deviation": 330.5,
	"time_since_last_txn": 45.0,
	"is_night": 0,
	"is_weekend": 0,
	"new_merchant_flag": 1,
	"geo_jump": 0,
	"high_amount_flag": 1
}`

func TestScoringRequestTransactionRecord(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		feature string
	}{
		{"Complete", `{"transaction_id":"tx-1","record":` + completeRecord + `}`, ""},
		{"MissingRecord", `{"transaction_id":"tx-1"}`, "record"},
		{"NullRecord", `{"record":null}`, "record"},
		{"MissingAmount", `{"record":{"timestamp":"2025-01-15T14:30:00","merchant_category":"electronics","payment_method":"card","country_code":"US"}}`, FieldAmount},
		{"MissingFlag", `{"record":{"timestamp":"2025-01-15T14:30:00","amount":1,"merchant_category":"electronics","payment_method":"card","country_code":"US","txn_count_1h":1,"txn_count_24h":1,"avg_amount_7d":1,"amount_deviation":0,"time_since_last_txn":1,"is_night":0,"is_weekend":0,"new_merchant_flag":0,"geo_jump":0}}`, FieldHighAmountFlag},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req ScoringRequest
			if err := json.Unmarshal([]byte(tt.payload), &req); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			rec, err := req.TransactionRecord()
			if tt.feature == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if rec.Amount != 0 || rec.TxnCount24h != 15 || rec.HighAmountFlag != 1 {
					t.Errorf("record not copied: %+v", rec)
				}
				return
			}

			var ive *InvalidValueError
			if !errors.As(err, &ive) {
				t.Fatalf("expected InvalidValueError, got %v", err)
			}
			if ive.Feature != tt.feature {
				t.Errorf("feature = %q, want %q", ive.Feature, tt.feature)
			}
			if !errors.Is(err, ErrInput) {
				t.Error("missing field must be an input error")
			}
			if rec != nil {
				t.Errorf("expected no record, got %+v", rec)
			}
		})
	}
}
