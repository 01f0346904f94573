package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"Nil", nil, ""},
		{"Timestamp", &InvalidTimestampError{Value: "15-01-2025"}, ClassInput},
		{"UnknownCategory", &UnknownCategoryError{Feature: "merchant_category", Value: "crypto_exchange"}, ClassInput},
		{"InvalidValue", &InvalidValueError{Feature: "amount", Value: -1.0, Reason: "must be >= 0"}, ClassInput},
		{"ArtifactLoad", &ArtifactLoadError{Artifact: "model", Err: errors.New("missing")}, ClassArtifact},
		{"Configuration", &ConfigurationError{Feature: "velocity", Reason: "not resolvable"}, ClassArtifact},
		{"Internal", &InternalScoringError{Reason: "dimension mismatch"}, ClassInternal},
		{"Invariant", &InvariantViolationError{What: "probability outside [0,1]", Value: 1.2}, ClassInvariant},
		{"Wrapped", fmt.Errorf("build: %w", &UnknownCategoryError{Feature: "country_code", Value: "FR"}), ClassInput},
		{"Unknown", errors.New("boom"), ClassUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassOf(tt.err); got != tt.want {
				t.Errorf("expected class %q, got %q", tt.want, got)
			}
		})
	}
}

func TestErrorMessagesCarryContext(t *testing.T) {
	err := &UnknownCategoryError{Feature: "merchant_category", Value: "crypto_exchange"}
	want := `unknown category "crypto_exchange" for feature "merchant_category"`
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}

	missing := &InvalidValueError{Feature: "amount", Reason: "required"}
	if missing.Error() != `invalid value for "amount": required` {
		t.Errorf("unexpected message: %q", missing.Error())
	}
}

func TestArtifactLoadErrorUnwraps(t *testing.T) {
	cause := errors.New("unexpected end of JSON input")
	err := &ArtifactLoadError{Artifact: "model", Path: "artifacts/model.json", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("expected ArtifactLoadError to unwrap to its cause")
	}
	if !errors.Is(err, ErrArtifact) {
		t.Error("expected ArtifactLoadError to match ErrArtifact")
	}
	if errors.Is(err, ErrInput) {
		t.Error("ArtifactLoadError must not match ErrInput")
	}
}

func TestEffectOf(t *testing.T) {
	if EffectOf(0.3) != EffectIncrease {
		t.Errorf("expected positive impact to increase risk")
	}
	if EffectOf(-0.3) != EffectReduce {
		t.Errorf("expected negative impact to reduce risk")
	}
	if EffectOf(0) != EffectReduce {
		t.Errorf("expected zero impact to reduce risk")
	}
}
