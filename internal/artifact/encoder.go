package artifact

import (
	"fmt"

	"github.com/Thisen-Ekanayake/Plutus/internal/domain"
)

// Encoder is a frozen bijection from a categorical vocabulary to integer
// codes. The code of a class is its position in Classes.
type Encoder struct {
	Feature string
	Classes []string

	codes map[string]int
}

// NewEncoder builds an encoder, rejecting empty or duplicated classes.
func NewEncoder(feature string, classes []string) (*Encoder, error) {
	if len(classes) == 0 {
		return nil, fmt.Errorf("encoder %q has no classes", feature)
	}
	codes := make(map[string]int, len(classes))
	for i, c := range classes {
		if c == "" {
			return nil, fmt.Errorf("encoder %q: class %d is empty", feature, i)
		}
		if _, dup := codes[c]; dup {
			return nil, fmt.Errorf("encoder %q: duplicate class %q", feature, c)
		}
		codes[c] = i
	}
	return &Encoder{
		Feature: feature,
		Classes: append([]string(nil), classes...),
		codes:   codes,
	}, nil
}

// Encode returns the code of value. Values outside the vocabulary fail;
// there is no fallback code.
func (e *Encoder) Encode(value string) (int, error) {
	code, ok := e.codes[value]
	if !ok {
		return 0, &domain.UnknownCategoryError{Feature: e.Feature, Value: value}
	}
	return code, nil
}

// Decode returns the class for code.
func (e *Encoder) Decode(code int) (string, bool) {
	if code < 0 || code >= len(e.Classes) {
		return "", false
	}
	return e.Classes[code], true
}
