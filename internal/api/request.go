package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/Thisen-Ekanayake/Plutus/internal/domain"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// decodeJSON reads one JSON object from the request body. Decoding failures
// are input errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &typeErr):
			return &domain.InvalidValueError{
				Feature: typeErr.Field,
				Reason:  fmt.Sprintf("must be a JSON %s, got %s", jsonKind(typeErr.Type.Kind().String()), typeErr.Value),
			}
		case errors.As(err, &maxErr):
			return &domain.InvalidValueError{Feature: "body", Reason: "request body too large"}
		case errors.Is(err, io.EOF):
			return &domain.InvalidValueError{Feature: "body", Reason: "request body is empty"}
		default:
			return &domain.InvalidValueError{Feature: "body", Reason: "invalid JSON request body"}
		}
	}
	return nil
}

func jsonKind(goKind string) string {
	switch goKind {
	case "int", "int64":
		return "integer"
	case "float64":
		return "number"
	default:
		return goKind
	}
}
