package features

import (
	"fmt"
	"math"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/Thisen-Ekanayake/Plutus/internal/artifact"
	"github.com/Thisen-Ekanayake/Plutus/internal/domain"
)

// slot binds one feature-list position to its resolver.
type slot struct {
	index   int
	field   *Field
	encoder *artifact.Encoder
	check   cel.Program
}

// Builder is compiled once per artifact snapshot and is safe for
// concurrent use.
type Builder struct {
	features    []string
	categorical []slot
	numeric     []slot
	derived     []slot
	hour        cel.Program
	needsHour   bool
}

// NewBuilder resolves every feature-list entry against the record schema.
// Any entry it cannot resolve is a *domain.ConfigurationError.
func NewBuilder(featureList []string, encoders map[string]*artifact.Encoder) (*Builder, error) {
	env, err := cel.NewEnv(
		cel.Variable("value", cel.DoubleType),
		cel.Variable("ts", cel.TimestampType),
		cel.Constant("max_double", cel.DoubleType, types.Double(math.MaxFloat64)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	b := &Builder{features: append([]string(nil), featureList...)}
	for name := range encoders {
		f, ok := lookup(name)
		if ok && f.Kind != KindCategorical {
			return nil, &domain.ConfigurationError{Feature: name, Reason: fmt.Sprintf("encoder supplied for %s feature", f.Kind)}
		}
	}

	for i, name := range featureList {
		f, ok := lookup(name)
		if !ok {
			return nil, &domain.ConfigurationError{Feature: name, Reason: "not resolvable from a transaction record"}
		}
		s := slot{index: i, field: f}

		if f.Kind == KindCategorical {
			enc, ok := encoders[name]
			if !ok {
				return nil, &domain.ConfigurationError{Feature: name, Reason: "categorical feature has no encoder"}
			}
			s.encoder = enc
			b.categorical = append(b.categorical, s)
			continue
		}

		s.check, err = compile(env, f.Check, cel.BoolType)
		if err != nil {
			return nil, &domain.ConfigurationError{Feature: name, Reason: err.Error()}
		}
		if f.Kind == KindDerived {
			b.derived = append(b.derived, s)
			b.needsHour = true
			continue
		}
		b.numeric = append(b.numeric, s)
	}

	if b.needsHour {
		b.hour, err = compile(env, deriveHour, cel.IntType)
		if err != nil {
			return nil, &domain.ConfigurationError{Feature: domain.FieldHour, Reason: err.Error()}
		}
	}
	return b, nil
}

func compile(env *cel.Env, expr string, want *cel.Type) (cel.Program, error) {
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile %q: %w", expr, issues.Err())
	}
	if !ast.OutputType().IsExactType(want) {
		return nil, fmt.Errorf("expression %q must return %s, got %s", expr, want, ast.OutputType())
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for %q: %w", expr, err)
	}
	return program, nil
}

// Features returns the feature order this builder produces.
func (b *Builder) Features() []string {
	return append([]string(nil), b.features...)
}

// Build validates rec and returns its feature vector. Timestamp errors are
// reported first, then categorical errors, then numeric domain errors, each
// in feature-list order.
func (b *Builder) Build(rec *domain.TransactionRecord) (domain.FeatureVector, error) {
	if rec == nil {
		return nil, &domain.InvalidValueError{Feature: "record", Reason: "required"}
	}

	ts, err := ParseTimestamp(rec.Timestamp)
	if err != nil {
		return nil, err
	}

	vec := make(domain.FeatureVector, len(b.features))

	for _, s := range b.categorical {
		code, err := s.encoder.Encode(s.field.text(rec))
		if err != nil {
			return nil, err
		}
		vec[s.index] = float64(code)
	}

	for _, s := range b.numeric {
		v := s.field.numeric(rec)
		if err := b.verify(s, v); err != nil {
			return nil, err
		}
		vec[s.index] = v
	}

	if b.needsHour {
		out, _, err := b.hour.Eval(map[string]any{"ts": ts})
		if err != nil {
			return nil, &domain.InvalidTimestampError{Value: rec.Timestamp}
		}
		hour, ok := out.Value().(int64)
		if !ok {
			return nil, &domain.InvalidTimestampError{Value: rec.Timestamp}
		}
		for _, s := range b.derived {
			if err := b.verify(s, float64(hour)); err != nil {
				return nil, err
			}
			vec[s.index] = float64(hour)
		}
	}

	return vec, nil
}

func (b *Builder) verify(s slot, v float64) error {
	out, _, err := s.check.Eval(map[string]any{"value": v})
	if err != nil {
		return &domain.InvalidValueError{Feature: s.field.Name, Value: v, Reason: err.Error()}
	}
	if ok, _ := out.Value().(bool); !ok {
		return &domain.InvalidValueError{Feature: s.field.Name, Value: v, Reason: s.field.Reason}
	}
	return nil
}
