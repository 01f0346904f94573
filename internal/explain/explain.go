// Package explain ranks exact local feature attributions into the top risk
// factors of a score.
package explain

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/Thisen-Ekanayake/Plutus/internal/domain"
	"github.com/Thisen-Ekanayake/Plutus/internal/logging"
	"github.com/Thisen-Ekanayake/Plutus/internal/metrics"
)

// DefaultTopK is the number of risk factors returned.
const DefaultTopK = 5

// LocalAttributor computes per-feature contributions for one input. The
// contributions plus expected must equal the model output for x.
type LocalAttributor interface {
	Attribute(x []float64) (phi []float64, expected float64, err error)
}

// Explanation is the full attribution of one vector plus its ranked summary.
type Explanation struct {
	Contributions []float64
	Expected      float64
	TopFactors    []domain.AttributionEntry
}

// Explainer is bound to one artifact snapshot and safe for concurrent use.
type Explainer struct {
	attributor LocalAttributor
	features   []string
	topK       int

	cache     domain.Cache
	namespace string
	ttl       time.Duration
}

// Option configures an Explainer.
type Option func(*Explainer)

// WithCache memoises attributions. namespace must change whenever the
// model does; the snapshot checksum is the natural choice.
func WithCache(c domain.Cache, namespace string, ttl time.Duration) Option {
	return func(e *Explainer) {
		e.cache = c
		e.namespace = namespace
		e.ttl = ttl
	}
}

// New creates an explainer over features, in feature-list order.
func New(attributor LocalAttributor, features []string, topK int, opts ...Option) (*Explainer, error) {
	if attributor == nil {
		return nil, fmt.Errorf("attributor is required")
	}
	if len(features) == 0 {
		return nil, fmt.Errorf("feature list is required")
	}
	if topK < 1 {
		return nil, fmt.Errorf("top-k must be at least 1, got %d", topK)
	}
	e := &Explainer{
		attributor: attributor,
		features:   append([]string(nil), features...),
		topK:       topK,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Explain attributes vec and returns its top-K factors.
func (e *Explainer) Explain(ctx context.Context, vec domain.FeatureVector) (*Explanation, error) {
	if len(vec) != len(e.features) {
		return nil, &domain.InternalScoringError{
			Reason: fmt.Sprintf("dimension mismatch: vector has %d features, feature list has %d", len(vec), len(e.features)),
		}
	}

	phi, expected, err := e.attribute(ctx, vec)
	if err != nil {
		return nil, err
	}
	if len(phi) != len(e.features) {
		return nil, &domain.InternalScoringError{
			Reason: fmt.Sprintf("attributor returned %d values for %d features", len(phi), len(e.features)),
		}
	}
	for i, v := range phi {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &domain.InternalScoringError{Reason: fmt.Sprintf("non-finite attribution for %s", e.features[i])}
		}
	}

	return &Explanation{
		Contributions: phi,
		Expected:      expected,
		TopFactors:    Rank(e.features, phi, e.topK),
	}, nil
}

// Rank orders contributions by absolute value, descending, breaking ties by
// feature-list position, and keeps the first k.
func Rank(features []string, phi []float64, k int) []domain.AttributionEntry {
	order := make([]int, len(phi))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		ma, mb := math.Abs(phi[a]), math.Abs(phi[b])
		switch {
		case ma > mb:
			return -1
		case ma < mb:
			return 1
		default:
			return a - b
		}
	})

	if k > len(order) {
		k = len(order)
	}
	out := make([]domain.AttributionEntry, 0, k)
	for _, idx := range order[:k] {
		out = append(out, domain.AttributionEntry{
			Feature: features[idx],
			Impact:  phi[idx],
			Effect:  domain.EffectOf(phi[idx]),
		})
	}
	return out
}

type cachedAttribution struct {
	Vector   []float64 `json:"x"`
	Phi      []float64 `json:"phi"`
	Expected float64   `json:"e"`
}

func (e *Explainer) attribute(ctx context.Context, vec domain.FeatureVector) ([]float64, float64, error) {
	if e.cache == nil || e.ttl <= 0 {
		return e.attributor.Attribute(vec)
	}

	key := Fingerprint(vec)
	if data, err := e.cache.Get(ctx, e.namespace, key); err != nil {
		metrics.AttributionCacheTotal.WithLabelValues("error").Inc()
		logging.L(ctx).Warn("attribution cache read failed", "error", err)
	} else if data != nil {
		var hit cachedAttribution
		if err := json.Unmarshal(data, &hit); err == nil && slices.Equal(hit.Vector, []float64(vec)) && len(hit.Phi) == len(vec) {
			metrics.AttributionCacheTotal.WithLabelValues("hit").Inc()
			return hit.Phi, hit.Expected, nil
		}
	}
	metrics.AttributionCacheTotal.WithLabelValues("miss").Inc()

	phi, expected, err := e.attributor.Attribute(vec)
	if err != nil {
		return nil, 0, err
	}

	data, err := json.Marshal(cachedAttribution{Vector: vec, Phi: phi, Expected: expected})
	if err == nil {
		if err := e.cache.Set(ctx, e.namespace, key, data, e.ttl); err != nil {
			logging.L(ctx).Warn("attribution cache write failed", "error", err)
		}
	}
	return phi, expected, nil
}

// Fingerprint hashes the exact bit pattern of vec.
func Fingerprint(vec []float64) string {
	buf := make([]byte, 8*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return "attr:" + strconv.FormatUint(xxhash.Sum64(buf), 16)
}
