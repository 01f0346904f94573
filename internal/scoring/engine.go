// Package scoring ties the feature builder, classifier, decision policy and
// explainer into one engine bound to an immutable artifact snapshot.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Thisen-Ekanayake/Plutus/internal/artifact"
	"github.com/Thisen-Ekanayake/Plutus/internal/domain"
	"github.com/Thisen-Ekanayake/Plutus/internal/explain"
	"github.com/Thisen-Ekanayake/Plutus/internal/features"
	"github.com/Thisen-Ekanayake/Plutus/internal/logging"
	"github.com/Thisen-Ekanayake/Plutus/internal/metrics"
	"github.com/Thisen-Ekanayake/Plutus/internal/model"
	"github.com/Thisen-Ekanayake/Plutus/internal/policy"
)

var tracer = otel.Tracer("plutus-scoring")

// additivityTolerance bounds |Σφ + E - margin| relative to the margin.
const additivityTolerance = 1e-6

const purgeTimeout = 30 * time.Second

// Options configure the per-snapshot pipeline.
type Options struct {
	TopK             int
	PredictionCutoff float64

	// Cache memoises attributions when non-nil.
	Cache    domain.Cache
	CacheTTL time.Duration
}

// pipeline is everything derived from one snapshot. It is built completely
// before it is published and never modified afterwards.
type pipeline struct {
	snapshot  *artifact.Snapshot
	builder   *features.Builder
	explainer *explain.Explainer
	policy    *policy.Policy
}

// Engine scores transaction records. It is safe for concurrent use; Swap
// replaces the snapshot for requests that start after it returns.
type Engine struct {
	current atomic.Pointer[pipeline]
	opts    Options
}

// NewEngine builds an engine over snap. Any inconsistency between the
// snapshot and the feature schema is returned as a ConfigurationError.
func NewEngine(snap *artifact.Snapshot, opts Options) (*Engine, error) {
	if opts.TopK == 0 {
		opts.TopK = explain.DefaultTopK
	}
	if opts.PredictionCutoff == 0 {
		opts.PredictionCutoff = policy.DefaultPredictionCutoff
	}

	e := &Engine{opts: opts}
	p, err := e.build(snap)
	if err != nil {
		return nil, err
	}
	e.current.Store(p)
	return e, nil
}

func (e *Engine) build(snap *artifact.Snapshot) (*pipeline, error) {
	if snap == nil || snap.Model == nil {
		return nil, &domain.ConfigurationError{Reason: "snapshot is empty"}
	}

	builder, err := features.NewBuilder(snap.FeatureList, snap.Encoders)
	if err != nil {
		return nil, err
	}

	var opts []explain.Option
	if e.opts.Cache != nil {
		opts = append(opts, explain.WithCache(e.opts.Cache, snap.Checksum, e.opts.CacheTTL))
	}
	explainer, err := explain.New(snap.Model, snap.FeatureList, e.opts.TopK, opts...)
	if err != nil {
		return nil, &domain.ConfigurationError{Reason: err.Error()}
	}

	pol := policy.New(snap.Threshold)
	pol.Cutoff = e.opts.PredictionCutoff

	return &pipeline{
		snapshot:  snap,
		builder:   builder,
		explainer: explainer,
		policy:    pol,
	}, nil
}

// Swap publishes snap for subsequent requests. Requests already running keep
// the snapshot they started with. On error the current snapshot stays.
func (e *Engine) Swap(snap *artifact.Snapshot) error {
	p, err := e.build(snap)
	if err != nil {
		return err
	}
	old := e.current.Swap(p)
	metrics.SetActiveModel(snap.Version(), snap.Checksum)
	if old != nil && old.snapshot.Checksum != snap.Checksum {
		e.retire(old.snapshot)
	}
	return nil
}

// retire drops attributions memoised for a replaced snapshot. Entries written
// afterwards by requests still on that snapshot expire with their TTL.
func (e *Engine) retire(snap *artifact.Snapshot) {
	purger, ok := e.opts.Cache.(domain.NamespacePurger)
	if !ok {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), purgeTimeout)
		defer cancel()
		n, err := purger.PurgeNamespace(ctx, snap.Checksum)
		if err != nil {
			logging.L(ctx).Warn("failed to purge attributions", "model", describe(snap), "error", err)
			return
		}
		logging.L(ctx).Info("purged attributions", "model", describe(snap), "entries", n)
	}()
}

// Snapshot returns the snapshot new requests are scored against.
func (e *Engine) Snapshot() *artifact.Snapshot {
	return e.current.Load().snapshot
}

// Score runs one record through the pipeline: build, score, decide, explain.
func (e *Engine) Score(ctx context.Context, rec *domain.TransactionRecord) (*domain.ScoreResult, error) {
	start := time.Now()
	p := e.current.Load()

	ctx, span := tracer.Start(ctx, "scoring.Score",
		trace.WithAttributes(attribute.String("model.version", p.snapshot.Version())),
	)
	defer span.End()

	result, err := p.score(ctx, rec)
	metrics.ScoreDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		class := domain.ClassOf(err)
		metrics.ScoreErrorsTotal.WithLabelValues(string(class)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, string(class))

		switch class {
		case domain.ClassInput:
			logging.L(ctx).Debug("record rejected", "error", err)
		default:
			logging.L(ctx).Error("scoring failed",
				"class", class,
				"model_version", p.snapshot.Version(),
				"error", err,
			)
		}
		return nil, err
	}

	metrics.ScoresTotal.WithLabelValues(string(result.Decision)).Inc()
	span.SetAttributes(
		attribute.String("score.id", result.ID),
		attribute.Float64("score.probability", result.Probability),
		attribute.String("score.decision", string(result.Decision)),
	)
	return result, nil
}

func (p *pipeline) score(ctx context.Context, rec *domain.TransactionRecord) (*domain.ScoreResult, error) {
	if rec == nil {
		return nil, &domain.InvalidValueError{Feature: "record", Reason: "is required"}
	}

	_, buildSpan := tracer.Start(ctx, "features.Build")
	vec, err := p.builder.Build(rec)
	buildSpan.End()
	if err != nil {
		return nil, err
	}

	_, modelSpan := tracer.Start(ctx, "model.Predict")
	margin, err := p.snapshot.Model.Margin(vec)
	modelSpan.End()
	if err != nil {
		return nil, err
	}
	prob := model.Sigmoid(margin)

	decision, prediction, err := p.policy.Apply(prob)
	if err != nil {
		return nil, err
	}

	explainCtx, explainSpan := tracer.Start(ctx, "explain.Explain")
	explanation, err := p.explainer.Explain(explainCtx, vec)
	explainSpan.End()
	if err != nil {
		return nil, err
	}
	if err := checkAdditivity(explanation, margin); err != nil {
		return nil, err
	}

	return &domain.ScoreResult{
		ID:             uuid.New().String(),
		Probability:    prob,
		Prediction:     prediction,
		Decision:       decision,
		TopRiskFactors: explanation.TopFactors,
		ModelVersion:   p.snapshot.Version(),
		Margin:         margin,
		ExpectedValue:  explanation.Expected,
	}, nil
}

// checkAdditivity verifies that the attributions reconstruct the margin.
func checkAdditivity(ex *explain.Explanation, margin float64) error {
	sum := ex.Expected
	for _, v := range ex.Contributions {
		sum += v
	}
	diff := math.Abs(sum - margin)
	if diff > additivityTolerance*(1+math.Abs(margin)) {
		return &domain.InvariantViolationError{What: "attributions do not sum to the margin", Value: diff}
	}
	return nil
}

// IsClientError reports whether err was caused by the submitted record.
func IsClientError(err error) bool {
	return errors.Is(err, domain.ErrInput)
}

// describe formats a snapshot for logs.
func describe(snap *artifact.Snapshot) string {
	return fmt.Sprintf("%s@%s", snap.Version(), shortChecksum(snap.Checksum))
}

func shortChecksum(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}
