package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Thisen-Ekanayake/Plutus/internal/artifact"
	"github.com/Thisen-Ekanayake/Plutus/internal/domain"
	"github.com/Thisen-Ekanayake/Plutus/internal/logging"
	"github.com/Thisen-Ekanayake/Plutus/internal/policy"
)

// Engine scores records against the current artifact snapshot.
type Engine interface {
	Score(ctx context.Context, rec *domain.TransactionRecord) (*domain.ScoreResult, error)
	Snapshot() *artifact.Snapshot
}

// Reloader swaps in freshly loaded artifacts.
type Reloader interface {
	Reload(ctx context.Context) (*domain.ArtifactLoad, error)
}

// Handler holds dependencies for API handlers. Only engine is required.
type Handler struct {
	engine   Engine
	reloader Reloader
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	version  string
}

// Deps are the collaborators served by the API.
type Deps struct {
	Engine   Engine
	Reloader Reloader
	Repo     domain.Repository
	Cache    domain.Cache
	Bus      domain.EventBus
	Version  string
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		engine:   deps.Engine,
		reloader: deps.Reloader,
		repo:     deps.Repo,
		cache:    deps.Cache,
		bus:      deps.Bus,
		version:  deps.Version,
	}
}

// ScoreResponse is the response for POST /score.
type ScoreResponse struct {
	FraudProbability float64                   `json:"fraud_probability"`
	FraudPrediction  int                       `json:"fraud_prediction"`
	Decision         domain.Decision           `json:"decision"`
	TopRiskFactors   []domain.AttributionEntry `json:"top_risk_factors"`
	Metadata         ScoreMetadata             `json:"metadata"`
}

// ScoreMetadata carries request bookkeeping next to the score.
type ScoreMetadata struct {
	ScoreID      string  `json:"score_id"`
	RequestID    string  `json:"request_id"`
	TraceID      string  `json:"trace_id"`
	ModelVersion string  `json:"model_version"`
	LatencyMs    float64 `json:"latency_ms"`
	Version      string  `json:"version"`
}

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	Error      string            `json:"error"`
	ErrorClass domain.ErrorClass `json:"error_class"`
	Feature    string            `json:"feature,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
}

// Score handles POST /score and POST /predict.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	var req domain.RecordInput
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	rec, err := req.Record()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.engine.Score(ctx, rec)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := ScoreResponse{
		FraudProbability: result.Probability,
		FraudPrediction:  result.Prediction,
		Decision:         result.Decision,
		TopRiskFactors:   result.TopRiskFactors,
		Metadata: ScoreMetadata{
			ScoreID:      result.ID,
			RequestID:    logging.RequestID(ctx),
			TraceID:      GetTraceID(ctx),
			ModelVersion: result.ModelVersion,
			LatencyMs:    float64(time.Since(start).Microseconds()) / 1000,
			Version:      h.version,
		},
	}
	if resp.TopRiskFactors == nil {
		resp.TopRiskFactors = []domain.AttributionEntry{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ScoreAsync handles POST /score/async: the record is validated for
// completeness and queued on the bus for the scoring worker.
func (h *Handler) ScoreAsync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			Error:      "event bus not available",
			ErrorClass: domain.ClassInternal,
		})
		return
	}

	var req domain.ScoringRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := req.TransactionRecord(); err != nil {
		h.writeError(w, r, err)
		return
	}

	if req.TransactionID == "" {
		req.TransactionID = uuid.New().String()
	}
	txID := req.TransactionID
	payload, err := json.Marshal(req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.bus.Publish(ctx, domain.TopicTransactionSubmitted, payload); err != nil {
		logging.L(ctx).Error("failed to queue transaction", "tx_id", txID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			Error:      "failed to queue transaction",
			ErrorClass: domain.ClassInternal,
			RequestID:  logging.RequestID(ctx),
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"transaction_id": txID,
		"status":         "queued",
		"topic":          domain.TopicTransactionSubmitted,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"
	components := map[string]string{}

	check := func(name string, ping func(context.Context) error) {
		if err := ping(ctx); err != nil {
			components[name] = "unavailable"
			status = "degraded"
			logging.L(ctx).Warn("health check failed", "component", name, "error", err)
			return
		}
		components[name] = "ok"
	}
	if h.repo != nil {
		check("repository", h.repo.Ping)
	}
	if h.cache != nil {
		check("cache", h.cache.Ping)
	}
	if h.bus != nil {
		check("bus", h.bus.Ping)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":        status,
		"version":       h.version,
		"model_version": h.engine.Snapshot().Version(),
		"components":    components,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil || h.engine.Snapshot() == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready":         "true",
		"model_version": h.engine.Snapshot().Version(),
	})
}

// ModelResponse describes the snapshot currently being served.
type ModelResponse struct {
	Version         string    `json:"version"`
	Checksum        string    `json:"checksum"`
	Threshold       float64   `json:"threshold"`
	ReviewThreshold float64   `json:"review_threshold"`
	FeatureList     []string  `json:"feature_list"`
	Categorical     []string  `json:"categorical_features"`
	TreeCount       int       `json:"tree_count"`
	BaseMargin      float64   `json:"base_margin"`
	ExpectedValue   float64   `json:"expected_value"`
	LoadedAt        time.Time `json:"loaded_at"`
}

// Model handles GET /model.
func (h *Handler) Model(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.Snapshot()

	categorical := make([]string, 0, len(snap.Encoders))
	for _, f := range snap.FeatureList {
		if _, ok := snap.Encoders[f]; ok {
			categorical = append(categorical, f)
		}
	}

	writeJSON(w, http.StatusOK, ModelResponse{
		Version:         snap.Version(),
		Checksum:        snap.Checksum,
		Threshold:       snap.Threshold,
		ReviewThreshold: snap.Threshold * policy.ReviewMultiplier,
		FeatureList:     snap.FeatureList,
		Categorical:     categorical,
		TreeCount:       snap.Model.TreeCount(),
		BaseMargin:      snap.Model.BaseMargin,
		ExpectedValue:   snap.Model.ExpectedValue(),
		LoadedAt:        snap.LoadedAt,
	})
}

// ModelHistory handles GET /model/history.
func (h *Handler) ModelHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			Error:      "repository not available",
			ErrorClass: domain.ClassInternal,
		})
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.writeError(w, r, &domain.InvalidValueError{Feature: "limit", Value: raw, Reason: "must be a positive integer"})
			return
		}
		limit = n
	}

	loads, err := h.repo.ListArtifactLoads(ctx, limit)
	if err != nil {
		logging.L(ctx).Error("failed to list artifact loads", "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:      "failed to list artifact loads",
			ErrorClass: domain.ClassInternal,
			RequestID:  logging.RequestID(ctx),
		})
		return
	}
	if loads == nil {
		loads = []*domain.ArtifactLoad{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"loads": loads,
		"count": len(loads),
	})
}

// ReloadModel handles POST /model/reload.
func (h *Handler) ReloadModel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.reloader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			Error:      "reload not available",
			ErrorClass: domain.ClassInternal,
		})
		return
	}

	load, err := h.reloader.Reload(ctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "artifacts reloaded",
		"load":    load,
	})
}

// statusFor maps an error class to an HTTP status.
func statusFor(class domain.ErrorClass) int {
	switch class {
	case domain.ClassInput:
		return http.StatusBadRequest
	case domain.ClassArtifact:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err with its class. Only input and artifact errors
// expose their message; internal faults get a generic one.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	class := domain.ClassOf(err)
	if class == "" {
		class = domain.ClassUnknown
	}
	resp := ErrorResponse{
		ErrorClass: class,
		Feature:    featureOf(err),
		RequestID:  logging.RequestID(r.Context()),
	}

	switch class {
	case domain.ClassInput, domain.ClassArtifact:
		resp.Error = err.Error()
	case domain.ClassInvariant:
		resp.Error = "scoring invariant violated"
	default:
		resp.Error = "internal scoring error"
	}

	writeJSON(w, statusFor(class), resp)
}

// featureOf returns the feature an input error refers to, if any.
func featureOf(err error) string {
	var uce *domain.UnknownCategoryError
	var ive *domain.InvalidValueError
	var ite *domain.InvalidTimestampError
	switch {
	case errors.As(err, &uce):
		return uce.Feature
	case errors.As(err, &ive):
		return ive.Feature
	case errors.As(err, &ite):
		return domain.FieldTimestamp
	default:
		return ""
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
