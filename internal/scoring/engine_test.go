package scoring

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/Thisen-Ekanayake/Plutus/internal/artifact"
	"github.com/Thisen-Ekanayake/Plutus/internal/cache"
	"github.com/Thisen-Ekanayake/Plutus/internal/domain"
)

const referenceDir = "../../artifacts"

func readReference(t *testing.T) (model, encoders, featureList, threshold []byte) {
	t.Helper()
	return mustRead(t, domain.ModelFile), mustRead(t, domain.EncodersFile), mustRead(t, domain.FeatureListFile), mustRead(t, domain.ThresholdFile)
}

func mustRead(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(referenceDir, name))
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	return data
}

func referenceSnapshot(t *testing.T) *artifact.Snapshot {
	t.Helper()
	snap, err := artifact.Load(domain.ArtifactConfig{Dir: referenceDir}.Resolve())
	if err != nil {
		t.Fatalf("load artifacts: %v", err)
	}
	return snap
}

// strictSnapshot is the reference model relabelled with a 0.9 threshold.
func strictSnapshot(t *testing.T) *artifact.Snapshot {
	t.Helper()
	m, enc, fl, _ := readReference(t)
	m = bytes.Replace(m, []byte(`"2025.01-reference"`), []byte(`"2025.01-strict"`), 1)
	snap, err := artifact.FromBytes(m, enc, fl, []byte(`{"threshold": 0.9}`))
	if err != nil {
		t.Fatalf("build strict snapshot: %v", err)
	}
	if snap.Version() != "2025.01-strict" {
		t.Fatalf("strict snapshot version = %q", snap.Version())
	}
	return snap
}

func scenario() *domain.TransactionRecord {
	return &domain.TransactionRecord{
		Timestamp:        "2025-01-15T14:30:00",
		Amount:           450.50,
		MerchantCategory: "electronics",
		PaymentMethod:    "card",
		CountryCode:      "US",
		TxnCount1h:       2,
		TxnCount24h:      15,
		AvgAmount7d:      120.0,
		AmountDeviation:  330.5,
		TimeSinceLastTxn: 45.0,
		NewMerchantFlag:  1,
		HighAmountFlag:   1,
	}
}

func newEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	e, err := NewEngine(referenceSnapshot(t), opts)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return e
}

func near(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestScoreScenario(t *testing.T) {
	e := newEngine(t, Options{})

	res, err := e.Score(context.Background(), scenario())
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}

	if !near(res.Probability, 0.4255574831883411, 1e-12) {
		t.Errorf("probability = %v, want 0.4255574831883411", res.Probability)
	}
	if !near(res.Margin, -0.3, 1e-12) {
		t.Errorf("margin = %v, want -0.3", res.Margin)
	}
	if !near(res.ExpectedValue, -1.9305, 1e-9) {
		t.Errorf("expected value = %v, want -1.9305", res.ExpectedValue)
	}
	if res.Decision != domain.DecisionReview {
		t.Errorf("decision = %q, want %q", res.Decision, domain.DecisionReview)
	}
	// Prediction and decision are reported independently.
	if res.Prediction != 0 {
		t.Errorf("prediction = %d, want 0", res.Prediction)
	}
	if res.ModelVersion != "2025.01-reference" {
		t.Errorf("model version = %q", res.ModelVersion)
	}
	if res.ID == "" {
		t.Error("expected a score id")
	}

	want := []struct {
		feature string
		impact  float64
		effect  string
	}{
		{"amount_deviation", 0.6108333333, domain.EffectIncrease},
		{"new_merchant_flag", 0.42, domain.EffectIncrease},
		{"amount", 0.415, domain.EffectIncrease},
		{"merchant_category", 0.26, domain.EffectIncrease},
		{"txn_count_1h", -0.2575, domain.EffectReduce},
	}
	if len(res.TopRiskFactors) != len(want) {
		t.Fatalf("expected %d factors, got %d", len(want), len(res.TopRiskFactors))
	}
	for i, w := range want {
		got := res.TopRiskFactors[i]
		if got.Feature != w.feature || got.Effect != w.effect || !near(got.Impact, w.impact, 1e-6) {
			t.Errorf("rank %d = %+v, want %s %v %s", i, got, w.feature, w.impact, w.effect)
		}
	}
}

func TestScoreDecisions(t *testing.T) {
	e := newEngine(t, Options{})
	ctx := context.Background()

	low := scenario()
	low.Amount = 25
	low.MerchantCategory = "groceries"
	low.TxnCount1h = 0
	low.TxnCount24h = 3
	low.AvgAmount7d = 30
	low.AmountDeviation = 5
	low.TimeSinceLastTxn = 600
	low.NewMerchantFlag = 0
	low.HighAmountFlag = 0

	high := scenario()
	high.Timestamp = "2025-01-15T02:10:00"
	high.IsNight = 1
	high.TxnCount1h = 6
	high.GeoJump = 1
	high.Amount = 1800
	high.AmountDeviation = 1650

	tests := []struct {
		name       string
		rec        *domain.TransactionRecord
		prob       float64
		decision   domain.Decision
		prediction int
	}{
		{"Low", low, 0.041091278200464994, domain.DecisionAllow, 0},
		{"Scenario", scenario(), 0.4255574831883411, domain.DecisionReview, 0},
		{"High", high, 0.9129342275597286, domain.DecisionBlock, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.Score(ctx, tt.rec)
			if err != nil {
				t.Fatalf("Score failed: %v", err)
			}
			if !near(res.Probability, tt.prob, 1e-9) {
				t.Errorf("probability = %v, want %v", res.Probability, tt.prob)
			}
			if res.Decision != tt.decision {
				t.Errorf("decision = %q, want %q", res.Decision, tt.decision)
			}
			if res.Prediction != tt.prediction {
				t.Errorf("prediction = %d, want %d", res.Prediction, tt.prediction)
			}
			if len(res.TopRiskFactors) > 5 {
				t.Errorf("got %d factors, want at most 5", len(res.TopRiskFactors))
			}
		})
	}
}

func TestScoreRejectsInput(t *testing.T) {
	e := newEngine(t, Options{})
	ctx := context.Background()

	t.Run("UnknownCategory", func(t *testing.T) {
		rec := scenario()
		rec.MerchantCategory = "crypto_exchange"
		res, err := e.Score(ctx, rec)
		if res != nil {
			t.Errorf("expected no result, got %+v", res)
		}
		var uce *domain.UnknownCategoryError
		if !errors.As(err, &uce) {
			t.Fatalf("expected UnknownCategoryError, got %v", err)
		}
		if uce.Feature != "merchant_category" {
			t.Errorf("feature = %q, want merchant_category", uce.Feature)
		}
		if !IsClientError(err) {
			t.Error("unknown category must be a client error")
		}
	})

	t.Run("MalformedTimestamp", func(t *testing.T) {
		rec := scenario()
		rec.Timestamp = "15-01-2025"
		res, err := e.Score(ctx, rec)
		if res != nil {
			t.Errorf("expected no result, got %+v", res)
		}
		var ite *domain.InvalidTimestampError
		if !errors.As(err, &ite) {
			t.Fatalf("expected InvalidTimestampError, got %v", err)
		}
		if domain.ClassOf(err) != domain.ClassInput {
			t.Errorf("class = %q, want %q", domain.ClassOf(err), domain.ClassInput)
		}
	})

	t.Run("NegativeAmount", func(t *testing.T) {
		rec := scenario()
		rec.Amount = -1
		if _, err := e.Score(ctx, rec); !errors.Is(err, domain.ErrInput) {
			t.Errorf("expected input error, got %v", err)
		}
	})

	t.Run("NilRecord", func(t *testing.T) {
		if _, err := e.Score(ctx, nil); !errors.Is(err, domain.ErrInput) {
			t.Errorf("expected input error, got %v", err)
		}
	})
}

func TestNewEngineRejectsInconsistentSnapshot(t *testing.T) {
	m, enc, _, thr := readReference(t)
	// A feature the record schema cannot produce.
	fl := bytes.Replace(mustRead(t, domain.FeatureListFile), []byte(`"geo_jump"`), []byte(`"device_age"`), 1)
	snap, err := artifact.FromBytes(m, enc, fl, thr)
	if err != nil {
		t.Fatalf("FromBytes failed: %v", err)
	}

	_, err = NewEngine(snap, Options{})
	var ce *domain.ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if domain.ClassOf(err) != domain.ClassArtifact {
		t.Errorf("class = %q, want %q", domain.ClassOf(err), domain.ClassArtifact)
	}

	if _, err := NewEngine(nil, Options{}); !errors.Is(err, domain.ErrArtifact) {
		t.Errorf("expected artifact error for nil snapshot, got %v", err)
	}
}

func TestSwapKeepsInFlightSnapshot(t *testing.T) {
	e := newEngine(t, Options{})
	ctx := context.Background()

	inFlight := e.current.Load()
	if err := e.Swap(strictSnapshot(t)); err != nil {
		t.Fatalf("Swap failed: %v", err)
	}

	old, err := inFlight.score(ctx, scenario())
	if err != nil {
		t.Fatalf("in-flight score failed: %v", err)
	}
	if old.Decision != domain.DecisionReview || old.ModelVersion != "2025.01-reference" {
		t.Errorf("in-flight result = %s from %s, want REVIEW from 2025.01-reference", old.Decision, old.ModelVersion)
	}

	fresh, err := e.Score(ctx, scenario())
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if fresh.Decision != domain.DecisionAllow || fresh.ModelVersion != "2025.01-strict" {
		t.Errorf("fresh result = %s from %s, want ALLOW from 2025.01-strict", fresh.Decision, fresh.ModelVersion)
	}
	if fresh.Probability != old.Probability {
		t.Errorf("probability changed across threshold swap: %v vs %v", fresh.Probability, old.Probability)
	}
}

func TestSwapFailureKeepsCurrent(t *testing.T) {
	e := newEngine(t, Options{})
	before := e.Snapshot()

	m, enc, _, thr := readReference(t)
	fl := bytes.Replace(mustRead(t, domain.FeatureListFile), []byte(`"hour"`), []byte(`"minute"`), 1)
	bad, err := artifact.FromBytes(m, enc, fl, thr)
	if err != nil {
		t.Fatalf("FromBytes failed: %v", err)
	}

	if err := e.Swap(bad); err == nil {
		t.Error("expected Swap to fail")
	}
	if e.Snapshot() != before {
		t.Error("failed swap replaced the serving snapshot")
	}
}

func TestConcurrentScoringDuringSwaps(t *testing.T) {
	e := newEngine(t, Options{})
	reference := e.Snapshot()
	strict := strictSnapshot(t)
	ctx := context.Background()

	stop := make(chan struct{})
	var swapper sync.WaitGroup
	swapper.Add(1)
	go func() {
		defer swapper.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			snap := reference
			if i%2 == 0 {
				snap = strict
			}
			if err := e.Swap(snap); err != nil {
				t.Errorf("swap failed: %v", err)
				return
			}
		}
	}()

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				res, err := e.Score(ctx, scenario())
				if err != nil {
					errs <- err
					return
				}
				// Each result must come from a single snapshot.
				want := domain.DecisionReview
				if res.ModelVersion == "2025.01-strict" {
					want = domain.DecisionAllow
				}
				if res.Decision != want {
					errs <- errors.New("decision " + string(res.Decision) + " from " + res.ModelVersion)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(stop)
	swapper.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestScoreUsesAttributionCache(t *testing.T) {
	lru := cache.NewLRUCache(16)
	e := newEngine(t, Options{Cache: lru, CacheTTL: time.Minute})
	ctx := context.Background()

	first, err := e.Score(ctx, scenario())
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	second, err := e.Score(ctx, scenario())
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}

	if !reflect.DeepEqual(first.TopRiskFactors, second.TopRiskFactors) {
		t.Errorf("cached factors differ: %+v vs %+v", first.TopRiskFactors, second.TopRiskFactors)
	}
	if first.ID == second.ID {
		t.Error("each score needs its own id")
	}
	if size, _ := lru.Stats(); size != 1 {
		t.Errorf("cache size = %d, want 1", size)
	}
}

func TestSwapPurgesRetiredAttributions(t *testing.T) {
	lru := cache.NewLRUCache(16)
	e := newEngine(t, Options{Cache: lru, CacheTTL: time.Minute})
	ctx := context.Background()
	old := e.Snapshot()

	if _, err := e.Score(ctx, scenario()); err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if err := e.Swap(strictSnapshot(t)); err != nil {
		t.Fatalf("Swap failed: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		if size, _ := lru.Stats(); size == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("retired attributions were not purged")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := e.Score(ctx, scenario()); err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	n, err := lru.PurgeNamespace(ctx, e.Snapshot().Checksum)
	if err != nil {
		t.Fatalf("PurgeNamespace failed: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d entries, want 1: the new snapshot memoises under its own checksum", n)
	}
	if old.Checksum == e.Snapshot().Checksum {
		t.Error("swap kept the retired checksum")
	}
}
