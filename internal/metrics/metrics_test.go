package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStatusBucket(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{100, "1xx"},
		{200, "2xx"},
		{201, "2xx"},
		{301, "3xx"},
		{400, "4xx"},
		{404, "4xx"},
		{500, "5xx"},
		{503, "5xx"},
		{42, "other"},
	}

	for _, tt := range tests {
		if got := statusBucket(tt.code); got != tt.want {
			t.Errorf("statusBucket(%d) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/model/history/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/model/history/{id}", "4xx"))

	req := httptest.NewRequest(http.MethodGet, "/model/history/abc", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/model/history/{id}", "4xx"))
	if after-before != 1 {
		t.Errorf("expected one request recorded under the route pattern, got %v", after-before)
	}
}

func TestSetActiveModel(t *testing.T) {
	SetActiveModel("v1", "aaa")
	SetActiveModel("v2", "bbb")

	if got := testutil.ToFloat64(ModelInfo.WithLabelValues("v2", "bbb")); got != 1 {
		t.Errorf("expected active model gauge 1, got %v", got)
	}
	if n := testutil.CollectAndCount(ModelInfo); n != 1 {
		t.Errorf("expected a single model series after reset, got %d", n)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ScoresTotal.WithLabelValues("ALLOW").Inc()

	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	for _, name := range []string{"plutus_scores_total", "plutus_goroutines", "plutus_db_open_connections"} {
		if !strings.Contains(body, name) {
			t.Errorf("expected metrics output to contain %s", name)
		}
	}
}
