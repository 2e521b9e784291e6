package http

import (
	"context"
	"errors"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"

	"spamfilter/core/domain"
	"spamfilter/core/port/in"
	"spamfilter/infra/middleware"
	"spamfilter/pkg/apperr"
	"spamfilter/pkg/metrics"
)

// =============================================================================
// Mock classifier
// =============================================================================

type mockClassifier struct {
	mu       sync.Mutex
	ready    bool
	labels   *domain.LabelSet
	calls    []string
	lastK    int
	lastA    *float64
	classify func(text string) (*domain.Classification, error)
}

var _ in.ClassifierService = (*mockClassifier)(nil)

func newMockClassifier() *mockClassifier {
	return &mockClassifier{ready: true, labels: domain.DefaultLabelSet()}
}

func (m *mockClassifier) Classify(_ context.Context, text string, k int, alpha *float64) (*domain.Classification, error) {
	m.mu.Lock()
	m.calls = append(m.calls, text)
	m.lastK, m.lastA = k, alpha
	m.mu.Unlock()
	if m.classify != nil {
		return m.classify(text)
	}
	pred := domain.Label(0)
	if strings.Contains(strings.ToLower(text), "free") {
		pred = 1
	}
	scores := domain.NewVoteTally(m.labels)
	scores[pred] = 0.9
	scores[1-pred] = 0.1
	return &domain.Classification{
		Prediction: pred,
		Confidence: 0.9,
		VoteScores: scores,
		Neighbors: []domain.Neighbor{
			{ID: 3, Label: pred, Text: "neighbor text", Similarity: 0.8, Weight: 0.7},
		},
		SaliencyWeight: 0.5,
		AlphaUsed:      0.8,
	}, nil
}

func (m *mockClassifier) ExplainTokens(_ context.Context, text string, _ int) ([]domain.TokenSaliency, error) {
	var out []domain.TokenSaliency
	for _, tok := range strings.Fields(text) {
		out = append(out, domain.TokenSaliency{Token: tok, Saliency: 1})
	}
	return out, nil
}

func (m *mockClassifier) Explain(ctx context.Context, text string, k int) (*domain.ExplainReport, error) {
	res, err := m.Classify(ctx, text, k, nil)
	if err != nil {
		return nil, err
	}
	res.Neighbors = append(res.Neighbors, res.Neighbors[0], res.Neighbors[0], res.Neighbors[0], res.Neighbors[0], res.Neighbors[0])
	tokens, _ := m.ExplainTokens(ctx, text, k)
	return &domain.ExplainReport{
		Classification: res,
		Tokens:         tokens,
		SpamIndicators: []string{"High-impact words: free"},
		Analysis:       "analysis",
	}, nil
}

func (m *mockClassifier) Subcategory(string) domain.Subcategory {
	return domain.SubcategoryPromotional
}

func (m *mockClassifier) Stats() *in.Stats {
	return &in.Stats{TotalSamples: 10, IndexSize: 10, ModelName: "mock"}
}

func (m *mockClassifier) Ready() bool              { return m.ready }
func (m *mockClassifier) Labels() *domain.LabelSet { return m.labels }

// =============================================================================
// Helpers
// =============================================================================

func newTestApp(svc in.ClassifierService, limits Limits) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: middleware.ErrorHandler(),
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})
	app.Use(middleware.RequestID())
	api := app.Group("/api/v1")
	NewClassifierHandler(svc, metrics.NewLatencyRegistry(100), limits).Register(api)
	NewHealthHandler(svc, "test", nil, nil).Register(api)
	return app
}

func post(t *testing.T, app *fiber.App, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return do(t, app, req)
}

func do(t *testing.T, app *fiber.App, req *nethttp.Request) (int, map[string]any) {
	t.Helper()
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	data, _ := io.ReadAll(resp.Body)
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return resp.StatusCode, body
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

// =============================================================================
// Classify
// =============================================================================

func TestClassify(t *testing.T) {
	svc := newMockClassifier()
	app := newTestApp(svc, DefaultLimits())

	status, body := post(t, app, "/api/v1/classify", `{"message":"  Get a FREE prize <script>alert(1)</script> ","explain":true}`)
	if status != 200 {
		t.Fatalf("status = %d, body = %v", status, body)
	}
	if body["prediction"] != "spam" || body["is_spam"] != true {
		t.Errorf("unexpected prediction: %v", body)
	}
	if body["subcategory"] != string(domain.SubcategoryPromotional) {
		t.Errorf("subcategory = %v", body["subcategory"])
	}
	if body["message"] != "Get a FREE prize alert(1)" {
		t.Errorf("message not sanitized: %q", body["message"])
	}
	scores, _ := body["vote_scores"].(map[string]any)
	if len(scores) != 2 {
		t.Errorf("vote_scores = %v", scores)
	}
	if tokens, _ := body["tokens"].([]any); len(tokens) == 0 {
		t.Error("tokens missing with explain=true")
	}
	if svc.lastK != 5 || svc.lastA != nil {
		t.Errorf("defaults not applied: k=%d alpha=%v", svc.lastK, svc.lastA)
	}
}

func TestClassify_HamHasNoSubcategory(t *testing.T) {
	app := newTestApp(newMockClassifier(), DefaultLimits())

	status, body := post(t, app, "/api/v1/classify", `{"message":"Meeting at 3pm tomorrow","k":3,"alpha":0.4}`)
	if status != 200 {
		t.Fatalf("status = %d", status)
	}
	if _, ok := body["subcategory"]; ok {
		t.Error("ham must not carry a subcategory")
	}
	if _, ok := body["tokens"]; ok {
		t.Error("tokens must be omitted without explain")
	}
}

func TestClassify_Validation(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxMessageLength = 20
	app := newTestApp(newMockClassifier(), limits)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"empty message", `{"message":""}`, 400},
		{"whitespace message", `{"message":"   "}`, 400},
		{"only script tags", `{"message":"<script></script>"}`, 400},
		{"too long", `{"message":"` + strings.Repeat("a", 21) + `"}`, 400},
		{"k zero", `{"message":"hi","k":0}`, 400},
		{"k too large", `{"message":"hi","k":21}`, 400},
		{"alpha negative", `{"message":"hi","alpha":-0.1}`, 400},
		{"alpha above one", `{"message":"hi","alpha":1.5}`, 400},
		{"bad json", `{"message":`, 400},
		{"alpha zero ok", `{"message":"hi","alpha":0}`, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := post(t, app, "/api/v1/classify", tt.body)
			if status != tt.want {
				t.Errorf("status = %d, want %d (%v)", status, tt.want, body)
			}
		})
	}
}

func TestClassify_ServiceErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
		want     int
	}{
		{"upstream", apperr.ExternalError("embedding", errors.New("down")), apperr.CodeExternalError, 502},
		{"not loaded", apperr.ResourceNotLoaded("vector index"), apperr.CodeResourceNotLoaded, 503},
		{"k beyond index", apperr.InvalidInput("k", "must not exceed index size 3"), apperr.CodeInvalidInput, 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newMockClassifier()
			svc.classify = func(string) (*domain.Classification, error) { return nil, tt.err }
			status, body := post(t, newTestApp(svc, DefaultLimits()), "/api/v1/classify", `{"message":"hello"}`)
			if status != tt.want || errorCode(body) != tt.wantCode {
				t.Errorf("got %d %s, want %d %s", status, errorCode(body), tt.want, tt.wantCode)
			}
		})
	}
}

func TestClassify_NotReady(t *testing.T) {
	svc := newMockClassifier()
	svc.ready = false
	status, body := post(t, newTestApp(svc, DefaultLimits()), "/api/v1/classify", `{"message":"hello"}`)
	if status != 503 || errorCode(body) != apperr.CodeResourceNotLoaded {
		t.Errorf("got %d %v", status, body)
	}
}

// =============================================================================
// Batch
// =============================================================================

func TestClassifyBatch(t *testing.T) {
	svc := newMockClassifier()
	app := newTestApp(svc, DefaultLimits())

	status, body := post(t, app, "/api/v1/classify/batch", `{"messages":["free money","lunch?","FREE gift","see you"],"k":3}`)
	if status != 200 {
		t.Fatalf("status = %d, body = %v", status, body)
	}
	if body["total"] != float64(4) || body["spam_count"] != float64(2) || body["ham_count"] != float64(2) {
		t.Errorf("unexpected counts: %v", body)
	}
	results, _ := body["results"].([]any)
	first, _ := results[0].(map[string]any)
	if first["message"] != "free money" {
		t.Errorf("results out of order: %v", first["message"])
	}
}

func TestClassifyBatch_Validation(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxBatchSize = 2
	app := newTestApp(newMockClassifier(), limits)

	tests := []struct {
		name string
		body string
	}{
		{"empty list", `{"messages":[]}`},
		{"missing list", `{}`},
		{"too many", `{"messages":["a","b","c"]}`},
		{"blank item", `{"messages":["a","  "]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if status, body := post(t, app, "/api/v1/classify/batch", tt.body); status != 400 {
				t.Errorf("status = %d (%v)", status, body)
			}
		})
	}
}

func TestClassifyBatch_FailsOnItemError(t *testing.T) {
	svc := newMockClassifier()
	svc.classify = func(text string) (*domain.Classification, error) {
		return nil, apperr.ExternalError("embedding", errors.New("down"))
	}
	status, _ := post(t, newTestApp(svc, DefaultLimits()), "/api/v1/classify/batch", `{"messages":["a","b"]}`)
	if status != 502 {
		t.Errorf("status = %d, want 502", status)
	}
}

// =============================================================================
// Explain / Stats / Health
// =============================================================================

func TestExplain(t *testing.T) {
	svc := newMockClassifier()
	app := newTestApp(svc, DefaultLimits())

	status, body := post(t, app, "/api/v1/explain", `{"message":"free prize now"}`)
	if status != 200 {
		t.Fatalf("status = %d, body = %v", status, body)
	}
	if svc.lastK != 10 {
		t.Errorf("explain default k = %d, want 10", svc.lastK)
	}
	if n, _ := body["top_neighbors"].([]any); len(n) != explainTopNeighbors {
		t.Errorf("top_neighbors = %d, want %d", len(n), explainTopNeighbors)
	}
	if ham, ok := body["ham_indicators"].([]any); !ok || len(ham) != 0 {
		t.Errorf("ham_indicators should be an empty list, got %v", body["ham_indicators"])
	}

	if status, _ := post(t, app, "/api/v1/explain", `{"message":"hi","k":51}`); status != 400 {
		t.Errorf("k above explain max: status = %d", status)
	}
}

func TestStats(t *testing.T) {
	app := newTestApp(newMockClassifier(), DefaultLimits())
	status, body := do(t, app, httptest.NewRequest("GET", "/api/v1/stats", nil))
	if status != 200 {
		t.Fatalf("status = %d", status)
	}
	stats, _ := body["stats"].(map[string]any)
	if stats["model_name"] != "mock" {
		t.Errorf("stats = %v", stats)
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		ready      bool
		wantStatus string
		wantReady  int
	}{
		{"loaded", true, "healthy", 200},
		{"not loaded", false, "degraded", 503},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newMockClassifier()
			svc.ready = tt.ready
			app := newTestApp(svc, DefaultLimits())

			status, body := do(t, app, httptest.NewRequest("GET", "/api/v1/health", nil))
			if status != 200 || body["status"] != tt.wantStatus || body["model_loaded"] != tt.ready {
				t.Errorf("health = %d %v", status, body)
			}
			if status, _ := do(t, app, httptest.NewRequest("GET", "/api/v1/ready", nil)); status != tt.wantReady {
				t.Errorf("ready = %d, want %d", status, tt.wantReady)
			}
		})
	}
}

func TestSanitizeMessage(t *testing.T) {
	tests := []struct{ in, want string }{
		{"  hello  ", "hello"},
		{"<script>x</script>", "x"},
		{"click javascript:void(0)", "click void(0)"},
		{"xin chào", "xin chào"},
	}
	for _, tt := range tests {
		if got := SanitizeMessage(tt.in); got != tt.want {
			t.Errorf("SanitizeMessage(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMustRegister(t *testing.T) {
	v := newValidator()
	type body struct {
		Message string `validate:"notblank"`
	}
	if err := v.Struct(body{Message: "   "}); err == nil {
		t.Error("whitespace message should fail notblank")
	}
	if err := v.Struct(body{Message: "hi"}); err != nil {
		t.Errorf("notblank rejected %q: %v", "hi", err)
	}

	defer func() {
		if recover() == nil {
			t.Error("mustRegister with an empty tag should panic")
		}
	}()
	mustRegister(v, "", func(validator.FieldLevel) bool { return true })
}
