package bootstrap

import (
	"context"
	"fmt"
	"io"
	nethttp "net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"spamfilter/config"
)

var spamLines = []string{
	"WINNER! claim your free cash prize now, click here",
	"You won a free iPhone, click the link to claim",
	"Limited offer: buy cheap watches now, act now",
	"Urgent: claim your $500 gift card today",
	"Free entry to win cash, reply yes to subscribe",
}

var hamLines = []string{
	"Are we still meeting for lunch tomorrow",
	"Please send me the report before the review",
	"I will be home late tonight, save me dinner",
	"Can you pick up the kids after school",
	"The meeting moved to room 4 at 3pm",
}

func writeDataset(t *testing.T, dir string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("label,message\n")
	for i := 0; i < 4; i++ {
		for _, s := range spamLines {
			fmt.Fprintf(&b, "spam,%q\n", fmt.Sprintf("%s %d", s, i))
		}
		for _, h := range hamLines {
			fmt.Fprintf(&b, "ham,%q\n", fmt.Sprintf("%s %d", h, i))
		}
	}
	b.WriteString("unknown,dropped row\n")
	path := filepath.Join(dir, "dataset.csv")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testConfig(dir string) *config.Config {
	return &config.Config{
		Port:        "0",
		Environment: "test",
		LogLevel:    "error",
		Version:     "test",

		DefaultK:           5,
		DefaultAlpha:       0.8,
		MaxK:               20,
		MaxExplainK:        30,
		DefaultExplainK:    10,
		MaxMessageLength:   10000,
		MaxBatchSize:       10,
		ExplainConcurrency: 2,
		BatchConcurrency:   2,

		Labels:        []string{"ham", "spam"},
		PositiveLabel: "spam",

		ArtifactDir:      dir,
		IndexFile:        "vector_index.bin",
		MetadataFile:     "train_metadata.json",
		ClassWeightsFile: "class_weights.json",
		ModelConfigFile:  "model_config.json",

		EmbeddingProvider: "hash",
		ModelName:         "hash",
		EmbeddingDim:      128,
		MaskToken:         "<pad>",
		EmbedCacheTTL:     time.Minute,
		EmbedCacheSize:    64,

		IndexBackend:    "flat",
		MetadataBackend: "file",

		RateLimit: 1000,

		TestSplit:    0.2,
		SplitSeed:    42,
		CalibrationK: 5,
		TrainWorkers: 2,
	}
}

func TestRunTraining(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	path := writeDataset(t, dir)

	res, err := RunTraining(context.Background(), cfg, TrainOptions{DatasetPath: path})
	if err != nil {
		t.Fatalf("RunTraining: %v", err)
	}
	if res.Run.TrainSamples+res.Run.TestSamples != 40 {
		t.Errorf("samples = %d+%d, want 40 total", res.Run.TrainSamples, res.Run.TestSamples)
	}
	if len(res.Calibration.Results) != 11 {
		t.Errorf("alpha grid has %d points, want 11", len(res.Calibration.Results))
	}
	for _, p := range []string{cfg.IndexPath(), cfg.MetadataPath(), cfg.ClassWeightsPath(), cfg.ModelConfigPath()} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("artifact %s missing: %v", filepath.Base(p), err)
		}
	}
}

func TestRunTraining_NoDataset(t *testing.T) {
	cfg := testConfig(t.TempDir())
	if _, err := RunTraining(context.Background(), cfg, TrainOptions{}); err == nil {
		t.Fatal("expected error without a dataset")
	}
}

func TestRunCalibration(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	path := writeDataset(t, dir)
	if _, err := RunTraining(context.Background(), cfg, TrainOptions{DatasetPath: path}); err != nil {
		t.Fatalf("RunTraining: %v", err)
	}

	res, err := RunCalibration(context.Background(), cfg, TrainOptions{DatasetPath: path})
	if err != nil {
		t.Fatalf("RunCalibration: %v", err)
	}
	if res.Run.Mode != "calibrate" {
		t.Errorf("mode = %q, want calibrate", res.Run.Mode)
	}
	if best := res.Model.Config.BestAlpha; best == nil || *best != res.Calibration.BestAlpha {
		t.Errorf("model config best_alpha = %v, want %v", best, res.Calibration.BestAlpha)
	}
}

func TestNewDependencies_MissingArtifacts(t *testing.T) {
	cfg := testConfig(t.TempDir())
	if _, _, err := NewDependencies(cfg); err == nil {
		t.Fatal("expected startup to fail without artifacts")
	}
}

func TestNewDependencies_RequiresDatabaseURL(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.IndexBackend = "pgvector"
	_, _, err := NewConnections(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("err = %v, want DATABASE_URL error", err)
	}
}

func TestNewAPI(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	if _, err := RunTraining(context.Background(), cfg, TrainOptions{DatasetPath: writeDataset(t, dir)}); err != nil {
		t.Fatalf("RunTraining: %v", err)
	}

	app, cleanup, err := NewAPI(cfg)
	if err != nil {
		t.Fatalf("NewAPI: %v", err)
	}
	defer cleanup()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		ctype  string
		status int
	}{
		{"health", nethttp.MethodGet, "/health", "", "", 200},
		{"versioned health", nethttp.MethodGet, "/api/v1/health", "", "", 200},
		{"ready without backends", nethttp.MethodGet, "/api/v1/ready", "", "", 200},
		{"classify", nethttp.MethodPost, "/api/v1/classify", `{"message":"claim your free cash prize now"}`, "application/json", 200},
		{"classify k too large", nethttp.MethodPost, "/api/v1/classify", `{"message":"hi","k":99}`, "application/json", 400},
		{"classify not json", nethttp.MethodPost, "/api/v1/classify", `message=hi`, "application/x-www-form-urlencoded", 415},
		{"batch", nethttp.MethodPost, "/api/v1/classify/batch", `{"messages":["free cash","lunch tomorrow"]}`, "application/json", 200},
		{"explain", nethttp.MethodPost, "/api/v1/explain", `{"message":"claim your free prize","k":5}`, "application/json", 200},
		{"stats", nethttp.MethodGet, "/api/v1/stats", "", "", 200},
		{"revoke without redis", nethttp.MethodPost, "/api/v1/auth/revoke", "", "", 503},
		{"unknown route", nethttp.MethodGet, "/api/v1/nope", "", "", 404},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			}
			req, _ := nethttp.NewRequest(tt.method, tt.path, body)
			if tt.ctype != "" {
				req.Header.Set("Content-Type", tt.ctype)
			}
			resp, err := app.Test(req, -1)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.status {
				raw, _ := io.ReadAll(resp.Body)
				t.Fatalf("status = %d, want %d (%s)", resp.StatusCode, tt.status, raw)
			}
			if resp.Header.Get("X-Request-ID") == "" {
				t.Error("missing X-Request-ID")
			}
		})
	}

	t.Run("classify response", func(t *testing.T) {
		req, _ := nethttp.NewRequest(nethttp.MethodPost, "/api/v1/classify", strings.NewReader(`{"message":"claim your free cash prize now","k":3}`))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req, -1)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()

		var got struct {
			Prediction string             `json:"prediction"`
			Confidence float64            `json:"confidence"`
			VoteScores map[string]float64 `json:"vote_scores"`
			Neighbors  []json.RawMessage  `json:"neighbors"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
			t.Fatal(err)
		}
		if got.Prediction != "spam" && got.Prediction != "ham" {
			t.Errorf("prediction = %q", got.Prediction)
		}
		if len(got.Neighbors) != 3 {
			t.Errorf("neighbors = %d, want 3", len(got.Neighbors))
		}
		if len(got.VoteScores) != 2 {
			t.Errorf("vote_scores = %v, want both labels", got.VoteScores)
		}
		if got.Confidence < 0 || got.Confidence > 1 {
			t.Errorf("confidence %v out of range", got.Confidence)
		}
	})
}

func TestLimitsFrom(t *testing.T) {
	cfg := testConfig("")
	l := limitsFrom(cfg)
	if l.DefaultK != 5 || l.MaxK != 20 || l.MaxExplainK != 30 || l.MaxBatchSize != 10 || l.BatchConcurrency != 2 {
		t.Errorf("limits = %+v", l)
	}
}

func TestEmbeddingConfig(t *testing.T) {
	cfg := testConfig("")
	cfg.EmbeddingProvider = "openai"
	cfg.OpenAIEmbeddingModel = "text-embedding-ada-002"
	if got := embeddingConfig(cfg).ModelName; got != "text-embedding-ada-002" {
		t.Errorf("openai model = %q", got)
	}
	cfg.EmbeddingProvider = "onnx"
	cfg.ModelName = "intfloat/multilingual-e5-base"
	if got := embeddingConfig(cfg).ModelName; got != "intfloat/multilingual-e5-base" {
		t.Errorf("onnx model = %q", got)
	}
}
