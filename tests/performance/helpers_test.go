package performance

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"

	"github.com/bart-jansen/aoai-simulated-api/pkg/config"
	"github.com/bart-jansen/aoai-simulated-api/pkg/generate"
	"github.com/bart-jansen/aoai-simulated-api/pkg/logging"
	"github.com/bart-jansen/aoai-simulated-api/pkg/simulator"
)

const perfAPIKey = "perf-key"

const chatBody = `{"messages":[{"role":"user","content":"What is the capital of France?"}],"max_tokens":64}`

const embeddingsBody = `{"input":"The quick brown fox jumps over the lazy dog"}`

// generateConfig is the smallest config the pipeline accepts. No
// deployments are configured, so every deployment name is served with
// defaults and no latency shaping.
func generateConfig() *config.Config {
	return &config.Config{
		Mode:   config.ModeGenerate,
		APIKey: perfAPIKey,
		Host:   "127.0.0.1",
	}
}

// newGenerateHandler builds the full request pipeline in generate mode
// without binding a listener, so measurements cover the pipeline alone
// and not the network stack.
func newGenerateHandler(tb testing.TB, cfg *config.Config) http.Handler {
	tb.Helper()

	metrics, err := simulator.NewMetrics(otel.Meter("performance"))
	if err != nil {
		tb.Fatalf("Failed to create metrics: %v", err)
	}

	srv := simulator.NewServer(cfg,
		simulator.WithLogger(logging.Nop()),
		simulator.WithMetrics(metrics),
		simulator.WithGenerators(
			generate.NewOpenAIGenerator(nil, cfg.OpenAIDeployments),
			generate.NewDocumentIntelligenceGenerator(nil),
		),
	)
	return srv.Handler()
}

func postJSON(h http.Handler, path, body, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(simulator.HeaderAPIKey, key)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func getJSON(h http.Handler, path, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if key != "" {
		req.Header.Set(simulator.HeaderAPIKey, key)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}
