package recording

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ohler55/ojg/jp"

	"github.com/bart-jansen/aoai-simulated-api/pkg/config"
	"github.com/bart-jansen/aoai-simulated-api/pkg/logging"
	"github.com/bart-jansen/aoai-simulated-api/pkg/ratelimit"
	"github.com/bart-jansen/aoai-simulated-api/pkg/simulator"
)

// totalTokensPath extracts the token usage an upstream response reports.
var totalTokensPath = jp.MustParseString("$.usage.total_tokens")

// HandlerConfig configures a record/replay handler.
type HandlerConfig struct {
	// Mode is config.ModeRecord or config.ModeReplay.
	Mode string

	// Persister stores and loads recording files.
	Persister *Persister

	// Forwarders are tried in order in record mode. The first one to
	// claim a request produces the recorded exchange.
	Forwarders []Forwarder

	// Autosave persists after every recorded exchange instead of
	// waiting for an explicit save.
	Autosave bool

	// FilterHeaders lists extra response headers to drop from
	// recordings, on top of credential headers.
	FilterHeaders []string
}

// Handler records upstream exchanges or replays previously recorded
// ones, depending on its mode. It implements simulator.RecordReplay.
type Handler struct {
	log    *slog.Logger
	config HandlerConfig

	mu         sync.Mutex
	recordings map[string][]*Recording
	loaded     map[string]bool
	dirty      map[string]bool
}

var _ simulator.RecordReplay = (*Handler)(nil)

// NewHandler creates a record/replay handler.
func NewHandler(log *slog.Logger, cfg HandlerConfig) *Handler {
	if log == nil {
		log = logging.Nop()
	}
	return &Handler{
		log:        log,
		config:     cfg,
		recordings: make(map[string][]*Recording),
		loaded:     make(map[string]bool),
		dirty:      make(map[string]bool),
	}
}

// Preload reads every recording file up front and returns how many
// recordings are available. Replay mode uses this to fail fast on
// corrupt files at startup.
func (h *Handler) Preload() (int, error) {
	all, err := h.config.Persister.LoadAll()
	if err != nil {
		return 0, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	count := 0
	for path, recs := range all {
		h.recordings[path] = recs
		h.loaded[path] = true
		count += len(recs)
	}
	return count, nil
}

// HandleRequest implements simulator.RecordReplay.
func (h *Handler) HandleRequest(rc *simulator.RequestContext) (*simulator.Response, error) {
	if h.config.Mode == config.ModeRecord {
		return h.record(rc)
	}
	return h.replay(rc)
}

// replay looks up a recording matching the request and serves it. A miss
// yields no response, which the pipeline reports as a failure.
func (h *Handler) replay(rc *simulator.RequestContext) (*simulator.Response, error) {
	path := rc.Request.URL.Path
	recs, err := h.recordingsFor(path)
	if err != nil {
		return nil, err
	}

	for _, rec := range recs {
		if rec.Matches(rc.Request.Method, path, rc.Request.URL.RawQuery, rc.Body) {
			h.annotate(rc, rec)
			h.log.Debug("replaying recording",
				"id", rec.ID,
				"method", rec.Method,
				"path", rec.Path,
				"status_code", rec.StatusCode,
			)
			return rec.Response(), nil
		}
	}

	h.log.Warn("no recording matches request", "method", rc.Request.Method, "path", path)
	return nil, nil
}

// record forwards the request upstream, captures the exchange, and
// serves the live response.
func (h *Handler) record(rc *simulator.RequestContext) (*simulator.Response, error) {
	var result *ForwardResult
	for _, f := range h.config.Forwarders {
		res, err := f.Forward(rc)
		if err != nil {
			return nil, err
		}
		if res != nil {
			result = res
			break
		}
	}
	if result == nil {
		h.log.Warn("no forwarder claimed request", "method", rc.Request.Method, "path", rc.Request.URL.Path)
		return nil, nil
	}

	rec := h.newRecording(rc, result)
	h.annotate(rc, rec)

	path := rc.Request.URL.Path
	h.mu.Lock()
	if err := h.ensureLoadedLocked(path); err != nil {
		h.mu.Unlock()
		return nil, err
	}
	h.recordings[path] = append(h.recordings[path], rec)
	h.dirty[path] = true
	h.mu.Unlock()

	h.log.Info("recorded exchange",
		"id", rec.ID,
		"method", rec.Method,
		"path", rec.Path,
		"status_code", rec.StatusCode,
		"duration_ms", rec.DurationMs,
	)

	if h.config.Autosave {
		if err := h.SaveRecordings(); err != nil {
			h.log.Error("failed to autosave recordings", "error", err)
		}
	}

	return result.Response, nil
}

// SaveRecordings implements simulator.RecordReplay. Only paths with
// unsaved changes are written, so repeated saves are cheap.
func (h *Handler) SaveRecordings() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for path := range h.dirty {
		if err := h.config.Persister.Save(path, h.recordings[path]); err != nil {
			return fmt.Errorf("failed to save recordings for %s: %w", path, err)
		}
		delete(h.dirty, path)
	}
	return nil
}

// recordingsFor returns the recordings for a path, loading its file on
// first access.
func (h *Handler) recordingsFor(path string) ([]*Recording, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.ensureLoadedLocked(path); err != nil {
		return nil, err
	}
	return h.recordings[path], nil
}

// ensureLoadedLocked loads the recording file for a path once. Caller
// must hold h.mu.
func (h *Handler) ensureLoadedLocked(path string) error {
	if h.loaded[path] {
		return nil
	}
	recs, err := h.config.Persister.Load(path)
	if err != nil {
		return err
	}
	h.recordings[path] = recs
	h.loaded[path] = true
	return nil
}

// newRecording captures an upstream exchange.
func (h *Handler) newRecording(rc *simulator.RequestContext, result *ForwardResult) *Recording {
	headers := make(map[string]string)
	for key, values := range result.Response.Header {
		if len(values) == 0 || h.filteredHeader(key) {
			continue
		}
		headers[key] = values[0]
	}

	path := rc.Request.URL.Path
	return &Recording{
		ID:          uuid.NewString(),
		Method:      rc.Request.Method,
		Path:        path,
		Query:       rc.Request.URL.RawQuery,
		RequestBody: string(rc.Body),
		StatusCode:  result.Response.StatusCode,
		Headers:     headers,
		Body:        string(result.Response.Body),
		DurationMs:  float64(result.Duration) / float64(time.Millisecond),
		Deployment:  deploymentFromPath(path),
		Tokens:      tokensFromBody(result.Response.Body),
		Limiter:     limiterForPath(path),
		RecordedAt:  time.Now().UTC(),
	}
}

// annotate flows the recording's metadata into the request context so
// rate limits, latency shaping, and metrics apply on replay exactly as
// they did live.
func (h *Handler) annotate(rc *simulator.RequestContext, rec *Recording) {
	if rec.Deployment != "" {
		rc.DeploymentName = rec.Deployment
	}
	if rec.Limiter != "" {
		rc.LimiterName = rec.Limiter
	}
	if rec.Tokens > 0 {
		rc.Tokens = rec.Tokens
	}
	rc.RecordedDurationMs = rec.DurationMs
}

// filteredHeader reports whether a response header must not be recorded.
func (h *Handler) filteredHeader(name string) bool {
	if strings.EqualFold(name, "Content-Length") {
		return true
	}
	for _, s := range secretHeaders {
		if strings.EqualFold(name, s) {
			return true
		}
	}
	for _, f := range h.config.FilterHeaders {
		if strings.EqualFold(name, f) {
			return true
		}
	}
	return false
}

// deploymentFromPath extracts the deployment name from an OpenAI request
// path.
func deploymentFromPath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 3 && parts[0] == "openai" && parts[1] == "deployments" {
		return parts[2]
	}
	return ""
}

// limiterForPath names the rate limiter that governs the path.
func limiterForPath(path string) string {
	switch {
	case strings.HasPrefix(path, "/openai/"):
		return ratelimit.KeyOpenAI
	case strings.HasPrefix(path, "/formrecognizer/"):
		return ratelimit.KeyDocIntelligence
	default:
		return ""
	}
}

// tokensFromBody reads usage.total_tokens from a JSON response body.
func tokensFromBody(body []byte) int {
	if len(body) == 0 {
		return 0
	}
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return 0
	}
	results := totalTokensPath.Get(doc)
	if len(results) == 0 {
		return 0
	}
	switch v := results[0].(type) {
	case float64:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
