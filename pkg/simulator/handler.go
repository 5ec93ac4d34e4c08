package simulator

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/bart-jansen/aoai-simulated-api/pkg/config"
	"github.com/bart-jansen/aoai-simulated-api/pkg/httputil"
	"github.com/bart-jansen/aoai-simulated-api/pkg/logging"
)

// MaxRequestBodySize caps buffered request bodies (10MB). Larger requests
// are rejected before dispatch.
const MaxRequestBodySize = 10 << 20

// Management endpoints served outside the catch-all pipeline.
const (
	LivenessPath       = "/"
	SaveRecordingsPath = "/++/save-recordings"
)

// Handler is the pipeline orchestrator. It owns stage sequencing for every
// simulated request: authentication, dispatch to a producer, rate limiting,
// latency emulation and metrics recording.
type Handler struct {
	cfg        *config.Config
	log        *slog.Logger
	tracer     trace.Tracer
	metrics    *Metrics
	generators []Generator
	recorder   RecordReplay
	limiters   *LimiterRegistry
	validator  RequestValidator
}

// NewHandler creates a Handler with no-op logging and telemetry. Wire the
// real collaborators with the Set methods before serving.
func NewHandler(cfg *config.Config) *Handler {
	// Noop instruments never fail to build.
	metrics, _ := NewMetrics(noopmetric.NewMeterProvider().Meter("simulator"))

	return &Handler{
		cfg:      cfg,
		log:      logging.Nop(),
		tracer:   nooptrace.NewTracerProvider().Tracer("simulator"),
		metrics:  metrics,
		limiters: NewLimiterRegistry(),
	}
}

// SetLogger sets the operational logger.
func (h *Handler) SetLogger(log *slog.Logger) {
	if log != nil {
		h.log = log
	}
}

// SetTracer sets the tracer used for per-request spans.
func (h *Handler) SetTracer(tracer trace.Tracer) {
	if tracer != nil {
		h.tracer = tracer
	}
}

// SetMetrics sets the metrics recorder.
func (h *Handler) SetMetrics(m *Metrics) {
	if m != nil {
		h.metrics = m
	}
}

// SetGenerators sets the generator chain used in generate mode. Order
// matters: the first generator to claim a request wins.
func (h *Handler) SetGenerators(generators []Generator) {
	h.generators = generators
}

// SetRecorder sets the record/replay collaborator used in record and
// replay modes.
func (h *Handler) SetRecorder(recorder RecordReplay) {
	h.recorder = recorder
}

// SetValidator sets the optional strict request validator.
func (h *Handler) SetValidator(v RequestValidator) {
	h.validator = v
}

// Limiters returns the limiter registry for startup wiring.
func (h *Handler) Limiters() *LimiterRegistry {
	return h.limiters
}

// RegisterLimiter adds a limiter under the given resource key.
func (h *Handler) RegisterLimiter(key string, l Limiter) {
	h.limiters.Register(key, l)
}

// ServeHTTP routes the request: the liveness probe is open, everything
// else is authenticated first. save-recordings is handled as a management
// action; all remaining traffic goes through the simulation pipeline.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet && r.URL.Path == LivenessPath {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{
			"message": "aoai-simulated-api is running",
		})
		return
	}

	if !h.authorize(r) {
		writeUnauthorized(w)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == SaveRecordingsPath {
		h.handleSaveRecordings(w)
		return
	}

	switch r.Method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete:
	default:
		w.Header().Set("Allow", "GET, POST, PUT, DELETE")
		httputil.WriteDetail(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}

	h.handleSimulation(w, r)
}

// handleSaveRecordings flushes captured recordings to disk. Outside record
// mode this is a client error, not a fault.
func (h *Handler) handleSaveRecordings(w http.ResponseWriter) {
	if h.cfg.Mode != config.ModeRecord {
		h.log.Warn("not saving recordings as not in record mode", "mode", h.cfg.Mode)
		httputil.WriteText(w, http.StatusBadRequest, "Not saving recordings as not in record mode")
		return
	}
	if h.recorder == nil {
		h.log.Error("record mode without a record/replay handler")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	h.log.Info("saving recordings")
	if err := h.recorder.SaveRecordings(); err != nil {
		h.log.Error("failed to save recordings", "error", err)
		httputil.WriteText(w, http.StatusInternalServerError, "Failed to save recordings")
		return
	}
	h.log.Info("recordings saved")
	httputil.WriteText(w, http.StatusOK, "Recordings saved")
}

// handleSimulation runs the catch-all pipeline for one request.
func (h *Handler) handleSimulation(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	ctx, span := h.tracer.Start(r.Context(), "simulate",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
		),
	)
	defer span.End()
	r = r.WithContext(ctx)

	wrote := false
	defer func() {
		if rec := recover(); rec != nil {
			h.log.Error("panic in simulation pipeline",
				"path", r.URL.Path,
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			if !wrote {
				w.WriteHeader(http.StatusInternalServerError)
			}
		}
	}()

	h.log.Debug("handling route", "method", r.Method, "path", r.URL.Path)

	body, err := readBody(w, r)
	if err != nil {
		h.log.Warn("failed to read request body", "path", r.URL.Path, "error", err)
		wrote = true
		httputil.WriteDetail(w, http.StatusRequestEntityTooLarge, "Request body too large")
		return
	}

	rc := NewRequestContext(h.cfg, r, body)

	var resp *Response
	if h.validator != nil {
		if rejection := h.validator.ValidateRequest(rc); rejection != nil {
			h.log.Debug("request failed validation", "path", r.URL.Path)
			resp = rejection
		}
	}

	if resp == nil {
		resp, err = h.dispatch(rc)
		if err != nil {
			h.log.Error("error handling request", "path", r.URL.Path, "error", err)
			wrote = true
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if resp == nil {
			h.log.Error("no response generated for request", "path", r.URL.Path)
			wrote = true
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}

	// Admission control happens before latency and metrics so that
	// over-quota responses neither sleep nor count as used tokens.
	resp = h.applyLimiter(rc, resp)

	baseDuration := time.Since(start)

	if resp.StatusCode < http.StatusMultipleChoices {
		applyLatency(ctx, rc, baseDuration)
	}

	fullDuration := time.Since(start)
	h.metrics.Record(ctx, rc, resp.StatusCode, baseDuration, fullDuration)

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	wrote = true
	if err := resp.Write(w); err != nil {
		h.log.Debug("failed to write response", "path", r.URL.Path, "error", err)
	}
}

// dispatch invokes the producer for the configured mode.
func (h *Handler) dispatch(rc *RequestContext) (*Response, error) {
	switch h.cfg.Mode {
	case config.ModeGenerate:
		for _, g := range h.generators {
			resp, err := g.Produce(rc)
			if err != nil {
				return nil, err
			}
			if resp != nil {
				return resp, nil
			}
		}
		return nil, nil

	case config.ModeRecord, config.ModeReplay:
		if h.recorder == nil {
			return nil, fmt.Errorf("mode %s requires a record/replay handler", h.cfg.Mode)
		}
		return h.recorder.HandleRequest(rc)

	default:
		return nil, fmt.Errorf("unknown simulator mode %q", h.cfg.Mode)
	}
}

// applyLimiter resolves the limiter selected during dispatch and lets it
// replace the response. Missing limiters are a pass-through, not an error.
func (h *Handler) applyLimiter(rc *RequestContext, resp *Response) *Response {
	if rc.LimiterName == "" {
		h.log.Debug("no limiter selected for request", "path", rc.Request.URL.Path)
		return resp
	}

	limiter := h.limiters.Lookup(rc.LimiterName)
	if limiter == nil {
		h.log.Debug("no limiter registered", "limiter", rc.LimiterName, "path", rc.Request.URL.Path)
		return resp
	}

	if replacement := limiter.Check(rc, resp); replacement != nil {
		h.log.Debug("limiter replaced response",
			"limiter", rc.LimiterName,
			"status", replacement.StatusCode,
		)
		return replacement
	}
	return resp
}

// readBody buffers the request body so every producer can inspect it.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	return data, nil
}
