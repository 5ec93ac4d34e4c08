package recording

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bart-jansen/aoai-simulated-api/pkg/logging"
	"github.com/bart-jansen/aoai-simulated-api/pkg/simulator"
)

// defaultForwardTimeout bounds a single upstream call in record mode.
const defaultForwardTimeout = 60 * time.Second

// Forwarder sends a request to a live upstream so the exchange can be
// recorded. Implementations return a nil result without error when the
// request is not theirs to forward.
type Forwarder interface {
	Forward(rc *simulator.RequestContext) (*ForwardResult, error)
}

// ForwardResult carries the upstream response and how long it took.
type ForwardResult struct {
	Response *simulator.Response
	Duration time.Duration
}

// hopByHopHeaders are connection-scoped and never copied in either
// direction.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"TE",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

// secretHeaders carry credentials. They are replaced on forwarded
// requests and stripped from recordings.
var secretHeaders = []string{
	simulator.HeaderAuthorization,
	simulator.HeaderAPIKey,
	simulator.HeaderSubscriptionKey,
}

// AOAIForwarder forwards OpenAI-surface requests to a real Azure OpenAI
// resource, swapping the simulator credentials for the upstream key.
type AOAIForwarder struct {
	log     *slog.Logger
	baseURL *url.URL
	apiKey  string
	client  *http.Client
}

// NewAOAIForwarder creates a forwarder for the given Azure OpenAI
// endpoint and API key.
func NewAOAIForwarder(log *slog.Logger, endpoint, apiKey string) (*AOAIForwarder, error) {
	if log == nil {
		log = logging.Nop()
	}
	if endpoint == "" {
		return nil, errors.New("forward endpoint is required")
	}

	base, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid forward endpoint %q: %w", endpoint, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("forward endpoint %q must include scheme and host", endpoint)
	}

	return &AOAIForwarder{
		log:     log,
		baseURL: base,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: defaultForwardTimeout},
	}, nil
}

// Forward implements Forwarder. Only requests under /openai/ are
// claimed; anything else is left for another forwarder.
func (f *AOAIForwarder) Forward(rc *simulator.RequestContext) (*ForwardResult, error) {
	path := rc.Request.URL.Path
	if !strings.HasPrefix(path, "/openai/") {
		return nil, nil
	}

	target := *f.baseURL
	target.Path = strings.TrimSuffix(target.Path, "/") + path
	target.RawQuery = rc.Request.URL.RawQuery

	req, err := http.NewRequestWithContext(rc.Request.Context(), rc.Request.Method, target.String(), bytes.NewReader(rc.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}

	copyHeaders(req.Header, rc.Request.Header)
	removeHopByHopHeaders(req.Header)
	for _, h := range secretHeaders {
		req.Header.Del(h)
	}
	// Let the transport negotiate compression so the recorded body is
	// plain text.
	req.Header.Del("Accept-Encoding")
	req.Header.Set(simulator.HeaderAPIKey, f.apiKey)

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream response: %w", err)
	}
	duration := time.Since(start)

	out := simulator.NewResponse(resp.StatusCode)
	out.Body = body
	copyHeaders(out.Header, resp.Header)
	removeHopByHopHeaders(out.Header)
	out.Header.Del("Content-Length")

	f.log.Debug("forwarded request upstream",
		"method", rc.Request.Method,
		"path", path,
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds(),
	)

	return &ForwardResult{Response: out, Duration: duration}, nil
}

// copyHeaders copies headers from src to dst.
func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

// removeHopByHopHeaders removes headers that must not be forwarded.
func removeHopByHopHeaders(h http.Header) {
	for _, header := range hopByHopHeaders {
		h.Del(header)
	}
}
