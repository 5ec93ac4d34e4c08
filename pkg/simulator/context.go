package simulator

import (
	"encoding/json"
	"net/http"

	"github.com/bart-jansen/aoai-simulated-api/pkg/config"
)

// RequestContext carries request-scoped state across the pipeline stages.
// One is created per authenticated request and owned exclusively by that
// request; producers fill in the cross-cutting facts the later stages use.
// Zero values mean "not known": no limiter, no deployment, no tokens, no
// duration hint.
type RequestContext struct {
	// Config is the process-wide simulator configuration.
	Config *config.Config
	// Request is the inbound HTTP request.
	Request *http.Request
	// Body is the buffered request body. The pipeline reads the body once
	// so that every producer can inspect it.
	Body []byte

	// LimiterName selects the rate limiter applied after dispatch,
	// e.g. "openai" or "docintelligence".
	LimiterName string
	// DeploymentName is the deployment the request addressed, used to tag
	// metrics and to select per-deployment limits.
	DeploymentName string
	// Tokens is the token count attributed to this request. Zero means no
	// token usage was reported.
	Tokens int
	// RecordedDurationMs is the duration hint for the latency emulator:
	// how long the real service took to produce this response.
	RecordedDurationMs float64

	jsonBody       any
	jsonBodyParsed bool
}

// NewRequestContext creates the Context for one request.
func NewRequestContext(cfg *config.Config, r *http.Request, body []byte) *RequestContext {
	return &RequestContext{
		Config:  cfg,
		Request: r,
		Body:    body,
	}
}

// JSONBody returns the request body parsed as JSON, or nil if the body is
// empty or not valid JSON. The parse happens once and is cached.
func (rc *RequestContext) JSONBody() any {
	if rc.jsonBodyParsed {
		return rc.jsonBody
	}
	rc.jsonBodyParsed = true
	if len(rc.Body) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(rc.Body, &v); err != nil {
		return nil
	}
	rc.jsonBody = v
	return rc.jsonBody
}
