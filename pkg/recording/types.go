// Package recording captures upstream exchanges in record mode and serves
// them back in replay mode. Recordings are grouped by request path and
// persisted as YAML, one file per path.
package recording

import (
	"time"

	"github.com/bart-jansen/aoai-simulated-api/pkg/simulator"
)

// Recording is a single captured request/response exchange.
type Recording struct {
	// ID uniquely identifies the recording.
	ID string `yaml:"id"`

	// Method is the HTTP method of the captured request.
	Method string `yaml:"method"`

	// Path is the request path the recording answers.
	Path string `yaml:"path"`

	// Query is the raw query string of the captured request.
	Query string `yaml:"query,omitempty"`

	// RequestBody is the captured request body.
	RequestBody string `yaml:"requestBody,omitempty"`

	// StatusCode is the upstream response status.
	StatusCode int `yaml:"statusCode"`

	// Headers holds the recorded response headers, minus credentials and
	// any configured filter headers.
	Headers map[string]string `yaml:"headers,omitempty"`

	// Body is the upstream response body.
	Body string `yaml:"body,omitempty"`

	// DurationMs is how long the upstream took to answer, used to shape
	// replay latency.
	DurationMs float64 `yaml:"durationMs"`

	// Deployment is the OpenAI deployment the request addressed, if any.
	Deployment string `yaml:"deployment,omitempty"`

	// Tokens is the total token count reported by the upstream, if any.
	Tokens int `yaml:"tokens,omitempty"`

	// Limiter names the rate limiter that applies to this exchange.
	Limiter string `yaml:"limiter,omitempty"`

	// RecordedAt is when the exchange was captured.
	RecordedAt time.Time `yaml:"recordedAt"`
}

// Matches reports whether the recording answers the given request shape.
// Method, path, query string and body must all match exactly.
func (r *Recording) Matches(method, path, query string, body []byte) bool {
	return r.Method == method &&
		r.Path == path &&
		r.Query == query &&
		r.RequestBody == string(body)
}

// Response converts the recording into a servable response.
func (r *Recording) Response() *simulator.Response {
	resp := simulator.NewResponse(r.StatusCode)
	resp.Body = []byte(r.Body)
	for k, v := range r.Headers {
		resp.Header.Set(k, v)
	}
	return resp
}
