// Package config provides configuration types and loading for the simulator.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Simulator operating modes.
const (
	ModeGenerate = "generate"
	ModeRecord   = "record"
	ModeReplay   = "replay"
)

// Config is the process-wide simulator configuration.
// It is loaded once at startup and must not be mutated afterwards.
type Config struct {
	// Mode selects the response-producing strategy: generate, record or replay.
	Mode string `json:"mode" yaml:"mode"`
	// APIKey is the shared secret checked against the api-key and
	// ocp-apim-subscription-key headers. Generated at startup if empty.
	APIKey string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	// Host is the bind address. Default: 0.0.0.0
	Host string `json:"host,omitempty" yaml:"host,omitempty"`
	// Port is the HTTP listen port. Default: 8000
	Port int `json:"port,omitempty" yaml:"port,omitempty"`
	// ReadTimeout is the HTTP read timeout in seconds. Default: 30
	ReadTimeout int `json:"readTimeout,omitempty" yaml:"readTimeout,omitempty"`
	// WriteTimeout is the HTTP write timeout in seconds. Simulated latency
	// counts against it, so it defaults to a generous 120.
	WriteTimeout int `json:"writeTimeout,omitempty" yaml:"writeTimeout,omitempty"`

	// OpenAIDeployments maps deployment names to their simulated behavior.
	// When empty, any deployment name is accepted with no rate limits.
	OpenAIDeployments map[string]*Deployment `json:"openaiDeployments,omitempty" yaml:"openaiDeployments,omitempty"`

	// DocIntelligenceRPS is the requests-per-second limit for the document
	// intelligence surface. Zero or negative disables limiting. Default: 15
	DocIntelligenceRPS int `json:"docIntelligenceRps,omitempty" yaml:"docIntelligenceRps,omitempty"`

	// Recording configures record/replay persistence and forwarding.
	Recording RecordingConfig `json:"recording,omitempty" yaml:"recording,omitempty"`

	// Generators are custom response rules evaluated before the built-in
	// generators in generate mode. First match wins.
	Generators []*GeneratorRule `json:"generators,omitempty" yaml:"generators,omitempty"`

	// Telemetry configures OpenTelemetry export.
	Telemetry TelemetryConfig `json:"telemetry,omitempty" yaml:"telemetry,omitempty"`

	// Validation configures optional strict request validation.
	Validation ValidationConfig `json:"validation,omitempty" yaml:"validation,omitempty"`

	// Logging configures log output.
	Logging LoggingConfig `json:"logging,omitempty" yaml:"logging,omitempty"`
}

// Deployment describes one simulated OpenAI deployment.
type Deployment struct {
	// Model is the model name reported in generated responses.
	// Defaults to the deployment name.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`
	// TokensPerMinute is the token quota used to derive the 10-second
	// admission windows. Zero means the deployment rejects every request;
	// omit the deployment from rate limiting by setting a negative value.
	TokensPerMinute int `json:"tokensPerMinute" yaml:"tokensPerMinute"`
	// EmbeddingSize is the vector length for embeddings responses. Default: 1536
	EmbeddingSize int `json:"embeddingSize,omitempty" yaml:"embeddingSize,omitempty"`
	// Latency adds a target duration hint to generated responses so that the
	// latency emulator shapes response timing. Optional.
	Latency *Latency `json:"latency,omitempty" yaml:"latency,omitempty"`
}

// Latency describes a normally distributed simulated duration.
type Latency struct {
	// MeanMs is the mean duration in milliseconds.
	MeanMs float64 `json:"meanMs" yaml:"meanMs"`
	// StdDevMs is the standard deviation in milliseconds.
	StdDevMs float64 `json:"stdDevMs,omitempty" yaml:"stdDevMs,omitempty"`
}

// RecordingConfig configures record/replay behavior.
type RecordingConfig struct {
	// Dir is the directory recordings are persisted to. Default: .recordings
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`
	// Autosave persists each recorded exchange as it completes.
	// When false, recordings are only written by the save-recordings endpoint.
	// Default: true
	Autosave *bool `json:"autosave,omitempty" yaml:"autosave,omitempty"`
	// ForwardURL is the upstream base URL requests are forwarded to in
	// record mode, e.g. https://myresource.openai.azure.com
	ForwardURL string `json:"forwardUrl,omitempty" yaml:"forwardUrl,omitempty"`
	// ForwardKey is the api-key sent to the upstream in record mode.
	ForwardKey string `json:"forwardKey,omitempty" yaml:"forwardKey,omitempty"`
	// FilterHeaders are additional header names stripped from persisted
	// recordings, on top of the built-in secret and hop-by-hop set.
	FilterHeaders []string `json:"filterHeaders,omitempty" yaml:"filterHeaders,omitempty"`
}

// GeneratorRule is a config-driven response rule for generate mode.
type GeneratorRule struct {
	// Name identifies the rule in logs.
	Name string `json:"name" yaml:"name"`
	// When is an expression over the inbound request deciding whether this
	// rule claims it. Available variables: method, path, query (map),
	// header (map, canonical names), body (parsed JSON, may be nil).
	When string `json:"when" yaml:"when"`
	// BodySchema is an optional JSON Schema; the rule only matches requests
	// whose JSON body validates against it.
	BodySchema map[string]any `json:"bodySchema,omitempty" yaml:"bodySchema,omitempty"`
	// Response describes the produced response.
	Response RuleResponse `json:"response" yaml:"response"`
	// LatencyMs sets the recorded-duration hint for the latency emulator.
	LatencyMs float64 `json:"latencyMs,omitempty" yaml:"latencyMs,omitempty"`
	// Tokens reports a token count for this response, feeding the token
	// histograms and the openai limiter when Limiter is "openai".
	Tokens int `json:"tokens,omitempty" yaml:"tokens,omitempty"`
	// Limiter names the rate limiter applied to this rule's responses.
	Limiter string `json:"limiter,omitempty" yaml:"limiter,omitempty"`
	// Deployment tags metrics produced by this rule.
	Deployment string `json:"deployment,omitempty" yaml:"deployment,omitempty"`
}

// RuleResponse is the response template of a GeneratorRule.
type RuleResponse struct {
	// Status is the HTTP status code. Default: 200
	Status int `json:"status,omitempty" yaml:"status,omitempty"`
	// Headers are set verbatim on the response.
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	// Body is the response body. Supports ${method}, ${path} and
	// ${path.N} (zero-based path segment) placeholders.
	Body string `json:"body,omitempty" yaml:"body,omitempty"`
}

// TelemetryConfig configures OpenTelemetry metric and trace export.
type TelemetryConfig struct {
	// Exporter selects the export target: none, stdout, otlp-grpc or
	// otlp-http. Default: none
	Exporter string `json:"exporter,omitempty" yaml:"exporter,omitempty"`
	// Endpoint is the OTLP collector endpoint (host:port). Default:
	// localhost:4317 for otlp-grpc, localhost:4318 for otlp-http.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	// IntervalSeconds is the metric export interval. Default: 10
	IntervalSeconds int `json:"intervalSeconds,omitempty" yaml:"intervalSeconds,omitempty"`
	// ServiceName overrides the reported service.name resource attribute.
	ServiceName string `json:"serviceName,omitempty" yaml:"serviceName,omitempty"`
	// Insecure disables TLS for OTLP connections. Default: true
	Insecure *bool `json:"insecure,omitempty" yaml:"insecure,omitempty"`
}

// ValidationConfig configures optional strict request validation.
type ValidationConfig struct {
	// OpenAPISpec is the path to an OpenAPI 3 document. When set, catch-all
	// requests are validated against it and mismatches return 400.
	OpenAPISpec string `json:"openapiSpec,omitempty" yaml:"openapiSpec,omitempty"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn or error. Default: info
	Level string `json:"level,omitempty" yaml:"level,omitempty"`
	// Format is the log format: text or json. Default: text
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// Telemetry exporter names.
const (
	ExporterNone     = "none"
	ExporterStdout   = "stdout"
	ExporterOTLPGRPC = "otlp-grpc"
	ExporterOTLPHTTP = "otlp-http"
)

// Default values applied by Validate.
const (
	DefaultPort               = 8000
	DefaultHost               = "0.0.0.0"
	DefaultReadTimeout        = 30
	DefaultWriteTimeout       = 120
	DefaultRecordingDir       = ".recordings"
	DefaultDocIntelligenceRPS = 15
	DefaultEmbeddingSize      = 1536
	DefaultMetricInterval     = 10
	DefaultServiceName        = "aoai-simulated-api"
)

// Validate checks the configuration and fills in defaults.
// A random API key is generated when none was configured.
func (c *Config) Validate() error {
	switch c.Mode {
	case "":
		c.Mode = ModeGenerate
	case ModeGenerate, ModeRecord, ModeReplay:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, c.Mode)
	}

	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.APIKey == "" {
		c.APIKey = generateKey()
	}

	for name, d := range c.OpenAIDeployments {
		if d == nil {
			return fmt.Errorf("%w: deployment %q has no body", ErrInvalidConfig, name)
		}
		if d.Model == "" {
			d.Model = name
		}
		if d.EmbeddingSize == 0 {
			d.EmbeddingSize = DefaultEmbeddingSize
		}
		if d.Latency != nil && d.Latency.MeanMs < 0 {
			return fmt.Errorf("%w: deployment %q has negative latency", ErrInvalidConfig, name)
		}
	}

	if c.DocIntelligenceRPS == 0 {
		c.DocIntelligenceRPS = DefaultDocIntelligenceRPS
	}

	if c.Recording.Dir == "" {
		c.Recording.Dir = DefaultRecordingDir
	}
	if c.Recording.Autosave == nil {
		t := true
		c.Recording.Autosave = &t
	}
	if c.Mode == ModeRecord && c.Recording.ForwardURL == "" {
		return fmt.Errorf("%w: record mode requires recording.forwardUrl", ErrInvalidConfig)
	}

	for i, rule := range c.Generators {
		if rule == nil {
			return fmt.Errorf("%w: generator rule %d has no body", ErrInvalidConfig, i)
		}
		if rule.Name == "" {
			rule.Name = fmt.Sprintf("rule-%d", i)
		}
		if rule.When == "" {
			return fmt.Errorf("%w: generator rule %q has no when expression", ErrInvalidConfig, rule.Name)
		}
		if rule.Response.Status == 0 {
			rule.Response.Status = 200
		}
	}

	switch c.Telemetry.Exporter {
	case "":
		c.Telemetry.Exporter = ExporterNone
	case ExporterNone, ExporterStdout, ExporterOTLPGRPC, ExporterOTLPHTTP:
	default:
		return fmt.Errorf("%w: unknown telemetry exporter %q", ErrInvalidConfig, c.Telemetry.Exporter)
	}
	if c.Telemetry.Endpoint == "" {
		switch c.Telemetry.Exporter {
		case ExporterOTLPGRPC:
			c.Telemetry.Endpoint = "localhost:4317"
		case ExporterOTLPHTTP:
			c.Telemetry.Endpoint = "localhost:4318"
		}
	}
	if c.Telemetry.IntervalSeconds == 0 {
		c.Telemetry.IntervalSeconds = DefaultMetricInterval
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = DefaultServiceName
	}
	if c.Telemetry.Insecure == nil {
		t := true
		c.Telemetry.Insecure = &t
	}

	return nil
}

// AutosaveEnabled reports whether recordings are persisted as they complete.
func (c *RecordingConfig) AutosaveEnabled() bool {
	return c.Autosave == nil || *c.Autosave
}

// InsecureEnabled reports whether OTLP connections skip TLS.
func (c *TelemetryConfig) InsecureEnabled() bool {
	return c.Insecure == nil || *c.Insecure
}

// generateKey returns a random 32-character hex secret.
func generateKey() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
