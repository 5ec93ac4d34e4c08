package generate

import (
	"hash/fnv"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bart-jansen/aoai-simulated-api/pkg/config"
	"github.com/bart-jansen/aoai-simulated-api/pkg/logging"
	"github.com/bart-jansen/aoai-simulated-api/pkg/ratelimit"
	"github.com/bart-jansen/aoai-simulated-api/pkg/simulator"
)

// Completion sizing when the request does not ask for a specific budget.
const (
	defaultCompletionTokens = 64
	maxCompletionTokens     = 16384
)

// Operations on a deployment route.
const (
	opChatCompletions = "chat/completions"
	opCompletions     = "completions"
	opEmbeddings      = "embeddings"
)

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   usage        `json:"usage"`
}

type completionChoice struct {
	Text         string `json:"text"`
	Index        int    `json:"index"`
	Logprobs     any    `json:"logprobs"`
	FinishReason string `json:"finish_reason"`
}

type textCompletionResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []completionChoice `json:"choices"`
	Usage   usage              `json:"usage"`
}

type embeddingData struct {
	Object    string    `json:"object"`
	Index     int       `json:"index"`
	Embedding []float64 `json:"embedding"`
}

type embeddingResponse struct {
	Object string          `json:"object"`
	Data   []embeddingData `json:"data"`
	Model  string          `json:"model"`
	Usage  usage           `json:"usage"`
}

type apiError struct {
	Error apiErrorDetail `json:"error"`
}

type apiErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// OpenAIGenerator produces responses for the Azure OpenAI deployment
// routes: chat completions, completions and embeddings.
type OpenAIGenerator struct {
	log         *slog.Logger
	deployments map[string]*config.Deployment
}

var _ simulator.Generator = (*OpenAIGenerator)(nil)

// NewOpenAIGenerator creates the generator for the configured deployments.
// With no deployments configured, every deployment name is accepted and
// reported back as the model name.
func NewOpenAIGenerator(log *slog.Logger, deployments map[string]*config.Deployment) *OpenAIGenerator {
	if log == nil {
		log = logging.Nop()
	}
	return &OpenAIGenerator{log: log, deployments: deployments}
}

// Produce claims POST requests on /openai/deployments/{deployment}/... and
// synthesizes a response in the service's wire format. The request context
// is annotated with the deployment, the openai limiter key and the token
// count so the later pipeline stages can do their work.
func (g *OpenAIGenerator) Produce(rc *simulator.RequestContext) (*simulator.Response, error) {
	if rc.Request.Method != http.MethodPost {
		return nil, nil
	}
	deployment, operation, ok := parseOpenAIPath(rc.Request.URL.Path)
	if !ok {
		return nil, nil
	}

	rc.DeploymentName = deployment
	rc.LimiterName = ratelimit.KeyOpenAI

	d := g.resolveDeployment(deployment)
	if d == nil {
		g.log.Warn("deployment not found", "deployment", deployment)
		return simulator.NewJSONResponse(http.StatusNotFound, apiError{
			Error: apiErrorDetail{
				Code: "DeploymentNotFound",
				Message: "The API deployment for this resource does not exist. " +
					"If you created the deployment within the last 5 minutes, please wait a moment and try again.",
			},
		}), nil
	}

	applyLatencyHint(rc, d)

	switch operation {
	case opChatCompletions:
		return g.chatCompletion(rc, d), nil
	case opCompletions:
		return g.completion(rc, d), nil
	default:
		return g.embeddings(rc, d), nil
	}
}

func (g *OpenAIGenerator) chatCompletion(rc *simulator.RequestContext, d *config.Deployment) *simulator.Response {
	doc := rc.JSONBody()
	promptTokens := estimateTokens(promptText(doc))
	completionTokens, capped := completionBudget(doc)
	rc.Tokens = promptTokens + completionTokens

	g.log.Debug("generating chat completion",
		"deployment", rc.DeploymentName,
		"tokens", rc.Tokens,
	)

	return simulator.NewJSONResponse(http.StatusOK, chatCompletionResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   d.Model,
		Choices: []chatChoice{{
			Index:        0,
			Message:      chatMessage{Role: "assistant", Content: loremText(completionTokens)},
			FinishReason: finishReason(capped),
		}},
		Usage: usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	})
}

func (g *OpenAIGenerator) completion(rc *simulator.RequestContext, d *config.Deployment) *simulator.Response {
	doc := rc.JSONBody()
	promptTokens := estimateTokens(promptText(doc))
	completionTokens, capped := completionBudget(doc)
	rc.Tokens = promptTokens + completionTokens

	g.log.Debug("generating completion",
		"deployment", rc.DeploymentName,
		"tokens", rc.Tokens,
	)

	return simulator.NewJSONResponse(http.StatusOK, textCompletionResponse{
		ID:      "cmpl-" + uuid.NewString(),
		Object:  "text_completion",
		Created: time.Now().Unix(),
		Model:   d.Model,
		Choices: []completionChoice{{
			Text:         loremText(completionTokens),
			Index:        0,
			Logprobs:     nil,
			FinishReason: finishReason(capped),
		}},
		Usage: usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	})
}

func (g *OpenAIGenerator) embeddings(rc *simulator.RequestContext, d *config.Deployment) *simulator.Response {
	doc := rc.JSONBody()
	text := promptText(doc)
	promptTokens := estimateTokens(text)
	if promptTokens == 0 {
		promptTokens = 1
	}
	rc.Tokens = promptTokens

	size := intFromBody(dimensionsPath, doc)
	if size <= 0 {
		size = d.EmbeddingSize
	}
	if size <= 0 {
		size = config.DefaultEmbeddingSize
	}

	g.log.Debug("generating embeddings",
		"deployment", rc.DeploymentName,
		"dimensions", size,
		"tokens", rc.Tokens,
	)

	return simulator.NewJSONResponse(http.StatusOK, embeddingResponse{
		Object: "list",
		Data: []embeddingData{{
			Object:    "embedding",
			Index:     0,
			Embedding: embeddingVector(text, size),
		}},
		Model: d.Model,
		Usage: usage{PromptTokens: promptTokens, TotalTokens: promptTokens},
	})
}

// resolveDeployment looks the deployment up, or synthesizes a default when
// none are configured at all.
func (g *OpenAIGenerator) resolveDeployment(name string) *config.Deployment {
	if len(g.deployments) == 0 {
		return &config.Deployment{Model: name, EmbeddingSize: config.DefaultEmbeddingSize}
	}
	return g.deployments[name]
}

// parseOpenAIPath splits /openai/deployments/{deployment}/{operation}.
func parseOpenAIPath(path string) (deployment, operation string, ok bool) {
	rest, found := strings.CutPrefix(path, "/openai/deployments/")
	if !found {
		return "", "", false
	}
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", "", false
	}
	switch parts[1] {
	case opChatCompletions, opCompletions, opEmbeddings:
		return parts[0], parts[1], true
	}
	return "", "", false
}

// completionBudget returns the completion size for a request: the body's
// max_tokens when present (bounded), the default otherwise. capped reports
// whether the budget came from the request, which decides finish_reason.
func completionBudget(doc any) (tokens int, capped bool) {
	requested := intFromBody(maxTokensPath, doc)
	if requested <= 0 {
		return defaultCompletionTokens, false
	}
	if requested > maxCompletionTokens {
		return maxCompletionTokens, true
	}
	return requested, true
}

func finishReason(capped bool) string {
	if capped {
		return "length"
	}
	return "stop"
}

// applyLatencyHint samples the deployment's configured latency so that
// generated traffic exercises the latency emulator too.
func applyLatencyHint(rc *simulator.RequestContext, d *config.Deployment) {
	if d.Latency == nil || d.Latency.MeanMs <= 0 {
		return
	}
	ms := d.Latency.MeanMs + rand.NormFloat64()*d.Latency.StdDevMs
	if ms < 0 {
		ms = 0
	}
	rc.RecordedDurationMs = ms
}

var loremWords = []string{
	"lorem", "ipsum", "dolor", "sit", "amet", "consectetur", "adipiscing",
	"elit", "sed", "do", "eiusmod", "tempor", "incididunt", "ut", "labore",
	"et", "dolore", "magna", "aliqua", "enim", "ad", "minim", "veniam",
	"quis", "nostrud", "exercitation", "ullamco", "laboris", "nisi",
	"aliquip", "ex", "ea", "commodo", "consequat", "duis", "aute", "irure",
	"in", "reprehenderit", "voluptate", "velit", "esse", "cillum", "fugiat",
	"nulla", "pariatur",
}

// loremText produces roughly one word per token of filler text.
func loremText(tokens int) string {
	var b strings.Builder
	remaining := 0
	for i := 0; i < tokens; i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		word := loremWords[rand.IntN(len(loremWords))]
		if remaining == 0 {
			remaining = 6 + rand.IntN(7)
			word = strings.ToUpper(word[:1]) + word[1:]
		}
		remaining--
		b.WriteString(word)
		if remaining == 0 || i == tokens-1 {
			b.WriteByte('.')
		}
	}
	return b.String()
}

// embeddingVector derives a deterministic vector from the input text, so
// identical inputs embed identically across requests.
func embeddingVector(text string, size int) []float64 {
	h := fnv.New64a()
	h.Write([]byte(text))
	rng := rand.New(rand.NewPCG(h.Sum64(), uint64(size)))

	vec := make([]float64, size)
	for i := range vec {
		vec[i] = rng.Float64()*2 - 1
	}
	return vec
}
