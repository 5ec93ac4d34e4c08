package generate

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bart-jansen/aoai-simulated-api/pkg/logging"
	"github.com/bart-jansen/aoai-simulated-api/pkg/ratelimit"
	"github.com/bart-jansen/aoai-simulated-api/pkg/simulator"
)

// API version reported when the request does not carry one.
const defaultDocIntelAPIVersion = "2023-07-31"

type analyzeResultResponse struct {
	Status              string        `json:"status"`
	CreatedDateTime     string        `json:"createdDateTime"`
	LastUpdatedDateTime string        `json:"lastUpdatedDateTime"`
	AnalyzeResult       analyzeResult `json:"analyzeResult"`
}

type analyzeResult struct {
	APIVersion      string `json:"apiVersion"`
	ModelID         string `json:"modelId"`
	StringIndexType string `json:"stringIndexType"`
	Content         string `json:"content"`
	Pages           []any  `json:"pages"`
}

// DocumentIntelligenceGenerator simulates the Document Intelligence
// analyze flow: submitting a document returns 202 with an Operation-Location
// to poll, and polling reports an immediately succeeded analysis.
type DocumentIntelligenceGenerator struct {
	log *slog.Logger
}

var _ simulator.Generator = (*DocumentIntelligenceGenerator)(nil)

// NewDocumentIntelligenceGenerator creates the generator.
func NewDocumentIntelligenceGenerator(log *slog.Logger) *DocumentIntelligenceGenerator {
	if log == nil {
		log = logging.Nop()
	}
	return &DocumentIntelligenceGenerator{log: log}
}

// Produce claims the documentModels analyze and analyzeResults routes.
func (g *DocumentIntelligenceGenerator) Produce(rc *simulator.RequestContext) (*simulator.Response, error) {
	switch rc.Request.Method {
	case http.MethodPost:
		return g.analyze(rc), nil
	case http.MethodGet:
		return g.analyzeResults(rc), nil
	default:
		return nil, nil
	}
}

func (g *DocumentIntelligenceGenerator) analyze(rc *simulator.RequestContext) *simulator.Response {
	model, ok := parseAnalyzePath(rc.Request.URL.Path)
	if !ok {
		return nil
	}
	rc.LimiterName = ratelimit.KeyDocIntelligence

	resultID := uuid.NewString()
	location := fmt.Sprintf("%s://%s/formrecognizer/documentModels/%s/analyzeResults/%s?api-version=%s",
		requestScheme(rc.Request), rc.Request.Host, model, resultID, apiVersionOf(rc.Request))

	g.log.Debug("accepted analyze request", "model", model, "result_id", resultID)

	resp := simulator.NewResponse(http.StatusAccepted)
	resp.Header.Set("Operation-Location", location)
	return resp
}

func (g *DocumentIntelligenceGenerator) analyzeResults(rc *simulator.RequestContext) *simulator.Response {
	model, resultID, ok := parseAnalyzeResultsPath(rc.Request.URL.Path)
	if !ok {
		return nil
	}
	rc.LimiterName = ratelimit.KeyDocIntelligence

	g.log.Debug("returning analyze result", "model", model, "result_id", resultID)

	now := time.Now().UTC().Format(time.RFC3339)
	return simulator.NewJSONResponse(http.StatusOK, analyzeResultResponse{
		Status:              "succeeded",
		CreatedDateTime:     now,
		LastUpdatedDateTime: now,
		AnalyzeResult: analyzeResult{
			APIVersion:      apiVersionOf(rc.Request),
			ModelID:         model,
			StringIndexType: "textElements",
			Content:         loremText(40),
			Pages:           []any{},
		},
	})
}

// parseAnalyzePath splits /formrecognizer/documentModels/{model}:analyze.
func parseAnalyzePath(path string) (model string, ok bool) {
	rest, found := strings.CutPrefix(path, "/formrecognizer/documentModels/")
	if !found {
		return "", false
	}
	model, found = strings.CutSuffix(rest, ":analyze")
	if !found || model == "" || strings.Contains(model, "/") {
		return "", false
	}
	return model, true
}

// parseAnalyzeResultsPath splits
// /formrecognizer/documentModels/{model}/analyzeResults/{resultId}.
func parseAnalyzeResultsPath(path string) (model, resultID string, ok bool) {
	rest, found := strings.CutPrefix(path, "/formrecognizer/documentModels/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[1] != "analyzeResults" || parts[0] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[0], parts[2], true
}

func apiVersionOf(r *http.Request) string {
	if v := r.URL.Query().Get("api-version"); v != "" {
		return v
	}
	return defaultDocIntelAPIVersion
}

func requestScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
