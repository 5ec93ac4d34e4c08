// Package validation checks incoming requests against an OpenAPI document
// before they reach a producer. Requests for paths the document does not
// describe pass through untouched.
package validation

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"

	"github.com/bart-jansen/aoai-simulated-api/pkg/logging"
	"github.com/bart-jansen/aoai-simulated-api/pkg/simulator"
)

// validationError is the JSON body returned for rejected requests.
type validationError struct {
	Error validationErrorDetail `json:"error"`
}

type validationErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// OpenAPIValidator validates requests against an OpenAPI 3 document.
type OpenAPIValidator struct {
	log    *slog.Logger
	doc    *openapi3.T
	router routers.Router
}

var _ simulator.RequestValidator = (*OpenAPIValidator)(nil)

// NewOpenAPIValidator loads the document at specPath, validates it, and
// builds a request router for it.
func NewOpenAPIValidator(log *slog.Logger, specPath string) (*OpenAPIValidator, error) {
	if log == nil {
		log = logging.Nop()
	}

	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = true

	doc, err := loader.LoadFromFile(specPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load OpenAPI spec from %s: %w", specPath, err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("invalid OpenAPI spec %s: %w", specPath, err)
	}

	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to build OpenAPI router: %w", err)
	}

	return &OpenAPIValidator{log: log, doc: doc, router: router}, nil
}

// ValidateRequest implements simulator.RequestValidator. A non-nil
// response is the rejection to serve; nil lets the request continue.
func (v *OpenAPIValidator) ValidateRequest(rc *simulator.RequestContext) *simulator.Response {
	route, pathParams, err := v.router.FindRoute(rc.Request)
	if err != nil {
		// Undocumented paths are not this validator's concern.
		return nil
	}

	// The pipeline has already drained the body; restore it so the
	// schema check can read it. Producers only ever use rc.Body.
	if len(rc.Body) > 0 {
		rc.Request.Body = io.NopCloser(bytes.NewReader(rc.Body))
	}

	input := &openapi3filter.RequestValidationInput{
		Request:    rc.Request,
		PathParams: pathParams,
		Route:      route,
		Options: &openapi3filter.Options{
			// Credentials were checked before the pipeline ran.
			AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
		},
	}

	if err := openapi3filter.ValidateRequest(rc.Request.Context(), input); err != nil {
		message := strings.Join(strings.Fields(err.Error()), " ")
		v.log.Debug("request failed OpenAPI validation",
			"method", rc.Request.Method,
			"path", rc.Request.URL.Path,
			"error", message,
		)
		return simulator.NewJSONResponse(http.StatusBadRequest, validationError{
			Error: validationErrorDetail{Code: "BadRequest", Message: message},
		})
	}
	return nil
}
