package validation

import (
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bart-jansen/aoai-simulated-api/pkg/config"
	"github.com/bart-jansen/aoai-simulated-api/pkg/simulator"
)

const testOpenAPISpec = `
openapi: "3.0.3"
info:
  title: Azure OpenAI surface
  version: "2023-05-15"
paths:
  /openai/deployments/{deployment}/chat/completions:
    post:
      parameters:
        - name: deployment
          in: path
          required: true
          schema:
            type: string
        - name: api-version
          in: query
          required: true
          schema:
            type: string
      requestBody:
        required: true
        content:
          application/json:
            schema:
              type: object
              required:
                - messages
              properties:
                messages:
                  type: array
                  items:
                    type: object
                max_tokens:
                  type: integer
      responses:
        "200":
          description: OK
`

func writeSpec(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "openapi.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func newValidator(t *testing.T) *OpenAPIValidator {
	t.Helper()
	v, err := NewOpenAPIValidator(nil, writeSpec(t, testOpenAPISpec))
	if err != nil {
		t.Fatalf("NewOpenAPIValidator failed: %v", err)
	}
	return v
}

func validationContext(method, target, body string) *simulator.RequestContext {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return simulator.NewRequestContext(&config.Config{}, req, []byte(body))
}

func TestNewOpenAPIValidator(t *testing.T) {
	t.Run("loads a valid document", func(t *testing.T) {
		newValidator(t)
	})

	t.Run("missing file is an error", func(t *testing.T) {
		if _, err := NewOpenAPIValidator(nil, filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Error("expected error for missing spec file")
		}
	})

	t.Run("invalid document is an error", func(t *testing.T) {
		path := writeSpec(t, "openapi: \"3.0.3\"\npaths: {}\n")
		if _, err := NewOpenAPIValidator(nil, path); err == nil {
			t.Error("expected error for document without info")
		}
	})
}

func TestOpenAPIValidatorValidateRequest(t *testing.T) {
	t.Run("valid request passes", func(t *testing.T) {
		v := newValidator(t)
		rc := validationContext("POST",
			"/openai/deployments/gpt-4/chat/completions?api-version=2023-05-15",
			`{"messages":[{"role":"user","content":"hi"}],"max_tokens":10}`)

		if resp := v.ValidateRequest(rc); resp != nil {
			t.Errorf("expected pass, got rejection: %s", resp.Body)
		}
	})

	t.Run("missing required query parameter is rejected", func(t *testing.T) {
		v := newValidator(t)
		rc := validationContext("POST",
			"/openai/deployments/gpt-4/chat/completions",
			`{"messages":[]}`)

		resp := v.ValidateRequest(rc)
		if resp == nil {
			t.Fatal("expected rejection for missing api-version")
		}
		if resp.StatusCode != 400 {
			t.Errorf("expected status 400, got %d", resp.StatusCode)
		}

		var body validationError
		if err := json.Unmarshal(resp.Body, &body); err != nil {
			t.Fatalf("rejection body is not JSON: %v", err)
		}
		if body.Error.Code != "BadRequest" {
			t.Errorf("expected code BadRequest, got %q", body.Error.Code)
		}
		if !strings.Contains(body.Error.Message, "api-version") {
			t.Errorf("expected message to name the parameter, got %q", body.Error.Message)
		}
	})

	t.Run("schema violation is rejected", func(t *testing.T) {
		v := newValidator(t)
		rc := validationContext("POST",
			"/openai/deployments/gpt-4/chat/completions?api-version=2023-05-15",
			`{"messages":"not an array"}`)

		resp := v.ValidateRequest(rc)
		if resp == nil {
			t.Fatal("expected rejection for schema violation")
		}
		if resp.StatusCode != 400 {
			t.Errorf("expected status 400, got %d", resp.StatusCode)
		}
	})

	t.Run("missing required body is rejected", func(t *testing.T) {
		v := newValidator(t)
		rc := validationContext("POST",
			"/openai/deployments/gpt-4/chat/completions?api-version=2023-05-15", "")

		if resp := v.ValidateRequest(rc); resp == nil {
			t.Error("expected rejection for missing body")
		}
	})

	t.Run("undocumented path passes through", func(t *testing.T) {
		v := newValidator(t)
		rc := validationContext("POST", "/formrecognizer/documentModels/prebuilt-read:analyze", `{}`)

		if resp := v.ValidateRequest(rc); resp != nil {
			t.Errorf("expected undocumented path to pass, got rejection: %s", resp.Body)
		}
	})
}
