package generate

import (
	"net/http"
	"testing"

	"github.com/bart-jansen/aoai-simulated-api/pkg/config"
)

func TestRuleGenerator_CompileErrors(t *testing.T) {
	t.Parallel()

	if _, err := NewRuleGenerator(nil, []*config.GeneratorRule{
		{Name: "broken", When: `method ==`},
	}); err == nil {
		t.Error("expected a compile error for a malformed expression")
	}

	if _, err := NewRuleGenerator(nil, []*config.GeneratorRule{
		{Name: "not-bool", When: `method`},
	}); err == nil {
		t.Error("expected a compile error for a non-boolean expression")
	}

	if _, err := NewRuleGenerator(nil, []*config.GeneratorRule{
		{
			Name:       "bad-schema",
			When:       `true`,
			BodySchema: map[string]any{"type": 12345},
		},
	}); err == nil {
		t.Error("expected a compile error for an invalid body schema")
	}
}

func TestRuleGenerator_MatchesAndAnnotates(t *testing.T) {
	t.Parallel()
	g, err := NewRuleGenerator(nil, []*config.GeneratorRule{{
		Name: "custom-completion",
		When: `method == "POST" && path == "/custom/completions"`,
		Response: config.RuleResponse{
			Status:  http.StatusOK,
			Headers: map[string]string{"X-Rule": "custom-completion"},
			Body:    `{"ok": true}`,
		},
		LatencyMs:  120,
		Tokens:     35,
		Limiter:    "openai",
		Deployment: "custom",
	}})
	if err != nil {
		t.Fatalf("NewRuleGenerator: %v", err)
	}

	rc := newRequestContext("POST", "/custom/completions", "")
	resp := produce(t, g, rc)
	if resp == nil {
		t.Fatal("rule did not claim the request")
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Rule"); got != "custom-completion" {
		t.Errorf("rule header not set, got %q", got)
	}
	if got := resp.Header.Get("Content-Type"); got != "application/json" {
		t.Errorf("JSON body should default content type to application/json, got %q", got)
	}

	if rc.Tokens != 35 || rc.LimiterName != "openai" || rc.DeploymentName != "custom" || rc.RecordedDurationMs != 120 {
		t.Errorf("context not annotated from rule: %+v", rc)
	}

	// A request the expression does not cover passes through.
	other := newRequestContext("GET", "/custom/completions", "")
	if resp := produce(t, g, other); resp != nil {
		t.Error("GET request should not match a POST rule")
	}
}

func TestRuleGenerator_BodyExpression(t *testing.T) {
	t.Parallel()
	g, err := NewRuleGenerator(nil, []*config.GeneratorRule{{
		Name: "vanilla-only",
		When: `body != nil && body.flavor == "vanilla"`,
		Response: config.RuleResponse{
			Status: http.StatusOK,
			Body:   "matched",
		},
	}})
	if err != nil {
		t.Fatalf("NewRuleGenerator: %v", err)
	}

	match := newRequestContext("POST", "/orders", `{"flavor": "vanilla"}`)
	if resp := produce(t, g, match); resp == nil {
		t.Error("matching body should be claimed")
	}

	noMatch := newRequestContext("POST", "/orders", `{"flavor": "pistachio"}`)
	if resp := produce(t, g, noMatch); resp != nil {
		t.Error("non-matching body should pass through")
	}

	noBody := newRequestContext("POST", "/orders", "")
	if resp := produce(t, g, noBody); resp != nil {
		t.Error("missing body should pass through")
	}
}

func TestRuleGenerator_BodySchema(t *testing.T) {
	t.Parallel()
	g, err := NewRuleGenerator(nil, []*config.GeneratorRule{{
		Name: "needs-name",
		When: `path == "/things"`,
		BodySchema: map[string]any{
			"type":     "object",
			"required": []any{"name"},
		},
		Response: config.RuleResponse{Status: http.StatusCreated, Body: "created"},
	}})
	if err != nil {
		t.Fatalf("NewRuleGenerator: %v", err)
	}

	valid := newRequestContext("POST", "/things", `{"name": "widget"}`)
	resp := produce(t, g, valid)
	if resp == nil || resp.StatusCode != http.StatusCreated {
		t.Error("schema-valid body should be claimed")
	}

	invalid := newRequestContext("POST", "/things", `{"other": 1}`)
	if resp := produce(t, g, invalid); resp != nil {
		t.Error("schema-invalid body should pass through")
	}
}

func TestRuleGenerator_FirstMatchWins(t *testing.T) {
	t.Parallel()
	g, err := NewRuleGenerator(nil, []*config.GeneratorRule{
		{
			Name:     "first",
			When:     `true`,
			Response: config.RuleResponse{Status: http.StatusTeapot},
		},
		{
			Name:     "second",
			When:     `true`,
			Response: config.RuleResponse{Status: http.StatusOK},
		},
	})
	if err != nil {
		t.Fatalf("NewRuleGenerator: %v", err)
	}

	rc := newRequestContext("GET", "/anything", "")
	resp := produce(t, g, rc)
	if resp == nil || resp.StatusCode != http.StatusTeapot {
		t.Error("the first matching rule should win")
	}
}

func TestRuleGenerator_RuntimeErrorSkipsRule(t *testing.T) {
	t.Parallel()
	g, err := NewRuleGenerator(nil, []*config.GeneratorRule{
		{
			// body is nil for this request, so the field access fails
			// at runtime and the rule is skipped.
			Name:     "fragile",
			When:     `body.missing == 1`,
			Response: config.RuleResponse{Status: http.StatusInternalServerError},
		},
		{
			Name:     "fallback",
			When:     `true`,
			Response: config.RuleResponse{Status: http.StatusOK, Body: "ok"},
		},
	})
	if err != nil {
		t.Fatalf("NewRuleGenerator: %v", err)
	}

	rc := newRequestContext("GET", "/anything", "")
	resp := produce(t, g, rc)
	if resp == nil || resp.StatusCode != http.StatusOK {
		t.Error("a rule failing at runtime should fall through to the next")
	}
}

func TestExpandPlaceholders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{"no placeholders", `{"plain": true}`, `{"plain": true}`},
		{"method and path", `${method} ${path}`, `POST /things/42`},
		{"path segment", `{"id": "${path.1}"}`, `{"id": "42"}`},
		{"out of range segment", `${path.9}`, `${path.9}`},
		{"unknown placeholder", `${nope}`, `${nope}`},
		{"literal dollar", `cost: $10`, `cost: $10`},
		{"unterminated", `${path`, `${path`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := expandPlaceholders(tt.template, "POST", "/things/42"); got != tt.want {
				t.Errorf("expandPlaceholders(%q) = %q, want %q", tt.template, got, tt.want)
			}
		})
	}
}
