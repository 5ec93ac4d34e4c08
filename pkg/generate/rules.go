package generate

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/bart-jansen/aoai-simulated-api/pkg/config"
	"github.com/bart-jansen/aoai-simulated-api/pkg/logging"
	"github.com/bart-jansen/aoai-simulated-api/pkg/simulator"
)

// compiledRule pairs a config rule with its compiled match programs.
type compiledRule struct {
	rule    *config.GeneratorRule
	program *vm.Program
	schema  *jsonschema.Schema
}

// RuleGenerator evaluates config-driven response rules. The CLI wires it
// ahead of the built-in generators, so rules can claim any request first.
type RuleGenerator struct {
	log   *slog.Logger
	rules []compiledRule
}

var _ simulator.Generator = (*RuleGenerator)(nil)

// NewRuleGenerator compiles the configured rules. A rule that fails to
// compile is a startup error.
func NewRuleGenerator(log *slog.Logger, rules []*config.GeneratorRule) (*RuleGenerator, error) {
	if log == nil {
		log = logging.Nop()
	}

	g := &RuleGenerator{log: log, rules: make([]compiledRule, 0, len(rules))}
	envTemplate := map[string]interface{}{
		"method": "",
		"path":   "",
		"query":  map[string]string{},
		"header": map[string]string{},
		"body":   interface{}(nil),
	}

	for _, rule := range rules {
		program, err := expr.Compile(rule.When, expr.Env(envTemplate), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("rule %q: compile when expression: %w", rule.Name, err)
		}
		cr := compiledRule{rule: rule, program: program}

		if len(rule.BodySchema) > 0 {
			cr.schema, err = compileBodySchema(rule.Name, rule.BodySchema)
			if err != nil {
				return nil, err
			}
		}
		g.rules = append(g.rules, cr)
	}
	return g, nil
}

func compileBodySchema(name string, raw map[string]any) (*jsonschema.Schema, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("rule %q: marshal body schema: %w", name, err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource("schema.json", strings.NewReader(string(data))); err != nil {
		return nil, fmt.Errorf("rule %q: add body schema: %w", name, err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("rule %q: compile body schema: %w", name, err)
	}
	return schema, nil
}

// Produce evaluates the rules in order and responds for the first match.
// A rule whose expression fails at runtime is skipped, not a fault: one
// broken rule must not take down every other route.
func (g *RuleGenerator) Produce(rc *simulator.RequestContext) (*simulator.Response, error) {
	if len(g.rules) == 0 {
		return nil, nil
	}

	env := requestEnv(rc)
	for i := range g.rules {
		cr := &g.rules[i]

		out, err := expr.Run(cr.program, env)
		if err != nil {
			g.log.Warn("rule evaluation failed", "rule", cr.rule.Name, "error", err)
			continue
		}
		if matched, _ := out.(bool); !matched {
			continue
		}

		if cr.schema != nil {
			doc := rc.JSONBody()
			if doc == nil {
				continue
			}
			if err := cr.schema.Validate(doc); err != nil {
				g.log.Debug("rule body schema did not match", "rule", cr.rule.Name)
				continue
			}
		}

		return g.respond(rc, cr.rule), nil
	}
	return nil, nil
}

// requestEnv builds the expression environment: method, path, first-value
// query and header maps, and the parsed JSON body (nil when absent).
func requestEnv(rc *simulator.RequestContext) map[string]interface{} {
	r := rc.Request

	query := make(map[string]string)
	for k, vs := range r.URL.Query() {
		if len(vs) > 0 {
			query[k] = vs[0]
		}
	}
	header := make(map[string]string, len(r.Header))
	for k, vs := range r.Header {
		if len(vs) > 0 {
			header[k] = vs[0]
		}
	}

	return map[string]interface{}{
		"method": r.Method,
		"path":   r.URL.Path,
		"query":  query,
		"header": header,
		"body":   rc.JSONBody(),
	}
}

func (g *RuleGenerator) respond(rc *simulator.RequestContext, rule *config.GeneratorRule) *simulator.Response {
	rc.LimiterName = rule.Limiter
	rc.DeploymentName = rule.Deployment
	rc.Tokens = rule.Tokens
	rc.RecordedDurationMs = rule.LatencyMs

	status := rule.Response.Status
	if status == 0 {
		status = http.StatusOK
	}
	resp := simulator.NewResponse(status)
	if body := expandPlaceholders(rule.Response.Body, rc.Request.Method, rc.Request.URL.Path); body != "" {
		resp.Body = []byte(body)
		if json.Valid(resp.Body) {
			resp.Header.Set("Content-Type", "application/json")
		} else {
			resp.Header.Set("Content-Type", "text/plain; charset=utf-8")
		}
	}
	for k, v := range rule.Response.Headers {
		resp.Header.Set(k, v)
	}

	g.log.Debug("rule matched", "rule", rule.Name, "status", resp.StatusCode)
	return resp
}

// expandPlaceholders substitutes ${method}, ${path} and ${path.N} (path
// segment by zero-based index) in a response body template. Unknown
// placeholders and plain dollar signs pass through untouched.
func expandPlaceholders(template, method, path string) string {
	if !strings.Contains(template, "${") {
		return template
	}

	segments := strings.Split(strings.Trim(path, "/"), "/")
	var b strings.Builder
	for {
		i := strings.Index(template, "${")
		if i < 0 {
			b.WriteString(template)
			break
		}
		j := strings.Index(template[i:], "}")
		if j < 0 {
			b.WriteString(template)
			break
		}

		b.WriteString(template[:i])
		name := template[i+2 : i+j]
		value, known := resolvePlaceholder(name, method, path, segments)
		if known {
			b.WriteString(value)
		} else {
			b.WriteString(template[i : i+j+1])
		}
		template = template[i+j+1:]
	}
	return b.String()
}

func resolvePlaceholder(name, method, path string, segments []string) (string, bool) {
	switch {
	case name == "method":
		return method, true
	case name == "path":
		return path, true
	case strings.HasPrefix(name, "path."):
		idx, err := strconv.Atoi(strings.TrimPrefix(name, "path."))
		if err == nil && idx >= 0 && idx < len(segments) {
			return segments[idx], true
		}
	}
	return "", false
}
