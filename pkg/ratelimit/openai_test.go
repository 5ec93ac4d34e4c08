package ratelimit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"testing"

	"github.com/bart-jansen/aoai-simulated-api/pkg/config"
	"github.com/bart-jansen/aoai-simulated-api/pkg/simulator"
)

func newOpenAILimiter(tpm int) *OpenAILimiter {
	return NewOpenAILimiter(nil, map[string]*config.Deployment{
		"gpt": {Model: "gpt-35-turbo", TokensPerMinute: tpm},
	})
}

func checkDenial(t *testing.T, resp *simulator.Response, service string) int {
	t.Helper()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}

	var body errorBody
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		t.Fatalf("denial body is not JSON: %v", err)
	}
	if body.Error.Code != "429" {
		t.Errorf("expected error code %q, got %q", "429", body.Error.Code)
	}
	if !strings.Contains(body.Error.Message, "Requests to the "+service+" have exceeded call rate limit") {
		t.Errorf("unexpected denial message: %q", body.Error.Message)
	}

	retryHeader := resp.Header.Get("Retry-After")
	retry, err := strconv.Atoi(retryHeader)
	if err != nil {
		t.Fatalf("Retry-After %q is not an integer: %v", retryHeader, err)
	}
	if got := resp.Header.Get("x-ratelimit-reset-requests"); got != retryHeader {
		t.Errorf("x-ratelimit-reset-requests %q does not match Retry-After %q", got, retryHeader)
	}
	if !strings.Contains(body.Error.Message, "retry after "+retryHeader+" seconds") {
		t.Errorf("message %q does not carry the retry hint %s", body.Error.Message, retryHeader)
	}
	return retry
}

func TestOpenAILimiter_UnknownDeploymentPasses(t *testing.T) {
	t.Parallel()
	l := newOpenAILimiter(6000)
	rc := &simulator.RequestContext{DeploymentName: "unknown", Tokens: 10}

	for i := 0; i < 20; i++ {
		if resp := l.Check(rc, nil); resp != nil {
			t.Fatalf("unknown deployment should never be limited, denied on request %d", i+1)
		}
	}
}

func TestOpenAILimiter_WithinQuotaPasses(t *testing.T) {
	t.Parallel()
	// 60000 tpm: 10 requests and 10000 tokens per 10-second window.
	l := newOpenAILimiter(60000)
	rc := &simulator.RequestContext{DeploymentName: "gpt", Tokens: 100}

	for i := 0; i < 5; i++ {
		if resp := l.Check(rc, nil); resp != nil {
			t.Fatalf("request %d within quota was denied", i+1)
		}
	}
}

func TestOpenAILimiter_RequestWindowDenies(t *testing.T) {
	t.Parallel()
	// 6000 tpm: a single request per 10-second window.
	l := newOpenAILimiter(6000)
	rc := &simulator.RequestContext{DeploymentName: "gpt", Tokens: 10}

	var denial *simulator.Response
	for i := 0; i < 5 && denial == nil; i++ {
		denial = l.Check(rc, nil)
	}
	if denial == nil {
		t.Fatal("expected a denial within 5 requests at 1 request per window")
	}

	retry := checkDenial(t, denial, serviceOpenAI)
	if retry < 1 || retry > 10 {
		t.Errorf("retry hint %d outside the window range [1,10]", retry)
	}
}

func TestOpenAILimiter_TokenWindowDenies(t *testing.T) {
	t.Parallel()
	// 60000 tpm: 10 requests and 10000 tokens per window; three 4000-token
	// requests exhaust the token window well before the request window.
	l := newOpenAILimiter(60000)
	rc := &simulator.RequestContext{DeploymentName: "gpt", Tokens: 4000}

	var denial *simulator.Response
	for i := 0; i < 8 && denial == nil; i++ {
		denial = l.Check(rc, nil)
	}
	if denial == nil {
		t.Fatal("expected a token denial within 8 requests of 4000 tokens")
	}
	checkDenial(t, denial, serviceOpenAI)
}

func TestOpenAILimiter_ZeroTPMDeniesEverything(t *testing.T) {
	t.Parallel()
	l := newOpenAILimiter(0)
	rc := &simulator.RequestContext{DeploymentName: "gpt", Tokens: 5}

	denial := l.Check(rc, nil)
	if denial == nil {
		t.Fatal("zero tokens-per-minute should deny the first request")
	}
	checkDenial(t, denial, serviceOpenAI)
}

func TestOpenAILimiter_NegativeTPMUnlimited(t *testing.T) {
	t.Parallel()
	l := newOpenAILimiter(-1)
	rc := &simulator.RequestContext{DeploymentName: "gpt", Tokens: 1000000}

	for i := 0; i < 50; i++ {
		if resp := l.Check(rc, nil); resp != nil {
			t.Fatalf("negative tokens-per-minute should disable limiting, denied on request %d", i+1)
		}
	}
}

func TestOpenAILimiter_MissingTokensPasses(t *testing.T) {
	t.Parallel()
	l := newOpenAILimiter(60000)
	// No token count: the request window still applies but a zero token
	// cost never saturates the token window.
	rc := &simulator.RequestContext{DeploymentName: "gpt"}

	if resp := l.Check(rc, nil); resp != nil {
		t.Fatal("request without a token count should pass while within the request window")
	}
}
