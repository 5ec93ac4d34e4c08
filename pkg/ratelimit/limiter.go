// Package ratelimit implements the simulator's admission control.
//
// Two limiter families cover the simulated services:
//   - OpenAILimiter: per-deployment token and request quotas over 10-second
//     fixed windows, derived from a tokens-per-minute figure the way the
//     real service derives its burst windows.
//   - DocIntelligenceLimiter: a requests-per-second cap for the document
//     intelligence surface.
//
// Both implement simulator.Limiter and are registered under the keys below.
package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/bart-jansen/aoai-simulated-api/pkg/simulator"
)

// Registry keys the built-in limiters are registered under. Producers
// select a limiter by putting one of these on the request context.
const (
	KeyOpenAI          = "openai"
	KeyDocIntelligence = "docintelligence"
)

// Service names used in 429 messages.
const (
	serviceOpenAI          = "OpenAI API Simulator"
	serviceDocIntelligence = "Doc Intelligence API Simulator"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// denialResponse builds the 429 the simulated services return, with the
// retry hint in the body message and in the Retry-After and
// x-ratelimit-reset-requests headers.
func denialResponse(service string, retryAfter int) *simulator.Response {
	retry := strconv.Itoa(retryAfter)
	resp := simulator.NewJSONResponse(http.StatusTooManyRequests, errorBody{
		Error: errorDetail{
			Code: "429",
			Message: fmt.Sprintf(
				"Requests to the %s have exceeded call rate limit. Please retry after %s seconds.",
				service, retry,
			),
		},
	})
	resp.Header.Set("Retry-After", retry)
	resp.Header.Set("x-ratelimit-reset-requests", retry)
	return resp
}
