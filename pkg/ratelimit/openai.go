package ratelimit

import (
	"log/slog"
	"math"
	"time"

	"github.com/bart-jansen/aoai-simulated-api/pkg/config"
	"github.com/bart-jansen/aoai-simulated-api/pkg/logging"
	"github.com/bart-jansen/aoai-simulated-api/pkg/simulator"
)

// deploymentWindows holds the two admission windows for one deployment.
type deploymentWindows struct {
	requests *fixedWindow
	tokens   *fixedWindow
}

// OpenAILimiter enforces per-deployment quotas for the OpenAI surface.
//
// The configured tokens-per-minute figure is spread over 10-second fixed
// windows: ceil(tpm/6) tokens and ceil(tpm/6000) requests per window. The
// request window is checked first at cost 1, then the token window at the
// request's token count. A deployment configured with zero tokens-per-minute
// therefore rejects everything; deployments with a negative figure are not
// limited at all.
type OpenAILimiter struct {
	log         *slog.Logger
	deployments map[string]*deploymentWindows
}

var _ simulator.Limiter = (*OpenAILimiter)(nil)

// NewOpenAILimiter derives admission windows from the deployment config.
func NewOpenAILimiter(log *slog.Logger, deployments map[string]*config.Deployment) *OpenAILimiter {
	if log == nil {
		log = logging.Nop()
	}

	windows := make(map[string]*deploymentWindows, len(deployments))
	for name, d := range deployments {
		if d == nil || d.TokensPerMinute < 0 {
			continue
		}
		tokensPer10s := int64(math.Ceil(float64(d.TokensPerMinute) / 6))
		requestsPer10s := int64(math.Ceil(float64(d.TokensPerMinute) / (1000 * 6)))
		windows[name] = &deploymentWindows{
			requests: newFixedWindow(requestsPer10s, 10*time.Second),
			tokens:   newFixedWindow(tokensPer10s, 10*time.Second),
		}
	}

	return &OpenAILimiter{log: log, deployments: windows}
}

// Check admits or rejects one produced response. Requests without a token
// count or deployment name are logged and passed through: the lookup finds
// no windows for them.
func (l *OpenAILimiter) Check(rc *simulator.RequestContext, _ *simulator.Response) *simulator.Response {
	if rc.Tokens == 0 || rc.DeploymentName == "" {
		l.log.Warn("no token count or deployment name found for rate limiting",
			"deployment", rc.DeploymentName,
			"tokens", rc.Tokens,
		)
	}

	w := l.deployments[rc.DeploymentName]
	if w == nil {
		return nil
	}

	if !w.requests.Hit(1) {
		retry := w.requests.RetryAfter()
		l.log.Debug("request rate limit exceeded",
			"deployment", rc.DeploymentName,
			"retry_after", retry,
		)
		return denialResponse(serviceOpenAI, retry)
	}

	if !w.tokens.Hit(int64(rc.Tokens)) {
		retry := w.tokens.RetryAfter()
		l.log.Debug("token rate limit exceeded",
			"deployment", rc.DeploymentName,
			"tokens", rc.Tokens,
			"retry_after", retry,
		)
		return denialResponse(serviceOpenAI, retry)
	}

	return nil
}
