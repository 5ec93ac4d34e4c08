package ratelimit

import (
	"log/slog"
	"math"

	"golang.org/x/time/rate"

	"github.com/bart-jansen/aoai-simulated-api/pkg/logging"
	"github.com/bart-jansen/aoai-simulated-api/pkg/simulator"
)

// DocIntelligenceLimiter caps the document intelligence surface at a number
// of requests per second. A non-positive rate disables limiting while still
// keeping the limiter registered, so producers can select it unconditionally.
type DocIntelligenceLimiter struct {
	log     *slog.Logger
	limiter *rate.Limiter
}

var _ simulator.Limiter = (*DocIntelligenceLimiter)(nil)

// NewDocIntelligenceLimiter creates a limiter admitting rps requests per
// second with a burst of the same size.
func NewDocIntelligenceLimiter(log *slog.Logger, rps int) *DocIntelligenceLimiter {
	if log == nil {
		log = logging.Nop()
	}
	l := &DocIntelligenceLimiter{log: log}
	if rps > 0 {
		l.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	}
	return l
}

// Check admits or rejects one produced response.
func (l *DocIntelligenceLimiter) Check(_ *simulator.RequestContext, _ *simulator.Response) *simulator.Response {
	if l.limiter == nil {
		return nil
	}

	r := l.limiter.Reserve()
	delay := r.Delay()
	if delay == 0 {
		return nil
	}
	// Not admissible right now. Hand the slot back so the rejection does
	// not consume capacity.
	r.Cancel()

	retry := int(math.Ceil(delay.Seconds()))
	if retry < 1 {
		retry = 1
	}
	l.log.Debug("document intelligence rate limit exceeded", "retry_after", retry)
	return denialResponse(serviceDocIntelligence, retry)
}
