package simulator

// Limiter applies admission control to a produced response. Check returns a
// replacement response when the request exceeds its quota, or nil to keep
// the original. Implementations are invoked concurrently and must
// synchronize their own counters.
type Limiter interface {
	Check(rc *RequestContext, resp *Response) *Response
}

// LimiterFunc adapts a function to the Limiter interface.
type LimiterFunc func(rc *RequestContext, resp *Response) *Response

// Check calls f.
func (f LimiterFunc) Check(rc *RequestContext, resp *Response) *Response {
	return f(rc, resp)
}

// LimiterRegistry maps resource keys to limiters. It is built once at
// startup and read-only while requests are in flight; the limiters' own
// counters carry the concurrent state.
type LimiterRegistry struct {
	limiters map[string]Limiter
}

// NewLimiterRegistry creates an empty registry.
func NewLimiterRegistry() *LimiterRegistry {
	return &LimiterRegistry{limiters: make(map[string]Limiter)}
}

// Register adds a limiter under the given resource key, replacing any
// previous registration.
func (r *LimiterRegistry) Register(key string, l Limiter) {
	r.limiters[key] = l
}

// Lookup returns the limiter for key, or nil if none is registered.
func (r *LimiterRegistry) Lookup(key string) Limiter {
	return r.limiters[key]
}

// Keys returns the registered resource keys.
func (r *LimiterRegistry) Keys() []string {
	keys := make([]string, 0, len(r.limiters))
	for k := range r.limiters {
		keys = append(keys, k)
	}
	return keys
}
