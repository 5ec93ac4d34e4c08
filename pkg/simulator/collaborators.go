package simulator

// Generator produces a response for a request it recognizes. Produce
// returns (nil, nil) when the request is not for this generator; the
// pipeline then tries the next one in the chain. A non-nil error aborts
// the request as an internal fault.
type Generator interface {
	Produce(rc *RequestContext) (*Response, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(rc *RequestContext) (*Response, error)

// Produce calls f.
func (f GeneratorFunc) Produce(rc *RequestContext) (*Response, error) {
	return f(rc)
}

// RecordReplay is the record/replay collaborator. In record mode
// HandleRequest forwards to the real upstream and captures the exchange;
// in replay mode it looks up a previously recorded one. (nil, nil) means
// no recording matched.
type RecordReplay interface {
	HandleRequest(rc *RequestContext) (*Response, error)
	// SaveRecordings flushes captured exchanges to storage. Only meaningful
	// in record mode; calling it twice without new traffic is a no-op.
	SaveRecordings() error
}

// RequestValidator optionally rejects malformed requests before dispatch.
// A nil return accepts the request; a non-nil response (typically 400)
// replaces dispatch entirely while still flowing through the remaining
// pipeline stages.
type RequestValidator interface {
	ValidateRequest(rc *RequestContext) *Response
}
