package simulator

import (
	"encoding/json"
	"net/http"
)

// Response is the simulator's internal representation of an HTTP response.
// Producers build one; later pipeline stages either pass it through or
// replace it wholesale. A Response is never mutated after it is handed to
// the pipeline.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// NewResponse creates an empty response with the given status code.
func NewResponse(status int) *Response {
	return &Response{
		StatusCode: status,
		Header:     make(http.Header),
	}
}

// NewTextResponse creates a text/plain response.
func NewTextResponse(status int, body string) *Response {
	resp := NewResponse(status)
	resp.Header.Set("Content-Type", "text/plain; charset=utf-8")
	resp.Body = []byte(body)
	return resp
}

// NewJSONResponse creates an application/json response from v.
// Marshal failures surface as a 500 with an empty body; producers pass
// marshalable values so this path is not hit in practice.
func NewJSONResponse(status int, v any) *Response {
	resp := NewResponse(status)
	resp.Header.Set("Content-Type", "application/json")

	data, err := json.Marshal(v)
	if err != nil {
		resp.StatusCode = http.StatusInternalServerError
		return resp
	}
	resp.Body = data
	return resp
}

// Write sends the response to w. Headers are copied verbatim before the
// status code is written.
func (r *Response) Write(w http.ResponseWriter) error {
	for key, values := range r.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(r.StatusCode)
	if len(r.Body) == 0 {
		return nil
	}
	_, err := w.Write(r.Body)
	return err
}
