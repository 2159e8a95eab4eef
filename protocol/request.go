// Package protocol carries the two types every layer of the engine trades
// in: the parsed Request abstraction and the OAuth 2.0 error taxonomy. The
// engine never parses raw HTTP; the surrounding transport fills a Request
// from whatever framework it uses and renders Error values back out.
package protocol

import (
	"net/url"
	"strings"
)

// Request is the transport-independent view of an incoming endpoint request:
// method, parsed body parameters, query parameters and headers.
type Request struct {
	Method  string
	Body    url.Values
	Query   url.Values
	Headers map[string]string
}

// NewRequest creates an empty POST request, the common case at the token,
// introspection and revocation endpoints.
func NewRequest() *Request {
	return &Request{
		Method:  "POST",
		Body:    url.Values{},
		Query:   url.Values{},
		Headers: map[string]string{},
	}
}

// BodyParam returns the first body value for name, or "".
func (r *Request) BodyParam(name string) string {
	if r.Body == nil {
		return ""
	}
	return r.Body.Get(name)
}

// QueryParam returns the first query value for name, or "".
func (r *Request) QueryParam(name string) string {
	if r.Query == nil {
		return ""
	}
	return r.Query.Get(name)
}

// Header returns a header value using case-insensitive lookup, or "".
func (r *Request) Header(name string) string {
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// SetHeader sets a header value.
func (r *Request) SetHeader(name, value string) {
	if r.Headers == nil {
		r.Headers = map[string]string{}
	}
	r.Headers[name] = value
}
