// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package circuitbreaker

import (
	"net/http"

	"github.com/pdiddy/deep-research/internal/httputil"
)

// HTTPClient routes requests through a breaker. Transport errors and 5xx
// responses count as failures; 4xx responses do not trip the breaker.
type HTTPClient struct {
	client httputil.Doer
	cb     *Breaker
}

// NewHTTPClient wraps client with cb.
func NewHTTPClient(client httputil.Doer, cb *Breaker) *HTTPClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPClient{client: client, cb: cb}
}

// Do executes req through the breaker. A 5xx response is still returned
// to the caller with a nil error.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := c.cb.Execute(func() error {
		var err error
		resp, err = c.client.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return &statusError{code: resp.StatusCode}
		}
		return nil
	})
	observe(c.cb, err == nil)
	if _, ok := err.(*statusError); ok {
		return resp, nil
	}
	return resp, err
}

// statusError marks 5xx responses for breaker accounting.
type statusError struct{ code int }

func (e *statusError) Error() string { return http.StatusText(e.code) }
