// Package httpclient builds the HTTP clients used against remote endpoints.
package httpclient

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

const maxRedirects = 10

// ErrInsecureRedirect is returned when a redirect leaves https.
var ErrInsecureRedirect = errors.New("redirect to a non-https location refused")

// New creates a client that only follows redirects to https locations.
func New(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:       timeout,
		CheckRedirect: HTTPSOnly,
	}
}

// HTTPSOnly is an http.Client CheckRedirect policy that refuses any hop away from https.
func HTTPSOnly(req *http.Request, via []*http.Request) error {
	if req.URL.Scheme != "https" {
		return fmt.Errorf("%w: %s", ErrInsecureRedirect, req.URL.Redacted())
	}
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	return nil
}
