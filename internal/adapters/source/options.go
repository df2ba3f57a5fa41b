package source

import (
	"net/http"
	"time"

	"github.com/okian/standings/pkg/logger"
)

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for every call.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.timeout = d
		}
	}
}

// WithPageDelay sets the minimum delay between consecutive page fetches.
// Zero disables throttling.
func WithPageDelay(d time.Duration) Option {
	return func(cl *Client) {
		if d >= 0 {
			cl.pageDelay = d
		}
	}
}

// WithMaxPages bounds the pages of one drain. Zero means unlimited.
func WithMaxPages(n int) Option {
	return func(cl *Client) {
		if n >= 0 {
			cl.maxPages = n
		}
	}
}

// WithBreaker sets how many consecutive failures open the circuit and how
// long it stays open.
func WithBreaker(consecutiveFailures uint32, openFor time.Duration) Option {
	return func(cl *Client) {
		if consecutiveFailures > 0 {
			cl.breakerFailures = consecutiveFailures
		}
		if openFor > 0 {
			cl.breakerOpenFor = openFor
		}
	}
}

// WithLogger sets a custom logger for the client.
func WithLogger(l logger.Logger) Option {
	return func(cl *Client) {
		if l != nil {
			cl.logger = l
		}
	}
}
