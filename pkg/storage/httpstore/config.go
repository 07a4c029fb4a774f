// File: pkg/storage/httpstore/config.go
package httpstore

import (
	"time"

	"objstore/pkg/storage/retry"
)

// Config describes an HTTP-backed store rooted at URL
type Config struct {
	// Base URL; every object path is resolved below it
	URL string
	// Sent with every request unless the request already sets them
	Headers   map[string]string
	UserAgent string
	// Refuse servers that answer a ranged get with the full object
	StrictRanges bool
	// Upper bound on one operation up to the response headers; zero disables it
	Timeout time.Duration
	// Client-side pacing; zero disables it
	RequestsPerSecond float64
	Retry             retry.Policy
}

func DefaultConfig(url string) Config {
	return Config{
		URL:   url,
		Retry: retry.DefaultPolicy(),
	}
}

type options struct {
	doer         HTTPDoer
	decorators   []RequestDecorator
	retryOptions []retry.Option
	name         string
}

type Option func(*options)

// Replaces the default *http.Client
func WithDoer(d HTTPDoer) Option {
	return func(o *options) { o.doer = d }
}

// Appends a request decorator; decorators run in the order they were added
func WithDecorator(d RequestDecorator) Option {
	return func(o *options) { o.decorators = append(o.decorators, d) }
}

func WithRetryOptions(opts ...retry.Option) Option {
	return func(o *options) { o.retryOptions = append(o.retryOptions, opts...) }
}

// Names the store in errors and logs; defaults to "http"
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}
