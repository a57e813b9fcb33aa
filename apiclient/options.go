// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package apiclient

import (
	"net/http"

	"github.com/hashicorp/go-hclog"
)

// DefaultLoginPath is where the user is sent when a request can't be
// authorized.
const DefaultLoginPath = "/login"

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

// Recorder observes the outcome of renew-and-replay attempts.
type Recorder interface {
	ObserveReplay(outcome string)
}

// Replay outcomes passed to a Recorder.
const (
	OutcomeReplayed     = "replayed"
	OutcomeRenewFailed  = "renew_failed"
	OutcomeUnauthorized = "unauthorized"
)

type nopRecorder struct{}

func (nopRecorder) ObserveReplay(string) {}

// clientOptions is the set of available options for New
type clientOptions struct {
	withLogger     hclog.Logger
	withHTTPClient *http.Client
	withNavigator  Navigator
	withLoginPath  string
	withRecorder   Recorder
	withHeaders    http.Header
}

func clientDefaults() clientOptions {
	return clientOptions{
		withLogger:    hclog.NewNullLogger(),
		withLoginPath: DefaultLoginPath,
		withRecorder:  nopRecorder{},
	}
}

func getClientOpts(opt ...Option) clientOptions {
	opts := clientDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithHTTPClient provides an optional http client. The default is a pooled
// go-cleanhttp client.
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok && c != nil {
			o.withHTTPClient = c
		}
	}
}

// WithNavigator provides what sends the user to the login path when a
// renewal fails. Without one the request just fails.
func WithNavigator(n Navigator) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok {
			o.withNavigator = n
		}
	}
}

// WithLoginPath overrides DefaultLoginPath.
func WithLoginPath(p string) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok && p != "" {
			o.withLoginPath = p
		}
	}
}

// WithRecorder provides an optional Recorder.
func WithRecorder(r Recorder) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok && r != nil {
			o.withRecorder = r
		}
	}
}

// WithHeaders provides headers sent with every request.
func WithHeaders(h http.Header) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok {
			o.withHeaders = h.Clone()
		}
	}
}
