// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package sso

import (
	"time"

	"github.com/hashicorp/go-hclog"
)

// DefaultAllowedOrigin is the origin of the host application.
const DefaultAllowedOrigin = "https://localhost:5001"

// Recorder observes cross-window messages. Direction is "inbound" or
// "outbound", outcome one of "accepted", "ignored", "posted" or "failed".
type Recorder interface {
	ObserveMessage(direction, msgType, outcome string)
}

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

type options struct {
	withLogger        hclog.Logger
	withNowFunc       func() time.Time
	withAllowedOrigin string
	withRecorder      Recorder
	withReadLimit     int64
	withBufferSize    int
}

func getDefaults() options {
	return options{
		withLogger:        hclog.NewNullLogger(),
		withNowFunc:       time.Now,
		withAllowedOrigin: DefaultAllowedOrigin,
		withReadLimit:     64 << 10,
		withBufferSize:    16,
	}
}

func getOpts(opt ...Option) options {
	opts := getDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithNow provides an optional func for determining what the current time
// is.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && now != nil {
			o.withNowFunc = now
		}
	}
}

// WithAllowedOrigin sets the only origin a Listener accepts messages from.
func WithAllowedOrigin(origin string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && origin != "" {
			o.withAllowedOrigin = origin
		}
	}
}

// WithRecorder provides an optional Recorder.
func WithRecorder(r Recorder) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withRecorder = r
		}
	}
}

// WithReadLimit caps the size of an inbound websocket message.
func WithReadLimit(n int64) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && n > 0 {
			o.withReadLimit = n
		}
	}
}

// WithBufferSize sets how many inbound messages a channel buffers.
func WithBufferSize(n int) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && n > 0 {
			o.withBufferSize = n
		}
	}
}

type nopRecorder struct{}

func (nopRecorder) ObserveMessage(string, string, string) {}

func recorderOrNop(r Recorder) Recorder {
	if r == nil {
		return nopRecorder{}
	}
	return r
}
