// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package auth

import (
	"github.com/hashicorp/go-hclog"
	"github.com/metis/ssoclient/session"
)

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

type facadeOptions struct {
	withLogger   hclog.Logger
	withNotifier session.Notifier
}

func facadeDefaults() facadeOptions {
	return facadeOptions{
		withLogger: hclog.NewNullLogger(),
	}
}

func getFacadeOpts(opt ...Option) facadeOptions {
	opts := facadeDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*facadeOptions); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithNotifier provides the opener notifier told about a signed in user
// once initialization completes.
func WithNotifier(n session.Notifier) Option {
	return func(o interface{}) {
		if o, ok := o.(*facadeOptions); ok {
			o.withNotifier = n
		}
	}
}
