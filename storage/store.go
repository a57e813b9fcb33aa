// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

// Package storage provides the key/value stores used to persist session
// state: the signed in user, in-flight authentication requests and the
// transient flow keys. Values are opaque strings (the session package stores
// JSON).
package storage

import (
	"context"
	"errors"

	"github.com/hashicorp/go-hclog"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")
)

// Store is a string key/value store. Implementations must be safe for
// concurrent use. Get reports ok == false for a missing key and Remove of a
// missing key is not an error.
type Store interface {
	// Get returns the value stored under key.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores value under key, replacing any existing value.
	Set(ctx context.Context, key, value string) error

	// Remove deletes key.
	Remove(ctx context.Context, key string) error

	// Keys returns every key which starts with prefix, in no particular
	// order.
	Keys(ctx context.Context, prefix string) ([]string, error)
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

// options is the set of available options for every store.
type options struct {
	withLogger    hclog.Logger
	withKeyPrefix string
}

func getOpts(opt ...Option) options {
	opts := options{
		withLogger: hclog.NewNullLogger(),
	}
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger.
//
// Valid for: File and Redis
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithKeyPrefix namespaces every key written to a shared backend.
//
// Valid for: Redis
func WithKeyPrefix(prefix string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withKeyPrefix = prefix
		}
	}
}
