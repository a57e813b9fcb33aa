// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"net/http"

	"github.com/hashicorp/go-hclog"
	"github.com/metis/ssoclient/session"
)

const (
	// DefaultAddr is the address the Server listens on. The port is picked
	// by the system.
	DefaultAddr = "127.0.0.1:0"

	// DefaultStartPath is the path the Server's page starts at.
	DefaultStartPath = "/"

	// maxFrameRedirects bounds the redirects an HTTPFrame follows.
	maxFrameRedirects = 10
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

// OpenerFunc shows u to the user, typically by launching a browser.
type OpenerFunc func(ctx context.Context, u string) error

// serverOptions is the set of available options for NewServer
type serverOptions struct {
	withLogger       hclog.Logger
	withAddr         string
	withCallbackPath string
	withStartPath    string
	withOpener       OpenerFunc
	withPageHandler  PageHandler
}

func serverDefaults() serverOptions {
	return serverOptions{
		withLogger:       hclog.NewNullLogger(),
		withAddr:         DefaultAddr,
		withCallbackPath: session.DefaultCallbackPath,
		withStartPath:    DefaultStartPath,
	}
}

func getServerOpts(opt ...Option) serverOptions {
	opts := serverDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// frameOptions is the set of available options for NewHTTPFrame
type frameOptions struct {
	withLogger     hclog.Logger
	withHTTPClient *http.Client
}

func frameDefaults() frameOptions {
	return frameOptions{
		withLogger: hclog.NewNullLogger(),
	}
}

func getFrameOpts(opt ...Option) frameOptions {
	opts := frameDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger.
//
// Valid for: Server and HTTPFrame
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if l == nil {
			return
		}
		switch v := o.(type) {
		case *serverOptions:
			v.withLogger = l
		case *frameOptions:
			v.withLogger = l
		}
	}
}

// WithAddr overrides DefaultAddr.
//
// Valid for: Server
func WithAddr(addr string) Option {
	return func(o interface{}) {
		if v, ok := o.(*serverOptions); ok && addr != "" {
			v.withAddr = addr
		}
	}
}

// WithCallbackPath overrides session.DefaultCallbackPath. It must match the
// path of the redirect URL registered with the provider.
//
// Valid for: Server
func WithCallbackPath(p string) Option {
	return func(o interface{}) {
		if v, ok := o.(*serverOptions); ok && p != "" {
			v.withCallbackPath = p
		}
	}
}

// WithStartPath overrides DefaultStartPath.
//
// Valid for: Server
func WithStartPath(p string) Option {
	return func(o interface{}) {
		if v, ok := o.(*serverOptions); ok && p != "" {
			v.withStartPath = p
		}
	}
}

// WithOpener provides what shows pages of other origins to the user. The
// default only logs the URL.
//
// Valid for: Server
func WithOpener(fn OpenerFunc) Option {
	return func(o interface{}) {
		if v, ok := o.(*serverOptions); ok {
			v.withOpener = fn
		}
	}
}

// WithPageHandler provides what runs when the provider redirects the
// browser back to the callback path.
//
// Valid for: Server
func WithPageHandler(h PageHandler) Option {
	return func(o interface{}) {
		if v, ok := o.(*serverOptions); ok {
			v.withPageHandler = h
		}
	}
}

// WithHTTPClient provides the client used to talk to the provider. The
// default is a pooled go-cleanhttp client. The client is copied; its Jar and
// CheckRedirect are replaced.
//
// Valid for: HTTPFrame
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		if v, ok := o.(*frameOptions); ok && c != nil {
			v.withHTTPClient = c
		}
	}
}
