// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"time"

	"github.com/hashicorp/go-hclog"
)

const (
	// DefaultCallbackPath is the path of the redirect sign-in callback page.
	DefaultCallbackPath = "/signin-oidc"

	// DefaultExpiringNotificationTime is how long before the access_token
	// expires that EventTokenExpiring is raised.
	DefaultExpiringNotificationTime = 60 * time.Second

	// DefaultMonitorInterval is how often the provider is asked whether the
	// user's session is still alive.
	DefaultMonitorInterval = 30 * time.Second

	// DefaultRequestExpiry is how long an authentication request waits for
	// the provider's response.
	DefaultRequestExpiry = 10 * time.Minute
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

// managerOptions is the set of available options for NewManager
type managerOptions struct {
	withLogger                   hclog.Logger
	withNowFunc                  func() time.Time
	withSilentFrame              SilentFrame
	withNotifier                 Notifier
	withCallbackPath             string
	withAutomaticSilentRenew     bool
	withLoadUserInfo             bool
	withMonitorSession           bool
	withMonitorInterval          time.Duration
	withExpiringNotificationTime time.Duration
	withRequestExpiry            time.Duration
}

// managerDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func managerDefaults() managerOptions {
	return managerOptions{
		withLogger:                   hclog.NewNullLogger(),
		withAutomaticSilentRenew:     true,
		withLoadUserInfo:             true,
		withMonitorSession:           true,
		withMonitorInterval:          DefaultMonitorInterval,
		withExpiringNotificationTime: DefaultExpiringNotificationTime,
		withRequestExpiry:            DefaultRequestExpiry,
	}
}

func getManagerOpts(opt ...Option) managerOptions {
	opts := managerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithNow provides an optional func for determining what the current time
// is.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok {
			o.withNowFunc = now
		}
	}
}

// WithSilentFrame provides the capability used for prompt=none
// authentication. Without one, silent sign-in is limited to the
// refresh_token grant.
func WithSilentFrame(f SilentFrame) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok {
			o.withSilentFrame = f
		}
	}
}

// WithNotifier provides the opener notifier used when an SSO handoff
// completes silently.
func WithNotifier(n Notifier) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok {
			o.withNotifier = n
		}
	}
}

// WithCallbackPath overrides the path of the redirect sign-in callback page,
// which defaults to the redirect URL's path.
func WithCallbackPath(p string) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok {
			o.withCallbackPath = p
		}
	}
}

// WithAutomaticSilentRenew sets whether EventTokenExpiring triggers a silent
// renew. Defaults to true.
func WithAutomaticSilentRenew(enabled bool) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok {
			o.withAutomaticSilentRenew = enabled
		}
	}
}

// WithLoadUserInfo sets whether userinfo claims are merged into the profile
// after every token acquisition. Defaults to true.
func WithLoadUserInfo(enabled bool) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok {
			o.withLoadUserInfo = enabled
		}
	}
}

// WithMonitorSession sets whether the provider is polled for a remote sign
// out at the interval. A zero interval keeps DefaultMonitorInterval.
func WithMonitorSession(enabled bool, interval time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok {
			o.withMonitorSession = enabled
			if interval > 0 {
				o.withMonitorInterval = interval
			}
		}
	}
}

// WithExpiringNotificationTime overrides how long before expiry
// EventTokenExpiring is raised.
func WithExpiringNotificationTime(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok && d >= 0 {
			o.withExpiringNotificationTime = d
		}
	}
}

// WithRequestExpiry overrides how long an authentication request stays
// valid.
func WithRequestExpiry(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok && d > 0 {
			o.withRequestExpiry = d
		}
	}
}
