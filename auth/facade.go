// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

// Package auth is the application's single entry point to authentication.
//
// A Facade wraps a session.Manager: it initializes the manager exactly once,
// tracks an observable Status for UI binding and keeps the error of the last
// failed attempt until it's cleared.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/metis/ssoclient/oidc"
	"github.com/metis/ssoclient/session"
)

var ErrNilParameter = errors.New("nil parameter")

// Status is the observable authentication status. While IsLoading is true
// the User is indeterminate.
type Status struct {
	User      *session.Session
	IsLoading bool
	Err       error
}

// Facade exposes login, logout and the session to the rest of the
// application.
type Facade struct {
	manager  *session.Manager
	notifier session.Notifier
	logger   hclog.Logger

	done        chan struct{}
	initErr     error
	unsubscribe func()

	mu          sync.Mutex
	status      Status
	subscribers map[int]func(Status)
	nextSubID   int
}

// New creates a Facade and starts initializing the manager. Use Wait or
// Subscribe to learn when initialization completes.
//
// Supported options: WithLogger, WithNotifier
func New(ctx context.Context, m *session.Manager, opt ...Option) (*Facade, error) {
	const op = "auth.New"
	if m == nil {
		return nil, fmt.Errorf("%s: manager is nil: %w", op, ErrNilParameter)
	}
	opts := getFacadeOpts(opt...)
	f := &Facade{
		manager:     m,
		notifier:    opts.withNotifier,
		logger:      opts.withLogger,
		done:        make(chan struct{}),
		status:      Status{IsLoading: true},
		subscribers: map[int]func(Status){},
	}
	f.unsubscribe = m.Subscribe(f.sessionChanged)
	go f.initialize(ctx)
	return f, nil
}

func (f *Facade) initialize(ctx context.Context) {
	defer close(f.done)
	flow, err := f.manager.Initialize(ctx)
	if err != nil {
		f.logger.Error("unable to initialize authentication", "flow", flow, "error", err)
		f.initErr = err
		f.update(func(s *Status) {
			s.IsLoading = false
			s.Err = err
		})
		return
	}
	u, err := f.manager.CurrentUser(ctx)
	if err != nil {
		f.logger.Warn("unable to load current user", "error", err)
	}
	// an expired stored user isn't signed in
	if !f.manager.IsAuthenticated() {
		u = nil
	}
	f.logger.Debug("authentication initialized", "flow", flow, "sub", u.Subject())
	f.update(func(s *Status) {
		s.IsLoading = false
		s.User = u
	})

	// a silent SSO handoff already notified the opener
	if u != nil && f.notifier != nil && flow != session.FlowSSOSilent {
		if err := f.notifier.NotifyComplete(ctx, u.Profile); err != nil {
			f.logger.Warn("unable to notify opener", "error", err)
		}
	}
}

// Wait blocks until initialization completes and returns its error.
func (f *Facade) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.initErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Login starts an interactive sign-in. A failure is kept in the Status and
// returned.
func (f *Facade) Login(ctx context.Context) error {
	const op = "Facade.Login"
	f.ClearError()
	if err := f.manager.Login(ctx); err != nil {
		err = fmt.Errorf("%s: %w", op, err)
		f.setError(err)
		return err
	}
	return nil
}

// Logout signs the user out. A failure is kept in the Status and returned;
// the local session is cleared either way.
func (f *Facade) Logout(ctx context.Context) error {
	const op = "Facade.Logout"
	f.ClearError()
	if err := f.manager.Logout(ctx); err != nil {
		err = fmt.Errorf("%s: %w", op, err)
		f.setError(err)
		return err
	}
	return nil
}

// AccessToken returns the current access_token when there's an unexpired
// session.
func (f *Facade) AccessToken(ctx context.Context) (oidc.AccessToken, bool) {
	return f.manager.AccessToken(ctx)
}

// SilentRenew renews the session without user interaction.
func (f *Facade) SilentRenew(ctx context.Context) (*session.Session, error) {
	return f.manager.SilentRenew(ctx)
}

// CurrentUser returns the signed in user, or nil.
func (f *Facade) CurrentUser(ctx context.Context) (*session.Session, error) {
	return f.manager.CurrentUser(ctx)
}

// IsAuthenticated reports whether there's an unexpired session. It's
// indeterminate while the Status IsLoading.
func (f *Facade) IsAuthenticated() bool {
	return f.manager.IsAuthenticated()
}

// ClearError clears the error of the Status.
func (f *Facade) ClearError() {
	f.setError(nil)
}

// Status returns the current Status.
func (f *Facade) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// Subscribe registers fn for Status changes and returns a func which
// unregisters it.
func (f *Facade) Subscribe(fn func(Status)) func() {
	if fn == nil {
		return func() {}
	}
	f.mu.Lock()
	id := f.nextSubID
	f.nextSubID++
	f.subscribers[id] = fn
	f.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subscribers, id)
			f.mu.Unlock()
		})
	}
}

// Close stops observing the manager. It doesn't close the manager.
func (f *Facade) Close() {
	f.unsubscribe()
}

func (f *Facade) setError(err error) {
	f.update(func(s *Status) { s.Err = err })
}

func (f *Facade) sessionChanged(c session.Change) {
	switch c.Event {
	case session.EventUserLoaded, session.EventUserUnloaded, session.EventTokenExpired, session.EventUserSignedOut:
	default:
		return
	}
	f.update(func(s *Status) { s.User = c.Session })
}

func (f *Facade) update(fn func(*Status)) {
	f.mu.Lock()
	fn(&f.status)
	next := f.status
	subs := make([]func(Status), 0, len(f.subscribers))
	for _, s := range f.subscribers {
		subs = append(subs, s)
	}
	f.mu.Unlock()
	for _, s := range subs {
		s(next)
	}
}
