// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/metis/ssoclient/oidc"
	"github.com/metis/ssoclient/storage"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// minExpiringDelay keeps a token which is already inside its notification
// window from renewing in a tight loop.
const minExpiringDelay = time.Second

// Manager drives the session lifecycle of one page load. It's the only
// writer of session data and is safe for concurrent use.
type Manager struct {
	provider *oidc.Provider
	store    *Store
	window   Window
	frame    SilentFrame
	notifier Notifier
	logger   hclog.Logger
	nowFunc  func() time.Time

	callbackPath             string
	automaticSilentRenew     bool
	loadUserInfo             bool
	monitorSession           bool
	monitorInterval          time.Duration
	expiringNotificationTime time.Duration
	requestExpiry            time.Duration

	initGroup   singleflight.Group
	initMu      sync.Mutex
	initDone    bool
	initOutcome initResult

	renewGroup singleflight.Group

	backgroundCtx       context.Context
	backgroundCtxCancel context.CancelFunc

	mu            sync.Mutex
	current       *Session
	state         State
	subscribers   map[int]func(Change)
	nextSubID     int
	expiringTimer *time.Timer
	expiredTimer  *time.Timer
	monitorCancel context.CancelFunc
	closed        bool
}

// NewManager creates a Manager for the provider which persists to kv and
// runs in the window.
//
// Supported options: WithLogger, WithNow, WithSilentFrame, WithNotifier,
// WithCallbackPath, WithAutomaticSilentRenew, WithLoadUserInfo,
// WithMonitorSession, WithExpiringNotificationTime, WithRequestExpiry
func NewManager(p *oidc.Provider, kv storage.Store, w Window, opt ...Option) (*Manager, error) {
	const op = "session.NewManager"
	switch {
	case p == nil:
		return nil, fmt.Errorf("%s: provider is nil: %w", op, ErrNilParameter)
	case kv == nil:
		return nil, fmt.Errorf("%s: storage is nil: %w", op, ErrNilParameter)
	case w == nil:
		return nil, fmt.Errorf("%s: window is nil: %w", op, ErrNilParameter)
	}
	cfg := p.Config()
	store, err := NewStore(kv, cfg.Issuer, cfg.ClientID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	opts := getManagerOpts(opt...)
	callbackPath := opts.withCallbackPath
	if callbackPath == "" {
		callbackPath = DefaultCallbackPath
		if u, err := url.Parse(cfg.RedirectURL); err == nil && u.Path != "" {
			callbackPath = u.Path
		}
	}
	nowFunc := opts.withNowFunc
	if nowFunc == nil {
		nowFunc = cfg.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		provider:                 p,
		store:                    store,
		window:                   w,
		frame:                    opts.withSilentFrame,
		notifier:                 opts.withNotifier,
		logger:                   opts.withLogger,
		nowFunc:                  nowFunc,
		callbackPath:             callbackPath,
		automaticSilentRenew:     opts.withAutomaticSilentRenew,
		loadUserInfo:             opts.withLoadUserInfo,
		monitorSession:           opts.withMonitorSession,
		monitorInterval:          opts.withMonitorInterval,
		expiringNotificationTime: opts.withExpiringNotificationTime,
		requestExpiry:            opts.withRequestExpiry,
		backgroundCtx:            ctx,
		backgroundCtxCancel:      cancel,
		state:                    StateUnauthenticated,
		subscribers:              map[int]func(Change){},
	}, nil
}

// Store returns the manager's session store.
func (m *Manager) Store() *Store { return m.store }

// Provider returns the manager's provider.
func (m *Manager) Provider() *oidc.Provider { return m.provider }

func (m *Manager) now() time.Time { return m.nowFunc() }

// Initialize bootstraps authentication for the page load. It runs once for
// the lifetime of the Manager: concurrent callers share the in-flight run
// and later callers get its outcome.
//
// An SSO handshake in the URL triggers a silent sign-in carrying the
// handshake state, falling back to a redirect sign-in with the same state.
// Otherwise a stored, unexpired user is adopted, and on the callback path
// the authorization response is exchanged for tokens.
func (m *Manager) Initialize(ctx context.Context) (Flow, error) {
	if r, ok := m.initialized(); ok {
		return r.flow, r.err
	}
	v, _, shared := m.initGroup.Do("initialize", func() (interface{}, error) {
		if r, ok := m.initialized(); ok {
			return r, nil
		}
		flow, err := m.initialize(ctx)
		r := initResult{flow: flow, err: err}
		m.initMu.Lock()
		m.initDone, m.initOutcome = true, r
		m.initMu.Unlock()
		return r, nil
	})
	if shared {
		m.logger.Trace("joined in-flight initialization")
	}
	r := v.(initResult)
	return r.flow, r.err
}

type initResult struct {
	flow Flow
	err  error
}

func (m *Manager) initialized() (initResult, bool) {
	m.initMu.Lock()
	defer m.initMu.Unlock()
	return m.initOutcome, m.initDone
}

func (m *Manager) initialize(ctx context.Context) (Flow, error) {
	const op = "Manager.Initialize"
	u := m.window.URL()
	if u == nil {
		return FlowNone, fmt.Errorf("%s: window url is nil: %w: %w", op, ErrInitializationFailed, ErrNilParameter)
	}
	if hs, ok := ParseHandshake(u); ok {
		return m.handoff(ctx, u, hs)
	}

	stored, err := m.store.User(ctx)
	if err != nil {
		return FlowNone, fmt.Errorf("%s: %w: %w", op, ErrInitializationFailed, err)
	}
	if stored.IsAuthenticated(m.now()) {
		m.adopt(stored)
		m.logger.Debug("session rehydrated", "sub", stored.Subject(), "expires_at", stored.ExpiresAt)
		return FlowRehydrated, nil
	}
	if !m.isCallback(u) {
		return FlowNone, nil
	}

	m.setState(StatePendingCallback)
	if _, err := m.signinCallback(ctx, u); err != nil {
		m.settleState()
		keys, _ := m.store.Keys(ctx)
		m.logger.Error("unable to complete sign-in callback", "error", err, "keys", keys)
		return FlowCallback, fmt.Errorf("%s: %w: %w", op, ErrInitializationFailed, err)
	}
	m.window.ReplaceURL("/")
	return FlowCallback, nil
}

// handoff completes an SSO handshake from a host application.
func (m *Manager) handoff(ctx context.Context, u *url.URL, hs Handshake) (Flow, error) {
	const op = "Manager.Initialize"
	if err := m.store.SetTransient(ctx, hs.State, ""); err != nil {
		return FlowNone, fmt.Errorf("%s: %w: %w", op, ErrInitializationFailed, err)
	}
	m.window.ReplaceURL(barePath(u))
	m.logger.Info("sso handshake received", "state", hs.State)

	s, err := m.signinSilent(ctx, hs.State)
	if err == nil {
		if m.notifier != nil {
			if err := m.notifier.NotifyComplete(ctx, s.Clone().Profile); err != nil {
				m.logger.Warn("unable to notify opener", "error", err)
			}
		}
		return FlowSSOSilent, nil
	}
	m.logger.Info("silent sso sign-in failed, falling back to redirect", "state", hs.State, "error", err)
	if err := m.signinRedirect(ctx, hs.State); err != nil {
		return FlowSSORedirect, fmt.Errorf("%s: %w: %w", op, ErrInitializationFailed, err)
	}
	return FlowSSORedirect, nil
}

func (m *Manager) isCallback(u *url.URL) bool {
	p := u.Path
	if p == "" {
		p = "/"
	}
	return path.Clean(p) == path.Clean(m.callbackPath)
}

// Login starts an interactive redirect sign-in.
func (m *Manager) Login(ctx context.Context) error {
	const op = "Manager.Login"
	if err := m.signinRedirect(ctx, ""); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Logout clears the session locally, then navigates to the provider's
// end-session endpoint. Without one it navigates to the post logout
// redirect URL. The local session is cleared even when Logout fails.
func (m *Manager) Logout(ctx context.Context) error {
	const op = "Manager.Logout"
	m.mu.Lock()
	cur := m.current
	m.mu.Unlock()
	if cur == nil {
		// the stored user still carries a usable id_token_hint
		cur, _ = m.store.User(ctx)
	}
	var idTokenHint oidc.IDToken
	if cur != nil {
		idTokenHint = cur.IDToken
	}

	var result *multierror.Error
	target, err := m.provider.EndSessionURL(idTokenHint, "")
	if err != nil {
		if !errors.Is(err, oidc.ErrMissingEndpoint) {
			result = multierror.Append(result, err)
		}
		target = m.provider.Config().PostLogoutRedirectURL
		if target == "" {
			target = "/"
		}
	}
	if err := m.store.RemoveUser(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if err := m.store.PurgeTransient(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if _, err := m.store.RemoveStaleRequests(ctx, m.now()); err != nil {
		result = multierror.Append(result, err)
	}
	m.clear(nil, EventUserUnloaded, StateUnauthenticated, nil)
	m.logger.Info("signed out", "sub", cur.Subject())

	if err := m.window.Navigate(ctx, target); err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrLogoutFailed, err)
	}
	return nil
}

// SilentRenew renews the session without user interaction and returns the
// new session. Concurrent callers share one renewal.
//
// When the renewal fails and a session was current, an interactive login
// is started and the returned error wraps ErrLoginStarted. Without a prior
// session it returns nil, nil. A canceled ctx returns the ctx error without
// a login.
func (m *Manager) SilentRenew(ctx context.Context) (*Session, error) {
	const op = "Manager.SilentRenew"
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", op, ErrClosed)
	}
	m.mu.Unlock()

	v, err, _ := m.renewGroup.Do("renew", func() (interface{}, error) {
		m.mu.Lock()
		hadSession := m.current != nil
		m.mu.Unlock()

		s, err := m.signinSilent(ctx, "")
		if err == nil {
			return s, nil
		}
		m.publishError(EventSilentRenewError, err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", op, ctxErr)
		}
		if !hadSession {
			m.logger.Debug("silent renew failed without a session", "error", err)
			return nil, nil
		}
		m.logger.Warn("silent renew failed, starting interactive login", "error", err)
		if loginErr := m.signinRedirect(ctx, ""); loginErr != nil {
			return nil, fmt.Errorf("%s: %w", op, multierror.Append(err, loginErr))
		}
		return nil, fmt.Errorf("%s: %w: %w", op, ErrLoginStarted, err)
	})
	if err != nil {
		return nil, err
	}
	s, _ := v.(*Session)
	return s.Clone(), nil
}

// AccessToken returns the current access_token when it hasn't expired. A
// newer user written to the store by another page load is adopted.
func (m *Manager) AccessToken(ctx context.Context) (oidc.AccessToken, bool) {
	m.mu.Lock()
	cur := m.current
	m.mu.Unlock()
	now := m.now()
	if cur.IsAuthenticated(now) {
		return cur.AccessToken, true
	}
	stored, err := m.store.User(ctx)
	if err != nil {
		m.logger.Warn("unable to read stored user", "error", err)
		return "", false
	}
	if !stored.IsAuthenticated(now) {
		return "", false
	}
	m.adopt(stored)
	return stored.AccessToken, true
}

// IsAuthenticated reports whether a current session exists whose
// access_token expires after now.
func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.IsAuthenticated(m.now())
}

// CurrentUser returns a copy of the current session, falling back to the
// stored user. It returns nil when there's neither.
func (m *Manager) CurrentUser(ctx context.Context) (*Session, error) {
	const op = "Manager.CurrentUser"
	m.mu.Lock()
	cur := m.current
	m.mu.Unlock()
	if cur != nil {
		return cur.Clone(), nil
	}
	stored, err := m.store.User(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if stored.IsAuthenticated(m.now()) {
		m.adopt(stored)
	}
	return stored.Clone(), nil
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers fn for every Change and returns a func which
// unregisters it. fn is called synchronously and must not block.
func (m *Manager) Subscribe(fn func(Change)) func() {
	if fn == nil {
		return func() {}
	}
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = fn
	m.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subscribers, id)
			m.mu.Unlock()
		})
	}
}

// Close stops the timers and the session monitor. The stored user is kept.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.stopTimersLocked()
	m.stopMonitorLocked()
	m.backgroundCtxCancel()
}

// signinRedirect stores a new request and navigates to the provider.
func (m *Manager) signinRedirect(ctx context.Context, state string) error {
	const op = "Manager.signinRedirect"
	authURL, reqState, err := m.beginRequest(ctx, m.provider.Config().RedirectURL, state)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrLoginFailed, err)
	}
	m.setState(StatePendingCallback)
	if err := m.window.Navigate(ctx, authURL); err != nil {
		m.abandonRequest(ctx, reqState)
		m.settleState()
		return fmt.Errorf("%s: %w: %w", op, ErrLoginFailed, err)
	}
	m.logger.Debug("redirect sign-in started", "state", reqState)
	return nil
}

// signinSilent uses the refresh_token grant when there's a refresh token
// and no state was requested. Otherwise, or when the provider rejects the
// refresh token, it runs a prompt=none request through the silent frame.
func (m *Manager) signinSilent(ctx context.Context, state string) (*Session, error) {
	const op = "Manager.signinSilent"
	if state == "" {
		if prev := m.refreshable(ctx); prev.CanRefresh() {
			s, err := m.refresh(ctx, prev)
			if err == nil {
				return s, nil
			}
			var authErr *oidc.AuthError
			if !errors.As(err, &authErr) || m.frame == nil {
				return nil, fmt.Errorf("%s: %w: %w", op, ErrSilentRenewFailed, err)
			}
			m.logger.Debug("refresh token rejected, trying a silent authorization", "error", err)
		}
	}
	if m.frame == nil {
		return nil, fmt.Errorf("%s: no refresh token and no silent frame: %w", op, ErrSilentRenewFailed)
	}
	authURL, reqState, err := m.beginRequest(ctx, m.provider.Config().SilentRedirectURL, state, oidc.None)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrSilentRenewFailed, err)
	}
	loc, err := m.frame.Load(ctx, authURL)
	if err != nil {
		m.abandonRequest(ctx, reqState)
		return nil, fmt.Errorf("%s: %w: %w", op, ErrSilentRenewFailed, err)
	}
	s, err := m.signinCallback(ctx, loc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrSilentRenewFailed, err)
	}
	return s, nil
}

// refreshable returns the session whose refresh token can be used.
func (m *Manager) refreshable(ctx context.Context) *Session {
	m.mu.Lock()
	cur := m.current
	m.mu.Unlock()
	if cur.CanRefresh() {
		return cur
	}
	stored, err := m.store.User(ctx)
	if err != nil {
		m.logger.Warn("unable to read stored user", "error", err)
		return cur
	}
	if stored.CanRefresh() {
		return stored
	}
	return cur
}

func (m *Manager) refresh(ctx context.Context, prev *Session) (*Session, error) {
	const op = "Manager.refresh"
	tk, err := m.provider.Refresh(ctx, prev.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s, err := m.newSession(ctx, tk, prev)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := m.setSession(ctx, s); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	m.logger.Debug("session refreshed", "sub", s.Subject(), "expires_at", s.ExpiresAt)
	return s, nil
}

// beginRequest creates and stores an authentication request and returns
// its authorization URL and state.
func (m *Manager) beginRequest(ctx context.Context, redirectURL, state string, prompts ...oidc.Prompt) (string, string, error) {
	const op = "Manager.beginRequest"
	v, err := oidc.NewCodeVerifier()
	if err != nil {
		return "", "", fmt.Errorf("%s: %w", op, err)
	}
	opts := []oidc.Option{oidc.WithPKCE(v), oidc.WithNow(m.nowFunc)}
	if state != "" {
		opts = append(opts, oidc.WithState(state))
	}
	if len(prompts) > 0 {
		opts = append(opts, oidc.WithPrompts(prompts...))
	}
	req, err := oidc.NewRequest(m.requestExpiry, redirectURL, opts...)
	if err != nil {
		return "", "", fmt.Errorf("%s: %w", op, err)
	}
	authURL, err := m.provider.AuthURL(ctx, req)
	if err != nil {
		return "", "", fmt.Errorf("%s: %w", op, err)
	}
	if err := m.store.SetRequest(ctx, req); err != nil {
		return "", "", fmt.Errorf("%s: %w", op, err)
	}
	return authURL, req.State(), nil
}

// abandonRequest removes a request which will never be answered along with
// the transient pair.
func (m *Manager) abandonRequest(ctx context.Context, state string) {
	if state != "" {
		if _, err := m.store.takeRequest(ctx, state); err != nil && !errors.Is(err, ErrNotFound) {
			m.logger.Warn("unable to remove request", "state", state, "error", err)
		}
	}
	if err := m.store.PurgeTransient(ctx); err != nil {
		m.logger.Warn("unable to purge transient keys", "error", err)
	}
}

// signinCallback completes a request from the provider's authorization
// response in u.
func (m *Manager) signinCallback(ctx context.Context, u *url.URL) (*Session, error) {
	const op = "Manager.signinCallback"
	q := u.Query()
	state := q.Get("state")
	defer func() {
		if err := m.store.PurgeTransient(ctx); err != nil {
			m.logger.Warn("unable to purge transient keys", "error", err)
		}
	}()
	if authErr := oidc.ParseAuthError(q); authErr != nil {
		m.abandonRequest(ctx, state)
		return nil, fmt.Errorf("%s: %w", op, authErr)
	}
	if state == "" {
		return nil, fmt.Errorf("%s: authorization response state is empty: %w", op, ErrInvalidParameter)
	}
	rec, err := m.store.takeRequest(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req, err := rec.request(m.nowFunc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	tk, err := m.provider.Exchange(ctx, req, state, q.Get("code"))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	m.mu.Lock()
	prev := m.current
	m.mu.Unlock()
	s, err := m.newSession(ctx, tk, prev)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := m.setSession(ctx, s); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	m.logger.Info("signed in", "sub", s.Subject(), "expires_at", s.ExpiresAt, "scopes", s.Scopes)
	return s, nil
}

// newSession builds a Session from tk. Tokens the provider didn't return
// are carried over from prev.
func (m *Manager) newSession(ctx context.Context, tk oidc.Token, prev *Session) (*Session, error) {
	const op = "Manager.newSession"
	s := &Session{
		AccessToken:  tk.AccessToken(),
		RefreshToken: tk.RefreshToken(),
		IDToken:      tk.IDToken(),
		TokenType:    tk.TokenType(),
		ExpiresAt:    tk.Expiry(),
		Scopes:       tk.Scopes(),
	}
	if len(s.Scopes) == 0 {
		s.Scopes = m.provider.Config().RequestedScopes()
	}
	if prev != nil {
		if s.RefreshToken == "" {
			s.RefreshToken = prev.RefreshToken
		}
		if s.IDToken == "" {
			s.IDToken = prev.IDToken
		}
	}
	switch {
	case tk.IDToken() != "":
		var claims map[string]interface{}
		if err := tk.IDToken().Claims(&claims); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		s.Profile = profileFromClaims(claims)
	case prev != nil:
		s.Profile = prev.Clone().Profile
	default:
		s.Profile = map[string]interface{}{}
	}
	if m.loadUserInfo {
		m.mergeUserInfo(ctx, s)
	}
	return s, nil
}

// mergeUserInfo merges the userinfo claims over the profile. A failure
// leaves the profile as is.
func (m *Manager) mergeUserInfo(ctx context.Context, s *Session) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: string(s.AccessToken),
		TokenType:   s.TokenType,
	})
	var claims map[string]interface{}
	if err := m.provider.UserInfo(ctx, ts, s.Subject(), &claims); err != nil {
		m.logger.Warn("unable to load user info", "sub", s.Subject(), "error", err)
		return
	}
	for k, v := range claims {
		s.Profile[k] = v
	}
}

// setSession persists s and makes it current.
func (m *Manager) setSession(ctx context.Context, s *Session) error {
	if err := m.store.SetUser(ctx, s); err != nil {
		return err
	}
	m.adopt(s)
	return nil
}

// adopt makes s current, schedules its timers and starts the monitor.
func (m *Manager) adopt(s *Session) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.current = s
	m.state = StateAuthenticated
	m.scheduleLocked(s)
	m.startMonitorLocked()
	change, subs := m.changeLocked(EventUserLoaded, nil)
	m.mu.Unlock()
	publish(subs, change)
}

// clear drops the current session when it's s, or unconditionally when s
// is nil.
func (m *Manager) clear(s *Session, event Event, state State, err error) {
	m.mu.Lock()
	if s != nil && m.current != s {
		m.mu.Unlock()
		return
	}
	m.current = nil
	m.state = state
	m.stopTimersLocked()
	m.stopMonitorLocked()
	change, subs := m.changeLocked(event, err)
	m.mu.Unlock()
	publish(subs, change)
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}

// settleState restores the state implied by the current session after an
// abandoned flow.
func (m *Manager) settleState() {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.current.IsAuthenticated(m.now()):
		m.state = StateAuthenticated
	default:
		m.state = StateUnauthenticated
	}
}

func (m *Manager) publishError(event Event, err error) {
	m.mu.Lock()
	change, subs := m.changeLocked(event, err)
	m.mu.Unlock()
	publish(subs, change)
}

func (m *Manager) changeLocked(event Event, err error) (Change, []func(Change)) {
	c := Change{
		Event:   event,
		State:   m.state,
		Session: m.current.Clone(),
		Err:     err,
	}
	subs := make([]func(Change), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subs = append(subs, fn)
	}
	return c, subs
}

func publish(subs []func(Change), c Change) {
	for _, fn := range subs {
		fn(c)
	}
}

// scheduleLocked arms the expiring and expired timers of s.
func (m *Manager) scheduleLocked(s *Session) {
	m.stopTimersLocked()
	if s.ExpiresAt.IsZero() {
		return
	}
	untilExpired := s.ExpiresAt.Sub(m.now())
	if untilExpired < 0 {
		untilExpired = 0
	}
	untilExpiring := untilExpired - m.expiringNotificationTime
	if untilExpiring < minExpiringDelay {
		untilExpiring = minExpiringDelay
	}
	if untilExpiring < untilExpired {
		m.expiringTimer = time.AfterFunc(untilExpiring, func() { m.tokenExpiring(s) })
	}
	m.expiredTimer = time.AfterFunc(untilExpired, func() { m.tokenExpired(s) })
}

func (m *Manager) stopTimersLocked() {
	if m.expiringTimer != nil {
		m.expiringTimer.Stop()
		m.expiringTimer = nil
	}
	if m.expiredTimer != nil {
		m.expiredTimer.Stop()
		m.expiredTimer = nil
	}
}

func (m *Manager) tokenExpiring(s *Session) {
	m.mu.Lock()
	if m.closed || m.current != s {
		m.mu.Unlock()
		return
	}
	m.state = StateExpiring
	change, subs := m.changeLocked(EventTokenExpiring, nil)
	m.mu.Unlock()
	publish(subs, change)
	m.logger.Debug("access token expiring", "sub", s.Subject(), "expires_at", s.ExpiresAt)

	if !m.automaticSilentRenew {
		return
	}
	if _, err := m.SilentRenew(m.backgroundCtx); err != nil {
		m.logger.Warn("automatic silent renew failed", "sub", s.Subject(), "error", err)
	}
}

// tokenExpired drops the session. The stored user is kept so a later
// silent renew can use its refresh token.
func (m *Manager) tokenExpired(s *Session) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return
	}
	m.logger.Debug("access token expired", "sub", s.Subject())
	m.clear(s, EventTokenExpired, StateExpired, nil)
}

func (m *Manager) startMonitorLocked() {
	if !m.monitorSession || m.monitorCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(m.backgroundCtx)
	m.monitorCancel = cancel
	go m.monitor(ctx)
}

func (m *Manager) stopMonitorLocked() {
	if m.monitorCancel != nil {
		m.monitorCancel()
		m.monitorCancel = nil
	}
}

// monitor polls the provider until ctx is done.
func (m *Manager) monitor(ctx context.Context) {
	ticker := time.NewTicker(m.monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkSession(ctx)
		}
	}
}

func (m *Manager) checkSession(ctx context.Context) {
	m.mu.Lock()
	cur := m.current
	m.mu.Unlock()
	if !cur.IsAuthenticated(m.now()) {
		return
	}
	err := m.provider.CheckSession(ctx, cur.AccessToken)
	switch {
	case err == nil:
	case errors.Is(err, oidc.ErrUnauthorized):
		m.signedOut(ctx, cur)
	case ctx.Err() != nil:
	default:
		m.logger.Debug("session check failed", "error", err)
	}
}

// signedOut handles a sign out at the provider.
func (m *Manager) signedOut(ctx context.Context, s *Session) {
	m.logger.Info("signed out at the provider", "sub", s.Subject())
	var result *multierror.Error
	if err := m.store.RemoveUser(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if err := m.store.PurgeTransient(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		m.logger.Warn("unable to clear storage after sign out", "error", err)
	}
	m.clear(s, EventUserSignedOut, StateUnauthenticated, nil)
}
