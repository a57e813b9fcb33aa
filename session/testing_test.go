// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/metis/ssoclient/oidc"
	"github.com/metis/ssoclient/storage"
	"github.com/stretchr/testify/require"
)

const (
	testRedirect       = "https://localhost:5001/signin-oidc"
	testSilentRedirect = "https://localhost:5001/silent-renew"
)

func testLogger() hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{Level: hclog.Error})
}

// testWindow records what a Manager does to the page.
type testWindow struct {
	mu          sync.Mutex
	url         *url.URL
	replaced    []string
	navigated   []string
	navigateErr error
}

func newTestWindow(t *testing.T, raw string) *testWindow {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return &testWindow{url: u}
}

func (w *testWindow) URL() *url.URL {
	w.mu.Lock()
	defer w.mu.Unlock()
	cp := *w.url
	return &cp
}

func (w *testWindow) ReplaceURL(raw string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.replaced = append(w.replaced, raw)
	if ref, err := url.Parse(raw); err == nil {
		w.url = w.url.ResolveReference(ref)
	}
}

func (w *testWindow) Navigate(_ context.Context, raw string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.navigateErr != nil {
		return w.navigateErr
	}
	w.navigated = append(w.navigated, raw)
	return nil
}

func (w *testWindow) Navigations() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.navigated...)
}

func (w *testWindow) Replaced() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.replaced...)
}

// testFrame completes silent requests against the TestProvider.
type testFrame struct {
	tp *oidc.TestProvider

	mu    sync.Mutex
	loads []string
	err   error
}

func (f *testFrame) Load(ctx context.Context, authURL string) (*url.URL, error) {
	f.mu.Lock()
	f.loads = append(f.loads, authURL)
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.tp.Authorize(ctx, authURL)
}

func (f *testFrame) Loads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.loads...)
}

type testNotifier struct {
	mu       sync.Mutex
	profiles []map[string]interface{}
}

func (n *testNotifier) NotifyComplete(_ context.Context, profile map[string]interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.profiles = append(n.profiles, profile)
	return nil
}

func (n *testNotifier) Profiles() []map[string]interface{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]map[string]interface{}(nil), n.profiles...)
}

// testManager returns a Manager for the TestProvider. The session monitor
// is off unless opt turns it on.
func testManager(t *testing.T, tp *oidc.TestProvider, kv storage.Store, w Window, opt ...Option) *Manager {
	t.Helper()
	p := oidc.TestProviderFor(t, tp, testRedirect,
		oidc.WithSilentRedirectURL(testSilentRedirect),
		oidc.WithScopes("profile", "offline_access"),
	)
	opts := append([]Option{WithLogger(testLogger()), WithMonitorSession(false, 0)}, opt...)
	m, err := NewManager(p, kv, w, opts...)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

// testSignIn runs a redirect sign-in and returns the Manager of the
// callback page load along with its window.
func testSignIn(t *testing.T, tp *oidc.TestProvider, kv storage.Store, opt ...Option) (*Manager, *testWindow) {
	t.Helper()
	ctx := context.Background()
	login := newTestWindow(t, "https://localhost:5001/login")
	require.NoError(t, testManager(t, tp, kv, login, opt...).Login(ctx))
	nav := login.Navigations()
	require.Len(t, nav, 1)

	loc, err := tp.Authorize(ctx, nav[0])
	require.NoError(t, err)
	w := newTestWindow(t, loc.String())
	m := testManager(t, tp, kv, w, opt...)
	flow, err := m.Initialize(ctx)
	require.NoError(t, err)
	require.Equal(t, FlowCallback, flow)
	return m, w
}

func testEvents(m *Manager) <-chan Change {
	ch := make(chan Change, 64)
	m.Subscribe(func(c Change) {
		select {
		case ch <- c:
		default:
		}
	})
	return ch
}

func testWaitEvent(t *testing.T, ch <-chan Change, want Event, timeout time.Duration) Change {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case c := <-ch:
			if c.Event == want {
				return c
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
			return Change{}
		}
	}
}
