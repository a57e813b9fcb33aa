// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/metis/ssoclient/session"
)

// PageHandler runs for a page load of the callback path. page is the full
// URL the browser was redirected to. It typically creates a session.Manager
// for the Server and initializes it.
type PageHandler func(ctx context.Context, page *url.URL) (*session.Session, error)

// Result is the outcome of a callback page load.
type Result struct {
	Session *session.Session
	Err     error
}

// Server is a local http server which plays the page of a non-browser
// client. It implements session.Window: the page starts at the start path
// and moves to the callback path when the provider redirects the user's
// browser back to it. Navigations away from the Server are handed to the
// OpenerFunc.
type Server struct {
	base         *url.URL
	callbackPath string
	opener       OpenerFunc
	handler      PageHandler
	logger       hclog.Logger
	listener     net.Listener
	srv          *http.Server
	results      chan Result
	served       chan error

	mu        sync.Mutex
	page      *url.URL
	navigated []string
	closed    bool
}

var (
	_ session.Window = (*Server)(nil)
	_ http.Handler   = (*Server)(nil)
)

// NewServer starts a Server. Call Shutdown when done with it.
//
// Supported options: WithLogger, WithAddr, WithCallbackPath, WithStartPath,
// WithOpener, WithPageHandler
func NewServer(opt ...Option) (*Server, error) {
	const op = "callback.NewServer"
	opts := getServerOpts(opt...)
	ln, err := net.Listen("tcp", opts.withAddr)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to listen on %s: %w", op, opts.withAddr, err)
	}
	base := &url.URL{Scheme: "http", Host: ln.Addr().String()}
	s := &Server{
		base:         base,
		callbackPath: path.Clean("/" + opts.withCallbackPath),
		opener:       opts.withOpener,
		handler:      opts.withPageHandler,
		logger:       opts.withLogger,
		listener:     ln,
		results:      make(chan Result, 1),
		served:       make(chan error, 1),
		page:         base.ResolveReference(&url.URL{Path: opts.withStartPath}),
	}
	if s.opener == nil {
		s.opener = s.logOpener
	}
	s.srv = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		err := s.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.served <- err
	}()
	s.logger.Debug("callback server listening", "addr", base.Host)
	return s, nil
}

// BaseURL returns the Server's origin.
func (s *Server) BaseURL() string { return s.base.String() }

// RedirectURL returns the callback URL to register with the provider.
func (s *Server) RedirectURL() string {
	return s.base.ResolveReference(&url.URL{Path: s.callbackPath}).String()
}

// URL implements session.Window.
func (s *Server) URL() *url.URL {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.page
	return &cp
}

// ReplaceURL implements session.Window.
func (s *Server) ReplaceURL(raw string) {
	ref, err := url.Parse(raw)
	if err != nil {
		s.logger.Debug("ignoring unparsable url", "url", raw, "error", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.page = s.page.ResolveReference(ref)
}

// Navigate implements session.Window. A URL of the Server's own origin
// becomes the page; any other is opened for the user.
func (s *Server) Navigate(ctx context.Context, raw string) error {
	const op = "Server.Navigate"
	ref, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrInvalidParameter, err)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", op, ErrServerClosed)
	}
	target := s.page.ResolveReference(ref)
	s.navigated = append(s.navigated, target.String())
	if target.Scheme == s.base.Scheme && target.Host == s.base.Host {
		s.page = target
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	if err := s.opener(ctx, target.String()); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Navigations returns every URL navigated to, in order.
func (s *Server) Navigations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.navigated...)
}

func (s *Server) logOpener(_ context.Context, u string) error {
	s.logger.Info("open this url in a browser to continue", "url", u)
	return nil
}

// ServeHTTP serves the callback path: the request becomes the page, the
// PageHandler runs and its Result is rendered for the user.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if path.Clean(r.URL.Path) != s.callbackPath {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	page := s.base.ResolveReference(&url.URL{Path: r.URL.Path, RawQuery: r.URL.RawQuery})
	s.mu.Lock()
	s.page = page
	s.mu.Unlock()

	var res Result
	if s.handler != nil {
		res.Session, res.Err = s.handler(r.Context(), page)
	}
	if res.Err != nil {
		s.logger.Error("callback failed", "error", res.Err)
	}
	if err := renderResult(w, res); err != nil {
		s.logger.Error("unable to write callback page", "error", err)
	}
	s.deliver(res)
}

// deliver keeps only the latest Result.
func (s *Server) deliver(res Result) {
	for {
		select {
		case s.results <- res:
			return
		default:
		}
		select {
		case <-s.results:
		default:
		}
	}
}

// WaitForCallback blocks until a callback page load completes and returns
// its Result.
func (s *Server) WaitForCallback(ctx context.Context) (*session.Session, error) {
	const op = "Server.WaitForCallback"
	select {
	case res := <-s.results:
		if res.Err != nil {
			return nil, fmt.Errorf("%s: %w", op, res.Err)
		}
		return res.Session, nil
	case err := <-s.served:
		s.served <- err
		if err == nil {
			err = ErrServerClosed
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	}
}

// Shutdown stops the Server, waiting for in-flight page loads.
func (s *Server) Shutdown(ctx context.Context) error {
	const op = "Server.Shutdown"
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
