// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"net/url"
	"sync"

	"github.com/metis/ssoclient/callback"
	"github.com/metis/ssoclient/session"
)

// terminalWindow is the page of commands which never serve a callback. It
// stays at the application's origin and opens every navigation for the user.
type terminalWindow struct {
	open callback.OpenerFunc

	mu  sync.Mutex
	url *url.URL
}

var _ session.Window = (*terminalWindow)(nil)

func newTerminalWindow(origin *url.URL, open callback.OpenerFunc) *terminalWindow {
	return &terminalWindow{
		open: open,
		url:  &url.URL{Scheme: origin.Scheme, Host: origin.Host, Path: "/"},
	}
}

func (w *terminalWindow) URL() *url.URL {
	w.mu.Lock()
	defer w.mu.Unlock()
	cp := *w.url
	return &cp
}

func (w *terminalWindow) ReplaceURL(raw string) {
	ref, err := url.Parse(raw)
	if err != nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.url = w.url.ResolveReference(ref)
}

func (w *terminalWindow) Navigate(ctx context.Context, raw string) error {
	ref, err := url.Parse(raw)
	if err != nil {
		return err
	}
	w.mu.Lock()
	target := w.url.ResolveReference(ref)
	w.mu.Unlock()
	return w.open(ctx, target.String())
}
