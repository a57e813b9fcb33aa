// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"net/url"
)

// Window is the page the client is loaded in.
type Window interface {
	// URL returns the page's current URL.
	URL() *url.URL

	// ReplaceURL rewrites the visible URL without loading a page, like
	// history.replaceState. The value may be a path or an absolute URL.
	ReplaceURL(u string)

	// Navigate loads u as the top level page. For a browser this abandons
	// the current page, so callers must not assume anything runs after a
	// successful Navigate.
	Navigate(ctx context.Context, u string) error
}

// SilentFrame loads an authorization request without showing it to the
// user, like a hidden iframe.
type SilentFrame interface {
	// Load requests authURL and returns the URL the provider redirected the
	// frame back to. That URL carries either an authorization code or an
	// authorization error.
	Load(ctx context.Context, authURL string) (*url.URL, error)
}

// Notifier tells the window which opened this one that an SSO handoff
// completed. See package sso.
type Notifier interface {
	NotifyComplete(ctx context.Context, profile map[string]interface{}) error
}
