// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"path"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"
	"github.com/metis/ssoclient/session"
	"golang.org/x/net/publicsuffix"
)

// HTTPFrame is a session.SilentFrame which loads prompt=none authorization
// requests over plain http. It keeps the provider's cookies between loads,
// so it only succeeds silently while it holds a provider session.
type HTTPFrame struct {
	client *http.Client
	logger hclog.Logger
}

var _ session.SilentFrame = (*HTTPFrame)(nil)

// NewHTTPFrame creates an HTTPFrame.
//
// Supported options: WithLogger, WithHTTPClient
func NewHTTPFrame(opt ...Option) (*HTTPFrame, error) {
	const op = "callback.NewHTTPFrame"
	opts := getFrameOpts(opt...)
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create cookie jar: %w", op, err)
	}
	var client http.Client
	if opts.withHTTPClient != nil {
		client = *opts.withHTTPClient
	} else {
		client = *cleanhttp.DefaultPooledClient()
	}
	client.Jar = jar
	client.CheckRedirect = nil
	return &HTTPFrame{client: &client, logger: opts.withLogger}, nil
}

// Load implements session.SilentFrame. It follows the provider's redirects
// until one targets the request's redirect_uri and returns that URL without
// requesting it. Any response the provider answers with instead (a login
// page, say) means the user would have to interact: ErrInteractionRequired.
func (f *HTTPFrame) Load(ctx context.Context, authURL string) (*url.URL, error) {
	const op = "HTTPFrame.Load"
	u, err := url.Parse(authURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidParameter, err)
	}
	redirect, err := url.Parse(u.Query().Get("redirect_uri"))
	if err != nil || redirect.Host == "" {
		return nil, fmt.Errorf("%s: authorization url has no redirect_uri: %w", op, ErrInvalidParameter)
	}

	client := *f.client
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if sameEndpoint(req.URL, redirect) {
			return http.ErrUseLastResponse
		}
		if len(via) >= maxFrameRedirects {
			return fmt.Errorf("stopped after %d redirects", maxFrameRedirects)
		}
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	loc, err := resp.Location()
	switch {
	case errors.Is(err, http.ErrNoLocation):
		f.logger.Debug("provider requires interaction", "status", resp.StatusCode)
		return nil, fmt.Errorf("%s: provider answered %d: %w", op, resp.StatusCode, ErrInteractionRequired)
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	case !sameEndpoint(loc, redirect):
		return nil, fmt.Errorf("%s: provider redirected to %s: %w", op, loc.Redacted(), ErrInteractionRequired)
	}
	return loc, nil
}

func sameEndpoint(a, b *url.URL) bool {
	return a.Scheme == b.Scheme && a.Host == b.Host && path.Clean("/"+a.Path) == path.Clean("/"+b.Path)
}
