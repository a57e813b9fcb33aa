// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

// Package apiclient is the HTTP client for the backend API. It attaches the
// session's access_token as a bearer credential and recovers from a single
// unauthorized response by silently renewing the session and replaying the
// request once.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"
	"github.com/metis/ssoclient/oidc"
	"github.com/metis/ssoclient/session"
	"golang.org/x/sync/singleflight"
)

// Paths of the backend's demo endpoints.
const (
	ProtectedDataPath = "/api/metis/protected"
	SharedDataPath    = "/api/metis/shared"
	PublicDataPath    = "/api/metis/public"
	UserInfoPath      = "/api/sso/userinfo"
)

// TokenSource provides the access_token for requests and renews it. An
// auth.Facade or a session.Manager satisfies it.
type TokenSource interface {
	AccessToken(ctx context.Context) (oidc.AccessToken, bool)
	SilentRenew(ctx context.Context) (*session.Session, error)
}

// Navigator sends the user to another page. A session.Window satisfies it.
type Navigator interface {
	Navigate(ctx context.Context, u string) error
}

// Response is a fully read response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON unmarshals the body into v.
func (r *Response) JSON(v interface{}) error {
	const op = "Response.JSON"
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Client is an authenticated client of one backend API.
type Client struct {
	baseURL   *url.URL
	tokens    TokenSource
	client    *http.Client
	navigator Navigator
	loginPath string
	headers   http.Header
	logger    hclog.Logger
	recorder  Recorder

	// renewals coalesces renewals of requests which are rejected together.
	renewals singleflight.Group
}

// New creates a Client for the API at baseURL.
//
// Supported options: WithLogger, WithHTTPClient, WithNavigator,
// WithLoginPath, WithRecorder, WithHeaders
func New(baseURL string, tokens TokenSource, opt ...Option) (*Client, error) {
	const op = "apiclient.New"
	if tokens == nil {
		return nil, fmt.Errorf("%s: token source is nil: %w", op, ErrNilParameter)
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%s: base url: %w: %w", op, ErrInvalidParameter, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%s: base url %q is not http(s): %w", op, baseURL, ErrInvalidParameter)
	}
	opts := getClientOpts(opt...)
	c := &Client{
		baseURL:   u,
		tokens:    tokens,
		client:    opts.withHTTPClient,
		navigator: opts.withNavigator,
		loginPath: opts.withLoginPath,
		headers:   opts.withHeaders,
		logger:    opts.withLogger,
		recorder:  opts.withRecorder,
	}
	if c.client == nil {
		c.client = cleanhttp.DefaultPooledClient()
	}
	return c, nil
}

// Do sends a request to path, which is resolved against the base url. A
// []byte or json.RawMessage body is sent as is; any other non-nil body is
// encoded as JSON.
//
// An unauthorized response is retried at most once: the session is renewed
// and the request replayed with the new access_token. When the renewal
// fails, or the replay is unauthorized too, the user is sent to the login
// path and the request fails with ErrUnauthorized. A renewal which already
// started an interactive login isn't followed by another navigation. A
// response outside the 2xx range is returned along with a *StatusError.
func (c *Client) Do(ctx context.Context, method, path string, body interface{}) (*Response, error) {
	const op = "Client.Do"
	target, err := c.resolve(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	payload, err := encodeBody(body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	at, _ := c.tokens.AccessToken(ctx)
	resp, err := c.send(ctx, method, target, payload, at)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return checkStatus(op, resp)
	}

	c.logger.Debug("request unauthorized, renewing session", "method", method, "path", target.Path)
	renewed, err := c.renew(ctx)
	if err != nil {
		unauthorized := &StatusError{StatusCode: resp.StatusCode, Body: resp.Body}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return resp, fmt.Errorf("%s: %w: %w", op, unauthorized, ctxErr)
		}
		c.recorder.ObserveReplay(OutcomeRenewFailed)
		c.logger.Debug("unable to renew session", "error", err)
		if !errors.Is(err, session.ErrLoginStarted) {
			c.toLogin(ctx)
		}
		return resp, fmt.Errorf("%s: %w: %w", op, unauthorized, err)
	}

	resp, err = c.send(ctx, method, target, payload, renewed)
	if err != nil {
		return nil, fmt.Errorf("%s: replay: %w", op, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		c.recorder.ObserveReplay(OutcomeUnauthorized)
		c.toLogin(ctx)
	} else {
		c.recorder.ObserveReplay(OutcomeReplayed)
	}
	return checkStatus(op, resp)
}

// toLogin sends the user to the login path. The request's ctx may be done
// by the time it's called.
func (c *Client) toLogin(ctx context.Context) {
	if c.navigator == nil {
		return
	}
	if err := c.navigator.Navigate(context.WithoutCancel(ctx), c.loginPath); err != nil {
		c.logger.Error("unable to navigate to login", "path", c.loginPath, "error", err)
	}
}

// Get sends a GET request.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil)
}

// Post sends a POST request.
func (c *Client) Post(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.Do(ctx, http.MethodPost, path, body)
}

// Put sends a PUT request.
func (c *Client) Put(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.Do(ctx, http.MethodPut, path, body)
}

// Delete sends a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, http.MethodDelete, path, nil)
}

// ProtectedData returns the payload of the protected endpoint.
func (c *Client) ProtectedData(ctx context.Context) (json.RawMessage, error) {
	return c.getData(ctx, ProtectedDataPath)
}

// SharedData returns the payload of the shared endpoint.
func (c *Client) SharedData(ctx context.Context) (json.RawMessage, error) {
	return c.getData(ctx, SharedDataPath)
}

// PublicData returns the payload of the public endpoint.
func (c *Client) PublicData(ctx context.Context) (json.RawMessage, error) {
	return c.getData(ctx, PublicDataPath)
}

// UserInfo returns the user as the backend sees it.
func (c *Client) UserInfo(ctx context.Context) (json.RawMessage, error) {
	return c.getData(ctx, UserInfoPath)
}

func (c *Client) getData(ctx context.Context, path string) (json.RawMessage, error) {
	const op = "Client.getData"
	resp, err := c.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	if !json.Valid(resp.Body) {
		return nil, fmt.Errorf("%s: %s response is not JSON: %w", op, path, ErrUnexpectedStatus)
	}
	return json.RawMessage(resp.Body), nil
}

// renew renews the session once for every request waiting on it. The
// shared renewal doesn't end when the first caller's ctx does; each caller
// stops waiting when its own ctx is done.
func (c *Client) renew(ctx context.Context) (oidc.AccessToken, error) {
	shared := context.WithoutCancel(ctx)
	ch := c.renewals.DoChan("renew", func() (interface{}, error) {
		s, err := c.tokens.SilentRenew(shared)
		if err != nil {
			return oidc.AccessToken(""), err
		}
		if s == nil || s.AccessToken == "" {
			return oidc.AccessToken(""), fmt.Errorf("no session: %w", ErrUnauthorized)
		}
		return s.AccessToken, nil
	})
	select {
	case res := <-ch:
		at, _ := res.Val.(oidc.AccessToken)
		return at, res.Err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Client) resolve(path string) (*url.URL, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("path %q: %w: %w", path, ErrInvalidParameter, err)
	}
	return c.baseURL.ResolveReference(ref), nil
}

func (c *Client) send(ctx context.Context, method string, target *url.URL, payload []byte, at oidc.AccessToken) (*Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, err
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if at != "" {
		req.Header.Set("Authorization", "Bearer "+string(at))
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("unable to read response: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: b}, nil
}

func encodeBody(body interface{}) ([]byte, error) {
	switch v := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("unable to encode body: %w: %w", ErrInvalidParameter, err)
		}
		return b, nil
	}
}

func checkStatus(op string, resp *Response) (*Response, error) {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, fmt.Errorf("%s: %w", op, &StatusError{StatusCode: resp.StatusCode, Body: resp.Body})
	}
	return resp, nil
}
