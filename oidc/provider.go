// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// Provider provides integration with an OIDC provider.
//
// It's primary capabilities include:
//   - Kicking off a user authentication via either the authorization code flow
//     (with PKCE) or a silent (prompt=none) authentication via AuthURL(...)
//   - The authorization code exchange and the refresh_token grant
//   - Verifying an id_token issued by a provider with VerifyIDToken(...)
//   - Retrieving a user's OAuth claims via UserInfo(...)
//   - Building the RP-initiated logout URL via EndSessionURL(...)
type Provider struct {
	config   *Config
	provider *oidc.Provider

	// client uses a pooled transport that uses the config's ProviderCA if
	// provided, otherwise it will use the installed system CA chain.  This
	// client's idle connections are closed in Provider.Done()
	client *http.Client

	userInfoURL   string
	endSessionURL string

	mu sync.Mutex

	// backgroundCtx is the context used by the provider for background
	// activities like: refreshing JWKs Key sets, refreshing tokens, etc
	backgroundCtx context.Context

	// backgroundCtxCancel is used to cancel any background activities running
	// in spawned go routines.
	backgroundCtxCancel context.CancelFunc
}

// discoveryClaims are the discovery document claims which go-oidc doesn't
// expose directly.
type discoveryClaims struct {
	UserInfoURL   string `json:"userinfo_endpoint"`
	EndSessionURL string `json:"end_session_endpoint"`
}

// NewProvider creates and initializes a Provider. Unless the config pins the
// provider's endpoints, intializing the provider includes making an http
// request to the provider's issuer for discovery.
//
// The Provider.Done() function must be called to release provider resources.
func NewProvider(c *Config) (*Provider, error) {
	const op = "NewProvider"
	if c == nil {
		return nil, fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: provider config is invalid: %w", op, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	// initializing the Provider with it's background ctx/cancel will
	// allow us to use p.Done() to release any resources when returning errors
	// from this function.
	p := &Provider{
		config:              c,
		backgroundCtx:       ctx,
		backgroundCtxCancel: cancel,
	}

	client, err := c.HTTPClient()
	if err != nil {
		p.Done() // release the backgroundCtxCancel resources
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}
	p.client = client
	oidcCtx := HTTPClientContext(p.backgroundCtx, client)

	switch {
	case c.ProviderConfig != nil:
		algs := make([]string, 0, len(c.SupportedSigningAlgs))
		for _, a := range c.SupportedSigningAlgs {
			algs = append(algs, string(a))
		}
		pc := &oidc.ProviderConfig{
			IssuerURL:   c.Issuer,
			AuthURL:     c.ProviderConfig.AuthURL,
			TokenURL:    c.ProviderConfig.TokenURL,
			UserInfoURL: c.ProviderConfig.UserInfoURL,
			JWKSURL:     c.ProviderConfig.JWKSURL,
			Algorithms:  algs,
		}
		p.provider = pc.NewProvider(oidcCtx)
		p.userInfoURL = c.ProviderConfig.UserInfoURL
		p.endSessionURL = c.ProviderConfig.EndSessionURL
	default:
		provider, err := oidc.NewProvider(oidcCtx, c.Issuer) // makes http req to issuer for discovery
		if err != nil {
			p.Done() // release the backgroundCtxCancel resources
			// we don't know what's causing the problem, so we won't classify the
			// error with a Kind
			return nil, fmt.Errorf("%s: unable to create provider: %w", op, err)
		}
		p.provider = provider
		var dc discoveryClaims
		if err := provider.Claims(&dc); err != nil {
			p.Done()
			return nil, fmt.Errorf("%s: unable to read discovery document: %w", op, err)
		}
		p.userInfoURL = dc.UserInfoURL
		p.endSessionURL = dc.EndSessionURL
	}
	return p, nil
}

// Done with the provider's background resources and must be called for every
// Provider created
func (p *Provider) Done() {
	// checking for nil here prevents a panic when developers neglect to check
	// the for an error before deferring a call to p.Done():
	// p, err := NewProvider(...)
	// defer p.Done()
	// if err != nil { ... }
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.backgroundCtxCancel != nil {
		p.backgroundCtxCancel()
		p.backgroundCtxCancel = nil
	}

	// release the http.Client's pooled connections
	if p.client != nil {
		p.client.CloseIdleConnections()
	}
}

// Config returns the provider's configuration.
func (p *Provider) Config() *Config { return p.config }

// HTTPClient returns the http client used to talk to the provider.
func (p *Provider) HTTPClient() *http.Client { return p.client }

// AuthURL will generate a URL the caller can use to kick off an OIDC
// authorization code (with PKCE) flow with an IdP.
//
// See NewRequest() to create an oidc flow Request with a valid state and Nonce that
// will uniquely identify the user's authentication attempt throughout the flow.
func (p *Provider) AuthURL(ctx context.Context, oidcRequest Request) (url string, e error) {
	const op = "Provider.AuthURL"
	if oidcRequest == nil {
		return "", fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
	}
	if oidcRequest.State() == oidcRequest.Nonce() {
		return "", fmt.Errorf("%s: request id and nonce cannot be equal: %w", op, ErrInvalidParameter)
	}
	if oidcRequest.IsExpired() {
		return "", fmt.Errorf("%s: request is expired: %w", op, ErrExpiredRequest)
	}

	oauth2Config := p.oauth2Config(oidcRequest.RedirectURL(), p.requestScopes(oidcRequest))
	authCodeOpts := []oauth2.AuthCodeOption{
		oidc.Nonce(oidcRequest.Nonce()),
	}
	if v := oidcRequest.PKCEVerifier(); v != nil {
		authCodeOpts = append(authCodeOpts,
			oauth2.SetAuthURLParam("code_challenge", v.Challenge()),
			oauth2.SetAuthURLParam("code_challenge_method", string(v.Method())),
		)
	}
	if prompts := oidcRequest.Prompts(); len(prompts) > 0 {
		values := make([]string, 0, len(prompts))
		for _, v := range prompts {
			values = append(values, string(v))
		}
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("prompt", strings.Join(values, " ")))
	}
	if locales := oidcRequest.UILocales(); len(locales) > 0 {
		values := make([]string, 0, len(locales))
		for _, l := range locales {
			values = append(values, l.String())
		}
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("ui_locales", strings.Join(values, " ")))
	}
	return oauth2Config.AuthCodeURL(oidcRequest.State(), authCodeOpts...), nil
}

// Exchange will request a token from the oidc token endpoint, using the
// authorizationCode and authorizationState it received in an earlier successful
// oidc authentication response.
//
// Exchange will use PKCE when the user's oidc Request specifies its use.
//
// It will also validate the authorizationState it receives against the
// existing Request for the user's oidc authentication flow.
//
// On success, the Token returned will include an IDToken and may
// include an AccessToken and RefreshToken.
func (p *Provider) Exchange(ctx context.Context, oidcRequest Request, authorizationState string, authorizationCode string) (*Tk, error) {
	const op = "Provider.Exchange"
	if p.config == nil {
		return nil, fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if oidcRequest == nil {
		return nil, fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
	}
	if authorizationCode == "" {
		return nil, fmt.Errorf("%s: authorization code is empty: %w", op, ErrInvalidParameter)
	}
	if oidcRequest.State() != authorizationState {
		return nil, fmt.Errorf("%s: authentication request state and authorization state are not equal: %w", op, ErrInvalidResponseState)
	}
	if oidcRequest.IsExpired() {
		return nil, fmt.Errorf("%s: authentication request is expired: %w", op, ErrExpiredRequest)
	}

	oidcCtx := HTTPClientContext(ctx, p.client)
	oauth2Config := p.oauth2Config(oidcRequest.RedirectURL(), p.requestScopes(oidcRequest))

	var authCodeOpts []oauth2.AuthCodeOption
	if v := oidcRequest.PKCEVerifier(); v != nil {
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("code_verifier", v.Verifier()))
	}
	oauth2Token, err := oauth2Config.Exchange(oidcCtx, authorizationCode, authCodeOpts...)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to exchange auth code with provider: %w", op, p.convertError(err))
	}

	idToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok || idToken == "" {
		return nil, fmt.Errorf("%s: id_token is missing from auth code exchange: %w", op, ErrMissingIDToken)
	}
	t, err := NewToken(IDToken(idToken), oauth2Token, WithNow(p.config.NowFunc))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create new id_token: %w", op, err)
	}
	if _, err := p.VerifyIDToken(ctx, t.IDToken(), oidcRequest.Nonce(), oidcRequest.Audiences()...); err != nil {
		return nil, fmt.Errorf("%s: id_token failed verification: %w", op, err)
	}
	return t, nil
}

// Refresh uses a refresh_token grant to get a new Token. The provider may or
// may not return a new id_token and refresh_token; the returned Token carries
// the previous refresh_token forward when a new one isn't issued.
func (p *Provider) Refresh(ctx context.Context, rt RefreshToken) (*Tk, error) {
	const op = "Provider.Refresh"
	if rt == "" {
		return nil, fmt.Errorf("%s: refresh token is empty: %w", op, ErrInvalidParameter)
	}
	oidcCtx := HTTPClientContext(ctx, p.client)
	oauth2Config := p.oauth2Config(p.config.RedirectURL, p.config.scopes())

	// an empty access_token forces the token source to refresh
	oauth2Token, err := oauth2Config.TokenSource(oidcCtx, &oauth2.Token{RefreshToken: string(rt)}).Token()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to refresh token with provider: %w", op, p.convertError(err))
	}
	if oauth2Token.AccessToken == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingAccessToken)
	}
	var idToken IDToken
	if raw, ok := oauth2Token.Extra("id_token").(string); ok && raw != "" {
		if _, err := p.VerifyIDToken(ctx, IDToken(raw), ""); err != nil {
			return nil, fmt.Errorf("%s: refreshed id_token failed verification: %w", op, err)
		}
		idToken = IDToken(raw)
	}
	return newRefreshedToken(idToken, oauth2Token, WithNow(p.config.NowFunc)), nil
}

// UserInfo gets the UserInfo claims from the provider using the token produced
// by the tokenSource. Only JSON user info responses are supported (signed JWT
// responses are not). The WithAudiences option is supported to specify
// optional audiences to verify when the aud claim is present in the response.
//
// It verifies:
//   - sub (sub) is required and must match
//   - issuer (iss) - if the iss claim is included in returned claims
//   - audiences (aud) - if the aud claim is included in returned claims and
//     WithAudiences option is provided.
func (p *Provider) UserInfo(ctx context.Context, tokenSource oauth2.TokenSource, validSubject string, claims interface{}, opt ...Option) error {
	const op = "Provider.UserInfo"
	opts := getUserInfoOpts(opt...)
	if tokenSource == nil {
		return fmt.Errorf("%s: token source is nil: %w", op, ErrNilParameter)
	}
	if claims == nil {
		return fmt.Errorf("%s: claims interface is nil: %w", op, ErrNilParameter)
	}
	if p.userInfoURL == "" {
		return fmt.Errorf("%s: userinfo endpoint: %w", op, ErrMissingEndpoint)
	}
	oidcCtx := HTTPClientContext(ctx, p.client)

	userinfo, err := p.provider.UserInfo(oidcCtx, tokenSource)
	if err != nil {
		return fmt.Errorf("%s: provider UserInfo request failed: %w", op, ErrUserInfoFailed)
	}
	type verifyClaims struct {
		Sub string
		Iss string
		Aud []string
	}
	var vc verifyClaims
	if err := userinfo.Claims(&vc); err != nil {
		return fmt.Errorf("%s: failed to get UserInfo claims: %w", op, err)
	}
	if validSubject != "" && vc.Sub != validSubject {
		return fmt.Errorf("%s: %s is not a valid sub: %w", op, vc.Sub, ErrUserInfoFailed)
	}
	if vc.Iss != "" && vc.Iss != p.config.Issuer {
		return fmt.Errorf("%s: %s is not a valid issuer: %w", op, vc.Iss, ErrUserInfoFailed)
	}
	if len(vc.Aud) > 0 && len(opts.withAudiences) > 0 && !containsAny(vc.Aud, opts.withAudiences) {
		return fmt.Errorf("%s: %v is not a valid audience: %w", op, vc.Aud, ErrInvalidAudience)
	}
	if err := userinfo.Claims(claims); err != nil {
		return fmt.Errorf("%s: failed to get UserInfo claims: %w", op, err)
	}
	return nil
}

// CheckSession asks the provider's userinfo endpoint whether the access_token
// is still honored. It returns ErrUnauthorized when the provider rejects the
// token, which means the user's session at the provider has ended.
func (p *Provider) CheckSession(ctx context.Context, at AccessToken) error {
	const op = "Provider.CheckSession"
	if at == "" {
		return fmt.Errorf("%s: access token is empty: %w", op, ErrInvalidParameter)
	}
	if p.userInfoURL == "" {
		return fmt.Errorf("%s: userinfo endpoint: %w", op, ErrMissingEndpoint)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return fmt.Errorf("%s: unable to create request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+string(at))
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: userinfo request failed: %w", op, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s: provider returned %d: %w", op, resp.StatusCode, ErrUnauthorized)
	case resp.StatusCode >= 300:
		return fmt.Errorf("%s: provider returned %d: %w", op, resp.StatusCode, ErrUserInfoFailed)
	}
	return nil
}

// VerifyIDToken will verify the inbound IDToken and return its claims. It
// verifies the signature using the provider's key set, the issuer, expiry,
// the client ID audience and the nonce (when the nonce isn't empty). If
// audiences are provided, one of them must be present in the aud claim.
//
// See: https://openid.net/specs/openid-connect-core-1_0.html#IDTokenValidation
func (p *Provider) VerifyIDToken(ctx context.Context, t IDToken, nonce string, audiences ...string) (map[string]interface{}, error) {
	const op = "Provider.VerifyIDToken"
	if t == "" {
		return nil, fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}
	algs := make([]string, 0, len(p.config.SupportedSigningAlgs))
	for _, a := range p.config.SupportedSigningAlgs {
		algs = append(algs, string(a))
	}
	oidcConfig := &oidc.Config{
		SupportedSigningAlgs: algs,
		ClientID:             p.config.ClientID,
		Now:                  p.config.Now,
	}
	verifier := p.provider.Verifier(oidcConfig)

	oidcIDToken, err := verifier.Verify(HTTPClientContext(ctx, p.client), string(t))
	if err != nil {
		return nil, fmt.Errorf("%s: invalid id_token (%s): %w", op, err, ErrIDTokenVerificationFailed)
	}
	if nonce != "" && oidcIDToken.Nonce != nonce {
		return nil, fmt.Errorf("%s: invalid id_token nonce: %w", op, ErrInvalidNonce)
	}
	if len(audiences) == 0 {
		audiences = p.config.Audiences
	}
	if len(audiences) > 0 && !containsAny(oidcIDToken.Audience, audiences) {
		return nil, fmt.Errorf("%s: invalid id_token audiences: %w", op, ErrInvalidAudience)
	}
	var claims map[string]interface{}
	if err := oidcIDToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%s: unable to get id_token claims: %w", op, err)
	}
	return claims, nil
}

// EndSessionURL will generate the URL the caller can use to log the user out
// of the provider (RP-initiated logout). It returns ErrMissingEndpoint when the
// provider has no end_session_endpoint.
func (p *Provider) EndSessionURL(idTokenHint IDToken, state string) (string, error) {
	const op = "Provider.EndSessionURL"
	if p.endSessionURL == "" {
		return "", fmt.Errorf("%s: end session endpoint: %w", op, ErrMissingEndpoint)
	}
	u, err := url.Parse(p.endSessionURL)
	if err != nil {
		return "", fmt.Errorf("%s: end session endpoint %q is invalid: %w", op, p.endSessionURL, ErrInvalidParameter)
	}
	q := u.Query()
	q.Set("client_id", p.config.ClientID)
	if idTokenHint != "" {
		q.Set("id_token_hint", string(idTokenHint))
	}
	if p.config.PostLogoutRedirectURL != "" {
		q.Set("post_logout_redirect_uri", p.config.PostLogoutRedirectURL)
	}
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// oauth2Config returns an OpenID Connect aware OAuth2 config.
func (p *Provider) oauth2Config(redirectURL string, scopes []string) *oauth2.Config {
	endpoint := p.provider.Endpoint()
	if p.config.ClientSecret == "" {
		// public clients identify themselves with the client_id form value
		endpoint.AuthStyle = oauth2.AuthStyleInParams
	}
	return &oauth2.Config{
		ClientID:     p.config.ClientID,
		ClientSecret: string(p.config.ClientSecret),
		RedirectURL:  redirectURL,
		Endpoint:     endpoint,
		Scopes:       scopes,
	}
}

// requestScopes returns the request's scopes, falling back to the configured
// scopes.
func (p *Provider) requestScopes(r Request) []string {
	if scopes := r.Scopes(); len(scopes) > 0 {
		return scopes
	}
	return p.config.scopes()
}

// convertError returns an AuthError for OAuth2 token endpoint error
// responses, otherwise the original error.
func (p *Provider) convertError(e error) error {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(e, &retrieveErr) {
		return e
	}
	body := struct {
		Code        string `json:"error"`
		Description string `json:"error_description"`
		URI         string `json:"error_uri"`
	}{}
	if err := json.Unmarshal(retrieveErr.Body, &body); err != nil || body.Code == "" {
		return e
	}
	return &AuthError{
		Code:        body.Code,
		Description: body.Description,
		URI:         body.URI,
	}
}

// userInfoOptions is the set of available options for the Provider.UserInfo
// function
type userInfoOptions struct {
	withAudiences []string
}

// userInfoDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func userInfoDefaults() userInfoOptions {
	return userInfoOptions{}
}

// getUserInfoOpts gets the provider.UserInfo defaults and applies the opt
// overrides passed in
func getUserInfoOpts(opt ...Option) userInfoOptions {
	opts := userInfoDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

func containsAny(have []string, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}
