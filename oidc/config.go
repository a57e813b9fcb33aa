// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-cleanhttp"
)

// ClientSecret is an oauth client Secret.
type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret.
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret.
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret.
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

// ProviderConfig pins the provider's endpoints instead of discovering them.
type ProviderConfig struct {
	// AuthURL is the provider's OAuth 2.0 authorization endpoint.
	AuthURL string

	// TokenURL is the provider's OAuth 2.0 token endpoint.
	TokenURL string

	// UserInfoURL is the provider's OpenID Connect userinfo endpoint.
	UserInfoURL string

	// EndSessionURL is the provider's RP-initiated logout endpoint.
	EndSessionURL string

	// JWKSURL is the provider's key set endpoint.
	JWKSURL string
}

// Config represents the configuration for an OIDC public client (relying
// party) using the authorization code flow with PKCE.
type Config struct {
	// ClientID is the relying party ID.
	ClientID string

	// ClientSecret is an optional relying party secret. Public clients
	// running in a browser or on a user's device don't have one.
	ClientSecret ClientSecret

	// Scopes is a list of default oidc scopes to request of the provider. The
	// required "openid" scope is requested by default, and does not need to be
	// part of this optional list.
	Scopes []string

	// Issuer is a case-sensitive URL string using the https scheme that
	// contains scheme, host, and optionally, port number and path components
	// and no query or fragment components.
	Issuer string

	// SupportedSigningAlgs is a list of supported signing algorithms used to
	// verify id_tokens. Defaults to RS256.
	SupportedSigningAlgs []Alg

	// RedirectURL is where the provider sends the authorization response of
	// an interactive login.
	RedirectURL string

	// SilentRedirectURL is where the provider sends the authorization
	// response of a silent (prompt=none) authentication. Defaults to
	// RedirectURL.
	SilentRedirectURL string

	// PostLogoutRedirectURL is where the provider sends the user after an
	// RP-initiated logout.
	PostLogoutRedirectURL string

	// Audiences is an optional list of case-sensitive strings, one of which
	// must be in the id_token "aud" claim.
	Audiences []string

	// ProviderCA is an optional CA certs (PEM encoded) to use when sending
	// requests to the provider.
	ProviderCA string

	// ProviderConfig is an optional set of pinned provider endpoints. When
	// nil, the endpoints are discovered from the Issuer.
	ProviderConfig *ProviderConfig

	// NowFunc is a time func that returns the current time.
	NowFunc func() time.Time
}

// NewConfig composes a new config for a provider.
//
// The "openid" scope will always be added to the list of scopes and doesn't
// need to be specified.
//
// Supported options: WithClientSecret, WithProviderCA, WithScopes,
// WithAudiences, WithSupportedSigningAlgs, WithSilentRedirectURL,
// WithPostLogoutRedirectURL, WithProviderConfig, WithNow
func NewConfig(issuer string, clientID string, redirectURL string, opt ...Option) (*Config, error) {
	const op = "NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		Issuer:                issuer,
		ClientID:              clientID,
		ClientSecret:          opts.withClientSecret,
		SupportedSigningAlgs:  opts.withSupportedSigningAlgs,
		RedirectURL:           redirectURL,
		SilentRedirectURL:     opts.withSilentRedirectURL,
		PostLogoutRedirectURL: opts.withPostLogoutRedirectURL,
		Scopes:                opts.withScopes,
		Audiences:             opts.withAudiences,
		ProviderCA:            opts.withProviderCA,
		ProviderConfig:        opts.withProviderConfig,
		NowFunc:               opts.withNowFunc,
	}
	if len(c.SupportedSigningAlgs) == 0 {
		c.SupportedSigningAlgs = []Alg{RS256}
	}
	if c.SilentRedirectURL == "" {
		c.SilentRedirectURL = redirectURL
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid provider config: %w", op, err)
	}
	return c, nil
}

// Validate the provider configuration. Among other validations, it verifies
// the issuer is not empty, but it doesn't verify the Issuer is discoverable via
// an http request.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if c.ClientID == "" {
		return fmt.Errorf("%s: client ID is empty: %w", op, ErrInvalidParameter)
	}
	if c.Issuer == "" {
		return fmt.Errorf("%s: discovery URL is empty: %w", op, ErrInvalidParameter)
	}
	if c.RedirectURL == "" {
		return fmt.Errorf("%s: redirect URL is empty: %w", op, ErrInvalidParameter)
	}
	for _, raw := range []string{c.RedirectURL, c.SilentRedirectURL, c.PostLogoutRedirectURL} {
		if raw == "" {
			continue
		}
		if _, err := url.Parse(raw); err != nil {
			return fmt.Errorf("%s: redirect URL %q is invalid: %w", op, raw, ErrInvalidParameter)
		}
	}
	u, err := url.Parse(c.Issuer)
	if err != nil {
		return fmt.Errorf("%s: issuer %s is invalid (%s): %w", op, c.Issuer, err, ErrInvalidIssuer)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("%s: issuer %s schema is not http or https: %w", op, c.Issuer, ErrInvalidIssuer)
	}
	for _, a := range c.SupportedSigningAlgs {
		if !supportedAlgorithms[a] {
			return fmt.Errorf("%s: unsupported signing algorithm %s: %w", op, a, ErrUnsupportedAlg)
		}
	}
	if c.ProviderConfig != nil {
		if c.ProviderConfig.AuthURL == "" || c.ProviderConfig.TokenURL == "" || c.ProviderConfig.JWKSURL == "" {
			return fmt.Errorf("%s: provider config requires auth, token and jwks URLs: %w", op, ErrInvalidParameter)
		}
	}
	if c.ProviderCA != "" {
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM([]byte(c.ProviderCA)); !ok {
			return fmt.Errorf("%s: %w", op, ErrInvalidCACert)
		}
	}
	return nil
}

// Now will return the current time which can be overridden by the NowFunc
func (c *Config) Now() time.Time {
	if c.NowFunc != nil {
		return c.NowFunc()
	}
	return time.Now()
}

// HTTPClient is a helper function that creates a new http client for the
// provider configured. The client trusts ProviderCA when one is configured,
// otherwise it uses the installed system CA chain.
func (c *Config) HTTPClient() (*http.Client, error) {
	const op = "Config.HTTPClient"
	tr := cleanhttp.DefaultPooledTransport()
	if c.ProviderCA != "" {
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM([]byte(c.ProviderCA)); !ok {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidCACert)
		}
		tr.TLSClientConfig = &tls.Config{
			RootCAs:    certPool,
			MinVersion: tls.VersionTLS12,
		}
	}
	return &http.Client{
		Transport: tr,
	}, nil
}

// RequestedScopes returns the scopes requested of the provider: "openid"
// followed by the configured scopes.
func (c *Config) RequestedScopes() []string {
	return c.scopes()
}

// scopes returns the "openid" scope followed by the configured scopes.
func (c *Config) scopes() []string {
	scopes := []string{oidc.ScopeOpenID}
	for _, s := range c.Scopes {
		if s != oidc.ScopeOpenID {
			scopes = append(scopes, s)
		}
	}
	return scopes
}

// HTTPClientContext is a helper function that returns a new Context that
// carries the provided HTTP client. This method sets the same context key used
// by the github.com/coreos/go-oidc and golang.org/x/oauth2 packages, so the
// returned context works for those packages as well.
func HTTPClientContext(ctx context.Context, client *http.Client) context.Context {
	// simple to implement as a wrapper for the coreos package
	return oidc.ClientContext(ctx, client)
}

// ParseScopes splits a space delimited scope string (the format used by the
// OAuth2 "scope" parameter) into its scopes.
func ParseScopes(s string) []string {
	return strings.Fields(s)
}

// configOptions is the set of available options
type configOptions struct {
	withScopes                []string
	withAudiences             []string
	withProviderCA            string
	withClientSecret          ClientSecret
	withSupportedSigningAlgs  []Alg
	withSilentRedirectURL     string
	withPostLogoutRedirectURL string
	withProviderConfig        *ProviderConfig
	withNowFunc               func() time.Time
}

// configDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func configDefaults() configOptions {
	return configOptions{}
}

// getConfigOpts gets the defaults and applies the opt overrides passed
// in.
func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithProviderCA provides optional CA certs (PEM encoded) for the provider's
// config. These certs will can be used when making http requests to the
// provider.
//
// Valid for: Config
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withProviderCA = cert
		}
	}
}

// WithClientSecret provides an optional client secret for confidential
// clients.
//
// Valid for: Config
func WithClientSecret(secret ClientSecret) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withClientSecret = secret
		}
	}
}

// WithSupportedSigningAlgs provides the algorithms accepted when verifying
// id_tokens.
//
// Valid for: Config
func WithSupportedSigningAlgs(algs ...Alg) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withSupportedSigningAlgs = algs
		}
	}
}

// WithSilentRedirectURL provides the redirect URL used for silent
// authentication.
//
// Valid for: Config
func WithSilentRedirectURL(u string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withSilentRedirectURL = u
		}
	}
}

// WithPostLogoutRedirectURL provides the URL the provider returns the user to
// after logout.
//
// Valid for: Config
func WithPostLogoutRedirectURL(u string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withPostLogoutRedirectURL = u
		}
	}
}

// WithProviderConfig pins the provider's endpoints, which disables discovery.
//
// Valid for: Config
func WithProviderConfig(pc *ProviderConfig) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withProviderConfig = pc
		}
	}
}
