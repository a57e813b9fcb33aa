// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/text/language"
)

// Request basically represents one OIDC authentication flow for a user. It
// contains the data needed to uniquely represent that one-time flow across the
// multiple interactions needed to complete the OIDC flow the user is
// attempting.
//
// Request() is passed throughout the OIDC interactions to uniquely identify the
// flow's request. The Request.State() and Request.Nonce() cannot be equal, and
// will be used during the OIDC flow to prevent CSRF and replay attacks (see the
// OpenID Connect Core for specifics).
type Request interface {
	// State is a unique identifier and an opaque value used to maintain request
	// between the oidc request and the callback. State cannot equal the Nonce.
	// See https://openid.net/specs/openid-connect-core-1_0.html#AuthRequest.
	State() string

	// Nonce is a unique nonce and a string value used to associate a Client
	// session with an ID Token, and to mitigate replay attacks. Nonce cannot
	// equal the ID.
	// See https://openid.net/specs/openid-connect-core-1_0.html#AuthRequest
	// and https://openid.net/specs/openid-connect-core-1_0.html#NonceNotes.
	Nonce() string

	// IsExpired returns true if the request has expired. Implementations should
	// support a time skew (perhaps RequestExpirySkew) when checking expiration.
	IsExpired() bool

	// ExpiresAt is the time the request expires.
	ExpiresAt() time.Time

	// RedirectURL is a URL where the provider will redirect responses to
	// authentication requests. It is required.
	RedirectURL() string

	// Audiences is an specific authentication request's list of case-sensitive
	// strings, one of which must be in the id_token "aud" claim. Optional.
	Audiences() []string

	// Scopes is a specific authentication request's list of oidc scopes to
	// request of the provider. The required "openid" scope is requested by
	// default, and does not need to be part of this optional list. Optional.
	Scopes() []string

	// PKCEVerifier is the code verifier which binds the authorization code
	// to this request.
	// See: https://datatracker.ietf.org/doc/html/rfc7636
	PKCEVerifier() CodeVerifier

	// Prompts optionally defines a list of values that specifies whether the
	// Authorization Server prompts the End-User for reauthentication and
	// consent. The None prompt is used for silent authentication.
	Prompts() []Prompt

	// UILocales optionally specifies End-User's preferred languages via
	// language Tags, ordered by preference.
	UILocales() []language.Tag
}

// Req represents the oidc request used for oidc flows and implements the Request interface.
type Req struct {
	//	state is a unique identifier and an opaque value used to maintain request
	//	between the oidc request and the callback.
	state string

	// nonce is a unique nonce and suitable for use as an oidc nonce.
	nonce string

	// Expiration is the expiration time for the Request.
	expiration time.Time

	// redirectURL is a URL where the provider will redirect responses to
	// authentication requests.
	redirectURL string

	scopes       []string
	audiences    []string
	prompts      []Prompt
	uiLocales    []language.Tag
	withVerifier CodeVerifier

	// nowFunc is an optional function that returns the current time
	nowFunc func() time.Time
}

// ensure that Request implements the Request interface.
var _ Request = (*Req)(nil)

// NewRequest creates a new Request (*Req).
//
//	Supports the options:
//	* WithState
//	* WithNonce
//	* WithNow
//	* WithAudiences
//	* WithScopes
//	* WithPKCE
//	* WithPrompts
//	* WithUILocales
func NewRequest(expireIn time.Duration, redirectURL string, opt ...Option) (*Req, error) {
	const op = "oidc.NewRequest"
	opts := getReqOpts(opt...)
	if redirectURL == "" {
		return nil, fmt.Errorf("%s: redirect URL is empty: %w", op, ErrInvalidParameter)
	}
	if expireIn <= 0 {
		return nil, fmt.Errorf("%s: expireIn not greater than zero: %w", op, ErrInvalidParameter)
	}
	nonce := opts.withNonce
	if nonce == "" {
		var err error
		nonce, err = NewID(WithPrefix("n"))
		if err != nil {
			return nil, fmt.Errorf("%s: unable to generate a request's nonce: %w", op, err)
		}
	}
	state := opts.withState
	if state == "" {
		var err error
		state, err = NewID(WithPrefix("st"))
		if err != nil {
			return nil, fmt.Errorf("%s: unable to generate a request's state: %w", op, err)
		}
	}
	if state == nonce {
		return nil, fmt.Errorf("%s: state and nonce cannot be equal: %w", op, ErrInvalidParameter)
	}
	for _, p := range opts.withPrompts {
		if p == None && len(opts.withPrompts) > 1 {
			return nil, fmt.Errorf("%s: prompt none cannot be combined with other prompts: %w", op, ErrInvalidParameter)
		}
	}

	r := &Req{
		state:        state,
		nonce:        nonce,
		redirectURL:  redirectURL,
		nowFunc:      opts.withNowFunc,
		audiences:    opts.withAudiences,
		prompts:      opts.withPrompts,
		uiLocales:    opts.withUILocales,
		withVerifier: opts.withVerifier,
	}
	if len(opts.withScopes) > 0 {
		r.scopes = append([]string{oidc.ScopeOpenID}, opts.withScopes...)
	}
	r.expiration = r.now().Add(expireIn)
	return r, nil
}

// State implements the Request.State() interface function.
func (r *Req) State() string { return r.state }

// Nonce implements the Request.Nonce() interface function.
func (r *Req) Nonce() string { return r.nonce }

// ExpiresAt implements the Request.ExpiresAt() interface function.
func (r *Req) ExpiresAt() time.Time { return r.expiration }

// Audiences implements the Request.Audiences() interface function and returns a
// copy of the audiences.
func (r *Req) Audiences() []string {
	if r.audiences == nil {
		return nil
	}
	cp := make([]string, len(r.audiences))
	copy(cp, r.audiences)
	return cp
}

// Scopes implements the Request.Scopes() interface function and returns a copy of
// the scopes.
func (r *Req) Scopes() []string {
	if r.scopes == nil {
		return nil
	}
	cp := make([]string, len(r.scopes))
	copy(cp, r.scopes)
	return cp
}

// RedirectURL implements the Request.RedirectURL() interface function.
func (r *Req) RedirectURL() string { return r.redirectURL }

// PKCEVerifier implements the Request.PKCEVerifier() interface function and
// returns a copy of the CodeVerifier
func (r *Req) PKCEVerifier() CodeVerifier {
	if r.withVerifier == nil {
		return nil
	}
	return r.withVerifier.Copy()
}

// Prompts implements the Request.Prompts() interface function and returns a
// copy of the prompts.
func (r *Req) Prompts() []Prompt {
	if r.prompts == nil {
		return nil
	}
	cp := make([]Prompt, len(r.prompts))
	copy(cp, r.prompts)
	return cp
}

// UILocales implements the Request.UILocales() interface function and returns a
// copy of the language tags.
func (r *Req) UILocales() []language.Tag {
	if r.uiLocales == nil {
		return nil
	}
	cp := make([]language.Tag, len(r.uiLocales))
	copy(cp, r.uiLocales)
	return cp
}

// RequestExpirySkew defines a time skew when checking a Request's expiration.
const RequestExpirySkew = 1 * time.Second

// IsExpired returns true if the request has expired.
func (r *Req) IsExpired() bool {
	return r.expiration.Before(r.now().Add(RequestExpirySkew))
}

// now returns the current time using the optional timeFn
func (r *Req) now() time.Time {
	if r.nowFunc != nil {
		return r.nowFunc()
	}
	return time.Now() // fallback to this default
}

// reqOptions is the set of available options for Req functions
type reqOptions struct {
	withNowFunc   func() time.Time
	withScopes    []string
	withAudiences []string
	withState     string
	withNonce     string
	withVerifier  CodeVerifier
	withPrompts   []Prompt
	withUILocales []language.Tag
}

// reqDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func reqDefaults() reqOptions {
	return reqOptions{}
}

// getReqOpts gets the request defaults and applies the opt overrides passed in
func getReqOpts(opt ...Option) reqOptions {
	opts := reqDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithState optionally specifies a value to use for the request's state.
// Typically, state is a random string value, but sometimes the state is handed
// over by another application which started the flow.
//
// Valid for: Request
func WithState(s string) Option {
	return func(o interface{}) {
		if o, ok := o.(*reqOptions); ok {
			o.withState = s
		}
	}
}

// WithNonce optionally specifies a value to use for the request's nonce.
// Typically, nonce is a random string value, but sometimes the nonce is
// persisted by the caller while the user is away at the provider.
//
// Valid for: Request
func WithNonce(n string) Option {
	return func(o interface{}) {
		if o, ok := o.(*reqOptions); ok {
			o.withNonce = n
		}
	}
}

// WithPKCE will configure the Request to use the authorization code flow
// with PKCE, using the provided CodeVerifier.
//
// See: https://tools.ietf.org/html/rfc7636
//
// Valid for: Request
func WithPKCE(v CodeVerifier) Option {
	return func(o interface{}) {
		if o, ok := o.(*reqOptions); ok {
			o.withVerifier = v
		}
	}
}

// WithPrompts provides an optional list of values that specifies whether the
// Authorization Server prompts the End-User for reauthentication and consent.
// None can't be combined with any other prompt.
//
// Valid for: Request
func WithPrompts(prompts ...Prompt) Option {
	return func(o interface{}) {
		if o, ok := o.(*reqOptions); ok {
			o.withPrompts = prompts
		}
	}
}

// WithUILocales optionally specifies End-User's preferred languages via
// language Tags, ordered by preference.
//
// Valid for: Request
func WithUILocales(locales ...language.Tag) Option {
	return func(o interface{}) {
		if o, ok := o.(*reqOptions); ok {
			o.withUILocales = locales
		}
	}
}
