// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

// TestProviderCalls counts the requests a TestProvider has served, by
// endpoint.
type TestProviderCalls struct {
	Authorize  int
	Token      int
	Refresh    int
	UserInfo   int
	EndSession int
}

// TestProvider is a local https server that acts as an OIDC provider
// supporting the authorization code flow with PKCE, silent (prompt=none)
// authentication, the refresh_token grant, userinfo and RP-initiated logout.
// It makes writing tests of relying parties much easier.
//
// The provider signs id_tokens with ES256, so clients must be configured with
// WithSupportedSigningAlgs(ES256). See TestConfig.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string
	client     *http.Client

	jwks            *jose.JSONWebKeySet
	ecdsaPublicKey  string
	ecdsaPrivateKey string

	mu                  sync.Mutex
	clientID            string
	allowedRedirectURIs []string
	subject             string
	userInfo            map[string]interface{}
	customClaims        map[string]interface{}
	loggedIn            bool
	expiresIn           time.Duration
	omitIDToken         bool
	omitRefreshToken    bool
	disableEndSession   bool
	codes               map[string]testAuthCode
	accessTokens        map[string]bool
	refreshTokens       map[string]bool
	lastEndSession      url.Values
	calls               TestProviderCalls

	t *testing.T
}

// testAuthCode is an issued, not yet redeemed, authorization code.
type testAuthCode struct {
	nonce       string
	challenge   string
	redirectURI string
	scope       string
}

// StartTestProvider creates a disposable TestProvider which is stopped via
// t.Cleanup. The provider starts with a logged in user, so silent
// authentication succeeds until SetLoggedIn(false) is called.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		clientID: "metis-test-client",
		subject:  "alice@metis.example",
		userInfo: map[string]interface{}{
			"name":  "Alice Doe",
			"email": "alice@metis.example",
		},
		loggedIn:      true,
		expiresIn:     time.Hour,
		codes:         map[string]testAuthCode{},
		accessTokens:  map[string]bool{},
		refreshTokens: map[string]bool{},
		t:             t,
	}
	p.ecdsaPublicKey, p.ecdsaPrivateKey = TestGenerateKeys(t)
	p.jwks = testJWKS(t, p.ecdsaPublicKey)

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: p.httpServer.Certificate().Raw})
	require.NoError(err)
	p.caCert = buf.String()

	p.client = p.httpServer.Client()
	p.client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Addr returns the current base URL for the test provider's running webserver,
// which is also its issuer.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// ClientID returns the client ID the provider accepts.
func (p *TestProvider) ClientID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clientID
}

// SetClientID configures the client ID the provider accepts.
func (p *TestProvider) SetClientID(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = id
}

// SetAllowedRedirectURIs restricts the redirect URIs the provider accepts. Any
// redirect URI is accepted until this is called.
func (p *TestProvider) SetAllowedRedirectURIs(uris ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetSubject configures the sub claim of the user.
func (p *TestProvider) SetSubject(sub string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subject = sub
}

// SetUserInfo configures the claims returned by the userinfo endpoint (the sub
// claim is always added).
func (p *TestProvider) SetUserInfo(claims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.userInfo = claims
}

// SetCustomClaims lets you set claims to return in the id_tokens issued.
func (p *TestProvider) SetCustomClaims(claims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = claims
}

// SetLoggedIn sets whether the user has a session at the provider. Silent
// authentication fails with login_required while the user is logged out.
// An interactive authorization logs the user in.
func (p *TestProvider) SetLoggedIn(loggedIn bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loggedIn = loggedIn
}

// SetExpiresIn configures the lifetime of issued access tokens. A zero
// duration omits expires_in from token responses.
func (p *TestProvider) SetExpiresIn(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expiresIn = d
}

// OmitIDTokens forces an error state where the token endpoint does not return
// an id_token.
func (p *TestProvider) OmitIDTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// OmitRefreshTokens stops the token endpoint from issuing refresh_tokens.
func (p *TestProvider) OmitRefreshTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitRefreshToken = true
}

// DisableEndSession omits the end_session_endpoint from discovery.
func (p *TestProvider) DisableEndSession() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableEndSession = true
}

// RevokeTokens invalidates every access_token and refresh_token issued so
// far.
func (p *TestProvider) RevokeTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accessTokens = map[string]bool{}
	p.refreshTokens = map[string]bool{}
}

// RevokeAccessTokens invalidates every access_token issued so far, leaving
// refresh_tokens usable.
func (p *TestProvider) RevokeAccessTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accessTokens = map[string]bool{}
}

// ValidAccessToken reports whether the provider honors the access_token.
func (p *TestProvider) ValidAccessToken(at string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accessTokens[at]
}

// LastEndSession returns the query of the most recent end session request.
func (p *TestProvider) LastEndSession() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastEndSession
}

// Calls returns the number of requests served, by endpoint.
func (p *TestProvider) Calls() TestProviderCalls {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// HTTPClient returns a client which trusts the provider and doesn't follow
// redirects.
func (p *TestProvider) HTTPClient() *http.Client { return p.client }

// Authorize plays the user agent for an authorization URL: it requests the
// URL and returns the redirect location, which carries either a code or an
// error.
func (p *TestProvider) Authorize(ctx context.Context, authURL string) (*url.URL, error) {
	const op = "TestProvider.Authorize"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, authURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		return nil, fmt.Errorf("%s: unexpected status %d", op, resp.StatusCode)
	}
	return resp.Location()
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, errorCode, errorMessage string) {
	qv := req.URL.Query()
	redirectURI, err := url.Parse(qv.Get("redirect_uri"))
	if err != nil || qv.Get("redirect_uri") == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	rq := redirectURI.Query()
	rq.Set("error", errorCode)
	if s := qv.Get("state"); s != "" {
		rq.Set("state", s)
	}
	if errorMessage != "" {
		rq.Set("error_description", errorMessage)
	}
	redirectURI.RawQuery = rq.Encode()
	http.Redirect(w, req, redirectURI.String(), http.StatusFound)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(&body)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		reply := struct {
			Issuer             string   `json:"issuer"`
			AuthEndpoint       string   `json:"authorization_endpoint"`
			TokenEndpoint      string   `json:"token_endpoint"`
			JWKSURI            string   `json:"jwks_uri"`
			UserinfoEndpoint   string   `json:"userinfo_endpoint"`
			EndSessionEndpoint string   `json:"end_session_endpoint,omitempty"`
			Algs               []string `json:"id_token_signing_alg_values_supported"`
		}{
			Issuer:             p.Addr(),
			AuthEndpoint:       p.Addr() + "/authorize",
			TokenEndpoint:      p.Addr() + "/token",
			JWKSURI:            p.Addr() + "/certs",
			UserinfoEndpoint:   p.Addr() + "/userinfo",
			EndSessionEndpoint: p.Addr() + "/logout",
			Algs:               []string{string(ES256)},
		}
		if p.disableEndSession {
			reply.EndSessionEndpoint = ""
		}
		p.writeJSON(w, &reply)

	case "/authorize":
		p.serveAuthorize(w, req)

	case "/token":
		p.serveToken(w, req)

	case "/userinfo":
		p.calls.UserInfo++
		at := strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
		if at == "" || !p.accessTokens[at] {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		reply := map[string]interface{}{}
		for k, v := range p.userInfo {
			reply[k] = v
		}
		reply["sub"] = p.subject
		p.writeJSON(w, reply)

	case "/logout":
		p.calls.EndSession++
		qv := req.URL.Query()
		p.lastEndSession = qv
		p.loggedIn = false
		p.accessTokens = map[string]bool{}
		p.refreshTokens = map[string]bool{}
		if redirect := qv.Get("post_logout_redirect_uri"); redirect != "" {
			http.Redirect(w, req, redirect, http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusOK)

	case "/certs":
		p.writeJSON(w, p.jwks)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *TestProvider) serveAuthorize(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p.calls.Authorize++
	qv := req.URL.Query()

	redirectURI := qv.Get("redirect_uri")
	if redirectURI == "" || !p.redirectAllowed(redirectURI) {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	switch {
	case qv.Get("response_type") != "code":
		p.writeAuthErrorResponse(w, req, "unsupported_response_type", "")
		return
	case qv.Get("client_id") != p.clientID:
		p.writeAuthErrorResponse(w, req, "unauthorized_client", "unknown client_id")
		return
	case !containsAny(strings.Fields(qv.Get("scope")), []string{"openid"}):
		p.writeAuthErrorResponse(w, req, "invalid_scope", "")
		return
	case qv.Get("state") == "":
		p.writeAuthErrorResponse(w, req, "invalid_request", "missing state parameter")
		return
	case qv.Get("code_challenge") == "" || qv.Get("code_challenge_method") != string(S256):
		p.writeAuthErrorResponse(w, req, "invalid_request", "S256 code_challenge is required")
		return
	}

	prompts := strings.Fields(qv.Get("prompt"))
	if containsAny(prompts, []string{string(None)}) {
		if !p.loggedIn {
			p.writeAuthErrorResponse(w, req, "login_required", "the user is not logged in")
			return
		}
	} else {
		// the user logs in interactively
		p.loggedIn = true
	}

	code := p.newValue("code")
	p.codes[code] = testAuthCode{
		nonce:       qv.Get("nonce"),
		challenge:   qv.Get("code_challenge"),
		redirectURI: redirectURI,
		scope:       qv.Get("scope"),
	}
	u, _ := url.Parse(redirectURI)
	rq := u.Query()
	rq.Set("code", code)
	rq.Set("state", qv.Get("state"))
	u.RawQuery = rq.Encode()
	http.Redirect(w, req, u.String(), http.StatusFound)
}

func (p *TestProvider) serveToken(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p.calls.Token++
	clientID := req.FormValue("client_id")
	if id, _, ok := req.BasicAuth(); ok {
		clientID = id
	}
	if clientID != p.clientID {
		p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "unknown client_id")
		return
	}

	switch req.FormValue("grant_type") {
	case "authorization_code":
		code, ok := p.codes[req.FormValue("code")]
		if !ok {
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unexpected auth code")
			return
		}
		// codes are single use
		delete(p.codes, req.FormValue("code"))
		if req.FormValue("redirect_uri") != code.redirectURI {
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "redirect_uri mismatch")
			return
		}
		sum := sha256.Sum256([]byte(req.FormValue("code_verifier")))
		if base64.RawURLEncoding.EncodeToString(sum[:]) != code.challenge {
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "code_verifier mismatch")
			return
		}
		p.writeTokenResponse(w, code.nonce, code.scope)

	case "refresh_token":
		p.calls.Refresh++
		rt := req.FormValue("refresh_token")
		if !p.refreshTokens[rt] {
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "refresh_token is invalid")
			return
		}
		// refresh_tokens are rotated
		delete(p.refreshTokens, rt)
		p.writeTokenResponse(w, "", req.FormValue("scope"))

	default:
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "unsupported_grant_type", "")
	}
}

func (p *TestProvider) writeTokenResponse(w http.ResponseWriter, nonce, scope string) {
	now := time.Now()
	reply := struct {
		AccessToken  string `json:"access_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int64  `json:"expires_in,omitempty"`
		RefreshToken string `json:"refresh_token,omitempty"`
		IDToken      string `json:"id_token,omitempty"`
		Scope        string `json:"scope,omitempty"`
	}{
		AccessToken: p.newValue("at"),
		TokenType:   "Bearer",
		ExpiresIn:   int64(p.expiresIn / time.Second),
		Scope:       scope,
	}
	p.accessTokens[reply.AccessToken] = true
	if !p.omitRefreshToken {
		reply.RefreshToken = p.newValue("rt")
		p.refreshTokens[reply.RefreshToken] = true
	}
	if !p.omitIDToken {
		stdClaims := jwt.Claims{
			Subject:   p.subject,
			Issuer:    p.Addr(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
			Expiry:    jwt.NewNumericDate(now.Add(time.Hour)),
			Audience:  jwt.Audience{p.clientID},
		}
		privateClaims := map[string]interface{}{}
		for k, v := range p.customClaims {
			privateClaims[k] = v
		}
		if nonce != "" {
			privateClaims["nonce"] = nonce
		}
		reply.IDToken = TestSignJWT(p.t, p.ecdsaPrivateKey, stdClaims, privateClaims)
	}
	p.writeJSON(w, &reply)
}

func (p *TestProvider) redirectAllowed(uri string) bool {
	if len(p.allowedRedirectURIs) == 0 {
		return true
	}
	return containsAny(p.allowedRedirectURIs, []string{uri})
}

func (p *TestProvider) newValue(prefix string) string {
	id, err := NewID(WithPrefix(prefix))
	require.NoError(p.t, err)
	return id
}

// testJWKS converts a pem-encoded public key into JWKS data suitable for a
// verification endpoint response
func testJWKS(t *testing.T, pubKey string) *jose.JSONWebKeySet {
	t.Helper()
	require := require.New(t)

	block, _ := pem.Decode([]byte(pubKey))
	require.NotNil(block)

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	require.NoError(err)

	return &jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{
				Key:       pub,
				Algorithm: string(ES256),
				Use:       "sig",
			},
		},
	}
}
