// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"strings"
	"time"

	"github.com/metis/ssoclient/oidc"
)

// Session is a signed in user. A nil *Session means unauthenticated.
type Session struct {
	// Profile is the user's claims: the id_token claims (without protocol
	// claims) merged with the userinfo claims when those are loaded.
	Profile map[string]interface{}

	AccessToken  oidc.AccessToken
	RefreshToken oidc.RefreshToken
	IDToken      oidc.IDToken
	TokenType    string

	// ExpiresAt is the access_token expiry. It's zero when the provider
	// didn't return a lifetime, which means the token doesn't expire.
	ExpiresAt time.Time

	// Scopes granted by the provider.
	Scopes []string
}

// Subject returns the sub claim.
func (s *Session) Subject() string {
	if s == nil {
		return ""
	}
	sub, _ := s.Profile["sub"].(string)
	return sub
}

// IsAuthenticated reports whether the session has an access_token which
// expires strictly after now.
func (s *Session) IsAuthenticated(now time.Time) bool {
	if s == nil || s.AccessToken == "" {
		return false
	}
	return s.ExpiresAt.IsZero() || s.ExpiresAt.After(now)
}

// Expired reports whether the access_token expired at or before now.
func (s *Session) Expired(now time.Time) bool {
	return s != nil && !s.ExpiresAt.IsZero() && !s.ExpiresAt.After(now)
}

// CanRefresh reports whether a refresh_token grant can renew the session.
func (s *Session) CanRefresh() bool {
	return s != nil && s.RefreshToken != ""
}

// HasScope reports whether scope was granted.
func (s *Session) HasScope(scope string) bool {
	if s == nil {
		return false
	}
	for _, v := range s.Scopes {
		if v == scope {
			return true
		}
	}
	return false
}

// Clone returns a deep enough copy for callers to modify.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Profile = make(map[string]interface{}, len(s.Profile))
	for k, v := range s.Profile {
		cp.Profile[k] = v
	}
	cp.Scopes = append([]string(nil), s.Scopes...)
	return &cp
}

// record is the persisted form of a Session. The token types of Session
// redact themselves when marshaled, so the record carries plain strings.
type record struct {
	Profile      map[string]interface{} `json:"profile"`
	AccessToken  string                 `json:"access_token"`
	RefreshToken string                 `json:"refresh_token,omitempty"`
	IDToken      string                 `json:"id_token,omitempty"`
	TokenType    string                 `json:"token_type,omitempty"`
	ExpiresAt    int64                  `json:"expires_at,omitempty"`
	Scope        string                 `json:"scope,omitempty"`
}

func newRecord(s *Session) *record {
	r := &record{
		Profile:      s.Profile,
		AccessToken:  string(s.AccessToken),
		RefreshToken: string(s.RefreshToken),
		IDToken:      string(s.IDToken),
		TokenType:    s.TokenType,
		Scope:        strings.Join(s.Scopes, " "),
	}
	if !s.ExpiresAt.IsZero() {
		r.ExpiresAt = s.ExpiresAt.Unix()
	}
	return r
}

func (r *record) session() *Session {
	s := &Session{
		Profile:      r.Profile,
		AccessToken:  oidc.AccessToken(r.AccessToken),
		RefreshToken: oidc.RefreshToken(r.RefreshToken),
		IDToken:      oidc.IDToken(r.IDToken),
		TokenType:    r.TokenType,
		Scopes:       oidc.ParseScopes(r.Scope),
	}
	if s.Profile == nil {
		s.Profile = map[string]interface{}{}
	}
	if r.ExpiresAt != 0 {
		s.ExpiresAt = time.Unix(r.ExpiresAt, 0)
	}
	return s
}

// protocolClaims are id_token claims which describe the token rather than
// the user, and aren't part of the profile.
var protocolClaims = []string{"nbf", "jti", "auth_time", "nonce", "acr", "amr", "azp", "at_hash"}

// profileFromClaims copies claims without the protocol claims.
func profileFromClaims(claims map[string]interface{}) map[string]interface{} {
	profile := make(map[string]interface{}, len(claims))
	for k, v := range claims {
		profile[k] = v
	}
	for _, k := range protocolClaims {
		delete(profile, k)
	}
	return profile
}
