// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"errors"
	"fmt"
	"net/url"
)

var (
	ErrInvalidParameter           = errors.New("invalid parameter")
	ErrNilParameter               = errors.New("nil parameter")
	ErrInvalidCACert              = errors.New("invalid CA certificate")
	ErrInvalidIssuer              = errors.New("invalid issuer")
	ErrIDGeneratorFailed          = errors.New("id generation failed")
	ErrExpiredRequest             = errors.New("request is expired")
	ErrInvalidResponseState       = errors.New("invalid response state")
	ErrMissingIDToken             = errors.New("id_token is missing")
	ErrMissingAccessToken         = errors.New("access_token is missing")
	ErrIDTokenVerificationFailed  = errors.New("id_token verification failed")
	ErrInvalidAudience            = errors.New("invalid audience")
	ErrInvalidNonce               = errors.New("invalid nonce")
	ErrNotFound                   = errors.New("not found")
	ErrUnsupportedChallengeMethod = errors.New("unsupported PKCE challenge method")
	ErrInvalidCodeVerifier        = errors.New("invalid code verifier")
	ErrUnsupportedAlg             = errors.New("unsupported signing algorithm")
	ErrUserInfoFailed             = errors.New("user info failed")
	ErrUnauthorized               = errors.New("unauthorized")
	ErrMissingEndpoint            = errors.New("provider endpoint is missing")
	ErrAuthorizationFailed        = errors.New("authorization failed")
)

// AuthError is an OAuth2 authorization error response returned by the
// provider to the redirect URI.
// See: https://openid.net/specs/openid-connect-core-1_0.html#AuthError
type AuthError struct {
	Code        string
	Description string
	URI         string
	State       string
}

// Error satisfies the error interface.
func (e *AuthError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: %s: %s", ErrAuthorizationFailed, e.Code, e.Description)
	}
	return fmt.Sprintf("%s: %s", ErrAuthorizationFailed, e.Code)
}

// Unwrap returns ErrAuthorizationFailed, so errors.Is works against it.
func (e *AuthError) Unwrap() error { return ErrAuthorizationFailed }

// Interactive reports whether the provider needs the user to interact with it
// before it can issue a response (the user isn't logged in, must consent, etc).
func (e *AuthError) Interactive() bool {
	switch e.Code {
	case "login_required", "interaction_required", "consent_required", "account_selection_required":
		return true
	default:
		return false
	}
}

// ParseAuthError returns an AuthError if the values include an "error"
// parameter, otherwise it returns nil.
func ParseAuthError(v url.Values) *AuthError {
	code := v.Get("error")
	if code == "" {
		return nil
	}
	return &AuthError{
		Code:        code,
		Description: v.Get("error_description"),
		URI:         v.Get("error_uri"),
		State:       v.Get("state"),
	}
}
