// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/hashicorp/go-uuid"
)

// ChallengeMethod represents PKCE code challenge methods as defined by RFC
// 7636.
type ChallengeMethod string

const (
	// S256 is the SHA-256 code challenge method defined by RFC 7636.
	//
	// See: https://datatracker.ietf.org/doc/html/rfc7636#section-4.3
	S256 ChallengeMethod = "S256"
)

const (
	// verifierLen is the length of a generated verifier, which the RFC
	// requires to be between 43 and 128 characters.
	verifierLen = 43

	minVerifierLen = 43
	maxVerifierLen = 128
)

// CodeVerifier represents an OAuth PKCE code verifier.
//
// See: https://datatracker.ietf.org/doc/html/rfc7636#section-4.1
type CodeVerifier interface {
	// Verifier returns the code verifier (see:
	// https://datatracker.ietf.org/doc/html/rfc7636#section-4.1)
	Verifier() string

	// Challenge returns the code verifier's code challenge (see:
	// https://datatracker.ietf.org/doc/html/rfc7636#section-4.2)
	Challenge() string

	// Method returns the code verifier's challenge method (see
	// https://datatracker.ietf.org/doc/html/rfc7636#section-4.2)
	Method() ChallengeMethod

	// Copy returns a copy of the verifier
	Copy() CodeVerifier
}

// S256Verifier represents an OAuth PKCE code verifier that uses the S256
// challenge method. It implements the CodeVerifier interface.
type S256Verifier struct {
	verifier  string
	challenge string
	method    ChallengeMethod
}

// ensure that S256Verifier implements the CodeVerifier interface
var _ CodeVerifier = (*S256Verifier)(nil)

// NewCodeVerifier creates a new CodeVerifier (*S256Verifier).
//
// See: https://datatracker.ietf.org/doc/html/rfc7636#section-4.1
func NewCodeVerifier() (*S256Verifier, error) {
	const op = "NewCodeVerifier"
	b, err := uuid.GenerateRandomBytes(32)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate random bytes: %w", op, err)
	}
	return ParseCodeVerifier(base64.RawURLEncoding.EncodeToString(b))
}

// ParseCodeVerifier creates a CodeVerifier (*S256Verifier) from an existing
// verifier, which is typically one that was persisted while the user was
// away at the provider.
func ParseCodeVerifier(verifier string) (*S256Verifier, error) {
	const op = "ParseCodeVerifier"
	if len(verifier) < minVerifierLen || len(verifier) > maxVerifierLen {
		return nil, fmt.Errorf("%s: verifier length %d is not between %d and %d: %w", op, len(verifier), minVerifierLen, maxVerifierLen, ErrInvalidCodeVerifier)
	}
	v := &S256Verifier{
		verifier: verifier,
		method:   S256,
	}
	c, err := CreateCodeChallenge(S256, v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	v.challenge = c
	return v, nil
}

func (v *S256Verifier) Verifier() string        { return v.verifier }  // Verifier implements the CodeVerifier.Verifier() interface function.
func (v *S256Verifier) Challenge() string       { return v.challenge } // Challenge implements the CodeVerifier.Challenge() interface function.
func (v *S256Verifier) Method() ChallengeMethod { return v.method }    // Method implements the CodeVerifier.Method() interface function.

// Copy returns a copy of the verifier.
func (v *S256Verifier) Copy() CodeVerifier {
	return &S256Verifier{
		verifier:  v.verifier,
		challenge: v.challenge,
		method:    v.method,
	}
}

// CreateCodeChallenge creates a code challenge from the verifier. Supported
// ChallengeMethods: S256
//
// See: https://datatracker.ietf.org/doc/html/rfc7636#section-4.2
func CreateCodeChallenge(method ChallengeMethod, v CodeVerifier) (string, error) {
	const op = "CreateCodeChallenge"
	if method != S256 {
		return "", fmt.Errorf("%s: %s is invalid: %w", op, method, ErrUnsupportedChallengeMethod)
	}
	h := sha256.Sum256([]byte(v.Verifier()))
	return base64.RawURLEncoding.EncodeToString(h[:]), nil
}
