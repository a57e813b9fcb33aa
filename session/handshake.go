// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package session

import "net/url"

// Query parameters a host application uses to hand off an SSO flow.
const (
	SSOParam           = "sso"
	StateParam         = "state"
	CodeChallengeParam = "code_challenge"
)

// Handshake holds the SSO handoff parameters found in the page's query.
type Handshake struct {
	State         string
	CodeChallenge string
}

// ParseHandshake returns the SSO handoff in u. It's only recognized when
// sso=true and both the state and code_challenge are present.
func ParseHandshake(u *url.URL) (Handshake, bool) {
	if u == nil {
		return Handshake{}, false
	}
	q := u.Query()
	hs := Handshake{
		State:         q.Get(StateParam),
		CodeChallenge: q.Get(CodeChallengeParam),
	}
	if q.Get(SSOParam) != "true" || hs.State == "" || hs.CodeChallenge == "" {
		return Handshake{}, false
	}
	return hs, true
}

// barePath returns u's path without a query or fragment.
func barePath(u *url.URL) string {
	if p := u.EscapedPath(); p != "" {
		return p
	}
	return "/"
}
