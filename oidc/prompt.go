// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

// Prompt is a string values that specifies whether the Authorization Server
// prompts the End-User for reauthentication and consent.
//
// See: https://openid.net/specs/openid-connect-core-1_0.html#AuthRequest
type Prompt string

const (
	// None is the prompt value used for silent authentication. The provider
	// must not display any authentication or consent UI and responds with an
	// error (login_required, interaction_required, ...) when it can't
	// complete the request without one.
	None Prompt = "none"

	Login         Prompt = "login"
	Consent       Prompt = "consent"
	SelectAccount Prompt = "select_account"
)
