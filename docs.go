// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

// ssoclient is the client side of Metis single sign-on. Its packages manage
// an OIDC session over its whole lifecycle: sign in with the authorization
// code flow and PKCE, persistence, silent renewal, session monitoring, the
// cross-window SSO handoff and calls to the protected API.
//
// The packages, bottom up:
//
//	oidc      provider discovery, requests, token exchange and verification
//	storage   key/value stores for session state: memory, file and redis
//	session   the Manager which drives the session lifecycle
//	sso       the cross-window messages of the SSO handoff
//	auth      a Facade which is the application's single entry point
//	apiclient an API client which renews and replays unauthorized requests
//	callback  a local page and silent frame for non-browser clients
//	config    YAML, .env and environment configuration
//	metrics   Prometheus collectors for sessions, messages and replays
//
// The ssoclient command in cmd/ssoclient wires them together.
package ssoclient
