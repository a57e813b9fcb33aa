// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

/*
Package session owns the authentication session lifecycle of a public OIDC
client: acquiring tokens through a redirect sign-in, a silent renewal or an SSO
handoff from a host application, persisting the signed in user across page
loads and keeping that state consistent with the provider's token lifetimes.

The page the client runs in is abstracted by two small host capabilities:
Window (the visible URL and top level navigation) and SilentFrame (a hidden
authorization request that completes without user interaction). Every page
load is modeled as a new Manager over the same storage.Store.

Manager

A Manager drives the state machine

	Unauthenticated -> PendingCallback -> Authenticated -> Expiring -> Authenticated
	                                                    \-> Expired -> Unauthenticated

and is the only writer of session data. Callers observe it through
IsAuthenticated, AccessToken, CurrentUser, State and Subscribe.

Store

A Store scopes the persisted entries to one provider and client:

	oidc.user:<authority>:<client_id>   the signed in user
	oidc.request.<state>                an in-flight authentication request
	oauth_state, pkce_code_verifier     the transient pair of the current flow
*/
package session
