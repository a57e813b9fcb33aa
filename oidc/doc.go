// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

/*
Package oidc is a relying party client for an OpenID Connect provider acting
on behalf of a public (browser-style) client. It supports the Authorization
Code Flow with PKCE, silent authentication (prompt=none), the refresh_token
grant, the userinfo endpoint and RP-initiated logout.

Provider

A Provider is built from a Config. By default the provider's endpoints are
discovered from the issuer's /.well-known/openid-configuration document. When
the provider does not publish a usable discovery document, the endpoints can be
pinned with WithProviderConfig.

Request

A Request represents one authentication attempt. It carries the state, nonce
and PKCE verifier that bind the provider's response to the attempt which
started it. Requests expire and must be discarded once the attempt completes.

Token

Tokens returned from Exchange and Refresh redact their secrets when printed or
marshaled to JSON.

TestProvider

TestProvider is an in-process identity provider which supports the flows
above and is intended for unit tests of packages built on top of this one.
*/
package oidc
