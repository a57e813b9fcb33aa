// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

/*
Package sso implements the cross-window messaging between this client and the
host application which opened it.

A Channel is the window messaging capability: it reports whether there's an
opener, posts messages to it and delivers inbound messages along with their
origin. MemoryChannel serves tests and embedded hosts, WebSocketChannel lets
a host application connect over a websocket.

A Notifier posts SSO_COMPLETE to the opener once the user is signed in, and a
Listener accepts messages only from the allow-listed origin:

	l := sso.NewListener(sso.WithAllowedOrigin("https://localhost:5001"))
	go l.Run(ctx, ch)
*/
package sso
