// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package session

// State of the current session.
type State int

const (
	StateUnauthenticated State = iota
	StatePendingCallback
	StateAuthenticated
	StateExpiring
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StatePendingCallback:
		return "pending_callback"
	case StateAuthenticated:
		return "authenticated"
	case StateExpiring:
		return "expiring"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Event names a session lifecycle notification.
type Event int

const (
	EventUserLoaded Event = iota + 1
	EventUserUnloaded
	EventTokenExpiring
	EventTokenExpired
	EventSilentRenewError
	EventUserSignedOut
)

func (e Event) String() string {
	switch e {
	case EventUserLoaded:
		return "user_loaded"
	case EventUserUnloaded:
		return "user_unloaded"
	case EventTokenExpiring:
		return "token_expiring"
	case EventTokenExpired:
		return "token_expired"
	case EventSilentRenewError:
		return "silent_renew_error"
	case EventUserSignedOut:
		return "user_signed_out"
	default:
		return "unknown"
	}
}

// Change is published to subscribers every time the session changes.
type Change struct {
	Event Event
	State State

	// Session is a copy of the current session, nil when unauthenticated.
	Session *Session

	// Err is set for EventSilentRenewError.
	Err error
}

// Flow names the branch Initialize completed.
type Flow int

const (
	// FlowNone means there was nothing to do: no stored session, no callback
	// and no SSO handoff.
	FlowNone Flow = iota
	// FlowRehydrated means a stored, unexpired session was adopted.
	FlowRehydrated
	// FlowCallback means an authorization response was exchanged for tokens.
	FlowCallback
	// FlowSSOSilent means an SSO handoff completed with a silent sign-in and
	// the opener was notified.
	FlowSSOSilent
	// FlowSSORedirect means an SSO handoff fell back to a redirect sign-in.
	FlowSSORedirect
)

func (f Flow) String() string {
	switch f {
	case FlowNone:
		return "none"
	case FlowRehydrated:
		return "rehydrated"
	case FlowCallback:
		return "callback"
	case FlowSSOSilent:
		return "sso_silent"
	case FlowSSORedirect:
		return "sso_redirect"
	default:
		return "unknown"
	}
}
