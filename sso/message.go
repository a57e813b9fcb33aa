// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package sso

import "time"

// MessageType is the "type" of a cross-window message.
type MessageType string

const (
	// TypeComplete is posted to the opener when authentication completed.
	TypeComplete MessageType = "SSO_COMPLETE"

	// TypeInitiated is sent by the host application when it starts an SSO
	// handoff.
	TypeInitiated MessageType = "SSO_INITIATED"

	// TypePing is a diagnostic message.
	TypePing MessageType = "PING"
)

// timestampLayout matches an ISO 8601 timestamp with milliseconds.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Message is a cross-window message.
type Message struct {
	Type      MessageType            `json:"type"`
	Timestamp string                 `json:"timestamp,omitempty"`
	Profile   map[string]interface{} `json:"profile,omitempty"`
}

// NewCompleteMessage returns an SSO_COMPLETE message stamped with now.
func NewCompleteMessage(now time.Time, profile map[string]interface{}) Message {
	return Message{
		Type:      TypeComplete,
		Timestamp: now.UTC().Format(timestampLayout),
		Profile:   profile,
	}
}

// Inbound is a message received from another window.
type Inbound struct {
	// Origin is the scheme, host and port of the sending window.
	Origin  string
	Message Message
}
