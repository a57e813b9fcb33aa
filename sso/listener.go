// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package sso

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"
)

// Listener reacts to messages from the allow-listed origin. Messages from any
// other origin, and messages of types it doesn't recognize, are ignored.
type Listener struct {
	allowedOrigin string
	logger        hclog.Logger
	recorder      Recorder
}

// NewListener creates a Listener.
//
// Supported options: WithAllowedOrigin, WithLogger, WithRecorder
func NewListener(opt ...Option) *Listener {
	opts := getOpts(opt...)
	return &Listener{
		allowedOrigin: opts.withAllowedOrigin,
		logger:        opts.withLogger,
		recorder:      recorderOrNop(opts.withRecorder),
	}
}

// AllowedOrigin returns the origin messages are accepted from.
func (l *Listener) AllowedOrigin() string { return l.allowedOrigin }

// Handle reacts to in and reports whether it was accepted.
func (l *Listener) Handle(in Inbound) bool {
	if in.Origin != l.allowedOrigin {
		l.logger.Trace("ignoring message from untrusted origin", "origin", in.Origin, "type", in.Message.Type)
		l.recorder.ObserveMessage("inbound", string(in.Message.Type), "ignored")
		return false
	}
	switch in.Message.Type {
	case TypeInitiated:
		l.logger.Info("sso initiated by host application", "origin", in.Origin)
	case TypePing:
		l.logger.Debug("ping", "origin", in.Origin)
	default:
		l.logger.Trace("ignoring unrecognized message", "origin", in.Origin, "type", in.Message.Type)
		l.recorder.ObserveMessage("inbound", string(in.Message.Type), "ignored")
		return false
	}
	l.recorder.ObserveMessage("inbound", string(in.Message.Type), "accepted")
	return true
}

// Run handles the messages of ch until ctx is done or ch is closed.
func (l *Listener) Run(ctx context.Context, ch Channel) error {
	const op = "Listener.Run"
	if ch == nil {
		return fmt.Errorf("%s: channel is nil: %w", op, ErrNilParameter)
	}
	msgs := ch.Messages()
	for {
		select {
		case <-ctx.Done():
			return nil
		case in, ok := <-msgs:
			if !ok {
				return nil
			}
			l.Handle(in)
		}
	}
}
