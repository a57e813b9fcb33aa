// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package sso

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Notifier posts SSO_COMPLETE to the opener window. It satisfies
// session.Notifier.
type Notifier struct {
	ch       Channel
	logger   hclog.Logger
	nowFunc  func() time.Time
	recorder Recorder
}

// NewNotifier creates a Notifier which posts to ch.
//
// Supported options: WithLogger, WithNow, WithRecorder
func NewNotifier(ch Channel, opt ...Option) (*Notifier, error) {
	const op = "sso.NewNotifier"
	if ch == nil {
		return nil, fmt.Errorf("%s: channel is nil: %w", op, ErrNilParameter)
	}
	opts := getOpts(opt...)
	return &Notifier{
		ch:       ch,
		logger:   opts.withLogger,
		nowFunc:  opts.withNowFunc,
		recorder: recorderOrNop(opts.withRecorder),
	}, nil
}

// NotifyComplete posts SSO_COMPLETE carrying the profile. Without an opener
// it does nothing.
func (n *Notifier) NotifyComplete(ctx context.Context, profile map[string]interface{}) error {
	const op = "Notifier.NotifyComplete"
	if !n.ch.HasOpener() {
		n.logger.Trace("no opener to notify")
		return nil
	}
	m := NewCompleteMessage(n.nowFunc(), profile)
	if err := n.ch.Post(ctx, m); err != nil {
		n.recorder.ObserveMessage("outbound", string(m.Type), "failed")
		return fmt.Errorf("%s: %w", op, err)
	}
	n.recorder.ObserveMessage("outbound", string(m.Type), "posted")
	n.logger.Debug("notified opener", "type", m.Type)
	return nil
}
