// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package sso

import (
	"context"
	"fmt"
	"sync"
)

// Channel is the window messaging capability of a page.
type Channel interface {
	// HasOpener reports whether a window opened this one.
	HasOpener() bool

	// Post sends m to the opener.
	Post(ctx context.Context, m Message) error

	// Messages delivers inbound messages. It's closed when the channel is.
	Messages() <-chan Inbound
}

// MemoryChannel is an in-process Channel.
type MemoryChannel struct {
	// sendMu keeps Close from closing in while a Deliver sends on it.
	sendMu sync.RWMutex

	mu        sync.Mutex
	hasOpener bool
	posted    []Message
	in        chan Inbound
	closed    bool
}

var _ Channel = (*MemoryChannel)(nil)

// NewMemoryChannel creates a MemoryChannel.
//
// Supported options: WithBufferSize
func NewMemoryChannel(hasOpener bool, opt ...Option) *MemoryChannel {
	opts := getOpts(opt...)
	return &MemoryChannel{
		hasOpener: hasOpener,
		in:        make(chan Inbound, opts.withBufferSize),
	}
}

// HasOpener implements Channel.
func (c *MemoryChannel) HasOpener() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasOpener
}

// Post implements Channel.
func (c *MemoryChannel) Post(ctx context.Context, m Message) error {
	const op = "MemoryChannel.Post"
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		return fmt.Errorf("%s: %w", op, ErrClosed)
	case !c.hasOpener:
		return fmt.Errorf("%s: %w", op, ErrNoOpener)
	}
	c.posted = append(c.posted, m)
	return nil
}

// Posted returns the messages posted to the opener.
func (c *MemoryChannel) Posted() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.posted...)
}

// Deliver queues a message from origin, blocking while the buffer is full.
func (c *MemoryChannel) Deliver(ctx context.Context, origin string, m Message) error {
	const op = "MemoryChannel.Deliver"
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return fmt.Errorf("%s: %w", op, ErrClosed)
	}
	select {
	case c.in <- Inbound{Origin: origin, Message: m}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
}

// Messages implements Channel.
func (c *MemoryChannel) Messages() <-chan Inbound { return c.in }

// Close closes the inbound messages.
func (c *MemoryChannel) Close() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.in)
}
