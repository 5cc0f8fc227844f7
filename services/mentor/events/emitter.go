// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handler is a function that processes events.
//
// Handlers run on the emitter's goroutine. A handler that may block, a
// websocket write for instance, should hand the event to its own buffered
// channel and return.
type Handler func(event *Event)

// Subscription represents one registered observer.
type Subscription struct {
	// ID uniquely identifies this subscription.
	ID string

	// SessionID limits delivery to one session. Empty receives every
	// session.
	SessionID string

	// Handler processes matching events.
	Handler Handler

	// Types limits which event types to handle (nil = all types).
	Types []Type
}

// Emitter broadcasts session events to subscribers.
//
// Description:
//
//	The emitter keeps a bounded ring of recent events so an observer
//	that attaches mid-session can replay what it missed. Dispatch is
//	synchronous with panic recovery: one misbehaving handler cannot
//	crash the emitter or starve the others.
//
// Thread Safety: Safe for concurrent use.
type Emitter struct {
	log *slog.Logger

	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	buffer        []Event
	bufferSize    int
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithBufferSize sets how many recent events are kept for replay.
func WithBufferSize(size int) EmitterOption {
	return func(e *Emitter) {
		if size > 0 {
			e.bufferSize = size
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) EmitterOption {
	return func(e *Emitter) {
		if log != nil {
			e.log = log
		}
	}
}

// NewEmitter creates a new event emitter.
func NewEmitter(opts ...EmitterOption) *Emitter {
	e := &Emitter{
		log:           slog.Default(),
		subscriptions: make(map[string]*Subscription),
		bufferSize:    256,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.buffer = make([]Event, 0, e.bufferSize)
	return e
}

// Subscribe registers a handler for a session's events.
//
// Inputs:
//   - sessionID: session to follow. Empty follows every session.
//   - handler: function to call for each matching event.
//   - types: event types to receive (none = all types).
//
// Outputs:
//   - string: subscription ID for Unsubscribe.
func (e *Emitter) Subscribe(sessionID string, handler Handler, types ...Type) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	sub := &Subscription{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Handler:   handler,
		Types:     types,
	}
	e.subscriptions[sub.ID] = sub
	return sub.ID
}

// Unsubscribe removes a subscription.
func (e *Emitter) Unsubscribe(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.subscriptions[id]; ok {
		delete(e.subscriptions, id)
		return true
	}
	return false
}

// Emit broadcasts an event to all matching subscribers and buffers it
// for replay.
func (e *Emitter) Emit(sessionID string, eventType Type, data any) {
	e.mu.RLock()
	subs := make([]*Subscription, 0, len(e.subscriptions))
	for _, sub := range e.subscriptions {
		subs = append(subs, sub)
	}
	e.mu.RUnlock()

	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		SessionID: sessionID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}

	e.mu.Lock()
	if len(e.buffer) >= e.bufferSize {
		e.buffer = e.buffer[1:]
	}
	e.buffer = append(e.buffer, event)
	e.mu.Unlock()

	for _, sub := range subs {
		if e.shouldHandle(sub, &event) {
			e.safeInvokeHandler(sub.Handler, &event)
		}
	}
}

// safeInvokeHandler invokes a handler with panic recovery.
func (e *Emitter) safeInvokeHandler(handler Handler, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("event handler panicked",
				"event_type", string(event.Type),
				"event_id", event.ID,
				"panic", r,
			)
		}
	}()
	handler(event)
}

// shouldHandle determines if a subscription should receive an event.
func (e *Emitter) shouldHandle(sub *Subscription, event *Event) bool {
	if sub.SessionID != "" && sub.SessionID != event.SessionID {
		return false
	}
	if len(sub.Types) > 0 {
		match := false
		for _, t := range sub.Types {
			if t == event.Type {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	return true
}

// BufferFor returns the buffered events of one session in emit order.
// Late subscribers replay these before receiving live events.
func (e *Emitter) BufferFor(sessionID string) []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []Event
	for _, event := range e.buffer {
		if event.SessionID == sessionID {
			out = append(out, event)
		}
	}
	return out
}

// SubscriptionCount returns the number of active subscriptions.
func (e *Emitter) SubscriptionCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subscriptions)
}
