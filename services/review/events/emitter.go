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
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultBufferSize is the number of events kept for replay.
const DefaultBufferSize = 1000

// Handler processes one event. Handlers run synchronously on the
// publishing goroutine and must not block.
type Handler func(event *Event)

// Subscription represents a subscription to events.
type Subscription struct {
	ID string

	Handler Handler

	// ReviewID limits delivery to one review ("" = all reviews).
	ReviewID string

	// Types limits which event types to handle (nil = all types).
	Types []Type
}

// Emitter broadcasts review events to subscribers and keeps a bounded
// replay buffer.
//
// Thread Safety: Emitter is safe for concurrent use.
type Emitter struct {
	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	buffer        []Event
	bufferSize    int
	logger        *slog.Logger
	now           func() time.Time
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithBufferSize sets the replay buffer size.
func WithBufferSize(size int) EmitterOption {
	return func(e *Emitter) {
		if size > 0 {
			e.bufferSize = size
		}
	}
}

// WithLogger sets the logger used for handler panics.
func WithLogger(logger *slog.Logger) EmitterOption {
	return func(e *Emitter) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEmitter creates a new event emitter.
func NewEmitter(opts ...EmitterOption) *Emitter {
	e := &Emitter{
		subscriptions: make(map[string]*Subscription),
		bufferSize:    DefaultBufferSize,
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.buffer = make([]Event, 0, e.bufferSize)
	return e
}

// Subscribe registers a handler.
//
// Inputs:
//
//	reviewID - Only events of this review are delivered ("" = all).
//	handler - Function to call for each event.
//	types - Event types to subscribe to (none = all types).
//
// Outputs:
//
//	string - Subscription ID for Unsubscribe.
func (e *Emitter) Subscribe(reviewID string, handler Handler, types ...Type) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	sub := &Subscription{
		ID:       uuid.NewString(),
		Handler:  handler,
		ReviewID: reviewID,
		Types:    types,
	}
	e.subscriptions[sub.ID] = sub
	return sub.ID
}

// Unsubscribe removes a subscription. Returns false for an unknown id.
func (e *Emitter) Unsubscribe(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.subscriptions[id]; ok {
		delete(e.subscriptions, id)
		return true
	}
	return false
}

// Publish broadcasts an event for a review.
//
// Description:
//
//	Stamps the event with a fresh id and the current time, appends it to
//	the replay buffer (dropping the oldest event when full), then invokes
//	every matching handler. Handler panics are recovered and logged.
//
// Thread Safety: This method is safe for concurrent use.
func (e *Emitter) Publish(reviewID, topic string, iteration int, data any) {
	event := Event{
		ID:        uuid.NewString(),
		Type:      Type(topic),
		ReviewID:  reviewID,
		Iteration: iteration,
		Data:      data,
	}

	e.mu.Lock()
	event.Timestamp = e.now()
	if len(e.buffer) >= e.bufferSize {
		e.buffer = e.buffer[1:]
	}
	e.buffer = append(e.buffer, event)
	subs := make([]*Subscription, 0, len(e.subscriptions))
	for _, sub := range e.subscriptions {
		subs = append(subs, sub)
	}
	e.mu.Unlock()

	for _, sub := range subs {
		if matches(sub, &event) {
			e.safeInvokeHandler(sub.Handler, &event)
		}
	}
}

func (e *Emitter) safeInvokeHandler(handler Handler, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event handler panicked",
				slog.String("event_type", string(event.Type)),
				slog.String("event_id", event.ID),
				slog.String("review_id", event.ReviewID),
				slog.Any("panic", r),
			)
		}
	}()
	handler(event)
}

func matches(sub *Subscription, event *Event) bool {
	if sub.ReviewID != "" && sub.ReviewID != event.ReviewID {
		return false
	}
	return len(sub.Types) == 0 || slices.Contains(sub.Types, event.Type)
}

// Replay returns the buffered events of a review, oldest first.
func (e *Emitter) Replay(reviewID string) []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []Event
	for _, ev := range e.buffer {
		if reviewID == "" || ev.ReviewID == reviewID {
			out = append(out, ev)
		}
	}
	return out
}

// ReplayAndSubscribe atomically returns the buffered events of a review and
// registers handler for everything published afterwards, so a stream
// neither misses nor duplicates events.
func (e *Emitter) ReplayAndSubscribe(reviewID string, handler Handler) ([]Event, string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var past []Event
	for _, ev := range e.buffer {
		if ev.ReviewID == reviewID {
			past = append(past, ev)
		}
	}
	sub := &Subscription{ID: uuid.NewString(), Handler: handler, ReviewID: reviewID}
	e.subscriptions[sub.ID] = sub
	return past, sub.ID
}

// BufferByType returns buffered events of a specific type.
func (e *Emitter) BufferByType(eventType Type) []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []Event
	for _, ev := range e.buffer {
		if ev.Type == eventType {
			out = append(out, ev)
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

// Reset clears subscriptions and the buffer.
func (e *Emitter) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subscriptions = make(map[string]*Subscription)
	e.buffer = make([]Event, 0, e.bufferSize)
}

// Recorder collects published events in memory. Used by tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Publish records an event.
func (r *Recorder) Publish(reviewID, topic string, iteration int, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{
		ID:        uuid.NewString(),
		Type:      Type(topic),
		ReviewID:  reviewID,
		Iteration: iteration,
		Timestamp: time.Now(),
		Data:      data,
	})
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// Types returns the recorded topics in order.
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

// Count returns how many events of type t were recorded.
func (r *Recorder) Count(t Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}
