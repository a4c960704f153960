/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package events implements the append-only event emitter (spec.md C13).
// Emit never throws into the caller: every sink is wrapped in a
// sony/gobreaker circuit breaker, and a sink that is failing or whose
// breaker is open causes Emit to report "dropped" (counted in
// pkg/metrics) instead of blocking or propagating an error.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sony/gobreaker"

	"github.com/jordigilh/constitution-engine/pkg/metrics"
)

// Outcome is the backpressure signal Emit reports, per spec.md C13.
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeBuffered Outcome = "buffered"
	OutcomeDropped  Outcome = "dropped"
)

// Event is one emitted record.
type Event struct {
	Type      string
	Payload   map[string]any
	Timestamp time.Time
}

// Sink is the minimal append contract a backend implements. Append must
// not itself be expected to never fail — Emitter is what turns Sink
// failures into a circuit-broken degraded mode.
type Sink interface {
	Append(ctx context.Context, ev Event) error
	Name() string
}

// Emitter wraps a Sink in a circuit breaker so a failing or unavailable
// backend degrades Emit to "dropped" rather than blocking or erroring the
// caller (spec.md C13: "Never throw from emit into the caller").
type Emitter struct {
	sink    Sink
	breaker *gobreaker.CircuitBreaker
}

// NewEmitter wraps sink in a circuit breaker that trips after 5
// consecutive failures and otherwise uses gobreaker's default settings
// (half-open after the default cooldown).
func NewEmitter(sink Sink) *Emitter {
	st := gobreaker.Settings{
		Name: "events." + sink.Name(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Emitter{sink: sink, breaker: gobreaker.NewCircuitBreaker(st)}
}

// Emit appends an event of the given type and payload. It never returns an
// error: a sink failure or an open breaker is reported as OutcomeDropped
// and counted against pkg/metrics.EventsDropped.
func (e *Emitter) Emit(ctx context.Context, eventType string, payload map[string]any) Outcome {
	ev := Event{Type: eventType, Payload: payload, Timestamp: time.Now().UTC()}
	_, err := e.breaker.Execute(func() (any, error) {
		return nil, e.sink.Append(ctx, ev)
	})
	if err != nil {
		metrics.EventsDropped.WithLabelValues(e.sink.Name()).Inc()
		return OutcomeDropped
	}
	return OutcomeOK
}

// marshalPayload renders payload as compact JSON for sinks that need a
// wire form (file, redis stream).
func marshalPayload(ev Event) ([]byte, error) {
	return json.Marshal(struct {
		Type      string         `json:"type"`
		Payload   map[string]any `json:"payload"`
		Timestamp time.Time      `json:"timestamp"`
	}{Type: ev.Type, Payload: ev.Payload, Timestamp: ev.Timestamp})
}
