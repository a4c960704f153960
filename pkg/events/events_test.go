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

package events

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestEmit_MemorySink(t *testing.T) {
	sink := NewMemorySink()
	em := NewEmitter(sink)

	outcome := em.Emit(context.Background(), "ambiguity_lock_detected", map[string]any{"uow_id": "uow-1"})
	if outcome != OutcomeOK {
		t.Fatalf("expected OutcomeOK, got %v", outcome)
	}

	evs := sink.Events()
	if len(evs) != 1 || evs[0].Type != "ambiguity_lock_detected" {
		t.Fatalf("unexpected events: %+v", evs)
	}
}

type failingSink struct{}

func (failingSink) Name() string { return "failing" }
func (failingSink) Append(context.Context, Event) error {
	return errors.New("backend unavailable")
}

func TestEmit_DropsAfterBreakerTrips(t *testing.T) {
	em := NewEmitter(failingSink{})

	var last Outcome
	for i := 0; i < 10; i++ {
		last = em.Emit(context.Background(), "zombie_soft_detected", map[string]any{"uow_id": "uow-1"})
	}
	if last != OutcomeDropped {
		t.Fatalf("expected OutcomeDropped once the breaker trips, got %v", last)
	}
}

func TestRedisStreamSink_AppendsViaXAdd(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	sink := NewRedisStreamSink(client, "engine-events")
	em := NewEmitter(sink)

	outcome := em.Emit(context.Background(), "intervention_request", map[string]any{"uow_id": "uow-1"})
	if outcome != OutcomeOK {
		t.Fatalf("expected OutcomeOK, got %v", outcome)
	}

	length, err := client.XLen(context.Background(), "engine-events").Result()
	if err != nil {
		t.Fatalf("XLen: %v", err)
	}
	if length != 1 {
		t.Fatalf("expected 1 stream entry, got %d", length)
	}
}
