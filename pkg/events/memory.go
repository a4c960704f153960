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

import "context"

// MemorySink is an in-process sink for tests: it simply appends every
// event to a slice under a mutex-free single-writer assumption (tests
// drive it from one goroutine at a time).
type MemorySink struct {
	events []Event
}

// NewMemorySink returns an empty memory sink.
func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) Name() string { return "memory" }

func (s *MemorySink) Append(_ context.Context, ev Event) error {
	s.events = append(s.events, ev)
	return nil
}

// Events returns every event appended so far, oldest first.
func (s *MemorySink) Events() []Event {
	return append([]Event(nil), s.events...)
}
