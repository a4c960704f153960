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
	"os"
	"sync"
)

// FileSink appends one JSON line per event to a file, matching the
// canonical JSONL-of-records format used elsewhere in this codebase for
// durable append-only logs.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileSink opens (creating if necessary) path for append and returns a
// sink backed by it. The caller is responsible for calling Close.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileSink{file: f}, nil
}

func (s *FileSink) Name() string { return "file" }

func (s *FileSink) Append(_ context.Context, ev Event) error {
	line, err := marshalPayload(ev)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	line = append(line, '\n')
	_, err = s.file.Write(line)
	return err
}

// Close flushes and closes the underlying file.
func (s *FileSink) Close() error {
	return s.file.Close()
}
