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

package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
)

// TemplateWatcher re-runs Reload whenever a file under Directory changes.
// A failing reload never affects already-materialized instances (spec.md
// §2.3) — it is only ever logged.
type TemplateWatcher struct {
	Directory string
	Reload    func(path string) error
	Log       logr.Logger

	watcher *fsnotify.Watcher
	stop    chan struct{}
	mu      sync.Mutex
}

// Start begins watching Directory, debouncing rapid successive writes the
// way editors and `kubectl apply -f` tend to produce (grounded on the
// debounce pattern in the retrieval pack's Cedar policy hot-reload
// engine). It returns once the watcher is registered; reload events are
// handled on a background goroutine until Stop is called.
func (w *TemplateWatcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create template watcher: %w", err)
	}
	if err := watcher.Add(w.Directory); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch template directory: %w", err)
	}
	w.watcher = watcher
	w.stop = make(chan struct{})

	go w.loop()
	return nil
}

// Stop tears down the watcher. Safe to call at most once.
func (w *TemplateWatcher) Stop() {
	if w.watcher == nil {
		return
	}
	close(w.stop)
	w.watcher.Close()
}

func (w *TemplateWatcher) loop() {
	const debounce = 500 * time.Millisecond
	var timer *time.Timer

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			path := event.Name
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				w.mu.Lock()
				defer w.mu.Unlock()
				if err := w.Reload(path); err != nil {
					w.Log.Error(err, "template hot-reload failed", "path", path)
				} else {
					w.Log.Info("template hot-reload succeeded", "path", path)
				}
			})
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.Log.Error(err, "template watcher error")
		case <-w.stop:
			return
		}
	}
}
