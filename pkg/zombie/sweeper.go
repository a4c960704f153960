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

package zombie

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	"github.com/jordigilh/constitution-engine/internal/database"
	"github.com/jordigilh/constitution-engine/pkg/events"
)

// Sweeper runs Sweep on a fixed interval until its context is canceled.
// Interval and the two staleness thresholds are configurable (spec.md
// §4.11 defaults: 60s interval, 300s soft threshold; internal/config
// applies those and a 30m hard threshold when none is configured).
type Sweeper struct {
	DB            database.DB
	Emitter       *events.Emitter
	Interval      time.Duration
	ThresholdSoft time.Duration
	ThresholdHard time.Duration
	Log           logr.Logger
}

// Run blocks, sweeping every Interval, until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := Sweep(ctx, s.DB, s.Emitter, time.Now().UTC(), s.ThresholdSoft, s.ThresholdHard)
			if err != nil {
				s.Log.Error(err, "zombie sweep failed")
				continue
			}
			if result.SoftReclaimed > 0 || result.HardReclaimed > 0 {
				s.Log.Info("zombie sweep reclaimed uows", "soft", result.SoftReclaimed, "hard", result.HardReclaimed)
			}
		}
	}
}
