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

// Package zombie implements the Zombie Sweeper (spec.md C11): a periodic
// scan that reclaims UOWs whose actor stopped heartbeating. The soft sweep
// moves a stale ACTIVE UOW to ZOMBIED_SOFT (recoverable by pilot clarify);
// the hard sweep moves a stale ZOMBIED_SOFT UOW all the way back to
// PENDING so another actor can pick it up.
package zombie

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jordigilh/constitution-engine/internal/database"
	engineerrors "github.com/jordigilh/constitution-engine/internal/errors"
	"github.com/jordigilh/constitution-engine/pkg/attributes"
	"github.com/jordigilh/constitution-engine/pkg/events"
	"github.com/jordigilh/constitution-engine/pkg/history"
	"github.com/jordigilh/constitution-engine/pkg/metrics"
	"github.com/jordigilh/constitution-engine/pkg/uow"
)

// Result tallies one sweep pass.
type Result struct {
	SoftReclaimed int
	HardReclaimed int
}

// Sweep runs one pass: it finds every ACTIVE UOW stale past thresholdSoft
// and every ZOMBIED_SOFT UOW stale past thresholdHard, and reclaims each
// under its own storage transaction — spec.md §5's "no transaction locks
// two UOWs at once except the decomposer" rule means each candidate gets
// an independent commit, so one failing reclaim never blocks the rest.
// Candidates within a sweep are processed concurrently via errgroup, since
// (unlike the decomposer's single-parent-transaction fan-out) these really
// are independent transactions against independent rows.
func Sweep(ctx context.Context, db database.DB, emitter *events.Emitter, now time.Time, thresholdSoft, thresholdHard time.Duration) (Result, error) {
	softCandidates, err := findStaleActive(ctx, db, now.Add(-thresholdSoft))
	if err != nil {
		return Result{}, err
	}
	hardCandidates, err := findStaleZombiedSoft(ctx, db, now.Add(-thresholdHard))
	if err != nil {
		return Result{}, err
	}

	var softCount, hardCount atomic.Int64
	var g errgroup.Group
	for _, c := range softCandidates {
		uowID := c.UOWID
		g.Go(func() error {
			reclaimed, err := reclaimSoft(ctx, db, emitter, uowID)
			if err != nil {
				return err
			}
			if reclaimed {
				softCount.Add(1)
			}
			return nil
		})
	}
	for _, c := range hardCandidates {
		uowID := c.UOWID
		g.Go(func() error {
			reclaimed, err := reclaimHard(ctx, db, emitter, uowID)
			if err != nil {
				return err
			}
			if reclaimed {
				hardCount.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	return Result{SoftReclaimed: int(softCount.Load()), HardReclaimed: int(hardCount.Load())}, nil
}

func findStaleActive(ctx context.Context, db database.DB, olderThan time.Time) ([]database.UOW, error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	return tx.FindStaleActive(ctx, olderThan)
}

func findStaleZombiedSoft(ctx context.Context, db database.DB, olderThan time.Time) ([]database.UOW, error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	return tx.FindStaleZombiedSoft(ctx, olderThan)
}

// reclaimSoft moves one ACTIVE UOW to ZOMBIED_SOFT. It re-checks the
// status under its own row lock (the candidate list was read outside this
// transaction, so it may be stale) and is a no-op if the UOW already
// moved on.
func reclaimSoft(ctx context.Context, db database.DB, emitter *events.Emitter, uowID string) (bool, error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	u, err := tx.GetUOWForUpdate(ctx, uowID)
	if err != nil {
		return false, err
	}
	if u.Status != uow.Active {
		return false, nil
	}

	if err := recordTransition(ctx, tx, u, "zombie_soft_sweep", "stale heartbeat", uow.ZombiedSoft); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, engineerrors.Wrapf(err, engineerrors.ErrorTypeDatabase, "commit soft reclaim for %s", uowID)
	}

	emitter.Emit(ctx, "zombie_soft_detected", map[string]any{"uow_id": uowID})
	metrics.ZombieReclamations.WithLabelValues("soft").Inc()
	return true, nil
}

// reclaimHard carries a ZOMBIED_SOFT UOW the rest of the way back to
// PENDING, clearing its lease. The §4.6/§4.11 resolution (see DESIGN.md)
// records this as two legal transitions in the same transaction:
// ZOMBIED_SOFT -> ZOMBIED_DEAD, then ZOMBIED_DEAD -> PENDING.
func reclaimHard(ctx context.Context, db database.DB, emitter *events.Emitter, uowID string) (bool, error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	u, err := tx.GetUOWForUpdate(ctx, uowID)
	if err != nil {
		return false, err
	}
	if u.Status != uow.ZombiedSoft {
		return false, nil
	}

	if err := recordTransition(ctx, tx, u, "zombie_hard_sweep", "stale heartbeat past hard threshold", uow.ZombiedDead); err != nil {
		return false, err
	}
	u.LeaseActorID = nil
	u.LastHeartbeat = nil
	if err := recordTransition(ctx, tx, u, "zombie_reclaimed", "stale heartbeat past hard threshold", uow.Pending); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, engineerrors.Wrapf(err, engineerrors.ErrorTypeDatabase, "commit hard reclaim for %s", uowID)
	}

	emitter.Emit(ctx, "zombie_reclaimed", map[string]any{"uow_id": uowID})
	metrics.ZombieReclamations.WithLabelValues("hard").Inc()
	return true, nil
}

func recordTransition(ctx context.Context, tx database.Tx, u *database.UOW, eventType, reason string, to database.UOWStatus) error {
	from := u.Status
	if err := uow.Apply(from, to); err != nil {
		return err
	}
	u.Status = to

	attrs, err := attributes.Latest(ctx, tx, u.UOWID, "")
	if err != nil {
		return err
	}
	rows, err := tx.ListHistory(ctx, u.UOWID)
	if err != nil {
		return err
	}
	row, err := history.Append(ctx, tx, u.UOWID, len(rows)+1, from, to, "", eventType, reason, u.ContentHash, attrs, nil)
	if err != nil {
		return err
	}
	u.ContentHash = row.NewContentHash

	return tx.SaveUOW(ctx, u)
}
