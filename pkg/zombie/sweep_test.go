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
	"testing"
	"time"

	"github.com/jordigilh/constitution-engine/internal/database"
	"github.com/jordigilh/constitution-engine/pkg/events"
)

func seedUOW(t *testing.T, db database.DB, u *database.UOW) {
	t.Helper()
	tx, err := db.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tx.CreateUOW(context.Background(), u); err != nil {
		t.Fatalf("CreateUOW: %v", err)
	}
	if err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestSweep_ReclaimsStaleActiveToZombiedSoft(t *testing.T) {
	db := database.NewMemoryDB()
	emitter := events.NewEmitter(events.NewMemorySink())
	ctx := context.Background()

	staleHeartbeat := time.Now().UTC().Add(-10 * time.Minute)
	seedUOW(t, db, &database.UOW{
		UOWID:         "uow-1",
		InstanceID:    "inst-1",
		Status:        database.StatusActive,
		LastHeartbeat: &staleHeartbeat,
		CreatedAt:     time.Now().UTC(),
	})
	freshHeartbeat := time.Now().UTC()
	seedUOW(t, db, &database.UOW{
		UOWID:         "uow-2",
		InstanceID:    "inst-1",
		Status:        database.StatusActive,
		LastHeartbeat: &freshHeartbeat,
		CreatedAt:     time.Now().UTC(),
	})

	result, err := Sweep(ctx, db, emitter, time.Now().UTC(), 5*time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if result.SoftReclaimed != 1 {
		t.Fatalf("expected 1 soft reclaim, got %d", result.SoftReclaimed)
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer tx.Rollback(ctx)

	stale, err := tx.GetUOWForUpdate(ctx, "uow-1")
	if err != nil {
		t.Fatalf("GetUOWForUpdate uow-1: %v", err)
	}
	if stale.Status != database.StatusZombiedSoft {
		t.Fatalf("expected uow-1 ZOMBIED_SOFT, got %s", stale.Status)
	}
	fresh, err := tx.GetUOWForUpdate(ctx, "uow-2")
	if err != nil {
		t.Fatalf("GetUOWForUpdate uow-2: %v", err)
	}
	if fresh.Status != database.StatusActive {
		t.Fatalf("expected uow-2 untouched ACTIVE, got %s", fresh.Status)
	}
}

func TestSweep_ReclaimsStaleZombiedSoftAllTheWayToPending(t *testing.T) {
	db := database.NewMemoryDB()
	sink := events.NewMemorySink()
	emitter := events.NewEmitter(sink)
	ctx := context.Background()

	staleHeartbeat := time.Now().UTC().Add(-2 * time.Hour)
	actor := "actor-a"
	seedUOW(t, db, &database.UOW{
		UOWID:         "uow-1",
		InstanceID:    "inst-1",
		Status:        database.StatusZombiedSoft,
		LeaseActorID:  &actor,
		LastHeartbeat: &staleHeartbeat,
		CreatedAt:     time.Now().UTC(),
	})

	result, err := Sweep(ctx, db, emitter, time.Now().UTC(), 5*time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if result.HardReclaimed != 1 {
		t.Fatalf("expected 1 hard reclaim, got %d", result.HardReclaimed)
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer tx.Rollback(ctx)

	reclaimed, err := tx.GetUOWForUpdate(ctx, "uow-1")
	if err != nil {
		t.Fatalf("GetUOWForUpdate: %v", err)
	}
	if reclaimed.Status != database.StatusPending {
		t.Fatalf("expected PENDING, got %s", reclaimed.Status)
	}
	if reclaimed.LeaseActorID != nil {
		t.Fatalf("expected lease cleared, got %+v", reclaimed.LeaseActorID)
	}

	history, err := tx.ListHistory(ctx, "uow-1")
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected two recorded transitions (ZOMBIED_SOFT->ZOMBIED_DEAD, ZOMBIED_DEAD->PENDING), got %d", len(history))
	}
	if history[0].ToStatus != database.StatusZombiedDead || history[1].ToStatus != database.StatusPending {
		t.Fatalf("unexpected transition sequence: %+v", history)
	}

	events := sink.Events()
	if len(events) != 1 || events[0].Type != "zombie_reclaimed" {
		t.Fatalf("expected one zombie_reclaimed event, got %+v", events)
	}
}

func TestSweep_NoCandidatesIsANoOp(t *testing.T) {
	db := database.NewMemoryDB()
	emitter := events.NewEmitter(events.NewMemorySink())
	ctx := context.Background()

	result, err := Sweep(ctx, db, emitter, time.Now().UTC(), 5*time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if result.SoftReclaimed != 0 || result.HardReclaimed != 0 {
		t.Fatalf("expected no reclamations, got %+v", result)
	}
}
