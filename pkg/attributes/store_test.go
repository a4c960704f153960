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

package attributes

import (
	"context"
	"testing"

	"github.com/jordigilh/constitution-engine/internal/database"
)

func newTx(t *testing.T) database.Tx {
	t.Helper()
	db := database.NewMemoryDB()
	tx, err := db.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return tx
}

func TestPut_AllocatesIncrementingVersions(t *testing.T) {
	tx := newTx(t)
	ctx := context.Background()

	v1, err := Put(ctx, tx, "uow-1", "amount", 100.0, nil, "actor-a", "initial")
	if err != nil {
		t.Fatalf("Put v1: %v", err)
	}
	if v1.Version != 1 {
		t.Fatalf("expected version 1, got %d", v1.Version)
	}

	v2, err := Put(ctx, tx, "uow-1", "amount", 150.0, nil, "actor-a", "revised")
	if err != nil {
		t.Fatalf("Put v2: %v", err)
	}
	if v2.Version != 2 {
		t.Fatalf("expected version 2, got %d", v2.Version)
	}
}

func TestLatest_GlobalOnly(t *testing.T) {
	tx := newTx(t)
	ctx := context.Background()

	if _, err := Put(ctx, tx, "uow-1", "amount", 100.0, nil, "actor-a", ""); err != nil {
		t.Fatalf("Put: %v", err)
	}

	latest, err := Latest(ctx, tx, "uow-1", "actor-b")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest["amount"] != 100.0 {
		t.Fatalf("expected global amount visible to actor-b, got %v", latest["amount"])
	}
}

func TestLatest_PersonalOverridesGlobalForOwnerOnly(t *testing.T) {
	tx := newTx(t)
	ctx := context.Background()
	owner := "actor-a"

	if _, err := Put(ctx, tx, "uow-1", "risk_tolerance", "low", nil, "actor-root", ""); err != nil {
		t.Fatalf("Put global: %v", err)
	}
	if _, err := Put(ctx, tx, "uow-1", "risk_tolerance", "high", &owner, owner, "personal override"); err != nil {
		t.Fatalf("Put personal: %v", err)
	}

	mine, err := Latest(ctx, tx, "uow-1", "actor-a")
	if err != nil {
		t.Fatalf("Latest(actor-a): %v", err)
	}
	if mine["risk_tolerance"] != "high" {
		t.Fatalf("expected actor-a's personal override, got %v", mine["risk_tolerance"])
	}

	theirs, err := Latest(ctx, tx, "uow-1", "actor-b")
	if err != nil {
		t.Fatalf("Latest(actor-b): %v", err)
	}
	if theirs["risk_tolerance"] != "low" {
		t.Fatalf("expected actor-b to see the global value, got %v", theirs["risk_tolerance"])
	}
}

func TestPut_RejectsMissingAuthor(t *testing.T) {
	tx := newTx(t)
	ctx := context.Background()

	if _, err := Put(ctx, tx, "uow-1", "amount", 100.0, nil, "", ""); err == nil {
		t.Fatal("expected validation error for missing author_actor_id")
	}
}

func TestDiff_ReportsChangedKeyOnly(t *testing.T) {
	tx := newTx(t)
	ctx := context.Background()

	if _, err := Put(ctx, tx, "uow-1", "amount", 100.0, nil, "actor-a", ""); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := Put(ctx, tx, "uow-1", "region", "us-east", nil, "actor-a", ""); err != nil {
		t.Fatalf("Put: %v", err)
	}
	// amount version 2: amount changes, region untouched (versions are per key)
	if _, err := Put(ctx, tx, "uow-1", "amount", 250.0, nil, "actor-a", ""); err != nil {
		t.Fatalf("Put: %v", err)
	}

	diffs, err := Diff(ctx, tx, "uow-1", 1, 3)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(diffs) != 1 {
		t.Fatalf("expected exactly 1 changed key, got %d: %+v", len(diffs), diffs)
	}
	if diffs[0].Key != "amount" || diffs[0].OldValue != 100.0 || diffs[0].NewValue != 250.0 {
		t.Fatalf("unexpected diff: %+v", diffs[0])
	}
}

func TestDiff_FromZeroReportsEverythingAsAdded(t *testing.T) {
	tx := newTx(t)
	ctx := context.Background()

	if _, err := Put(ctx, tx, "uow-1", "amount", 100.0, nil, "actor-a", ""); err != nil {
		t.Fatalf("Put: %v", err)
	}

	diffs, err := Diff(ctx, tx, "uow-1", 0, 1)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(diffs) != 1 || !diffs[0].Added {
		t.Fatalf("expected one Added diff, got %+v", diffs)
	}
}
