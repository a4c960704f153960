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

package decomposer

import (
	"context"
	"fmt"
	"testing"
	"time"

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

func seededChildID(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func TestDecompose_CreatesNPendingChildrenWithIncrementedParentCount(t *testing.T) {
	tx := newTx(t)
	ctx := context.Background()

	role := database.Role{RoleID: "role-beta", InstanceID: "inst-1", Kind: database.RoleBETA, Strategy: database.StrategyHomogeneous}
	parent := &database.UOW{UOWID: "uow-parent", InstanceID: "inst-1", Status: database.StatusActive, CreatedAt: time.Now().UTC()}
	if err := tx.CreateUOW(ctx, parent); err != nil {
		t.Fatalf("CreateUOW parent: %v", err)
	}

	childIDs, err := Decompose(ctx, tx, role, "uow-parent", "actor-a", 3, seededChildID("child"))
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	if len(childIDs) != 3 {
		t.Fatalf("expected 3 children, got %d", len(childIDs))
	}

	for _, id := range childIDs {
		child, err := tx.GetUOWForUpdate(ctx, id)
		if err != nil {
			t.Fatalf("GetUOWForUpdate(%s): %v", id, err)
		}
		if child.Status != database.StatusPending {
			t.Fatalf("expected PENDING, got %s", child.Status)
		}
		if child.ParentID == nil || *child.ParentID != "uow-parent" {
			t.Fatalf("expected parent_id uow-parent, got %+v", child.ParentID)
		}
	}

	after, err := tx.GetUOWForUpdate(ctx, "uow-parent")
	if err != nil {
		t.Fatalf("GetUOWForUpdate parent: %v", err)
	}
	if after.ChildCount != 3 {
		t.Fatalf("expected child_count 3, got %d", after.ChildCount)
	}

	parentHistory, err := tx.ListHistory(ctx, "uow-parent")
	if err != nil {
		t.Fatalf("ListHistory parent: %v", err)
	}
	if len(parentHistory) != 1 {
		t.Fatalf("expected exactly one parent history row, got %d", len(parentHistory))
	}
}

func TestDecompose_InheritsOnlyGlobalAttributes(t *testing.T) {
	tx := newTx(t)
	ctx := context.Background()

	owner := "actor-owner"
	role := database.Role{RoleID: "role-beta", InstanceID: "inst-1", Kind: database.RoleBETA, Strategy: database.StrategyHomogeneous}
	parent := &database.UOW{UOWID: "uow-parent", InstanceID: "inst-1", Status: database.StatusActive, CreatedAt: time.Now().UTC()}
	if err := tx.CreateUOW(ctx, parent); err != nil {
		t.Fatalf("CreateUOW parent: %v", err)
	}
	if _, err := tx.PutAttribute(ctx, database.Attribute{UOWID: "uow-parent", Key: "amount", Value: 100.0, AuthorActorID: "actor-a"}); err != nil {
		t.Fatalf("PutAttribute global: %v", err)
	}
	if _, err := tx.PutAttribute(ctx, database.Attribute{UOWID: "uow-parent", Key: "notes", Value: "private", OwnerActorID: &owner, AuthorActorID: owner}); err != nil {
		t.Fatalf("PutAttribute personal: %v", err)
	}

	childIDs, err := Decompose(ctx, tx, role, "uow-parent", "actor-a", 1, seededChildID("child"))
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}

	childAttrs, err := tx.LatestAttributes(ctx, childIDs[0], "actor-a")
	if err != nil {
		t.Fatalf("LatestAttributes: %v", err)
	}
	if childAttrs["amount"] != 100.0 {
		t.Fatalf("expected amount inherited, got %v", childAttrs["amount"])
	}
	if _, ok := childAttrs["notes"]; ok {
		t.Fatalf("expected personal attribute not inherited, got %v", childAttrs["notes"])
	}
}

func TestDecompose_RejectsNonBetaRole(t *testing.T) {
	tx := newTx(t)
	ctx := context.Background()

	role := database.Role{RoleID: "role-alpha", InstanceID: "inst-1", Kind: database.RoleALPHA}
	parent := &database.UOW{UOWID: "uow-parent", InstanceID: "inst-1", Status: database.StatusActive, CreatedAt: time.Now().UTC()}
	if err := tx.CreateUOW(ctx, parent); err != nil {
		t.Fatalf("CreateUOW parent: %v", err)
	}

	if _, err := Decompose(ctx, tx, role, "uow-parent", "actor-a", 2, seededChildID("child")); err == nil {
		t.Fatal("expected validation error for non-BETA role")
	}
}

func TestDecompose_RejectsMissingStrategy(t *testing.T) {
	tx := newTx(t)
	ctx := context.Background()

	role := database.Role{RoleID: "role-beta", InstanceID: "inst-1", Kind: database.RoleBETA}
	parent := &database.UOW{UOWID: "uow-parent", InstanceID: "inst-1", Status: database.StatusActive, CreatedAt: time.Now().UTC()}
	if err := tx.CreateUOW(ctx, parent); err != nil {
		t.Fatalf("CreateUOW parent: %v", err)
	}

	if _, err := Decompose(ctx, tx, role, "uow-parent", "actor-a", 2, seededChildID("child")); err == nil {
		t.Fatal("expected validation error for missing strategy")
	}
}
