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

// Package decomposer implements the BETA Decomposer (spec.md C8): it fans
// a parent UOW out into n PENDING children, inheriting only the Global
// Blueprint (owner_actor_id == null) into each — Personal Playbook
// attributes never cross the fan-out boundary.
package decomposer

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/jordigilh/constitution-engine/internal/database"
	engineerrors "github.com/jordigilh/constitution-engine/internal/errors"
	"github.com/jordigilh/constitution-engine/pkg/attributes"
	"github.com/jordigilh/constitution-engine/pkg/hashing"
	"github.com/jordigilh/constitution-engine/pkg/history"
)

// childPlan is the per-child work computed concurrently: the content hash
// each child's seed history row will carry. Building n of these is the
// only part of decompose that benefits from errgroup — the actual
// CreateUOW/AppendHistory writes still serialize through the one storage
// transaction the parent holds, so I1/atomicity is unaffected.
type childPlan struct {
	uowID       string
	contentHash string
}

// Decompose implements spec.md §4.8's decompose(parent_uow, role, n): it
// verifies role.Kind is BETA with a strategy set, creates n PENDING
// children under parentUOWID, copies every owner_actor_id==null attribute
// from the parent into each child, increments the parent's child_count by
// n, and appends one history row per child plus one on the parent.
// newChildID is called once per child to allocate its id (typically
// google/uuid.NewString, injected so tests can supply deterministic ids).
func Decompose(ctx context.Context, tx database.Tx, role database.Role, parentUOWID, actorID string, n int, newChildID func() string) ([]string, error) {
	if role.Kind != database.RoleBETA {
		return nil, engineerrors.NewValidationError("decompose requires a BETA role")
	}
	if role.Strategy == "" {
		return nil, engineerrors.NewValidationError("BETA role has no decomposition strategy set")
	}
	if n <= 0 {
		return nil, engineerrors.NewValidationError("n must be positive")
	}

	parent, err := tx.GetUOWForUpdate(ctx, parentUOWID)
	if err != nil {
		return nil, err
	}

	globalAttrs, err := globalOnlyAttributes(ctx, tx, parentUOWID)
	if err != nil {
		return nil, err
	}

	childIDs := make([]string, n)
	for i := range childIDs {
		childIDs[i] = newChildID()
	}

	plans := make([]childPlan, n)
	g, _ := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			h, err := hashing.Chain("", globalAttrs)
			if err != nil {
				return engineerrors.Wrapf(err, engineerrors.ErrorTypeInternal, "chain content hash for child %s", childIDs[i])
			}
			plans[i] = childPlan{uowID: childIDs[i], contentHash: h}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	parentID := parent.UOWID
	for i, plan := range plans {
		child := &database.UOW{
			UOWID:                plan.uowID,
			InstanceID:           parent.InstanceID,
			ParentID:             &parentID,
			Status:               database.StatusPending,
			CurrentInteractionID: parent.CurrentInteractionID,
			MaxInteractions:      parent.MaxInteractions,
			ContentHash:          plan.contentHash,
			CreatedAt:            parent.CreatedAt,
		}
		if err := tx.CreateUOW(ctx, child); err != nil {
			return nil, engineerrors.Wrapf(err, engineerrors.ErrorTypeDatabase, "create child uow %s", plan.uowID)
		}
		for key, value := range globalAttrs {
			if _, err := attributes.Put(ctx, tx, plan.uowID, key, value, nil, actorID, fmt.Sprintf("inherited from %s", parent.UOWID)); err != nil {
				return nil, err
			}
		}
		if _, err := history.Append(ctx, tx, plan.uowID, 1, "", database.StatusPending, actorID, "decompose_child", "", "", globalAttrs, map[string]any{"parent_id": parent.UOWID}); err != nil {
			return nil, err
		}
	}

	parent.ChildCount += n
	seq, err := nextParentSeq(ctx, tx, parent.UOWID)
	if err != nil {
		return nil, err
	}
	row, err := history.Append(ctx, tx, parent.UOWID, seq, parent.Status, parent.Status, actorID, "decompose_parent", fmt.Sprintf("fanned out %d children", n), parent.ContentHash, globalAttrs, map[string]any{"child_uow_ids": childIDs})
	if err != nil {
		return nil, err
	}
	parent.ContentHash = row.NewContentHash
	if err := tx.SaveUOW(ctx, parent); err != nil {
		return nil, engineerrors.Wrapf(err, engineerrors.ErrorTypeDatabase, "save parent uow %s", parent.UOWID)
	}

	return childIDs, nil
}

func globalOnlyAttributes(ctx context.Context, tx database.Tx, uowID string) (map[string]any, error) {
	versions, err := tx.AllAttributeVersions(ctx, uowID)
	if err != nil {
		return nil, engineerrors.Wrapf(err, engineerrors.ErrorTypeDatabase, "list attribute versions for %s", uowID)
	}
	best := make(map[string]int)
	out := make(map[string]any)
	for _, v := range versions {
		if v.OwnerActorID != nil {
			continue
		}
		if cur, ok := best[v.Key]; !ok || v.Version > cur {
			best[v.Key] = v.Version
			out[v.Key] = v.Value
		}
	}
	return out, nil
}

func nextParentSeq(ctx context.Context, tx database.Tx, uowID string) (int, error) {
	rows, err := tx.ListHistory(ctx, uowID)
	if err != nil {
		return 0, err
	}
	return len(rows) + 1, nil
}
