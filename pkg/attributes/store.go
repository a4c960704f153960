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

// Package attributes implements the attribute store (spec.md C4): a
// versioned key/value map per UOW, split into a Global Blueprint (visible
// to every actor) and per-actor Personal Playbooks (visible only to their
// owner). Every write is a new version; nothing is ever overwritten in
// place, so Diff and the hash-chain replay in pkg/hashing can always
// reconstruct history.
package attributes

import (
	"context"
	"time"

	"github.com/jordigilh/constitution-engine/internal/database"
	engineerrors "github.com/jordigilh/constitution-engine/internal/errors"
)

// Put writes the next version of uowID's key as authored by authorActorID.
// ownerActorID nil means a Global Blueprint write; non-nil scopes the write
// to that actor's Personal Playbook. reasoning is optional free text
// recorded alongside the version for audit.
func Put(ctx context.Context, tx database.Tx, uowID, key string, value any, ownerActorID *string, authorActorID, reasoning string) (database.Attribute, error) {
	if uowID == "" || key == "" {
		return database.Attribute{}, engineerrors.NewValidationError("uow_id and key are required")
	}
	if authorActorID == "" {
		return database.Attribute{}, engineerrors.NewValidationError("author_actor_id is required")
	}
	attr := database.Attribute{
		UOWID:         uowID,
		Key:           key,
		Value:         value,
		OwnerActorID:  ownerActorID,
		AuthorActorID: authorActorID,
		Reasoning:     reasoning,
		CreatedAt:     time.Now().UTC(),
	}
	stored, err := tx.PutAttribute(ctx, attr)
	if err != nil {
		return database.Attribute{}, engineerrors.Wrapf(err, engineerrors.ErrorTypeDatabase, "put attribute %s/%s", uowID, key)
	}
	return stored, nil
}

// Latest returns uowID's merged attribute map as visible to viewerActorID:
// every Global Blueprint key, overridden key-by-key by viewerActorID's own
// Personal Playbook entries where present (spec.md C4's latest()
// operation). Passing "" as viewerActorID returns the Global Blueprint
// alone, since no actor's personal rows can match an empty owner id.
func Latest(ctx context.Context, tx database.Tx, uowID, viewerActorID string) (map[string]any, error) {
	merged, err := tx.LatestAttributes(ctx, uowID, viewerActorID)
	if err != nil {
		return nil, engineerrors.Wrapf(err, engineerrors.ErrorTypeDatabase, "latest attributes for %s", uowID)
	}
	return merged, nil
}

// VersionDiff is one changed key between two versions of a UOW's attribute
// set, as returned by Diff.
type VersionDiff struct {
	Key      string
	OldValue any
	NewValue any
	// Added is true when Key did not exist before fromVersion; Removed is
	// true when Key no longer exists at or before toVersion.
	Added   bool
	Removed bool
}

// Diff compares the attribute snapshot as of fromVersion against the
// snapshot as of toVersion (inclusive, per-key highest version <=
// the bound) and reports every key whose value changed, was added, or was
// removed. Both bounds are evaluated over the full version history
// regardless of owner, since an auditor reviewing a UOW's evolution needs
// to see every authored change, not just one actor's view.
func Diff(ctx context.Context, tx database.Tx, uowID string, fromVersion, toVersion int) ([]VersionDiff, error) {
	all, err := tx.AllAttributeVersions(ctx, uowID)
	if err != nil {
		return nil, engineerrors.Wrapf(err, engineerrors.ErrorTypeDatabase, "list attribute versions for %s", uowID)
	}

	before := snapshotAsOf(all, fromVersion)
	after := snapshotAsOf(all, toVersion)

	keys := make(map[string]bool, len(before)+len(after))
	for k := range before {
		keys[k] = true
	}
	for k := range after {
		keys[k] = true
	}

	var diffs []VersionDiff
	for k := range keys {
		oldVal, hadOld := before[k]
		newVal, hasNew := after[k]
		switch {
		case !hadOld && hasNew:
			diffs = append(diffs, VersionDiff{Key: k, NewValue: newVal, Added: true})
		case hadOld && !hasNew:
			diffs = append(diffs, VersionDiff{Key: k, OldValue: oldVal, Removed: true})
		case hadOld && hasNew && !valuesEqual(oldVal, newVal):
			diffs = append(diffs, VersionDiff{Key: k, OldValue: oldVal, NewValue: newVal})
		}
	}
	return diffs, nil
}

// snapshotAsOf folds versions (ordered oldest-first, as AllAttributeVersions
// returns them) into the highest-version-at-or-below-bound value per key.
func snapshotAsOf(versions []database.Attribute, bound int) map[string]any {
	snap := make(map[string]any)
	best := make(map[string]int)
	for _, v := range versions {
		if v.Version > bound {
			continue
		}
		if cur, ok := best[v.Key]; !ok || v.Version > cur {
			best[v.Key] = v.Version
			snap[v.Key] = v.Value
		}
	}
	return snap
}

func valuesEqual(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
