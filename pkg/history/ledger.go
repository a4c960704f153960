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

// Package history implements the append-only transition ledger (spec.md
// C5): one row per UOW state transition, each carrying the content_hash
// before and after the transition so pkg/hashing can replay and verify the
// chain independently of the live uows.content_hash column.
package history

import (
	"context"
	"time"

	"github.com/jordigilh/constitution-engine/internal/database"
	engineerrors "github.com/jordigilh/constitution-engine/internal/errors"
	"github.com/jordigilh/constitution-engine/pkg/hashing"
)

// Append records one transition for uowID. seq is assigned by the caller
// (typically the next integer after the last row returned by List) so that
// AppendHistory's idempotency on (uow_id, seq) makes retried writes safe.
// newAttrs is the full attribute snapshot effective immediately after the
// transition; its canonical hash, chained onto prevHash, becomes
// newContentHash.
func Append(ctx context.Context, tx database.Tx, uowID string, seq int, from, to database.UOWStatus, actorID, eventType, reason string, prevHash string, newAttrs map[string]any, metadata map[string]any) (database.HistoryRow, error) {
	newHash, err := hashing.Chain(prevHash, newAttrs)
	if err != nil {
		return database.HistoryRow{}, engineerrors.Wrapf(err, engineerrors.ErrorTypeInternal, "chain content hash for %s", uowID)
	}

	row := database.HistoryRow{
		UOWID:           uowID,
		Seq:             seq,
		FromStatus:      from,
		ToStatus:        to,
		ActorID:         actorID,
		EventType:       eventType,
		Reason:          reason,
		PrevContentHash: prevHash,
		NewContentHash:  newHash,
		TimestampUTC:    time.Now().UTC(),
		Metadata:        metadata,
	}
	if err := tx.AppendHistory(ctx, row); err != nil {
		return database.HistoryRow{}, engineerrors.Wrapf(err, engineerrors.ErrorTypeDatabase, "append history for %s", uowID)
	}
	return row, nil
}

// List returns uowID's full transition history ordered oldest first.
func List(ctx context.Context, tx database.Tx, uowID string) ([]database.HistoryRow, error) {
	rows, err := tx.ListHistory(ctx, uowID)
	if err != nil {
		return nil, engineerrors.Wrapf(err, engineerrors.ErrorTypeDatabase, "list history for %s", uowID)
	}
	return rows, nil
}

// Verify replays uowID's history rows against attribute snapshots (ordered
// to align 1:1 with rows, each the attribute map effective as of that
// row's transition) and reports whether the replayed chain matches every
// row's stored NewContentHash. A mismatch means the stored history or the
// stored attribute versions were tampered with or corrupted independently
// of each other.
func Verify(rows []database.HistoryRow, snapshots []map[string]any) (bool, error) {
	if len(rows) != len(snapshots) {
		return false, engineerrors.NewValidationError("rows and snapshots must be the same length")
	}
	prev := ""
	for i, row := range rows {
		next, err := hashing.Chain(prev, snapshots[i])
		if err != nil {
			return false, engineerrors.Wrapf(err, engineerrors.ErrorTypeInternal, "replay chain at seq %d", row.Seq)
		}
		if next != row.NewContentHash {
			return false, nil
		}
		if row.PrevContentHash != prev {
			return false, nil
		}
		prev = next
	}
	return true, nil
}
