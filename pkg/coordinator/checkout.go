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

// Package coordinator implements the Checkout/Submit Coordinator (spec.md
// C7): the only writer of ACTIVE, and the operation that walks the Policy
// Engine's routing decision through to a persisted status change. Every
// exported function here runs under one already-open database.Tx — the
// caller owns transaction boundaries (Begin/Commit/Rollback).
package coordinator

import (
	"context"
	"time"

	"github.com/jordigilh/constitution-engine/internal/database"
	engineerrors "github.com/jordigilh/constitution-engine/internal/errors"
	"github.com/jordigilh/constitution-engine/pkg/attributes"
	"github.com/jordigilh/constitution-engine/pkg/events"
	"github.com/jordigilh/constitution-engine/pkg/history"
	"github.com/jordigilh/constitution-engine/pkg/metrics"
	"github.com/jordigilh/constitution-engine/pkg/uow"
)

// CheckoutResult is returned by Checkout on a successful lease.
type CheckoutResult struct {
	UOWID      string
	Attributes map[string]any
}

// Checkout implements spec.md §4.7's checkout algorithm: it finds the
// highest-priority, oldest PENDING UOW sitting in an interaction that
// feeds roleID, leases it to actorID, or reports the I4 ambiguity-lock
// gate. A nil result with a nil error means "no work" — the caller should
// not treat that as failure.
func Checkout(ctx context.Context, tx database.Tx, emitter *events.Emitter, instanceID, actorID, roleID string) (*CheckoutResult, error) {
	components, err := tx.ListComponents(ctx, instanceID)
	if err != nil {
		return nil, engineerrors.Wrapf(err, engineerrors.ErrorTypeDatabase, "list components for %s", instanceID)
	}
	interactionIDs := interactionsInboundTo(components, roleID)
	if len(interactionIDs) == 0 {
		metrics.Checkouts.WithLabelValues("no_work").Inc()
		return nil, nil
	}

	candidates, err := tx.FindEligibleUOWs(ctx, interactionIDs)
	if err != nil {
		return nil, engineerrors.Wrapf(err, engineerrors.ErrorTypeDatabase, "find eligible uows")
	}
	if len(candidates) == 0 {
		metrics.Checkouts.WithLabelValues("no_work").Inc()
		return nil, nil
	}

	candidate, err := tx.GetUOWForUpdate(ctx, candidates[0].UOWID)
	if err != nil {
		return nil, err
	}

	if candidate.InteractionCount >= candidate.MaxInteractions {
		return nil, ambiguityLock(ctx, tx, emitter, candidate)
	}

	if err := uow.Apply(candidate.Status, uow.Active); err != nil {
		return nil, err
	}
	candidate.Status = uow.Active
	candidate.LeaseActorID = &actorID
	now := time.Now().UTC()
	candidate.LastHeartbeat = &now

	attrs, err := attributes.Latest(ctx, tx, candidate.UOWID, actorID)
	if err != nil {
		return nil, err
	}
	seq, err := nextSeq(ctx, tx, candidate.UOWID)
	if err != nil {
		return nil, err
	}
	row, err := history.Append(ctx, tx, candidate.UOWID, seq, database.StatusPending, uow.Active, actorID, "checkout", "", candidate.ContentHash, attrs, nil)
	if err != nil {
		return nil, err
	}
	candidate.ContentHash = row.NewContentHash

	if err := tx.SaveUOW(ctx, candidate); err != nil {
		return nil, engineerrors.Wrapf(err, engineerrors.ErrorTypeDatabase, "save uow %s", candidate.UOWID)
	}

	metrics.Checkouts.WithLabelValues("leased").Inc()
	return &CheckoutResult{UOWID: candidate.UOWID, Attributes: attrs}, nil
}

// ambiguityLock implements the I4 gate: a candidate that has exhausted its
// max_interactions budget is moved to ZOMBIED_SOFT instead of being
// leased, and ambiguity_lock_detected is emitted. Checkout still reports
// "no work" to its caller — the gate does not silently skip the candidate
// to try the next one.
func ambiguityLock(ctx context.Context, tx database.Tx, emitter *events.Emitter, candidate *database.UOW) error {
	if err := uow.Apply(candidate.Status, uow.ZombiedSoft); err != nil {
		return err
	}
	from := candidate.Status
	candidate.Status = uow.ZombiedSoft

	attrs, err := attributes.Latest(ctx, tx, candidate.UOWID, "")
	if err != nil {
		return err
	}
	seq, err := nextSeq(ctx, tx, candidate.UOWID)
	if err != nil {
		return err
	}
	row, err := history.Append(ctx, tx, candidate.UOWID, seq, from, uow.ZombiedSoft, "", "ambiguity_lock", "interaction_count >= max_interactions", candidate.ContentHash, attrs, nil)
	if err != nil {
		return err
	}
	candidate.ContentHash = row.NewContentHash

	if err := tx.SaveUOW(ctx, candidate); err != nil {
		return engineerrors.Wrapf(err, engineerrors.ErrorTypeDatabase, "save uow %s", candidate.UOWID)
	}

	emitter.Emit(ctx, "ambiguity_lock_detected", map[string]any{"uow_id": candidate.UOWID})
	metrics.Checkouts.WithLabelValues("ambiguity_lock").Inc()
	return nil
}
