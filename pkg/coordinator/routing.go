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

package coordinator

import (
	"context"

	"github.com/jordigilh/constitution-engine/internal/database"
	engineerrors "github.com/jordigilh/constitution-engine/internal/errors"
	"github.com/jordigilh/constitution-engine/pkg/events"
	"github.com/jordigilh/constitution-engine/pkg/guard"
	"github.com/jordigilh/constitution-engine/pkg/history"
	"github.com/jordigilh/constitution-engine/pkg/metrics"
	"github.com/jordigilh/constitution-engine/pkg/parknotify"
	"github.com/jordigilh/constitution-engine/pkg/uow"
)

// applyDecision turns a resolved guard.Decision into a persisted UOW state
// change, implementing spec.md §4.7 submit steps 6-9.
func applyDecision(ctx context.Context, tx database.Tx, emitter *events.Emitter, highRisk map[database.UOWStatus]bool, u *database.UOW, actorID string, attrs map[string]any, components []database.Component, roles []database.Role, decision guard.Decision) (guard.Decision, error) {
	from := u.Status

	switch decision.Action {
	case guard.ActionHalt:
		if err := uow.Apply(from, uow.Failed); err != nil {
			return decision, err
		}
		u.Status = uow.Failed
		if err := persist(ctx, tx, u, actorID, "submit_halt", string(decision.Reason), attrs, from, uow.Failed); err != nil {
			return decision, err
		}
		metrics.Submits.WithLabelValues("halt").Inc()
		return decision, nil

	case guard.ActionInject:
		if err := persist(ctx, tx, u, actorID, "submit_inject", "", attrs, from, from); err != nil {
			return decision, err
		}
		metrics.Submits.WithLabelValues("inject").Inc()
		return decision, nil

	case guard.ActionRoute:
		return applyRoute(ctx, tx, emitter, highRisk, u, actorID, attrs, components, roles, decision)

	default:
		return decision, engineerrors.NewValidationError("unknown guard decision action")
	}
}

// applyRoute advances current_interaction_id/interaction_count, steps
// through CERBERUS when the target feeds only the OMEGA role, and defers
// to Park & Notify before committing a high-risk terminal status. An
// ordinary hop — the target does not feed only the OMEGA role, so it is
// not an aggregation barrier waiting on siblings — releases the UOW back
// to PENDING so the next role's actor can Checkout it; an interaction is
// a waiting area between roles (spec.md's entity model), and nothing in
// the transition table lets a hand-off sit leased to the role that just
// finished with it.
func applyRoute(ctx context.Context, tx database.Tx, emitter *events.Emitter, highRisk map[database.UOWStatus]bool, u *database.UOW, actorID string, attrs map[string]any, components []database.Component, roles []database.Role, decision guard.Decision) (guard.Decision, error) {
	from := u.Status
	target := decision.NextInteraction

	proposed := uow.Active
	if interactionFeedsOnlyRoleKind(components, roles, target, database.RoleOMEGA) {
		children, err := tx.ListChildren(ctx, u.UOWID)
		if err != nil {
			return decision, engineerrors.Wrapf(err, engineerrors.ErrorTypeDatabase, "list children of %s", u.UOWID)
		}
		cerberus := guard.Cerberus(u.ChildCount, u.FinishedChildCount, childStatesOf(children))
		if cerberus.Action == guard.ActionRoute {
			proposed = uow.Completed
		}
	} else {
		proposed = uow.Pending
	}

	finalStatus := proposed
	eventType := "submit_route"
	outcome := "route"
	if proposed != uow.Active {
		pnDecision := parknotify.Intercept(ctx, emitter, highRisk, u.UOWID, proposed, "routing to "+string(proposed))
		finalStatus = pnDecision.Status
		if !pnDecision.Proceed {
			eventType = "park_notify"
			outcome = "park_notify"
		} else if proposed == uow.Completed {
			outcome = "completed"
		}
	}

	u.CurrentInteractionID = target
	u.InteractionCount++

	if finalStatus != from {
		if err := uow.Apply(from, finalStatus); err != nil {
			return decision, err
		}
		u.Status = finalStatus
	}

	if u.Status == uow.Pending {
		u.LeaseActorID = nil
		u.LastHeartbeat = nil
	}

	if err := persist(ctx, tx, u, actorID, eventType, "", attrs, from, u.Status); err != nil {
		return decision, err
	}
	metrics.Submits.WithLabelValues(outcome).Inc()
	return decision, nil
}

// persist appends the history row for this submit step and saves u's
// current field values, chaining content_hash from u's previous value.
func persist(ctx context.Context, tx database.Tx, u *database.UOW, actorID, eventType, reason string, attrs map[string]any, from, to database.UOWStatus) error {
	seq, err := nextSeq(ctx, tx, u.UOWID)
	if err != nil {
		return err
	}
	row, err := history.Append(ctx, tx, u.UOWID, seq, from, to, actorID, eventType, reason, u.ContentHash, attrs, nil)
	if err != nil {
		return err
	}
	u.ContentHash = row.NewContentHash
	if err := tx.SaveUOW(ctx, u); err != nil {
		return engineerrors.Wrapf(err, engineerrors.ErrorTypeDatabase, "save uow %s", u.UOWID)
	}
	return nil
}
