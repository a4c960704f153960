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
	"github.com/jordigilh/constitution-engine/pkg/attributes"
	"github.com/jordigilh/constitution-engine/pkg/events"
	"github.com/jordigilh/constitution-engine/pkg/expr"
	"github.com/jordigilh/constitution-engine/pkg/guard"
	"github.com/jordigilh/constitution-engine/pkg/uow"
)

// AttributeWrite is one (key, value) pair submitted with a result, with an
// optional personal scope — spec.md §4.7 submit step 2: "author is actor;
// owner is null unless the caller specified a personal scope."
type AttributeWrite struct {
	Key          string
	Value        any
	OwnerActorID *string
	Reasoning    string
}

// Submit implements spec.md §4.7's submit algorithm: it verifies the
// actor's lease, writes result attributes, consults the Policy Engine for
// the UOW's current role, and advances routing — including the CERBERUS
// step when the target interaction feeds only the OMEGA role, and Park &
// Notify's redirect when the resolved next status is high-risk.
func Submit(ctx context.Context, tx database.Tx, emitter *events.Emitter, highRisk map[database.UOWStatus]bool, uowID, actorID string, writes []AttributeWrite) (guard.Decision, error) {
	u, err := tx.GetUOWForUpdate(ctx, uowID)
	if err != nil {
		return guard.Decision{}, err
	}
	if u.Status != uow.Active || u.LeaseActorID == nil || *u.LeaseActorID != actorID {
		return guard.Decision{}, engineerrors.NewLeaseLost(uowID)
	}

	for _, w := range writes {
		if _, err := attributes.Put(ctx, tx, uowID, w.Key, w.Value, w.OwnerActorID, actorID, w.Reasoning); err != nil {
			return guard.Decision{}, err
		}
	}

	attrs, err := attributes.Latest(ctx, tx, uowID, actorID)
	if err != nil {
		return guard.Decision{}, err
	}

	components, err := tx.ListComponents(ctx, u.InstanceID)
	if err != nil {
		return guard.Decision{}, engineerrors.Wrapf(err, engineerrors.ErrorTypeDatabase, "list components for %s", u.InstanceID)
	}
	roles, err := tx.ListRoles(ctx, u.InstanceID)
	if err != nil {
		return guard.Decision{}, engineerrors.Wrapf(err, engineerrors.ErrorTypeDatabase, "list roles for %s", u.InstanceID)
	}

	roleID, ok := roleConsumingInteraction(components, u.CurrentInteractionID)
	if !ok {
		return guard.Decision{}, engineerrors.NewValidationError("no role consumes the uow's current interaction")
	}
	siblings := outboundComponents(components, roleID)

	decision, err := resolveDecision(ctx, tx, siblings, attrs, u, uowID)
	if err != nil {
		return guard.Decision{}, err
	}

	return applyDecision(ctx, tx, emitter, highRisk, u, actorID, attrs, components, roles, decision)
}

// resolveDecision finds the governing Guard among roleID's OUTBOUND
// siblings and evaluates it, or — for a role with exactly one OUTBOUND
// sibling and no Guard (R12 only requires a policy when there is more than
// one sibling) — routes there directly as a pass-through ROUTE decision.
// Guard evaluation errors (malformed policy JSON, a branch condition that
// panics) are NOT swallowed here — only pkg/guard's own per-branch
// evaluation errors are (captured in its shadow log); a guard the template
// validator should have caught is a configuration defect, not routing
// ambiguity.
func resolveDecision(ctx context.Context, tx database.Tx, siblings []database.Component, attrs map[string]any, u *database.UOW, uowID string) (guard.Decision, error) {
	gc := routingGuard(siblings)
	if gc == nil {
		if len(siblings) != 1 {
			return guard.Decision{Action: guard.ActionHalt, MatchedBranch: -1, Reason: guard.ReasonNoMatch}, nil
		}
		return guard.Decision{Action: guard.ActionRoute, NextInteraction: siblings[0].InteractionID, MatchedBranch: -1}, nil
	}

	g, err := tx.GetGuard(ctx, *gc.GuardID)
	if err != nil {
		return guard.Decision{}, err
	}

	meta := map[string]any{
		"uow_id":               u.UOWID,
		"status":               string(u.Status),
		"child_count":          float64(u.ChildCount),
		"finished_child_count": float64(u.FinishedChildCount),
		"interaction_count":    float64(u.InteractionCount),
	}
	if u.ParentID != nil {
		meta["parent_id"] = *u.ParentID
	}
	env := expr.NewEnv(attrs, meta)
	reg := expr.NewRegistry()
	return evaluateGuard(g, uowID, env, reg)
}
