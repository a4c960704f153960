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

// Package pilot implements the Pilot Intervention Surface (spec.md C9):
// five human-in-the-loop operations that act on a UOW (or every UOW of an
// instance) outside the normal checkout/submit flow. None of them ever
// touch interaction_count — a pilot action is a side channel, not a step
// in the routing graph it's intervening on.
package pilot

import (
	"context"
	"fmt"

	"github.com/jordigilh/constitution-engine/internal/database"
	engineerrors "github.com/jordigilh/constitution-engine/internal/errors"
	"github.com/jordigilh/constitution-engine/pkg/attributes"
	"github.com/jordigilh/constitution-engine/pkg/history"
	"github.com/jordigilh/constitution-engine/pkg/uow"
)

// KillSwitch implements spec.md §4.9's kill_switch(instance): every ACTIVE
// UOW of instanceID moves to PAUSED. It returns the number of UOWs paused.
func KillSwitch(ctx context.Context, tx database.Tx, notifier Notifier, instanceID, pilotPrincipal, reason string) (int, error) {
	active, err := tx.ListUOWsByInstanceAndStatus(ctx, instanceID, uow.Active)
	if err != nil {
		return 0, engineerrors.Wrapf(err, engineerrors.ErrorTypeDatabase, "list active uows for %s", instanceID)
	}

	for i := range active {
		u, err := tx.GetUOWForUpdate(ctx, active[i].UOWID)
		if err != nil {
			return 0, err
		}
		if err := transition(ctx, tx, u, pilotPrincipal, "pilot_kill_switch", reason, uow.Paused); err != nil {
			return 0, err
		}
	}

	if notifier != nil {
		_ = notifier.Notify(ctx, fmt.Sprintf("kill_switch: instance %s paused (%d uows) by %s: %s", instanceID, len(active), pilotPrincipal, reason))
	}
	return len(active), nil
}

// Clarify implements spec.md §4.9's clarify(uow, text): only legal from
// ZOMBIED_SOFT. It appends the clarification as a Global Blueprint
// attribute (owner=null, author=pilotPrincipal) and moves the UOW back to
// ACTIVE without touching interaction_count.
func Clarify(ctx context.Context, tx database.Tx, uowID, pilotPrincipal, text string) error {
	u, err := tx.GetUOWForUpdate(ctx, uowID)
	if err != nil {
		return err
	}
	if u.Status != uow.ZombiedSoft {
		return engineerrors.NewIllegalTransition(string(u.Status), string(uow.Active))
	}
	if _, err := attributes.Put(ctx, tx, uowID, "pilot_clarification", text, nil, pilotPrincipal, "clarify"); err != nil {
		return err
	}
	return transition(ctx, tx, u, pilotPrincipal, "pilot_clarify", text, uow.Active)
}

// Waive implements spec.md §4.9's waive(uow, rule_id, reason): only legal
// from PAUSED, and reason is mandatory (a waiver with no stated
// justification is a defect, not an edge case). It records event_type
// CONSTITUTIONAL_WAIVER and moves the UOW back to ACTIVE.
func Waive(ctx context.Context, tx database.Tx, notifier Notifier, uowID, pilotPrincipal, ruleID, reason string) error {
	if reason == "" {
		return engineerrors.NewValidationError("waive requires a non-empty reason")
	}
	u, err := tx.GetUOWForUpdate(ctx, uowID)
	if err != nil {
		return err
	}
	if u.Status != uow.Paused {
		return engineerrors.NewIllegalTransition(string(u.Status), string(uow.Active))
	}
	if err := transition(ctx, tx, u, pilotPrincipal, "CONSTITUTIONAL_WAIVER", fmt.Sprintf("rule=%s: %s", ruleID, reason), uow.Active); err != nil {
		return err
	}
	if notifier != nil {
		_ = notifier.Notify(ctx, fmt.Sprintf("waiver: uow %s rule %s waived by %s: %s", uowID, ruleID, pilotPrincipal, reason))
	}
	return nil
}

// Resume implements spec.md §4.9's resume(uow): only legal from
// PENDING_PILOT_APPROVAL.
func Resume(ctx context.Context, tx database.Tx, uowID, pilotPrincipal, reason string) error {
	u, err := tx.GetUOWForUpdate(ctx, uowID)
	if err != nil {
		return err
	}
	if u.Status != uow.PendingPilotApproval {
		return engineerrors.NewIllegalTransition(string(u.Status), string(uow.Active))
	}
	return transition(ctx, tx, u, pilotPrincipal, "pilot_resume", reason, uow.Active)
}

// Cancel implements spec.md §4.9's cancel(uow, reason): only legal from
// PENDING_PILOT_APPROVAL.
func Cancel(ctx context.Context, tx database.Tx, uowID, pilotPrincipal, reason string) error {
	u, err := tx.GetUOWForUpdate(ctx, uowID)
	if err != nil {
		return err
	}
	if u.Status != uow.PendingPilotApproval {
		return engineerrors.NewIllegalTransition(string(u.Status), string(uow.Failed))
	}
	return transition(ctx, tx, u, pilotPrincipal, "pilot_cancel", reason, uow.Failed)
}

// transition is shared by every pilot op: it verifies the edge is legal in
// pkg/uow's table (a caller passing the wrong precondition is a
// programmer error if this fails, since every exported op above already
// checked its own precondition first), appends history, and saves.
func transition(ctx context.Context, tx database.Tx, u *database.UOW, pilotPrincipal, eventType, reason string, to database.UOWStatus) error {
	from := u.Status
	if err := uow.Apply(from, to); err != nil {
		return err
	}
	u.Status = to

	attrs, err := attributes.Latest(ctx, tx, u.UOWID, pilotPrincipal)
	if err != nil {
		return err
	}
	rows, err := tx.ListHistory(ctx, u.UOWID)
	if err != nil {
		return err
	}
	row, err := history.Append(ctx, tx, u.UOWID, len(rows)+1, from, to, pilotPrincipal, eventType, reason, u.ContentHash, attrs, nil)
	if err != nil {
		return err
	}
	u.ContentHash = row.NewContentHash

	if err := tx.SaveUOW(ctx, u); err != nil {
		return engineerrors.Wrapf(err, engineerrors.ErrorTypeDatabase, "save uow %s", u.UOWID)
	}
	return nil
}
