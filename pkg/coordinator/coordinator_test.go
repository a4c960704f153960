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
	"encoding/json"
	"testing"
	"time"

	"github.com/jordigilh/constitution-engine/internal/database"
	"github.com/jordigilh/constitution-engine/pkg/events"
	"github.com/jordigilh/constitution-engine/pkg/guard"
	"github.com/jordigilh/constitution-engine/pkg/uow"
)

func newMemTx(t *testing.T) database.Tx {
	t.Helper()
	db := database.NewMemoryDB()
	tx, err := db.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return tx
}

func newEmitter() (*events.Emitter, *events.MemorySink) {
	sink := events.NewMemorySink()
	return events.NewEmitter(sink), sink
}

// seedLinearTemplate saves an ALPHA role (with no components) and a BETA
// role that consumes "intake" and has a single un-guarded OUTBOUND
// component to "outlet" (the R12 pass-through case: exactly one OUTBOUND
// sibling needs no policy), and creates one PENDING UOW sitting in the
// BETA role's inbound interaction.
func seedLinearTemplate(t *testing.T, tx database.Tx, instanceID, uowID string) (betaRoleID string) {
	t.Helper()
	ctx := context.Background()

	alphaRole := database.Role{RoleID: "role-alpha", InstanceID: instanceID, Name: "alpha", Kind: database.RoleALPHA}
	betaRole := database.Role{RoleID: "role-beta", InstanceID: instanceID, Name: "beta", Kind: database.RoleBETA}
	if err := tx.SaveRole(ctx, &alphaRole); err != nil {
		t.Fatalf("SaveRole alpha: %v", err)
	}
	if err := tx.SaveRole(ctx, &betaRole); err != nil {
		t.Fatalf("SaveRole beta: %v", err)
	}

	intake := database.Component{ComponentID: "c-intake", InstanceID: instanceID, RoleID: betaRole.RoleID, InteractionID: "intake", Direction: database.DirectionInbound}
	outlet := database.Component{ComponentID: "c-outlet", InstanceID: instanceID, RoleID: betaRole.RoleID, InteractionID: "outlet", Direction: database.DirectionOutbound}
	if err := tx.SaveComponent(ctx, &intake); err != nil {
		t.Fatalf("SaveComponent intake: %v", err)
	}
	if err := tx.SaveComponent(ctx, &outlet); err != nil {
		t.Fatalf("SaveComponent outlet: %v", err)
	}

	u := &database.UOW{
		UOWID:                uowID,
		InstanceID:           instanceID,
		Status:               uow.Pending,
		MaxInteractions:      10,
		CurrentInteractionID: "intake",
		CreatedAt:            time.Now().UTC(),
	}
	if err := tx.CreateUOW(ctx, u); err != nil {
		t.Fatalf("CreateUOW: %v", err)
	}

	return betaRole.RoleID
}

func TestCheckout_LeasesHighestPriorityPendingUOW(t *testing.T) {
	tx := newMemTx(t)
	emitter, _ := newEmitter()
	ctx := context.Background()
	roleID := seedLinearTemplate(t, tx, "inst-1", "uow-1")

	result, err := Checkout(ctx, tx, emitter, "inst-1", "actor-a", roleID)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if result == nil {
		t.Fatal("expected a leased uow, got no work")
	}
	if result.UOWID != "uow-1" {
		t.Fatalf("expected uow-1, got %s", result.UOWID)
	}

	leased, err := tx.GetUOWForUpdate(ctx, "uow-1")
	if err != nil {
		t.Fatalf("GetUOWForUpdate: %v", err)
	}
	if leased.Status != uow.Active {
		t.Fatalf("expected ACTIVE, got %s", leased.Status)
	}
	if leased.LeaseActorID == nil || *leased.LeaseActorID != "actor-a" {
		t.Fatalf("expected lease on actor-a, got %+v", leased.LeaseActorID)
	}
}

func TestCheckout_NoWorkWhenNoEligibleUOWs(t *testing.T) {
	tx := newMemTx(t)
	emitter, _ := newEmitter()
	ctx := context.Background()
	roleID := seedLinearTemplate(t, tx, "inst-1", "uow-1")

	// Lease the only candidate, then checkout again.
	if _, err := Checkout(ctx, tx, emitter, "inst-1", "actor-a", roleID); err != nil {
		t.Fatalf("first Checkout: %v", err)
	}
	result, err := Checkout(ctx, tx, emitter, "inst-1", "actor-b", roleID)
	if err != nil {
		t.Fatalf("second Checkout: %v", err)
	}
	if result != nil {
		t.Fatalf("expected no work, got %+v", result)
	}
}

func TestCheckout_AmbiguityLockWhenInteractionBudgetExhausted(t *testing.T) {
	tx := newMemTx(t)
	emitter, sink := newEmitter()
	ctx := context.Background()
	roleID := seedLinearTemplate(t, tx, "inst-1", "uow-1")

	u, err := tx.GetUOWForUpdate(ctx, "uow-1")
	if err != nil {
		t.Fatalf("GetUOWForUpdate: %v", err)
	}
	u.InteractionCount = u.MaxInteractions
	if err := tx.SaveUOW(ctx, u); err != nil {
		t.Fatalf("SaveUOW: %v", err)
	}

	result, err := Checkout(ctx, tx, emitter, "inst-1", "actor-a", roleID)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if result != nil {
		t.Fatalf("expected no work (gate, not a lease), got %+v", result)
	}

	locked, err := tx.GetUOWForUpdate(ctx, "uow-1")
	if err != nil {
		t.Fatalf("GetUOWForUpdate: %v", err)
	}
	if locked.Status != uow.ZombiedSoft {
		t.Fatalf("expected ZOMBIED_SOFT, got %s", locked.Status)
	}

	events := sink.Events()
	if len(events) != 1 || events[0].Type != "ambiguity_lock_detected" {
		t.Fatalf("expected one ambiguity_lock_detected event, got %+v", events)
	}
}

func TestSubmit_PassThroughRouteWithNoGuard(t *testing.T) {
	tx := newMemTx(t)
	emitter, _ := newEmitter()
	ctx := context.Background()
	roleID := seedLinearTemplate(t, tx, "inst-1", "uow-1")

	if _, err := Checkout(ctx, tx, emitter, "inst-1", "actor-a", roleID); err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	decision, err := Submit(ctx, tx, emitter, nil, "uow-1", "actor-a", []AttributeWrite{
		{Key: "result", Value: "ok"},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if decision.Action != guard.ActionRoute || decision.NextInteraction != "outlet" {
		t.Fatalf("expected pass-through ROUTE to outlet, got %+v", decision)
	}

	after, err := tx.GetUOWForUpdate(ctx, "uow-1")
	if err != nil {
		t.Fatalf("GetUOWForUpdate: %v", err)
	}
	if after.CurrentInteractionID != "outlet" {
		t.Fatalf("expected current_interaction_id outlet, got %s", after.CurrentInteractionID)
	}
	if after.InteractionCount != 1 {
		t.Fatalf("expected interaction_count 1, got %d", after.InteractionCount)
	}
	if after.Status != uow.Pending {
		t.Fatalf("expected status PENDING (outlet is an ordinary hop, not an OMEGA aggregation barrier), got %s", after.Status)
	}
	if after.LeaseActorID != nil {
		t.Fatalf("expected the lease cleared on release to PENDING, got %+v", after.LeaseActorID)
	}
}

// TestSubmit_RouteReleasesPendingForNextRoleCheckout wires a third role
// consuming seedLinearTemplate's "outlet" interaction and asserts that,
// after the BETA role's actor submits, the UOW is actually checkout-able
// by the downstream role's own actor — not left ACTIVE and leased to the
// actor that just finished with it.
func TestSubmit_RouteReleasesPendingForNextRoleCheckout(t *testing.T) {
	tx := newMemTx(t)
	emitter, _ := newEmitter()
	ctx := context.Background()
	betaRoleID := seedLinearTemplate(t, tx, "inst-1", "uow-1")

	tauRole := database.Role{RoleID: "role-tau", InstanceID: "inst-1", Name: "tau", Kind: database.RoleTAU}
	if err := tx.SaveRole(ctx, &tauRole); err != nil {
		t.Fatalf("SaveRole tau: %v", err)
	}
	tauIn := database.Component{ComponentID: "c-tau-in", InstanceID: "inst-1", RoleID: tauRole.RoleID, InteractionID: "outlet", Direction: database.DirectionInbound}
	if err := tx.SaveComponent(ctx, &tauIn); err != nil {
		t.Fatalf("SaveComponent tau-in: %v", err)
	}

	if _, err := Checkout(ctx, tx, emitter, "inst-1", "actor-a", betaRoleID); err != nil {
		t.Fatalf("Checkout (beta): %v", err)
	}
	if _, err := Submit(ctx, tx, emitter, nil, "uow-1", "actor-a", []AttributeWrite{
		{Key: "result", Value: "ok"},
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	result, err := Checkout(ctx, tx, emitter, "inst-1", "actor-b", tauRole.RoleID)
	if err != nil {
		t.Fatalf("Checkout (tau): %v", err)
	}
	if result == nil {
		t.Fatal("expected the tau role's actor to successfully check out the routed uow, got no work")
	}
	if result.UOWID != "uow-1" {
		t.Fatalf("expected uow-1, got %s", result.UOWID)
	}

	after, err := tx.GetUOWForUpdate(ctx, "uow-1")
	if err != nil {
		t.Fatalf("GetUOWForUpdate: %v", err)
	}
	if after.Status != uow.Active {
		t.Fatalf("expected ACTIVE after the tau role's checkout, got %s", after.Status)
	}
	if after.LeaseActorID == nil || *after.LeaseActorID != "actor-b" {
		t.Fatalf("expected the lease to move to actor-b, got %+v", after.LeaseActorID)
	}
}

func TestSubmit_RejectsStaleLease(t *testing.T) {
	tx := newMemTx(t)
	emitter, _ := newEmitter()
	ctx := context.Background()
	roleID := seedLinearTemplate(t, tx, "inst-1", "uow-1")

	if _, err := Checkout(ctx, tx, emitter, "inst-1", "actor-a", roleID); err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	_, err := Submit(ctx, tx, emitter, nil, "uow-1", "actor-b", []AttributeWrite{{Key: "x", Value: 1.0}})
	if err == nil {
		t.Fatal("expected lease_lost error for wrong actor")
	}
}

// seedGuardedFork builds role-source (a BETA role consuming "intake") with
// two OUTBOUND siblings: one carries the guard that routes on a boolean
// attribute, exercising R12's "more than one sibling needs a policy" case.
func seedGuardedFork(t *testing.T, tx database.Tx, instanceID, uowID string) (sourceRoleID string) {
	t.Helper()
	ctx := context.Background()

	sourceRole := database.Role{RoleID: "role-source", InstanceID: instanceID, Name: "source", Kind: database.RoleBETA}
	if err := tx.SaveRole(ctx, &sourceRole); err != nil {
		t.Fatalf("SaveRole source: %v", err)
	}

	intake := database.Component{ComponentID: "c-intake", InstanceID: instanceID, RoleID: sourceRole.RoleID, InteractionID: "intake", Direction: database.DirectionInbound}
	if err := tx.SaveComponent(ctx, &intake); err != nil {
		t.Fatalf("SaveComponent intake: %v", err)
	}

	guardID := "guard-fork"
	policy := guard.Policy{
		Branches: []guard.Branch{
			{Name: "approve", Condition: "approved == true", Action: guard.ActionRoute, NextInteraction: "approved-path"},
		},
		Default: &guard.Default{Action: guard.ActionRoute, NextInteraction: "rejected-path"},
	}
	policyJSON, err := json.Marshal(policy)
	if err != nil {
		t.Fatalf("marshal policy: %v", err)
	}
	if err := tx.SaveGuard(ctx, &database.Guard{GuardID: guardID, InstanceID: instanceID, Type: string(guard.KindCriteriaGate), PolicyJSON: policyJSON}); err != nil {
		t.Fatalf("SaveGuard: %v", err)
	}

	guarded := database.Component{ComponentID: "c-guarded", InstanceID: instanceID, RoleID: sourceRole.RoleID, InteractionID: "approved-path", Direction: database.DirectionOutbound, GuardID: &guardID}
	sibling := database.Component{ComponentID: "c-sibling", InstanceID: instanceID, RoleID: sourceRole.RoleID, InteractionID: "rejected-path", Direction: database.DirectionOutbound}
	if err := tx.SaveComponent(ctx, &guarded); err != nil {
		t.Fatalf("SaveComponent guarded: %v", err)
	}
	if err := tx.SaveComponent(ctx, &sibling); err != nil {
		t.Fatalf("SaveComponent sibling: %v", err)
	}

	u := &database.UOW{
		UOWID:                uowID,
		InstanceID:           instanceID,
		Status:               uow.Pending,
		MaxInteractions:      10,
		CurrentInteractionID: "intake",
		CreatedAt:            time.Now().UTC(),
	}
	if err := tx.CreateUOW(ctx, u); err != nil {
		t.Fatalf("CreateUOW: %v", err)
	}

	return sourceRole.RoleID
}

func TestSubmit_GuardRoutesOnMatchingBranch(t *testing.T) {
	tx := newMemTx(t)
	emitter, _ := newEmitter()
	ctx := context.Background()
	roleID := seedGuardedFork(t, tx, "inst-1", "uow-1")

	if _, err := Checkout(ctx, tx, emitter, "inst-1", "actor-a", roleID); err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	decision, err := Submit(ctx, tx, emitter, nil, "uow-1", "actor-a", []AttributeWrite{
		{Key: "approved", Value: true},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if decision.NextInteraction != "approved-path" {
		t.Fatalf("expected routing to approved-path, got %+v", decision)
	}
}

func TestSubmit_GuardFallsBackToDefaultBranch(t *testing.T) {
	tx := newMemTx(t)
	emitter, _ := newEmitter()
	ctx := context.Background()
	roleID := seedGuardedFork(t, tx, "inst-1", "uow-1")

	if _, err := Checkout(ctx, tx, emitter, "inst-1", "actor-a", roleID); err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	decision, err := Submit(ctx, tx, emitter, nil, "uow-1", "actor-a", []AttributeWrite{
		{Key: "approved", Value: false},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if decision.NextInteraction != "rejected-path" {
		t.Fatalf("expected routing to rejected-path default, got %+v", decision)
	}
}

// seedCompositeFork mirrors seedGuardedFork but with a COMPOSITE guard
// requiring both "approved" and "reviewed" before routing to approved-path.
func seedCompositeFork(t *testing.T, tx database.Tx, instanceID, uowID string) (sourceRoleID string) {
	t.Helper()
	ctx := context.Background()

	sourceRole := database.Role{RoleID: "role-source", InstanceID: instanceID, Name: "source", Kind: database.RoleBETA}
	if err := tx.SaveRole(ctx, &sourceRole); err != nil {
		t.Fatalf("SaveRole source: %v", err)
	}

	intake := database.Component{ComponentID: "c-intake", InstanceID: instanceID, RoleID: sourceRole.RoleID, InteractionID: "intake", Direction: database.DirectionInbound}
	if err := tx.SaveComponent(ctx, &intake); err != nil {
		t.Fatalf("SaveComponent intake: %v", err)
	}

	guardID := "guard-composite"
	composite := guard.Composite{
		Operator: guard.CompositeAnd,
		Children: []guard.Policy{
			{Branches: []guard.Branch{{Name: "approved", Condition: "approved == true", Action: guard.ActionRoute}}},
			{Branches: []guard.Branch{{Name: "reviewed", Condition: "reviewed == true", Action: guard.ActionRoute}}},
		},
		Default: &guard.Default{Action: guard.ActionRoute, NextInteraction: "approved-path"},
	}
	policyJSON, err := json.Marshal(composite)
	if err != nil {
		t.Fatalf("marshal composite: %v", err)
	}
	if err := tx.SaveGuard(ctx, &database.Guard{GuardID: guardID, InstanceID: instanceID, Type: string(guard.KindComposite), PolicyJSON: policyJSON}); err != nil {
		t.Fatalf("SaveGuard: %v", err)
	}

	guarded := database.Component{ComponentID: "c-guarded", InstanceID: instanceID, RoleID: sourceRole.RoleID, InteractionID: "approved-path", Direction: database.DirectionOutbound, GuardID: &guardID}
	sibling := database.Component{ComponentID: "c-sibling", InstanceID: instanceID, RoleID: sourceRole.RoleID, InteractionID: "rejected-path", Direction: database.DirectionOutbound}
	if err := tx.SaveComponent(ctx, &guarded); err != nil {
		t.Fatalf("SaveComponent guarded: %v", err)
	}
	if err := tx.SaveComponent(ctx, &sibling); err != nil {
		t.Fatalf("SaveComponent sibling: %v", err)
	}

	u := &database.UOW{
		UOWID:                uowID,
		InstanceID:           instanceID,
		Status:               uow.Pending,
		MaxInteractions:      10,
		CurrentInteractionID: "intake",
		CreatedAt:            time.Now().UTC(),
	}
	if err := tx.CreateUOW(ctx, u); err != nil {
		t.Fatalf("CreateUOW: %v", err)
	}

	return sourceRole.RoleID
}

func TestSubmit_CompositeGuardHaltsWhenOneChildFails(t *testing.T) {
	tx := newMemTx(t)
	emitter, _ := newEmitter()
	ctx := context.Background()
	roleID := seedCompositeFork(t, tx, "inst-1", "uow-1")

	if _, err := Checkout(ctx, tx, emitter, "inst-1", "actor-a", roleID); err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	decision, err := Submit(ctx, tx, emitter, nil, "uow-1", "actor-a", []AttributeWrite{
		{Key: "approved", Value: true},
		{Key: "reviewed", Value: false},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if decision.Action != guard.ActionHalt {
		t.Fatalf("expected HALT when one composite child fails, got %+v", decision)
	}
}

func TestSubmit_CompositeGuardRoutesWhenAllChildrenPass(t *testing.T) {
	tx := newMemTx(t)
	emitter, _ := newEmitter()
	ctx := context.Background()
	roleID := seedCompositeFork(t, tx, "inst-1", "uow-1")

	if _, err := Checkout(ctx, tx, emitter, "inst-1", "actor-a", roleID); err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	decision, err := Submit(ctx, tx, emitter, nil, "uow-1", "actor-a", []AttributeWrite{
		{Key: "approved", Value: true},
		{Key: "reviewed", Value: true},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if decision.NextInteraction != "approved-path" {
		t.Fatalf("expected routing to approved-path, got %+v", decision)
	}
}

// seedOmegaFork builds role-source routing into an interaction consumed
// solely by an OMEGA role, exercising the CERBERUS step and Park & Notify's
// high-risk redirect on COMPLETED.
func seedOmegaFork(t *testing.T, tx database.Tx, instanceID, uowID string) (sourceRoleID string) {
	t.Helper()
	ctx := context.Background()

	sourceRole := database.Role{RoleID: "role-source", InstanceID: instanceID, Name: "source", Kind: database.RoleBETA}
	omegaRole := database.Role{RoleID: "role-omega", InstanceID: instanceID, Name: "omega", Kind: database.RoleOMEGA}
	if err := tx.SaveRole(ctx, &sourceRole); err != nil {
		t.Fatalf("SaveRole source: %v", err)
	}
	if err := tx.SaveRole(ctx, &omegaRole); err != nil {
		t.Fatalf("SaveRole omega: %v", err)
	}

	intake := database.Component{ComponentID: "c-intake", InstanceID: instanceID, RoleID: sourceRole.RoleID, InteractionID: "intake", Direction: database.DirectionInbound}
	outlet := database.Component{ComponentID: "c-outlet", InstanceID: instanceID, RoleID: sourceRole.RoleID, InteractionID: "finish", Direction: database.DirectionOutbound}
	omegaIn := database.Component{ComponentID: "c-omega-in", InstanceID: instanceID, RoleID: omegaRole.RoleID, InteractionID: "finish", Direction: database.DirectionInbound}
	if err := tx.SaveComponent(ctx, &intake); err != nil {
		t.Fatalf("SaveComponent intake: %v", err)
	}
	if err := tx.SaveComponent(ctx, &outlet); err != nil {
		t.Fatalf("SaveComponent outlet: %v", err)
	}
	if err := tx.SaveComponent(ctx, &omegaIn); err != nil {
		t.Fatalf("SaveComponent omega-in: %v", err)
	}

	u := &database.UOW{
		UOWID:                uowID,
		InstanceID:           instanceID,
		Status:               uow.Pending,
		MaxInteractions:      10,
		CurrentInteractionID: "intake",
		ChildCount:           0,
		FinishedChildCount:   0,
		CreatedAt:            time.Now().UTC(),
	}
	if err := tx.CreateUOW(ctx, u); err != nil {
		t.Fatalf("CreateUOW: %v", err)
	}

	return sourceRole.RoleID
}

func TestSubmit_OmegaRouteWithNoChildrenStaysActive(t *testing.T) {
	tx := newMemTx(t)
	emitter, sink := newEmitter()
	ctx := context.Background()
	roleID := seedOmegaFork(t, tx, "inst-1", "uow-1")

	if _, err := Checkout(ctx, tx, emitter, "inst-1", "actor-a", roleID); err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	// CERBERUS with childCount=0 HALTs, so the status never becomes
	// COMPLETED here — it stays ACTIVE, still accumulating children.
	_, err := Submit(ctx, tx, emitter, nil, "uow-1", "actor-a", []AttributeWrite{{Key: "x", Value: 1.0}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	after, err := tx.GetUOWForUpdate(ctx, "uow-1")
	if err != nil {
		t.Fatalf("GetUOWForUpdate: %v", err)
	}
	if after.Status != uow.Active {
		t.Fatalf("expected ACTIVE (CERBERUS halts with zero children), got %s", after.Status)
	}
	if len(sink.Events()) != 0 {
		t.Fatalf("expected no park-notify event when CERBERUS halts, got %+v", sink.Events())
	}
}

func TestSubmit_OmegaRouteWithAllChildrenFinishedParksOnCompletion(t *testing.T) {
	tx := newMemTx(t)
	emitter, sink := newEmitter()
	ctx := context.Background()
	roleID := seedOmegaFork(t, tx, "inst-1", "uow-1")

	u, err := tx.GetUOWForUpdate(ctx, "uow-1")
	if err != nil {
		t.Fatalf("GetUOWForUpdate: %v", err)
	}
	u.ChildCount = 1
	u.FinishedChildCount = 1
	if err := tx.SaveUOW(ctx, u); err != nil {
		t.Fatalf("SaveUOW: %v", err)
	}
	child := &database.UOW{UOWID: "uow-1-child", InstanceID: "inst-1", ParentID: &u.UOWID, Status: uow.Completed, CreatedAt: time.Now().UTC()}
	if err := tx.CreateUOW(ctx, child); err != nil {
		t.Fatalf("CreateUOW child: %v", err)
	}

	if _, err := Checkout(ctx, tx, emitter, "inst-1", "actor-a", roleID); err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	decision, err := Submit(ctx, tx, emitter, nil, "uow-1", "actor-a", []AttributeWrite{{Key: "x", Value: 1.0}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if decision.Action != guard.ActionRoute {
		t.Fatalf("expected ROUTE, got %+v", decision)
	}

	after, err := tx.GetUOWForUpdate(ctx, "uow-1")
	if err != nil {
		t.Fatalf("GetUOWForUpdate: %v", err)
	}
	if after.Status != uow.PendingPilotApproval {
		t.Fatalf("expected PENDING_PILOT_APPROVAL (COMPLETED is high-risk by default), got %s", after.Status)
	}

	events := sink.Events()
	if len(events) != 1 || events[0].Type != "intervention_request" {
		t.Fatalf("expected one intervention_request event, got %+v", events)
	}
}

func TestSubmit_NoHighRiskSetCommitsCompletedDirectly(t *testing.T) {
	tx := newMemTx(t)
	emitter, sink := newEmitter()
	ctx := context.Background()
	roleID := seedOmegaFork(t, tx, "inst-1", "uow-1")

	u, err := tx.GetUOWForUpdate(ctx, "uow-1")
	if err != nil {
		t.Fatalf("GetUOWForUpdate: %v", err)
	}
	u.ChildCount = 1
	u.FinishedChildCount = 1
	if err := tx.SaveUOW(ctx, u); err != nil {
		t.Fatalf("SaveUOW: %v", err)
	}
	child := &database.UOW{UOWID: "uow-1-child", InstanceID: "inst-1", ParentID: &u.UOWID, Status: uow.Completed, CreatedAt: time.Now().UTC()}
	if err := tx.CreateUOW(ctx, child); err != nil {
		t.Fatalf("CreateUOW child: %v", err)
	}

	if _, err := Checkout(ctx, tx, emitter, "inst-1", "actor-a", roleID); err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	emptyHighRisk := map[database.UOWStatus]bool{}
	if _, err := Submit(ctx, tx, emitter, emptyHighRisk, "uow-1", "actor-a", []AttributeWrite{{Key: "x", Value: 1.0}}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	after, err := tx.GetUOWForUpdate(ctx, "uow-1")
	if err != nil {
		t.Fatalf("GetUOWForUpdate: %v", err)
	}
	if after.Status != uow.Completed {
		t.Fatalf("expected COMPLETED when high-risk set is empty, got %s", after.Status)
	}
	if len(sink.Events()) != 0 {
		t.Fatalf("expected no park-notify event with an empty high-risk set, got %+v", sink.Events())
	}
}

func TestReportFailure_RoutesToEpsilonAtePath(t *testing.T) {
	tx := newMemTx(t)
	emitter, _ := newEmitter()
	ctx := context.Background()
	roleID := seedLinearTemplate(t, tx, "inst-1", "uow-1")

	epsilonRole := database.Role{RoleID: "role-epsilon", InstanceID: "inst-1", Name: "epsilon", Kind: database.RoleEPSILON}
	if err := tx.SaveRole(ctx, &epsilonRole); err != nil {
		t.Fatalf("SaveRole epsilon: %v", err)
	}
	atePath := database.Component{ComponentID: "c-ate", InstanceID: "inst-1", RoleID: epsilonRole.RoleID, InteractionID: "ate-path", Direction: database.DirectionInbound}
	if err := tx.SaveComponent(ctx, &atePath); err != nil {
		t.Fatalf("SaveComponent ate-path: %v", err)
	}

	if _, err := Checkout(ctx, tx, emitter, "inst-1", "actor-a", roleID); err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	if err := ReportFailure(ctx, tx, "uow-1", "actor-a", "TOOL_ERROR", "upstream timed out"); err != nil {
		t.Fatalf("ReportFailure: %v", err)
	}

	after, err := tx.GetUOWForUpdate(ctx, "uow-1")
	if err != nil {
		t.Fatalf("GetUOWForUpdate: %v", err)
	}
	if after.Status != uow.Failed {
		t.Fatalf("expected FAILED, got %s", after.Status)
	}
	if after.CurrentInteractionID != "ate-path" {
		t.Fatalf("expected routing to the EPSILON ate-path, got %s", after.CurrentInteractionID)
	}
}

func TestReportFailure_RejectsWrongActor(t *testing.T) {
	tx := newMemTx(t)
	emitter, _ := newEmitter()
	ctx := context.Background()
	roleID := seedLinearTemplate(t, tx, "inst-1", "uow-1")

	if _, err := Checkout(ctx, tx, emitter, "inst-1", "actor-a", roleID); err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	if err := ReportFailure(ctx, tx, "uow-1", "actor-b", "TOOL_ERROR", "n/a"); err == nil {
		t.Fatal("expected lease_lost error for wrong actor")
	}
}

func TestHeartbeat_RefreshesActiveLease(t *testing.T) {
	tx := newMemTx(t)
	emitter, _ := newEmitter()
	ctx := context.Background()
	roleID := seedLinearTemplate(t, tx, "inst-1", "uow-1")

	if _, err := Checkout(ctx, tx, emitter, "inst-1", "actor-a", roleID); err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	before, err := tx.GetUOWForUpdate(ctx, "uow-1")
	if err != nil {
		t.Fatalf("GetUOWForUpdate: %v", err)
	}

	time.Sleep(time.Millisecond)
	fresh, err := Heartbeat(ctx, tx, "uow-1", "actor-a")
	if err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if !fresh {
		t.Fatal("expected fresh heartbeat for a matching active lease")
	}

	after, err := tx.GetUOWForUpdate(ctx, "uow-1")
	if err != nil {
		t.Fatalf("GetUOWForUpdate: %v", err)
	}
	if !after.LastHeartbeat.After(*before.LastHeartbeat) {
		t.Fatalf("expected last_heartbeat to advance, before=%v after=%v", before.LastHeartbeat, after.LastHeartbeat)
	}
}

func TestHeartbeat_StaleWhenLeaseDoesNotMatch(t *testing.T) {
	tx := newMemTx(t)
	emitter, _ := newEmitter()
	ctx := context.Background()
	roleID := seedLinearTemplate(t, tx, "inst-1", "uow-1")

	if _, err := Checkout(ctx, tx, emitter, "inst-1", "actor-a", roleID); err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	fresh, err := Heartbeat(ctx, tx, "uow-1", "actor-b")
	if err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if fresh {
		t.Fatal("expected stale heartbeat for a non-matching actor")
	}
}
