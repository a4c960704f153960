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

// Package parknotify implements Park & Notify (spec.md C10): interception
// of a proposed transition into a configured high-risk status, redirecting
// it to PENDING_PILOT_APPROVAL and firing an intervention_request event
// instead. It is synchronous from the caller's perspective (the redirect
// decision is made and returned immediately) but non-blocking on the
// pilot dimension: no goroutine waits for a pilot decision, which arrives
// later through pkg/pilot.
package parknotify

import (
	"context"

	"github.com/jordigilh/constitution-engine/internal/database"
	"github.com/jordigilh/constitution-engine/pkg/events"
)

// DefaultHighRisk is the default HIGH_RISK set (spec.md §4.10): a proposed
// transition into either status is intercepted unless the deployment
// configures a different set.
var DefaultHighRisk = map[database.UOWStatus]bool{
	database.StatusCompleted: true,
	database.StatusFailed:    true,
}

// Decision is the outcome of Intercept.
type Decision struct {
	// Proceed is true when the caller should continue with the originally
	// proposed status.
	Proceed bool
	// Status is the status the caller should actually persist: either the
	// original proposed target (Proceed == true) or
	// PENDING_PILOT_APPROVAL (Proceed == false).
	Status database.UOWStatus
}

// Intercept checks proposedTarget against highRisk (pass nil to use
// DefaultHighRisk). If proposedTarget is high-risk, it emits
// intervention_request via emitter and returns a Decision redirecting to
// PENDING_PILOT_APPROVAL; the caller is responsible for persisting that
// status and the original target in metadata. If highRisk is nil,
// DefaultHighRisk is used.
func Intercept(ctx context.Context, emitter *events.Emitter, highRisk map[database.UOWStatus]bool, uowID string, proposedTarget database.UOWStatus, reason string) Decision {
	if highRisk == nil {
		highRisk = DefaultHighRisk
	}
	if !highRisk[proposedTarget] {
		return Decision{Proceed: true, Status: proposedTarget}
	}

	emitter.Emit(ctx, "intervention_request", map[string]any{
		"uow_id":          uowID,
		"original_target": string(proposedTarget),
		"reason":          reason,
		"pilot_options":   []string{"resume", "cancel"},
	})
	return Decision{Proceed: false, Status: database.StatusPendingPilotApproval}
}
