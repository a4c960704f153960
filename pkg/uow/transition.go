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

// Package uow owns the UOW state machine (spec.md C6): the transition
// table every mutator (checkout, submit, zombie sweep, pilot intervention)
// consults before writing a new status, so illegal transitions are caught
// in one place rather than re-derived per caller.
package uow

import (
	"github.com/jordigilh/constitution-engine/internal/database"
	engineerrors "github.com/jordigilh/constitution-engine/internal/errors"
)

// Status is an alias for the storage layer's status type so callers of
// this package don't need to import internal/database directly just to
// name a status.
type Status = database.UOWStatus

const (
	Pending              = database.StatusPending
	Active               = database.StatusActive
	Completed            = database.StatusCompleted
	Failed               = database.StatusFailed
	ZombiedSoft          = database.StatusZombiedSoft
	ZombiedDead          = database.StatusZombiedDead
	Paused               = database.StatusPaused
	PendingPilotApproval = database.StatusPendingPilotApproval
)

// terminal holds the statuses with no outgoing edge in the table below.
// ZOMBIED_DEAD is deliberately absent: it has one outgoing edge (back to
// PENDING via sweeper reclamation) and is not terminal.
var terminal = map[Status]bool{
	Completed: true,
	Failed:    true,
}

// transitions is the legal from -> {to...} table, transcribed directly
// from the state machine's edge list:
//
//	PENDING                 -> ACTIVE                  (lease grant via C7)
//	PENDING                 -> ZOMBIED_SOFT             (I4 ambiguity lock)
//	ACTIVE                  -> PENDING                  (submit routes to a
//	                                                     non-aggregating hop;
//	                                                     released for the
//	                                                     next role's Checkout)
//	ACTIVE                  -> COMPLETED                (submit, after routing)
//	ACTIVE                  -> FAILED                   (report_failure / policy no-match)
//	ACTIVE                  -> ZOMBIED_SOFT             (soft timeout; recoverable)
//	ACTIVE                  -> ZOMBIED_DEAD             (hard timeout)
//	ACTIVE                  -> PAUSED                   (kill-switch)
//	ACTIVE                  -> PENDING_PILOT_APPROVAL   (Park & Notify)
//	PENDING_PILOT_APPROVAL  -> ACTIVE                   (pilot resume)
//	PENDING_PILOT_APPROVAL  -> FAILED                   (pilot cancel)
//	PAUSED                  -> ACTIVE                   (pilot waive)
//	ZOMBIED_SOFT            -> ACTIVE                   (pilot clarification)
//	ZOMBIED_DEAD            -> PENDING                  (sweeper reclamation)
var transitions = map[Status]map[Status]bool{
	Pending: {
		Active:      true,
		ZombiedSoft: true,
	},
	Active: {
		Pending:              true,
		Completed:            true,
		Failed:               true,
		ZombiedSoft:          true,
		ZombiedDead:          true,
		Paused:               true,
		PendingPilotApproval: true,
	},
	PendingPilotApproval: {
		Active: true,
		Failed: true,
	},
	Paused: {
		Active: true,
	},
	ZombiedSoft: {
		Active: true,
	},
	ZombiedDead: {
		Pending: true,
	},
}

// Legal reports whether from -> to is a permitted transition. A
// self-transition (from == to) is never legal: every transition must be
// recorded as a distinct history row, so a caller that wants to "touch" a
// UOW without changing status should not go through this path.
func Legal(from, to Status) bool {
	if from == to {
		return false
	}
	edges, ok := transitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// IsTerminal reports whether status has no outgoing edge in the table.
func IsTerminal(status Status) bool {
	return terminal[status]
}

// Apply validates from -> to and returns an IllegalTransition error if the
// edge is not in the table; callers use this as the single gate before
// calling database.Tx.SaveUOW with a new status.
func Apply(from, to Status) error {
	if !Legal(from, to) {
		return engineerrors.NewIllegalTransition(string(from), string(to))
	}
	return nil
}
