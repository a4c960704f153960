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

// Package database defines the storage contract every component above it
// programs against (spec.md section 6.3's minimum table set) and two
// drivers: a Postgres driver for production and an in-memory driver for
// fast specs. One storage transaction covers one public operation; within
// it every writer acquires rows in the fixed order UOW -> attributes ->
// history (spec.md section 5's deadlock-avoidance rule).
package database

import (
	"context"
	"time"
)

// UOWStatus is the UOW state machine's status taxonomy (spec.md section
// 4.6). It is a plain string type here; pkg/uow owns transition legality.
type UOWStatus string

const (
	StatusPending              UOWStatus = "PENDING"
	StatusActive               UOWStatus = "ACTIVE"
	StatusCompleted            UOWStatus = "COMPLETED"
	StatusFailed               UOWStatus = "FAILED"
	StatusZombiedSoft          UOWStatus = "ZOMBIED_SOFT"
	StatusZombiedDead          UOWStatus = "ZOMBIED_DEAD"
	StatusPaused               UOWStatus = "PAUSED"
	StatusPendingPilotApproval UOWStatus = "PENDING_PILOT_APPROVAL"
)

// UOW is the persisted row for one unit of work (spec.md section 3).
type UOW struct {
	UOWID                string
	InstanceID           string
	ParentID             *string
	Status               UOWStatus
	InteractionCount     int
	MaxInteractions      int
	CurrentInteractionID string
	LeaseActorID         *string
	LastHeartbeat        *time.Time
	ContentHash          string
	ChildCount           int
	FinishedChildCount   int
	Priority             int
	CreatedAt            time.Time
}

// Attribute is one versioned row of the attribute store (spec.md C4).
type Attribute struct {
	UOWID         string
	Key           string
	Version       int
	Value         any
	OwnerActorID  *string
	AuthorActorID string
	Reasoning     string
	CreatedAt     time.Time
}

// HistoryRow is one append-only transition record (spec.md C5).
type HistoryRow struct {
	UOWID           string
	Seq             int
	FromStatus      UOWStatus
	ToStatus        UOWStatus
	ActorID         string
	EventType       string
	Reason          string
	PrevContentHash string
	NewContentHash  string
	TimestampUTC    time.Time
	Metadata        map[string]any
}

// Role kinds (spec.md section 3).
type RoleKind string

const (
	RoleALPHA   RoleKind = "ALPHA"
	RoleBETA    RoleKind = "BETA"
	RoleOMEGA   RoleKind = "OMEGA"
	RoleEPSILON RoleKind = "EPSILON"
	RoleTAU     RoleKind = "TAU"
)

// DecompositionStrategy applies only to BETA roles.
type DecompositionStrategy string

const (
	StrategyHomogeneous   DecompositionStrategy = "HOMOGENEOUS"
	StrategyHeterogeneous DecompositionStrategy = "HETEROGENEOUS"
)

// Role is a materialized (instance-scoped) role.
type Role struct {
	RoleID     string
	InstanceID string
	Name       string
	Kind       RoleKind
	Strategy   DecompositionStrategy
}

// Interaction is a named queue a UOW can sit in.
type Interaction struct {
	InteractionID string
	InstanceID    string
	Name          string
	Description   string
}

// Direction of a Component edge.
type Direction string

const (
	DirectionInbound  Direction = "INBOUND"
	DirectionOutbound Direction = "OUTBOUND"
)

// Component is a directed (Role, Interaction) edge, optionally guarded.
type Component struct {
	ComponentID   string
	InstanceID    string
	RoleID        string
	InteractionID string
	Direction     Direction
	GuardID       *string
}

// Guard is a typed policy attached to a Component.
type Guard struct {
	GuardID    string
	InstanceID string
	Type       string
	PolicyJSON []byte
}

// Instance is a materialized copy of a Template.
type Instance struct {
	InstanceID string
	TemplateID string
	CreatedAt  time.Time
}

// Template is an imported workflow blueprint.
type Template struct {
	TemplateID  string
	Name        string
	Version     string
	Description string
}

// Actor is an authenticated principal that leases UOWs.
type Actor struct {
	ActorID string
	Class   string
}

// Tx is the storage transaction handle every public core operation runs
// under. One Tx maps to one storage transaction; on commit failure the
// caller observes no partial state (spec.md section 5).
type Tx interface {
	// GetUOWForUpdate locks and returns uowID's row, or ErrNotFound.
	GetUOWForUpdate(ctx context.Context, uowID string) (*UOW, error)
	// SaveUOW persists uow's current field values.
	SaveUOW(ctx context.Context, uow *UOW) error

	// PutAttribute inserts the next version of (uowID, key) and returns it.
	PutAttribute(ctx context.Context, attr Attribute) (Attribute, error)
	// LatestAttributes returns, for uowID, the highest version of each key
	// visible to viewerActorID (global rows, plus that actor's personal
	// overrides), per spec.md C4's latest() operation.
	LatestAttributes(ctx context.Context, uowID string, viewerActorID string) (map[string]any, error)
	// AllAttributeVersions returns every stored version for uowID, ordered
	// oldest first; used to replay P1's hash-chain property.
	AllAttributeVersions(ctx context.Context, uowID string) ([]Attribute, error)

	// AppendHistory persists row under the caller-supplied row.Seq;
	// idempotent on (uow_id, seq).
	AppendHistory(ctx context.Context, row HistoryRow) error
	// ListHistory returns uowID's rows ordered by seq ascending.
	ListHistory(ctx context.Context, uowID string) ([]HistoryRow, error)

	// FindEligibleUOWs returns PENDING UOWs sitting in one of
	// interactionIDs, ordered by (priority desc, created_at asc).
	FindEligibleUOWs(ctx context.Context, interactionIDs []string) ([]UOW, error)
	// FindStaleActive returns ACTIVE UOWs whose last_heartbeat is older
	// than olderThan.
	FindStaleActive(ctx context.Context, olderThan time.Time) ([]UOW, error)
	// FindStaleZombiedSoft returns ZOMBIED_SOFT UOWs whose last_heartbeat
	// is older than olderThan.
	FindStaleZombiedSoft(ctx context.Context, olderThan time.Time) ([]UOW, error)
	// ListUOWsByInstanceAndStatus returns every UOW of instanceID with the
	// given status, used by the pilot kill-switch.
	ListUOWsByInstanceAndStatus(ctx context.Context, instanceID string, status UOWStatus) ([]UOW, error)
	// ListChildren returns every UOW whose parent_id == parentUOWID.
	ListChildren(ctx context.Context, parentUOWID string) ([]UOW, error)

	// CreateUOW inserts a brand-new UOW row.
	CreateUOW(ctx context.Context, uow *UOW) error

	// Template/instance metadata, read-mostly.
	GetTemplate(ctx context.Context, templateID string) (*Template, error)
	SaveTemplate(ctx context.Context, t *Template) error
	GetInstance(ctx context.Context, instanceID string) (*Instance, error)
	SaveInstance(ctx context.Context, i *Instance) error
	ListRoles(ctx context.Context, instanceID string) ([]Role, error)
	SaveRole(ctx context.Context, r *Role) error
	ListInteractions(ctx context.Context, instanceID string) ([]Interaction, error)
	SaveInteraction(ctx context.Context, i *Interaction) error
	ListComponents(ctx context.Context, instanceID string) ([]Component, error)
	SaveComponent(ctx context.Context, c *Component) error
	GetGuard(ctx context.Context, guardID string) (*Guard, error)
	SaveGuard(ctx context.Context, g *Guard) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// DB opens transactions. Implementations: Postgres (pgx) and an
// in-memory driver for tests.
type DB interface {
	Begin(ctx context.Context) (Tx, error)
	Close() error
}
