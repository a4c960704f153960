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
	"time"

	"github.com/jordigilh/constitution-engine/internal/database"
	engineerrors "github.com/jordigilh/constitution-engine/internal/errors"
	"github.com/jordigilh/constitution-engine/pkg/attributes"
	"github.com/jordigilh/constitution-engine/pkg/uow"
)

// ReportFailure implements spec.md §4.7's report_failure: it verifies the
// lease, sets status=FAILED, routes the UOW to the interaction inbound to
// the EPSILON role (the "Ate Path"), and appends history with the
// supplied code/details as the reason.
func ReportFailure(ctx context.Context, tx database.Tx, uowID, actorID, code, details string) error {
	u, err := tx.GetUOWForUpdate(ctx, uowID)
	if err != nil {
		return err
	}
	if u.Status != uow.Active || u.LeaseActorID == nil || *u.LeaseActorID != actorID {
		return engineerrors.NewLeaseLost(uowID)
	}

	components, err := tx.ListComponents(ctx, u.InstanceID)
	if err != nil {
		return engineerrors.Wrapf(err, engineerrors.ErrorTypeDatabase, "list components for %s", u.InstanceID)
	}
	roles, err := tx.ListRoles(ctx, u.InstanceID)
	if err != nil {
		return engineerrors.Wrapf(err, engineerrors.ErrorTypeDatabase, "list roles for %s", u.InstanceID)
	}
	atePath, ok := epsilonInboundInteraction(components, roles)
	if !ok {
		return engineerrors.NewValidationError("template has no interaction inbound to the EPSILON role")
	}

	attrs, err := attributes.Latest(ctx, tx, uowID, actorID)
	if err != nil {
		return err
	}

	from := u.Status
	if err := uow.Apply(from, uow.Failed); err != nil {
		return err
	}
	u.Status = uow.Failed
	u.CurrentInteractionID = atePath

	return persist(ctx, tx, u, actorID, "report_failure", code+": "+details, attrs, from, uow.Failed)
}

func epsilonInboundInteraction(components []database.Component, roles []database.Role) (string, bool) {
	var epsilonRoleID string
	for _, r := range roles {
		if r.Kind == database.RoleEPSILON {
			epsilonRoleID = r.RoleID
			break
		}
	}
	if epsilonRoleID == "" {
		return "", false
	}
	for _, c := range components {
		if c.RoleID == epsilonRoleID && c.Direction == database.DirectionInbound {
			return c.InteractionID, true
		}
	}
	return "", false
}

// Heartbeat implements spec.md §4.7's heartbeat: if the UOW is ACTIVE and
// leased to actorID, its last_heartbeat is refreshed and true (fresh) is
// returned; otherwise false (stale) is returned without error — a stale
// heartbeat is a normal outcome, not a failure.
func Heartbeat(ctx context.Context, tx database.Tx, uowID, actorID string) (bool, error) {
	u, err := tx.GetUOWForUpdate(ctx, uowID)
	if err != nil {
		return false, err
	}
	if u.Status != uow.Active || u.LeaseActorID == nil || *u.LeaseActorID != actorID {
		return false, nil
	}
	now := time.Now().UTC()
	u.LastHeartbeat = &now
	if err := tx.SaveUOW(ctx, u); err != nil {
		return false, engineerrors.Wrapf(err, engineerrors.ErrorTypeDatabase, "save uow %s", uowID)
	}
	return true, nil
}
