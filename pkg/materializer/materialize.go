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

// Package materializer implements the Instance Materializer (C14):
// instantiate_workflow clones an imported Template's Roles/Interactions/
// Components/Guards into a fresh, instance-scoped copy, then seeds the
// initial ALPHA UOW with the caller's initial_context attributes (all
// Global Blueprint, owner_actor_id == null) on the ALPHA role's OUTBOUND
// interaction.
package materializer

import (
	"context"
	"time"

	"github.com/jordigilh/constitution-engine/internal/database"
	engineerrors "github.com/jordigilh/constitution-engine/internal/errors"
	"github.com/jordigilh/constitution-engine/pkg/attributes"
	"github.com/jordigilh/constitution-engine/pkg/history"
)

// IDs bundles the id generators Instantiate needs; production callers wire
// google/uuid.NewString, tests supply deterministic sequences — the same
// convention pkg/decomposer and pkg/template use.
type IDs struct {
	InstanceID    func() string
	RoleID        func() string
	InteractionID func() string
	ComponentID   func() string
	GuardID       func() string
	UOWID         func() string
}

// Instantiate materializes templateID into a new Instance and seeds its
// initial ALPHA UOW. maxInteractions sets the new UOW's ambiguity-lock
// threshold (spec.md §4.6's I4 gate) — the wire format for
// instantiate_workflow carries no such field, so the caller (the admin
// surface importing the workflow) supplies it per spec.md §9's silence on
// the point.
func Instantiate(ctx context.Context, tx database.Tx, templateID, actorID string, initialContext map[string]any, maxInteractions int, ids IDs) (string, error) {
	if _, err := tx.GetTemplate(ctx, templateID); err != nil {
		return "", err
	}

	instance := &database.Instance{
		InstanceID: ids.InstanceID(),
		TemplateID: templateID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := tx.SaveInstance(ctx, instance); err != nil {
		return "", engineerrors.Wrapf(err, engineerrors.ErrorTypeDatabase, "save instance for template %s", templateID)
	}

	roleIDMap, alphaRoleID, err := cloneRoles(ctx, tx, templateID, instance.InstanceID, ids)
	if err != nil {
		return "", err
	}
	interactionIDMap, err := cloneInteractions(ctx, tx, templateID, instance.InstanceID, ids)
	if err != nil {
		return "", err
	}
	alphaOutboundInteractionID, err := cloneComponents(ctx, tx, templateID, instance.InstanceID, roleIDMap, interactionIDMap, alphaRoleID, ids)
	if err != nil {
		return "", err
	}
	if alphaOutboundInteractionID == "" {
		return "", engineerrors.NewValidationError("template has no OUTBOUND component for its ALPHA role")
	}

	return seedInitialUOW(ctx, tx, instance.InstanceID, alphaOutboundInteractionID, actorID, initialContext, maxInteractions, ids)
}

func cloneRoles(ctx context.Context, tx database.Tx, templateID, instanceID string, ids IDs) (map[string]string, string, error) {
	roles, err := tx.ListRoles(ctx, templateID)
	if err != nil {
		return nil, "", engineerrors.Wrapf(err, engineerrors.ErrorTypeDatabase, "list blueprint roles for %s", templateID)
	}
	idMap := make(map[string]string, len(roles))
	var alphaRoleID string
	for _, r := range roles {
		newID := ids.RoleID()
		idMap[r.RoleID] = newID
		clone := &database.Role{
			RoleID:     newID,
			InstanceID: instanceID,
			Name:       r.Name,
			Kind:       r.Kind,
			Strategy:   r.Strategy,
		}
		if err := tx.SaveRole(ctx, clone); err != nil {
			return nil, "", engineerrors.Wrapf(err, engineerrors.ErrorTypeDatabase, "clone role %s", r.Name)
		}
		if r.Kind == database.RoleALPHA {
			alphaRoleID = newID
		}
	}
	return idMap, alphaRoleID, nil
}

func cloneInteractions(ctx context.Context, tx database.Tx, templateID, instanceID string, ids IDs) (map[string]string, error) {
	interactions, err := tx.ListInteractions(ctx, templateID)
	if err != nil {
		return nil, engineerrors.Wrapf(err, engineerrors.ErrorTypeDatabase, "list blueprint interactions for %s", templateID)
	}
	idMap := make(map[string]string, len(interactions))
	for _, i := range interactions {
		newID := ids.InteractionID()
		idMap[i.InteractionID] = newID
		clone := &database.Interaction{
			InteractionID: newID,
			InstanceID:    instanceID,
			Name:          i.Name,
			Description:   i.Description,
		}
		if err := tx.SaveInteraction(ctx, clone); err != nil {
			return nil, engineerrors.Wrapf(err, engineerrors.ErrorTypeDatabase, "clone interaction %s", i.Name)
		}
	}
	return idMap, nil
}

// cloneComponents clones every blueprint component (and the guard each one
// carries, if any) into the instance scope, and returns the interaction id
// the ALPHA role produces into — the seed UOW's starting point.
func cloneComponents(ctx context.Context, tx database.Tx, templateID, instanceID string, roleIDMap, interactionIDMap map[string]string, alphaRoleID string, ids IDs) (string, error) {
	components, err := tx.ListComponents(ctx, templateID)
	if err != nil {
		return "", engineerrors.Wrapf(err, engineerrors.ErrorTypeDatabase, "list blueprint components for %s", templateID)
	}

	var alphaOutboundInteractionID string
	for _, c := range components {
		var newGuardID *string
		if c.GuardID != nil {
			g, err := tx.GetGuard(ctx, *c.GuardID)
			if err != nil {
				return "", engineerrors.Wrapf(err, engineerrors.ErrorTypeDatabase, "load blueprint guard %s", *c.GuardID)
			}
			clone := &database.Guard{
				GuardID:    ids.GuardID(),
				InstanceID: instanceID,
				Type:       g.Type,
				PolicyJSON: g.PolicyJSON,
			}
			if err := tx.SaveGuard(ctx, clone); err != nil {
				return "", engineerrors.Wrapf(err, engineerrors.ErrorTypeDatabase, "clone guard %s", g.GuardID)
			}
			newGuardID = &clone.GuardID
		}

		newRoleID := roleIDMap[c.RoleID]
		clone := &database.Component{
			ComponentID:   ids.ComponentID(),
			InstanceID:    instanceID,
			RoleID:        newRoleID,
			InteractionID: interactionIDMap[c.InteractionID],
			Direction:     c.Direction,
			GuardID:       newGuardID,
		}
		if err := tx.SaveComponent(ctx, clone); err != nil {
			return "", engineerrors.Wrapf(err, engineerrors.ErrorTypeDatabase, "clone component %s", c.ComponentID)
		}

		if newRoleID == alphaRoleID && c.Direction == database.DirectionOutbound {
			alphaOutboundInteractionID = clone.InteractionID
		}
	}
	return alphaOutboundInteractionID, nil
}

func seedInitialUOW(ctx context.Context, tx database.Tx, instanceID, interactionID, actorID string, initialContext map[string]any, maxInteractions int, ids IDs) (string, error) {
	uowID := ids.UOWID()
	seed := &database.UOW{
		UOWID:                uowID,
		InstanceID:           instanceID,
		Status:               database.StatusPending,
		CurrentInteractionID: interactionID,
		MaxInteractions:      maxInteractions,
		Priority:             0,
		CreatedAt:            time.Now().UTC(),
	}
	if err := tx.CreateUOW(ctx, seed); err != nil {
		return "", engineerrors.Wrapf(err, engineerrors.ErrorTypeDatabase, "create initial uow for instance %s", instanceID)
	}

	for key, value := range initialContext {
		if _, err := attributes.Put(ctx, tx, uowID, key, value, nil, actorID, "instantiate_workflow initial_context"); err != nil {
			return "", err
		}
	}

	attrs, err := attributes.Latest(ctx, tx, uowID, actorID)
	if err != nil {
		return "", err
	}
	row, err := history.Append(ctx, tx, uowID, 1, "", database.StatusPending, actorID, "instantiate_workflow", "", "", attrs, map[string]any{"instance_id": instanceID})
	if err != nil {
		return "", err
	}
	seed.ContentHash = row.NewContentHash
	if err := tx.SaveUOW(ctx, seed); err != nil {
		return "", engineerrors.Wrapf(err, engineerrors.ErrorTypeDatabase, "save seeded uow %s", uowID)
	}

	return instanceID, nil
}
