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

package template

import (
	"context"
	"encoding/json"

	"github.com/jordigilh/constitution-engine/internal/database"
	engineerrors "github.com/jordigilh/constitution-engine/internal/errors"
	"github.com/jordigilh/constitution-engine/pkg/guard"
)

// IDs bundles the id generators Import needs. Production callers wire
// google/uuid.NewString; tests supply deterministic sequences — the same
// injected-id-generator convention pkg/decomposer uses for child UOWs.
type IDs struct {
	TemplateID    func() string
	RoleID        func() string
	InteractionID func() string
	ComponentID   func() string
	GuardID       func() string
}

// Import validates doc and, only if it passes every rule, persists it as a
// new Template with its Roles/Interactions/Components/Guards under tx.
// Violations abort the whole import atomically: nothing is written unless
// Validate returns nil.
func Import(ctx context.Context, tx database.Tx, doc *Document, ids IDs) (*database.Template, error) {
	if err := Validate(doc); err != nil {
		return nil, err
	}

	tmpl := &database.Template{
		TemplateID:  ids.TemplateID(),
		Name:        doc.Name,
		Version:     doc.Version,
		Description: doc.Description,
	}
	if err := tx.SaveTemplate(ctx, tmpl); err != nil {
		return nil, engineerrors.Wrapf(err, engineerrors.ErrorTypeDatabase, "save template %s", tmpl.Name)
	}

	roleIDsByName := make(map[string]string, len(doc.Roles))
	for _, r := range doc.Roles {
		roleID := ids.RoleID()
		roleIDsByName[r.Name] = roleID
		row := &database.Role{
			RoleID:     roleID,
			InstanceID: tmpl.TemplateID, // blueprint rows are scoped by template id until materialized
			Name:       r.Name,
			Kind:       database.RoleKind(r.Kind),
			Strategy:   database.DecompositionStrategy(r.Strategy),
		}
		if err := tx.SaveRole(ctx, row); err != nil {
			return nil, engineerrors.Wrapf(err, engineerrors.ErrorTypeDatabase, "save role %s", r.Name)
		}
	}

	interactionIDsByName := make(map[string]string, len(doc.Interactions))
	for _, i := range doc.Interactions {
		interactionID := ids.InteractionID()
		interactionIDsByName[i.Name] = interactionID
		row := &database.Interaction{
			InteractionID: interactionID,
			InstanceID:    tmpl.TemplateID,
			Name:          i.Name,
			Description:   i.Description,
		}
		if err := tx.SaveInteraction(ctx, row); err != nil {
			return nil, engineerrors.Wrapf(err, engineerrors.ErrorTypeDatabase, "save interaction %s", i.Name)
		}
	}

	for _, c := range doc.Components {
		var guardID *string
		if c.Guardian != nil {
			// COMPOSITE carries its children/operator in CompositeSpec, shaped
			// like guard.Composite rather than a flat guard.Policy; every
			// other kind marshals InteractionPolicy as before.
			var (
				policyJSON []byte
				err        error
			)
			if guard.Kind(c.Guardian.Type) == guard.KindComposite {
				policyJSON, err = json.Marshal(c.Guardian.CompositeSpec)
			} else {
				policyJSON, err = json.Marshal(c.Guardian.InteractionPolicy)
			}
			if err != nil {
				return nil, engineerrors.Wrapf(err, engineerrors.ErrorTypeValidation, "marshal interaction_policy for %s", c.Name)
			}
			g := &database.Guard{
				GuardID:    ids.GuardID(),
				InstanceID: tmpl.TemplateID,
				Type:       c.Guardian.Type,
				PolicyJSON: policyJSON,
			}
			if err := tx.SaveGuard(ctx, g); err != nil {
				return nil, engineerrors.Wrapf(err, engineerrors.ErrorTypeDatabase, "save guard for %s", c.Name)
			}
			guardID = &g.GuardID
		}

		row := &database.Component{
			ComponentID:   ids.ComponentID(),
			InstanceID:    tmpl.TemplateID,
			RoleID:        roleIDsByName[c.Role],
			InteractionID: interactionIDsByName[c.Interaction],
			Direction:     database.Direction(c.Direction),
			GuardID:       guardID,
		}
		if err := tx.SaveComponent(ctx, row); err != nil {
			return nil, engineerrors.Wrapf(err, engineerrors.ErrorTypeDatabase, "save component %s", c.Name)
		}
	}

	return tmpl, nil
}
