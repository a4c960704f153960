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

	"github.com/jordigilh/constitution-engine/internal/database"
	engineerrors "github.com/jordigilh/constitution-engine/internal/errors"
	"github.com/jordigilh/constitution-engine/pkg/expr"
	"github.com/jordigilh/constitution-engine/pkg/guard"
	"github.com/jordigilh/constitution-engine/pkg/uow"
)

func nextSeq(ctx context.Context, tx database.Tx, uowID string) (int, error) {
	rows, err := tx.ListHistory(ctx, uowID)
	if err != nil {
		return 0, err
	}
	return len(rows) + 1, nil
}

// interactionsInboundTo returns the set of interaction ids with an INBOUND
// component for roleID.
func interactionsInboundTo(components []database.Component, roleID string) []string {
	var ids []string
	for _, c := range components {
		if c.RoleID == roleID && c.Direction == database.DirectionInbound {
			ids = append(ids, c.InteractionID)
		}
	}
	return ids
}

// roleConsumingInteraction returns the role whose INBOUND component is
// interactionID — the role a UOW sitting in that interaction is being
// processed by.
func roleConsumingInteraction(components []database.Component, interactionID string) (string, bool) {
	for _, c := range components {
		if c.InteractionID == interactionID && c.Direction == database.DirectionInbound {
			return c.RoleID, true
		}
	}
	return "", false
}

// outboundComponents returns roleID's OUTBOUND components.
func outboundComponents(components []database.Component, roleID string) []database.Component {
	var out []database.Component
	for _, c := range components {
		if c.RoleID == roleID && c.Direction == database.DirectionOutbound {
			out = append(out, c)
		}
	}
	return out
}

// routingGuard picks the governing Guard component among a role's OUTBOUND
// siblings: by convention (documented in DESIGN.md as an Open Question
// resolution) the first component carrying a non-nil GuardID owns the full
// routing Policy for every sibling's NextInteraction. R12 makes every
// sibling of a multi-sibling role carry an interaction_policy; only the
// first guarded one is consulted here.
func routingGuard(siblings []database.Component) *database.Component {
	for i := range siblings {
		if siblings[i].GuardID != nil {
			return &siblings[i]
		}
	}
	return nil
}

// loadPolicy unmarshals and compiles the Policy carried by g.PolicyJSON.
func loadPolicy(g *database.Guard) (*guard.CompiledPolicy, error) {
	var p guard.Policy
	if err := json.Unmarshal(g.PolicyJSON, &p); err != nil {
		return nil, engineerrors.Wrapf(err, engineerrors.ErrorTypeValidation, "unmarshal guard %s policy", g.GuardID)
	}
	return guard.Compile(p)
}

// loadComposite unmarshals and compiles the Composite carried by a COMPOSITE
// guard's PolicyJSON.
func loadComposite(g *database.Guard) (*guard.CompiledComposite, error) {
	var c guard.Composite
	if err := json.Unmarshal(g.PolicyJSON, &c); err != nil {
		return nil, engineerrors.Wrapf(err, engineerrors.ErrorTypeValidation, "unmarshal guard %s composite", g.GuardID)
	}
	return guard.CompileComposite(c)
}

// evaluateGuard dispatches on g.Type: a COMPOSITE guard's PolicyJSON is
// shaped like guard.Composite (an operator plus child Policy list) rather
// than a flat guard.Policy, so it is unmarshaled and evaluated through
// guard.CompileComposite/EvaluateComposite instead of loadPolicy/Evaluate.
// Every other kind walks the existing flat-Policy path unchanged.
func evaluateGuard(g *database.Guard, uowID string, env *expr.Env, reg *expr.Registry) (guard.Decision, error) {
	if guard.Kind(g.Type) == guard.KindComposite {
		cc, err := loadComposite(g)
		if err != nil {
			return guard.Decision{}, err
		}
		decision, _, _ := guard.EvaluateComposite(cc, uowID, env, reg)
		return decision, nil
	}

	cp, err := loadPolicy(g)
	if err != nil {
		return guard.Decision{}, err
	}
	decision, _, _ := guard.Evaluate(cp, uowID, env, reg)
	return decision, nil
}

// interactionFeedsOnlyRoleKind reports whether interactionID's only INBOUND
// consumer is a role of kind want.
func interactionFeedsOnlyRoleKind(components []database.Component, roles []database.Role, interactionID string, want database.RoleKind) bool {
	roleKind := make(map[string]database.RoleKind, len(roles))
	for _, r := range roles {
		roleKind[r.RoleID] = r.Kind
	}
	found := false
	for _, c := range components {
		if c.InteractionID != interactionID || c.Direction != database.DirectionInbound {
			continue
		}
		if roleKind[c.RoleID] != want {
			return false
		}
		found = true
	}
	return found
}

func childStatesOf(children []database.UOW) []guard.ChildState {
	out := make([]guard.ChildState, len(children))
	for i, c := range children {
		out[i] = guard.ChildState{Status: string(c.Status), Terminal: uow.IsTerminal(c.Status)}
	}
	return out
}
