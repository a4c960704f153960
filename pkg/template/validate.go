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
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/jordigilh/constitution-engine/pkg/expr"
	"github.com/jordigilh/constitution-engine/pkg/guard"
)

// validate is a package-level *validator.Validate; the library's own docs
// recommend caching one instance rather than constructing it per call.
var validate = validator.New()

// ValidationErrors collects every rule violation found in one Validate
// call. An import is rejected atomically: the caller never sees a partially
// applied template, so the whole batch is reported at once rather than
// failing fast on the first violation.
type ValidationErrors struct {
	Violations []string
}

func (e *ValidationErrors) Error() string {
	return fmt.Sprintf("template failed validation: %s", strings.Join(e.Violations, "; "))
}

func (e *ValidationErrors) add(format string, args ...any) {
	e.Violations = append(e.Violations, fmt.Sprintf(format, args...))
}

// Validate runs go-playground/validator/v10's struct-tag checks (required
// fields, the role-kind/direction/guard-type enums) and then the R1-R12
// graph rules spec.md §4.12 names. It returns a non-nil *ValidationErrors
// whenever any rule fails; Import treats that as the whole document being
// rejected, not a subset of it.
func Validate(doc *Document) error {
	verrs := &ValidationErrors{}

	if err := validate.Struct(doc); err != nil {
		for _, fe := range err.(validator.ValidationErrors) {
			verrs.add("%s: failed %s", fe.Namespace(), fe.Tag())
		}
		return verrs
	}

	rolesByName := make(map[string]RoleDoc, len(doc.Roles))
	for _, r := range doc.Roles {
		if _, dup := rolesByName[r.Name]; dup {
			verrs.add("role %q declared more than once", r.Name)
			continue
		}
		rolesByName[r.Name] = r
	}
	interactionsByName := make(map[string]InteractionDoc, len(doc.Interactions))
	for _, i := range doc.Interactions {
		if _, dup := interactionsByName[i.Name]; dup {
			verrs.add("interaction %q declared more than once", i.Name)
			continue
		}
		interactionsByName[i.Name] = i
	}

	checkSingletonRoles(doc, verrs)     // R1-R4
	checkBetaStrategy(doc, verrs)       // R5
	checkComponentRefs(doc, rolesByName, interactionsByName, verrs)
	checkInteractionEndpoints(doc, rolesByName, verrs) // R7
	checkEpsilonGuarded(doc, rolesByName, verrs)       // R8
	checkOmegaCerberusGuarded(doc, rolesByName, verrs) // R9
	checkAlphaOmegaDirections(doc, rolesByName, verrs) // R10
	checkInteractionPolicies(doc, verrs)               // R11, R12

	if len(verrs.Violations) > 0 {
		return verrs
	}
	return nil
}

// R1-R4: exactly one role of each of ALPHA, OMEGA, EPSILON, TAU.
func checkSingletonRoles(doc *Document, verrs *ValidationErrors) {
	counts := map[string]int{}
	for _, r := range doc.Roles {
		counts[r.Kind]++
	}
	for _, kind := range []string{"ALPHA", "OMEGA", "EPSILON", "TAU"} {
		if counts[kind] != 1 {
			verrs.add("expected exactly one %s role, found %d", kind, counts[kind])
		}
	}
}

// R5: every BETA role carries a valid (non-empty) strategy.
func checkBetaStrategy(doc *Document, verrs *ValidationErrors) {
	for _, r := range doc.Roles {
		if r.Kind == "BETA" && r.Strategy == "" {
			verrs.add("role %q is BETA but declares no strategy", r.Name)
		}
	}
}

// checkComponentRefs validates every component's role/interaction names
// resolve (R6's direction enum is already covered by the struct tag).
func checkComponentRefs(doc *Document, roles map[string]RoleDoc, interactions map[string]InteractionDoc, verrs *ValidationErrors) {
	for _, c := range doc.Components {
		if _, ok := roles[c.Role]; !ok {
			verrs.add("component %q references unknown role %q", c.Name, c.Role)
		}
		if _, ok := interactions[c.Interaction]; !ok {
			verrs.add("component %q references unknown interaction %q", c.Name, c.Interaction)
		}
	}
}

// R7: every interaction has at least one OUTBOUND producer and one INBOUND
// consumer.
func checkInteractionEndpoints(doc *Document, roles map[string]RoleDoc, verrs *ValidationErrors) {
	hasOutbound := map[string]bool{}
	hasInbound := map[string]bool{}
	for _, c := range doc.Components {
		switch c.Direction {
		case "OUTBOUND":
			hasOutbound[c.Interaction] = true
		case "INBOUND":
			hasInbound[c.Interaction] = true
		}
	}
	for _, i := range doc.Interactions {
		if !hasOutbound[i.Name] {
			verrs.add("interaction %q has no OUTBOUND producer", i.Name)
		}
		if !hasInbound[i.Name] {
			verrs.add("interaction %q has no INBOUND consumer", i.Name)
		}
	}
}

// R8: every INBOUND component feeding the EPSILON role carries a guard.
func checkEpsilonGuarded(doc *Document, roles map[string]RoleDoc, verrs *ValidationErrors) {
	for _, c := range doc.Components {
		if c.Direction != "INBOUND" {
			continue
		}
		role, ok := roles[c.Role]
		if !ok || role.Kind != "EPSILON" {
			continue
		}
		if c.Guardian == nil {
			verrs.add("component %q feeds EPSILON role %q but has no guard", c.Name, c.Role)
		}
	}
}

// R9: every INBOUND component feeding the OMEGA role carries a CERBERUS
// guard specifically.
func checkOmegaCerberusGuarded(doc *Document, roles map[string]RoleDoc, verrs *ValidationErrors) {
	for _, c := range doc.Components {
		if c.Direction != "INBOUND" {
			continue
		}
		role, ok := roles[c.Role]
		if !ok || role.Kind != "OMEGA" {
			continue
		}
		if c.Guardian == nil {
			verrs.add("component %q feeds OMEGA role %q but has no guard", c.Name, c.Role)
			continue
		}
		if c.Guardian.Type != string(guard.KindCerberus) {
			verrs.add("component %q feeds OMEGA role %q but guard type is %s, not CERBERUS", c.Name, c.Role, c.Guardian.Type)
		}
	}
}

// R10: ALPHA only ever produces (has OUTBOUND components); OMEGA only ever
// consumes (has INBOUND components).
func checkAlphaOmegaDirections(doc *Document, roles map[string]RoleDoc, verrs *ValidationErrors) {
	for _, c := range doc.Components {
		role, ok := roles[c.Role]
		if !ok {
			continue
		}
		if role.Kind == "ALPHA" && c.Direction != "OUTBOUND" {
			verrs.add("component %q: ALPHA role %q must only have OUTBOUND components", c.Name, c.Role)
		}
		if role.Kind == "OMEGA" && c.Direction != "INBOUND" {
			verrs.add("component %q: OMEGA role %q must only have INBOUND components", c.Name, c.Role)
		}
	}
}

// R11 and R12 both concern interaction_policy, so they share one walk:
// R11 every policy condition parses under pkg/expr and never references
// actor_id (the one name Env.Resolve rejects unconditionally, regardless
// of what attributes happen to be in scope); R12 any component with more
// than one OUTBOUND sibling of the same role must carry a policy. A
// COMPOSITE guard's children are themselves full policies, so R11 recurses
// into CompositeSpec.Children the same way it walks a flat policy's
// branches; R12 treats a present CompositeSpec the same as a present
// InteractionPolicy.
func checkInteractionPolicies(doc *Document, verrs *ValidationErrors) {
	outboundSiblings := map[string]int{}
	for _, c := range doc.Components {
		if c.Direction == "OUTBOUND" {
			outboundSiblings[c.Role]++
		}
	}

	for _, c := range doc.Components {
		if c.Guardian == nil {
			continue
		}
		if c.Guardian.InteractionPolicy != nil {
			checkPolicyBranches(c.Name, c.Guardian.InteractionPolicy.Branches, verrs)
		}
		if c.Guardian.CompositeSpec != nil {
			for _, child := range c.Guardian.CompositeSpec.Children {
				checkPolicyBranches(c.Name, child.Branches, verrs)
			}
		}
	}

	for _, c := range doc.Components {
		if c.Direction != "OUTBOUND" {
			continue
		}
		hasPolicy := c.Guardian != nil && (c.Guardian.InteractionPolicy != nil || c.Guardian.CompositeSpec != nil)
		if outboundSiblings[c.Role] > 1 && !hasPolicy {
			verrs.add("component %q: role %q has %d OUTBOUND siblings and must carry an interaction_policy", c.Name, c.Role, outboundSiblings[c.Role])
		}
	}
}

// checkPolicyBranches is the R11 per-branch check shared by a flat
// interaction_policy and every child policy of a COMPOSITE guard.
func checkPolicyBranches(componentName string, branches []guard.Branch, verrs *ValidationErrors) {
	for _, b := range branches {
		if _, err := expr.Compile(b.Condition); err != nil {
			verrs.add("component %q branch %q: condition does not parse: %v", componentName, b.Name, err)
			continue
		}
		if strings.Contains(b.Condition, "actor_id") {
			verrs.add("component %q branch %q: condition references actor_id, which is never permitted", componentName, b.Name)
		}
	}
}
