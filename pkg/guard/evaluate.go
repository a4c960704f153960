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

package guard

import (
	"time"

	"github.com/jordigilh/constitution-engine/pkg/expr"
)

// CompiledPolicy is a Policy with every branch and mutation condition
// parsed once, so Evaluate never pays a parse cost on the hot path.
type CompiledPolicy struct {
	policy    Policy
	branches  []*expr.Expr
	mutations []*expr.Expr
}

// Compile parses every condition in p, returning a *expr.Error (KindSyntax)
// for the first malformed one. Template validation (C12) does not call
// this: it parses each branch condition with expr.Compile directly, so a
// bad branch condition is rejected at import before any UOW reaches it.
func Compile(p Policy) (*CompiledPolicy, error) {
	cp := &CompiledPolicy{
		policy:    p,
		branches:  make([]*expr.Expr, len(p.Branches)),
		mutations: make([]*expr.Expr, len(p.Mutations)),
	}
	for i, b := range p.Branches {
		c, err := expr.Compile(b.Condition)
		if err != nil {
			return nil, err
		}
		cp.branches[i] = c
	}
	for i, m := range p.Mutations {
		c, err := expr.Compile(m.Condition)
		if err != nil {
			return nil, err
		}
		cp.mutations[i] = c
	}
	return cp, nil
}

// Evaluate walks the compiled policy's branches in declared order against
// env/reg, implementing the algorithm of spec.md section 4.3 exactly:
// on_error branches are skipped unless a prior branch raised; any branch
// whose condition raises is captured in the shadow log and the walk
// continues; the first branch whose condition evaluates true wins
// (deterministic tie-break); if the walk ends with no match and an error
// occurred, the first on_error branch is tried; otherwise Default applies;
// otherwise the result is HALT/NO_MATCH. No evaluation error from pkg/expr
// ever escapes this function.
func Evaluate(cp *CompiledPolicy, uowID string, env *expr.Env, reg *expr.Registry) (Decision, []ShadowEntry, []InjectionAudit) {
	var shadow []ShadowEntry
	errorOccurred := false

	for i, b := range cp.policy.Branches {
		if b.OnError && !errorOccurred {
			continue
		}
		matched, err := cp.branches[i].Eval(env, reg)
		if err != nil {
			errorOccurred = true
			shadow = append(shadow, ShadowEntry{
				UOWID:     uowID,
				Branch:    i,
				Condition: b.Condition,
				Err:       err,
				Timestamp: time.Now().UTC(),
			})
			continue
		}
		if matched {
			decision := Decision{
				Action:          b.Action,
				NextInteraction: b.NextInteraction,
				MatchedBranch:   i,
			}
			audits := applyMutations(cp, env, reg, &decision)
			return decision, shadow, audits
		}
	}

	if errorOccurred {
		for i, b := range cp.policy.Branches {
			if !b.OnError {
				continue
			}
			matched, err := cp.branches[i].Eval(env, reg)
			if err != nil {
				shadow = append(shadow, ShadowEntry{
					UOWID:     uowID,
					Branch:    i,
					Condition: b.Condition,
					Err:       err,
					Timestamp: time.Now().UTC(),
				})
				continue
			}
			if matched {
				decision := Decision{
					Action:          b.Action,
					NextInteraction: b.NextInteraction,
					MatchedBranch:   i,
				}
				audits := applyMutations(cp, env, reg, &decision)
				return decision, shadow, audits
			}
			break // spec: "the first on_error branch" — only one is tried
		}
	}

	if cp.policy.Default != nil {
		decision := Decision{
			Action:          cp.policy.Default.Action,
			NextInteraction: cp.policy.Default.NextInteraction,
			MatchedBranch:   -1,
		}
		audits := applyMutations(cp, env, reg, &decision)
		return decision, shadow, audits
	}

	return Decision{Action: ActionHalt, MatchedBranch: -1, Reason: ReasonNoMatch}, shadow, nil
}

// CompiledComposite is a Composite with every child Policy pre-compiled.
type CompiledComposite struct {
	composite Composite
	children  []*CompiledPolicy
}

// CompileComposite compiles every child Policy, returning the first child's
// compile error if any condition is malformed. Template validation (C12)
// checks each child's branch conditions with expr.Compile rather than
// calling this.
func CompileComposite(c Composite) (*CompiledComposite, error) {
	cc := &CompiledComposite{
		composite: c,
		children:  make([]*CompiledPolicy, len(c.Children)),
	}
	for i, child := range c.Children {
		compiled, err := Compile(child)
		if err != nil {
			return nil, err
		}
		cc.children[i] = compiled
	}
	return cc, nil
}

// EvaluateComposite evaluates every child policy against env/reg, reduces
// their pass/fail outcomes (a child "passes" when its Decision's Action is
// ActionRoute) via the composite's Operator, and routes via Default when the
// reduction is true. Shadow entries and injection audits from every child are
// concatenated so nothing child evaluation surfaces is lost. AND over zero
// children is vacuously true; OR over zero children is false.
func EvaluateComposite(cc *CompiledComposite, uowID string, env *expr.Env, reg *expr.Registry) (Decision, []ShadowEntry, []InjectionAudit) {
	var shadow []ShadowEntry
	var audits []InjectionAudit
	result := cc.composite.Operator == CompositeAnd

	for _, child := range cc.children {
		decision, childShadow, childAudits := Evaluate(child, uowID, env, reg)
		shadow = append(shadow, childShadow...)
		audits = append(audits, childAudits...)
		passed := decision.Action == ActionRoute

		switch cc.composite.Operator {
		case CompositeOr:
			if passed {
				result = true
			}
		default: // CompositeAnd
			if !passed {
				result = false
			}
		}
	}

	if result && cc.composite.Default != nil {
		decision := Decision{
			Action:          cc.composite.Default.Action,
			NextInteraction: cc.composite.Default.NextInteraction,
			MatchedBranch:   -1,
		}
		return decision, shadow, audits
	}

	return Decision{Action: ActionHalt, MatchedBranch: -1, Reason: ReasonNoMatch}, shadow, audits
}

// applyMutations evaluates every CONDITIONAL_INJECTOR mutation and, for the
// first one whose condition matches, attaches model_id/injected_instructions
// to decision and returns the audit trail. Mutation evaluation errors are
// swallowed the same way branch errors are: they never propagate.
func applyMutations(cp *CompiledPolicy, env *expr.Env, reg *expr.Registry, decision *Decision) []InjectionAudit {
	if len(cp.policy.Mutations) == 0 {
		return nil
	}
	for i, m := range cp.policy.Mutations {
		matched, err := cp.mutations[i].Eval(env, reg)
		if err != nil || !matched {
			continue
		}
		decision.InjectedModelID = m.ModelID
		decision.InjectedInstructions = m.InjectedInstructions
		decision.KnowledgeFragmentRefs = m.KnowledgeFragmentRefs
		decision.InjectionAudit = &InjectionAudit{
			Condition:    m.Condition,
			MatchedIndex: i,
			Timestamp:    time.Now().UTC(),
		}
		return []InjectionAudit{*decision.InjectionAudit}
	}
	return nil
}
