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

// Package guard implements the Policy Engine (C3): it walks the ordered
// branch list of an interaction policy through pkg/expr, honors on_error
// and default handling, and returns a routing decision. Evaluation errors
// never propagate past this package — they are captured in a shadow log and
// the caller always receives either a valid Decision or NO_MATCH/HALT.
package guard

import (
	"time"
)

// Action is the routing action a matched branch or default produces.
type Action string

const (
	ActionRoute  Action = "ROUTE"
	ActionHalt   Action = "HALT"
	ActionInject Action = "INJECT"
)

// Kind is the guard type attached to a component.
type Kind string

const (
	KindPassThru            Kind = "PASS_THRU"
	KindCriteriaGate        Kind = "CRITERIA_GATE"
	KindDirectionalFilter   Kind = "DIRECTIONAL_FILTER"
	KindCerberus            Kind = "CERBERUS"
	KindTTLCheck            Kind = "TTL_CHECK"
	KindConditionalInjector Kind = "CONDITIONAL_INJECTOR"
	KindComposite           Kind = "COMPOSITE"
)

// Branch is one entry of an interaction policy's ordered branch list.
type Branch struct {
	Name            string
	Condition       string
	Action          Action
	NextInteraction string
	OnError         bool
}

// Default is the fallback applied when no branch matches and none raised.
type Default struct {
	Action          Action
	NextInteraction string
}

// Mutation is a CONDITIONAL_INJECTOR entry: when Condition matches, its
// ModelID/InjectedInstructions/KnowledgeFragmentRefs attach to the UOW's
// outbound context.
type Mutation struct {
	Condition             string
	ModelID               string
	InjectedInstructions  string
	KnowledgeFragmentRefs []string
}

// Policy is the interaction_policy carried by a Guard-typed component
// (spec.md section 4.3).
type Policy struct {
	Branches  []Branch
	Default   *Default
	Mutations []Mutation
}

// CompositeOperator is the reducer a COMPOSITE guard applies across its
// children's pass/fail outcomes.
type CompositeOperator string

const (
	CompositeAnd CompositeOperator = "AND"
	CompositeOr  CompositeOperator = "OR"
)

// Composite is the COMPOSITE guard kind (spec.md section 9: "tagged variant
// carrying a static evaluate(view) -> decision contract; COMPOSITE holds a
// slice of child guards and an AND/OR reducer"). Each child is a full Policy
// evaluated independently; a child "passes" when its Decision's Action is
// ActionRoute. Default applies when the reduced outcome is true; when it is
// false, or Default is nil, the composite HALTs with ReasonNoMatch, mirroring
// Policy's own no-match fallback.
type Composite struct {
	Operator CompositeOperator
	Children []Policy
	Default  *Default
}

// Reason explains why a Decision has no matched branch.
type Reason string

const (
	ReasonNoMatch Reason = "NO_MATCH"
)

// Decision is the outcome of evaluating a Policy against one UOW view.
type Decision struct {
	Action          Action
	NextInteraction string
	MatchedBranch   int // -1 when no branch matched
	Reason          Reason

	// InjectedModelID, InjectedInstructions, and KnowledgeFragmentRefs are
	// populated only when a CONDITIONAL_INJECTOR mutation matched.
	InjectedModelID       string
	InjectedInstructions  string
	KnowledgeFragmentRefs []string
	InjectionAudit        *InjectionAudit
}

// InjectionAudit is the audit record CONDITIONAL_INJECTOR appends; it never
// changes current_interaction_id (spec.md section 9's open-question
// resolution) — it only documents that an attach happened.
type InjectionAudit struct {
	Condition    string
	MatchedIndex int
	Timestamp    time.Time
}

// ShadowEntry records one evaluation error encountered while walking a
// Policy's branches. None of these ever reach the caller of Evaluate;
// they exist purely for audit.
type ShadowEntry struct {
	UOWID     string
	Branch    int
	Condition string
	Snapshot  map[string]any
	Err       error
	Timestamp time.Time
}
