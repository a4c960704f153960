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

// Package template implements the Template Validator (C12): it parses a
// workflow template document (spec.md §6.2's textual, order-independent
// wire format — names are the ids, Import assigns opaque ids on import),
// runs go-playground/validator/v10 struct-tag checks for
// shape-level mistakes, and then the graph/semantic rules R1-R12 that no
// struct tag can express.
package template

import "github.com/jordigilh/constitution-engine/pkg/guard"

// Document is the parsed form of spec.md §6.2's workflow template. Names
// within it are the ids every cross-reference (Role, Interaction) uses;
// Import assigns opaque storage ids at import time.
type Document struct {
	Name        string `validate:"required"`
	Version     string `validate:"required"`
	Description string
	AIContext   string `yaml:"ai_context,omitempty"`

	Roles        []RoleDoc        `validate:"required,min=1,dive"`
	Interactions []InteractionDoc `validate:"required,min=1,dive"`
	Components   []ComponentDoc   `validate:"required,min=1,dive"`
}

// RoleDoc is one workflow.roles entry.
type RoleDoc struct {
	Name     string `validate:"required"`
	Kind     string `validate:"required,oneof=ALPHA BETA OMEGA EPSILON TAU"`
	Strategy string `validate:"omitempty,oneof=HOMOGENEOUS HETEROGENEOUS"`
}

// InteractionDoc is one workflow.interactions entry.
type InteractionDoc struct {
	Name        string `validate:"required"`
	Description string
}

// ComponentDoc is one workflow.components entry: a directed (role,
// interaction) edge, optionally carrying a Guardian.
type ComponentDoc struct {
	Name        string `validate:"required"`
	Role        string `validate:"required"`
	Interaction string `validate:"required"`
	Direction   string `validate:"required,oneof=INBOUND OUTBOUND"`
	Guardian    *GuardianDoc
}

// GuardianDoc is a component's attached guard, if any. A COMPOSITE guard
// carries CompositeSpec instead of InteractionPolicy — its children are
// full Policy documents in their own right, reduced by an AND/OR operator
// (spec.md §9).
type GuardianDoc struct {
	Type              string `validate:"required,oneof=PASS_THRU CRITERIA_GATE DIRECTIONAL_FILTER CERBERUS TTL_CHECK CONDITIONAL_INJECTOR COMPOSITE"`
	InteractionPolicy *guard.Policy
	CompositeSpec     *guard.Composite
}
