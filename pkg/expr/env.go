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

package expr

// reservedMetadata is the fixed set of non-attribute identifiers every
// evaluation may reference regardless of the UOW's declared attributes
// (spec.md section 4.2). actor_id is deliberately absent: branch
// conditions must never be able to route on who is currently holding the
// UOW.
var reservedMetadata = map[string]bool{
	"uow_id":               true,
	"parent_id":            true,
	"status":               true,
	"child_count":          true,
	"finished_child_count": true,
	"interaction_count":    true,
}

// Env is the variable-resolution scope for one evaluation: the UOW's
// declared attributes plus the reserved metadata fields above. actor_id is
// rejected even if present in attrs, since no caller is ever permitted to
// smuggle it in through the attribute map.
type Env struct {
	attrs map[string]any
	meta  map[string]any
}

// NewEnv builds an evaluation scope from a UOW's attribute snapshot and its
// current metadata values. Only keys in reservedMetadata are read from meta;
// everything else is ignored.
func NewEnv(attrs map[string]any, meta map[string]any) *Env {
	return &Env{attrs: attrs, meta: meta}
}

// Resolve looks up name, returning DSLAttributeError if it is outside the
// permitted namespace for this evaluation.
func (e *Env) Resolve(name string) (any, error) {
	if name == "actor_id" {
		return nil, DSLAttributeError(name)
	}
	if reservedMetadata[name] {
		v, ok := e.meta[name]
		if !ok {
			return nil, DSLAttributeError(name)
		}
		return v, nil
	}
	v, ok := e.attrs[name]
	if !ok {
		return nil, DSLAttributeError(name)
	}
	return v, nil
}
