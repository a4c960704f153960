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

// ChildState is the minimal view CERBERUS needs of one child UOW: its
// status string and whether that status is terminal. The caller (C7) owns
// the actual status taxonomy (pkg/uow); this package only needs to know
// whether a status counts as terminal.
type ChildState struct {
	Status   string
	Terminal bool
}

// Cerberus evaluates the CERBERUS gate used at OMEGA inbound (spec.md
// section 4.3): it admits the parent only when there is at least one
// child, every child is accounted for as finished, and no child remains in
// a non-terminal state. Any other outcome is HALT.
func Cerberus(childCount, finishedChildCount int, children []ChildState) Decision {
	if childCount > 0 && finishedChildCount == childCount {
		for _, c := range children {
			if !c.Terminal {
				return Decision{Action: ActionHalt, MatchedBranch: -1, Reason: ReasonNoMatch}
			}
		}
		return Decision{Action: ActionRoute, MatchedBranch: -1}
	}
	return Decision{Action: ActionHalt, MatchedBranch: -1, Reason: ReasonNoMatch}
}
