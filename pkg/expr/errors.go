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

import "fmt"

// ErrorKind classifies why an expression failed (spec.md section 4.2).
type ErrorKind string

const (
	// KindSyntax covers grammar violations caught at parse time, including
	// every forbidden construct (bitwise operators, power, attribute
	// access, subscript, assignment).
	KindSyntax ErrorKind = "syntax"
	// KindAttribute covers identifiers outside the permitted variable set
	// for this evaluation (declared UOW attributes plus reserved
	// metadata); also raised for actor_id, which is never bindable.
	KindAttribute ErrorKind = "attribute"
	// KindEvaluation covers runtime failures during a syntactically valid,
	// fully-bound evaluation: division by zero, type mismatches, wrong
	// argument counts, unknown functions.
	KindEvaluation ErrorKind = "evaluation"
)

// Error is the error type raised by this package. The Policy Engine (C3)
// captures every Error it sees; none of them ever propagate to C3's own
// caller (spec.md section 4.2, section 7's "Expression evaluation" row).
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// DSLSyntaxError reports a parse-time grammar violation.
func DSLSyntaxError(format string, args ...any) *Error {
	return &Error{Kind: KindSyntax, Message: fmt.Sprintf(format, args...)}
}

// DSLAttributeError reports an identifier outside the permitted namespace.
func DSLAttributeError(name string) *Error {
	return &Error{Kind: KindAttribute, Message: fmt.Sprintf("identifier %q is not permitted in this evaluation", name)}
}

// DSLEvaluationError reports a runtime evaluation failure.
func DSLEvaluationError(format string, args ...any) *Error {
	return &Error{Kind: KindEvaluation, Message: fmt.Sprintf(format, args...)}
}
