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

package database

import engineerrors "github.com/jordigilh/constitution-engine/internal/errors"

// ErrNotFound is returned by GetUOWForUpdate, GetTemplate, GetInstance, and
// GetGuard when the requested row does not exist.
func ErrNotFound(resource string) error {
	return engineerrors.NewNotFoundError(resource)
}
