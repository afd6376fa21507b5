// Copyright 2025 The Custard Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package identify defines the name types used to address crates, tasks, and
// datachunks throughout custard. The types are opaque strings so that they
// are cheap to copy, hashable as map keys, and totally ordered, which the
// chain builder (see [github.com/ashlotl/custard/internal/composition/chain]) relies on
// for a deterministic tiebreak.
package identify

import "cmp"

// CrateName names a crate within a composition.
type CrateName string

// TaskName names a task within a crate. It is unique only relative to its
// crate; see [FullTaskName] for a composition-wide unique name.
type TaskName string

// DatachunkName names a datachunk within a crate. It is unique only relative
// to its crate; see [FullDatachunkName] for a composition-wide unique name.
type DatachunkName string

// A FullTaskName uniquely identifies a task within a composition.
type FullTaskName struct {
	Crate CrateName
	Task  TaskName
}

// String returns the "crate/task" representation of n.
func (n FullTaskName) String() string {
	return string(n.Crate) + "/" + string(n.Task)
}

// Compare returns -1, 0, or +1 depending on whether n sorts before, equal to,
// or after other. Crate name is compared first, then task name, giving
// a deterministic total order usable for tiebreaking.
func (n FullTaskName) Compare(other FullTaskName) int {
	if c := cmp.Compare(n.Crate, other.Crate); c != 0 {
		return c
	}

	return cmp.Compare(n.Task, other.Task)
}

// A FullDatachunkName uniquely identifies a datachunk within a composition.
type FullDatachunkName struct {
	Crate     CrateName
	Datachunk DatachunkName
}

// String returns the "crate/datachunk" representation of n.
func (n FullDatachunkName) String() string {
	return string(n.Crate) + "/" + string(n.Datachunk)
}

// Compare returns -1, 0, or +1 depending on whether n sorts before, equal to,
// or after other.
func (n FullDatachunkName) Compare(other FullDatachunkName) int {
	if c := cmp.Compare(n.Crate, other.Crate); c != 0 {
		return c
	}

	return cmp.Compare(n.Datachunk, other.Datachunk)
}
