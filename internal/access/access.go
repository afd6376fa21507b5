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

// Package access defines the datachunk access descriptor and its
// compatibility predicate, which the validator (see
// [github.com/ashlotl/custard/internal/composition/validate]) uses to reject
// compositions containing conflicting concurrent access to the same
// datachunk.
package access

import "github.com/ashlotl/custard/internal/identify"

// A Kind is the intent with which a task accesses a datachunk.
type Kind int

const (
	// Shared grants read-only observation of a datachunk.
	Shared Kind = iota
	// Exclusive grants mutation of a datachunk. Exclusive subsumes Shared:
	// a task that declares Exclusive access may also be given a shared view.
	Exclusive
)

// String returns "shared" or "exclusive".
func (k Kind) String() string {
	if k == Exclusive {
		return "exclusive"
	}

	return "shared"
}

// Satisfies reports whether a task holding this kind of declared access may
// be granted the requested kind. Exclusive satisfies both Shared and
// Exclusive requests; Shared satisfies only Shared requests.
func (k Kind) Satisfies(requested Kind) bool {
	if k == Exclusive {
		return true
	}

	return requested == Shared
}

// An Access is a single declared access of a task to a datachunk.
type Access struct {
	Of   identify.FullDatachunkName
	Kind Kind
}

// Compatible reports whether two accesses to the same datachunk may be held
// concurrently. Two accesses are compatible iff at least one of them is
// Shared; two Exclusive accesses are never compatible.
func Compatible(a, b Access) bool {
	if a.Of != b.Of {
		return true
	}

	return a.Kind == Shared || b.Kind == Shared
}
