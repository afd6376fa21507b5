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

// Package validate checks an unloaded composition for cycle membership,
// entrypoint reachability, and cross-task datachunk access conflicts before
// it is allowed to be loaded.
package validate

import (
	"fmt"
	"sort"

	"github.com/ashlotl/custard/internal/access"
	"github.com/ashlotl/custard/internal/composition/unloaded"
	"github.com/ashlotl/custard/internal/identify"
)

// A NotInCycleError reports that a task does not belong to any cycle. Every
// task is expected to belong to at least one cycle, since the graph is
// conceptually re-entrant per tick.
type NotInCycleError struct {
	OffendingTask identify.FullTaskName
}

func (e *NotInCycleError) Error() string {
	return fmt.Sprintf("task %s must belong to a cycle", e.OffendingTask)
}

// An UnreachableError reports that none of the cycles a task belongs to
// contain an entrypoint, meaning the task can never actually fire.
type UnreachableError struct {
	OffendingTask identify.FullTaskName
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("none of the cycles task %s belongs to contain an entrypoint", e.OffendingTask)
}

// A CrossAccessError reports that two unsynchronized tasks in distinct
// crates declare incompatible access to the same datachunk.
type CrossAccessError struct {
	A, B      identify.FullTaskName
	Datachunk identify.FullDatachunkName
}

func (e *CrossAccessError) Error() string {
	return fmt.Sprintf(
		"tasks %s and %s are unsynchronized but both declare incompatible access to datachunk %s",
		e.A, e.B, e.Datachunk,
	)
}

// A Checked is proof that a composition has passed [Composition]. Building a
// loaded composition requires one.
type Checked struct {
	composition *unloaded.Composition
}

// Composition returns the composition that passed validation.
func (c *Checked) Composition() *unloaded.Composition {
	return c.composition
}

// sortedTaskNames enumerates every declared task in deterministic order.
func sortedTaskNames(c *unloaded.Composition) []identify.FullTaskName {
	var names []identify.FullTaskName

	for crateName, crate := range c.Crates {
		for taskName := range crate.Tasks {
			names = append(names, identify.FullTaskName{Crate: crateName, Task: taskName})
		}
	}

	sort.Slice(names, func(i, j int) bool { return names[i].Compare(names[j]) < 0 })

	return names
}

// Composition validates c: every task must belong to a cycle that contains
// an entrypoint, and no two unsynchronized tasks in distinct crates may
// declare incompatible access to the same datachunk. On success it returns a
// [Checked] marker that [github.com/ashlotl/custard/internal/composition/loaded]
// requires to build a loaded composition.
func Composition(c *unloaded.Composition) (*Checked, error) {
	names := sortedTaskNames(c)

	for _, name := range names {
		if err := checkCycleMembership(c, name); err != nil {
			return nil, err
		}
	}

	for i, a := range names {
		for _, b := range names[i+1:] {
			if a.Crate == b.Crate {
				continue
			}

			if !areUnsynchronized(c, a, b) {
				continue
			}

			if err := checkCrossAccess(c, a, b); err != nil {
				return nil, err
			}
		}
	}

	return &Checked{composition: c}, nil
}

func checkCycleMembership(c *unloaded.Composition, task identify.FullTaskName) error {
	found := false
	entrypointSeen := false

	c.TraverseAncestors(task, map[identify.FullTaskName]bool{}, func(current identify.FullTaskName, t unloaded.Task) bool {
		entrypointSeen = entrypointSeen || t.Entrypoint

		for _, parent := range t.Parents {
			if parent == task {
				found = true

				return true
			}
		}

		return false
	})

	if !found {
		return &NotInCycleError{OffendingTask: task}
	}

	if !entrypointSeen {
		return &UnreachableError{OffendingTask: task}
	}

	return nil
}

// isAncestor reports whether ancestor is reachable from descendant by
// following parent edges, excluding descendant's own trivial self-match on
// the first visit (a self-loop alone does not make a task its own ancestor
// for cross-access purposes).
func isAncestor(c *unloaded.Composition, descendant, ancestor identify.FullTaskName) bool {
	firstVisit := true
	result := false

	c.TraverseAncestors(descendant, map[identify.FullTaskName]bool{}, func(current identify.FullTaskName, _ unloaded.Task) bool {
		if !firstVisit && current == ancestor {
			result = true

			return true
		}

		firstVisit = false

		return false
	})

	return result
}

// areUnsynchronized reports whether neither a is an ancestor of b nor b is
// an ancestor of a, meaning no dependency edge orders their execution
// relative to one another.
func areUnsynchronized(c *unloaded.Composition, a, b identify.FullTaskName) bool {
	return !isAncestor(c, a, b) && !isAncestor(c, b, a)
}

func checkCrossAccess(c *unloaded.Composition, a, b identify.FullTaskName) error {
	taskA, _ := c.GetTask(a)
	taskB, _ := c.GetTask(b)

	for _, accA := range taskA.Accesses {
		for _, accB := range taskB.Accesses {
			if accA.Of != accB.Of {
				continue
			}

			if !access.Compatible(accA, accB) {
				return &CrossAccessError{A: a, B: b, Datachunk: accA.Of}
			}
		}
	}

	return nil
}
