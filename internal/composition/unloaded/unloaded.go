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

// Package unloaded holds the in-memory graph parsed from a composition
// description, before any plugin has materialized a task or datachunk, along
// with the traversal primitives the validator and chain builder are built
// on.
package unloaded

import (
	"sort"

	"github.com/ashlotl/custard/internal/access"
	"github.com/ashlotl/custard/internal/identify"
)

// A Task is one task's declaration as parsed from the composition
// description, before its plugin has materialized it.
type Task struct {
	TypeName        string
	DeserializeBlob []byte
	Parents         []identify.FullTaskName
	Accesses        []access.Access
	Entrypoint      bool
}

// A Datachunk is one datachunk's declaration as parsed from the composition
// description.
type Datachunk struct {
	TypeName        string
	DeserializeBlob []byte
}

// A Crate is one crate's declared tasks and datachunks. Lib, if non-empty,
// identifies the dynamically loaded core library this crate's fragment was
// produced by (empty for crates declared directly in the root composition).
type Crate struct {
	Datachunks map[identify.DatachunkName]Datachunk
	Tasks      map[identify.TaskName]Task
	Lib        string
}

// A Composition is the full graph of crates parsed from a composition
// description, after recursively merging every child crate's contributed
// fragment.
type Composition struct {
	Crates   map[identify.CrateName]Crate
	Children []identify.CrateName
}

// New returns an empty composition, ready to have crates merged into it.
func New() *Composition {
	return &Composition{
		Crates: make(map[identify.CrateName]Crate),
	}
}

// GetTask returns the declared task named by name, if any.
func (c *Composition) GetTask(name identify.FullTaskName) (Task, bool) {
	crate, ok := c.Crates[name.Crate]
	if !ok {
		return Task{}, false
	}

	task, ok := crate.Tasks[name.Task]

	return task, ok
}

// sortedCrateNames returns the composition's crate names in a deterministic
// order, standing in for the iteration order of the source's ordered crate
// map.
func (c *Composition) sortedCrateNames() []identify.CrateName {
	names := make([]identify.CrateName, 0, len(c.Crates))
	for name := range c.Crates {
		names = append(names, name)
	}

	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	return names
}

// sortedTaskNames returns a crate's task names in a deterministic order.
func sortedTaskNames(crate Crate) []identify.TaskName {
	names := make([]identify.TaskName, 0, len(crate.Tasks))
	for name := range crate.Tasks {
		names = append(names, name)
	}

	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	return names
}

// ChildrenOf returns every task whose parents include parent and which
// satisfies predicate, in deterministic crate/task iteration order.
func (c *Composition) ChildrenOf(
	parent identify.FullTaskName,
	predicate func(identify.FullTaskName, Task) bool,
) []identify.FullTaskName {
	var result []identify.FullTaskName

	for _, crateName := range c.sortedCrateNames() {
		crate := c.Crates[crateName]
		for _, taskName := range sortedTaskNames(crate) {
			task := crate.Tasks[taskName]

			full := identify.FullTaskName{Crate: crateName, Task: taskName}
			if !containsTaskName(task.Parents, parent) {
				continue
			}

			if predicate(full, task) {
				result = append(result, full)
			}
		}
	}

	return result
}

func containsTaskName(haystack []identify.FullTaskName, needle identify.FullTaskName) bool {
	for _, n := range haystack {
		if n == needle {
			return true
		}
	}

	return false
}

// TraverseAncestors performs a depth-first walk of start's ancestors,
// following each visited task's declared parents. visitor is invoked once
// per visited node, first on start itself; returning true from visitor halts
// the walk early and TraverseAncestors returns true. visited accumulates
// every node visited so a node is never revisited within one call. This
// includes start: when start is one of its own ancestors, the edge back into
// it is not followed and visitor is not called on start a second time, so a
// cycle-membership test checks each visited node's parent list for start.
func (c *Composition) TraverseAncestors(
	start identify.FullTaskName,
	visited map[identify.FullTaskName]bool,
	visitor func(identify.FullTaskName, Task) bool,
) bool {
	if visited[start] {
		return false
	}

	task, ok := c.GetTask(start)
	if !ok {
		return false
	}

	if visitor(start, task) {
		return true
	}

	visited[start] = true

	for _, parent := range task.Parents {
		if c.TraverseAncestors(parent, visited, visitor) {
			return true
		}
	}

	return false
}
