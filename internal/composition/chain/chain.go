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

// Package chain greedily partitions a validated task DAG into maximal linear
// fulfiller chains, to amortize scheduler overhead and improve cache
// locality within a worker thread.
package chain

import (
	"github.com/ashlotl/custard/internal/composition/unloaded"
	"github.com/ashlotl/custard/internal/identify"
)

// A Chain is an ordered list of task names to be run sequentially on one
// worker. Names[0] is the chain's topologically-earliest task.
type Chain struct {
	Names []identify.FullTaskName
}

// FirstName returns the chain's first, topologically-earliest task.
func (c Chain) FirstName() identify.FullTaskName {
	return c.Names[0]
}

// Build partitions every task in c into maximal linear chains.
//
// Repeatedly picks the best unseen "last node" — the unseen task with the
// largest child count, ties broken by lexicographic FullTaskName for
// determinism — then walks backwards from it via each node's first parent,
// stopping when the next ancestor is already part of some chain or the
// current node has more than one parent. The walk is reversed into execution
// order before being emitted.
func Build(c *unloaded.Composition) []Chain {
	names := allTaskNames(c)

	childCount := make(map[identify.FullTaskName]int, len(names))
	for _, name := range names {
		childCount[name] = len(c.ChildrenOf(name, func(identify.FullTaskName, unloaded.Task) bool { return true }))
	}

	traversed := make(map[identify.FullTaskName]bool, len(names))

	var chains []Chain

	for {
		last, ok := bestLastNode(names, childCount, traversed)
		if !ok {
			break
		}

		chains = append(chains, buildChainFrom(c, last, traversed))
	}

	return chains
}

func allTaskNames(c *unloaded.Composition) []identify.FullTaskName {
	var names []identify.FullTaskName

	for crateName, crate := range c.Crates {
		for taskName := range crate.Tasks {
			names = append(names, identify.FullTaskName{Crate: crateName, Task: taskName})
		}
	}

	return names
}

// bestLastNode returns the unseen node with the largest child count, ties
// broken lexicographically by FullTaskName.
func bestLastNode(
	names []identify.FullTaskName,
	childCount map[identify.FullTaskName]int,
	traversed map[identify.FullTaskName]bool,
) (identify.FullTaskName, bool) {
	var (
		best    identify.FullTaskName
		bestSet bool
	)

	for _, name := range names {
		if traversed[name] {
			continue
		}

		if !bestSet {
			best = name
			bestSet = true

			continue
		}

		if childCount[name] > childCount[best] ||
			(childCount[name] == childCount[best] && name.Compare(best) < 0) {
			best = name
		}
	}

	return best, bestSet
}

func buildChainFrom(c *unloaded.Composition, last identify.FullTaskName, traversed map[identify.FullTaskName]bool) Chain {
	var reverse []identify.FullTaskName

	current := last

	for {
		reverse = append(reverse, current)
		traversed[current] = true

		task, ok := c.GetTask(current)
		if !ok || len(task.Parents) != 1 {
			break
		}

		next := task.Parents[0]
		if traversed[next] {
			break
		}

		current = next
	}

	names := make([]identify.FullTaskName, len(reverse))
	for i, name := range reverse {
		names[len(reverse)-1-i] = name
	}

	return Chain{Names: names}
}
