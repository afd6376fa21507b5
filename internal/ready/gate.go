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

// Package ready implements the per-fulfiller ready gate: a lock-free,
// re-entrant "are my prerequisites done yet" signal that stays correct across
// concurrent ticks of a cyclic graph without ever needing to be reset between
// ticks.
//
// A gate never blocks. It is a monotone counter compared against the
// greatest counter value it has observed among its prerequisites; a fresh
// tick is recognized implicitly because every node's counter keeps
// increasing, never resetting to zero.
package ready

import "sync/atomic"

// A Gate is one fulfiller's readiness signal. The zero value is not usable;
// construct with [New].
type Gate struct {
	state          atomic.Uint64
	greatestPrereq atomic.Uint64
	entrypoint     bool
}

// New returns a gate for a fulfiller. entrypoint marks a fulfiller that may
// fire without a real predecessor having released first, only on the first
// tick (before the gate's first Release).
func New(entrypoint bool) *Gate {
	return &Gate{entrypoint: entrypoint} //nolint:exhaustruct // atomic fields zero-initialize correctly
}

// LoadPrerequisite records the greatest state observed among this gate's
// prerequisites and reports whether other has advanced far enough that this
// gate may now fire. It returns true iff other's state is strictly greater
// than this gate's own state, or this gate is an entrypoint that has never
// been released (its state is still zero), or other is this same gate
// (self-loop shortcut).
func (g *Gate) LoadPrerequisite(other *Gate) bool {
	ostate := other.state.Load()

	for {
		cur := g.greatestPrereq.Load()
		if ostate <= cur {
			break
		}

		if g.greatestPrereq.CompareAndSwap(cur, ostate) {
			break
		}
	}

	if other == g {
		return true
	}

	if ostate > g.state.Load() {
		return true
	}

	return g.entrypoint && g.state.Load() == 0
}

// Release advances this gate's state past every prerequisite state it has
// observed so far, marking this fulfiller as done for the current tick.
func (g *Gate) Release() {
	g.state.Store(g.greatestPrereq.Load() + 1)
}

// State returns the current state counter, chiefly for tests and
// diagnostics.
func (g *Gate) State() uint64 {
	return g.state.Load()
}
