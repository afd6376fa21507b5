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

package fulfiller

import (
	"weak"

	"github.com/ashlotl/custard/internal/identify"
	"github.com/ashlotl/custard/internal/runctl"
)

// A Chain is a linear run of fulfillers dispatched to a single worker pool
// job. It holds weak references to its member fulfillers: the owning loaded
// crate is the only strong owner.
type Chain struct {
	FirstName  identify.FullTaskName
	Fulfillers []weak.Pointer[Fulfiller]
}

// AttemptToRun submits this chain to pool if its first fulfiller's
// prerequisites are satisfied. A chain whose first fulfiller no longer
// resolves is a sign of a torn-down composition and is silently skipped.
func (c *Chain) AttemptToRun(
	pool *runctl.Pool,
	controller *runctl.Controller,
	allChains []*Chain,
	cfCell *runctl.ControlFlowCell,
) {
	if len(c.Fulfillers) == 0 {
		return
	}

	first := c.Fulfillers[0].Value()
	if first == nil {
		return
	}

	if !first.PrerequisitesComplete() {
		return
	}

	pool.Submit(func() {
		c.Run(pool, controller, allChains, cfCell)
	})
}

// Run executes every fulfiller in this chain in order. A fulfiller that no
// longer resolves ends the chain early: its children chains are gone along
// with it.
func (c *Chain) Run(
	pool *runctl.Pool,
	controller *runctl.Controller,
	allChains []*Chain,
	cfCell *runctl.ControlFlowCell,
) {
	for _, weakFulfiller := range c.Fulfillers {
		fulfiller := weakFulfiller.Value()
		if fulfiller == nil {
			return
		}

		fulfiller.RunTask(pool, controller, allChains, cfCell)
	}
}
