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

// Package runctl implements the run controller ("Quit" in the scheduler's
// own parlance): the task-count gate that lets the worker fleet and the main
// thread agree on when a tick has finished, plus the control-flow cell that
// aggregates the outcome tasks report during that tick.
package runctl

import "sync"

// A Controller tracks how many fulfillers are still expected to complete
// the current tick (active) and how many are expected to participate in the
// next one (nominal, i.e. error-free), and rendezvouses the worker fleet
// with the main thread at the end of a tick.
type Controller struct {
	mu           sync.Mutex
	nominalCount int
	activeCount  int
	point        *rendezvous
}

// New returns a controller sized for count fulfillers.
func New(count int) *Controller {
	return &Controller{
		nominalCount: count,
		activeCount:  count,
		point:        newRendezvous(),
	}
}

// BeginFulfillers adjusts the active count by delta, used when the
// composition grows or shrinks between ticks (e.g. a partial reload).
func (c *Controller) BeginFulfillers(delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.activeCount += delta
}

// NominalCount returns the number of fulfillers expected to participate in
// the next tick.
func (c *Controller) NominalCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.nominalCount
}

// ActiveCount returns the number of fulfillers still expected to complete
// the current tick.
func (c *Controller) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.activeCount
}

// DecrementNominal removes one fulfiller from the next tick's expected
// count, used when a task reports a run error.
func (c *Controller) DecrementNominal() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nominalCount--
}

// CeaseFulfiller decrements the active count; if it reaches zero, the
// calling worker rendezvouses with the main thread's MainWait call.
func (c *Controller) CeaseFulfiller() {
	c.mu.Lock()
	c.activeCount--
	zero := c.activeCount == 0
	point := c.point
	c.mu.Unlock()

	if zero {
		point.arrive()
	}
}

// MainWait blocks the main thread until the worker fleet has ceased every
// active fulfiller for the current tick.
func (c *Controller) MainWait() {
	c.mu.Lock()
	point := c.point
	c.mu.Unlock()

	point.arrive()
}

// Reset installs a fresh rendezvous point and restores the active count to
// the nominal count, in preparation for the next tick. It returns the
// nominal count; zero means every fulfiller errored and the instance should
// exit.
func (c *Controller) Reset() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.point = newRendezvous()
	c.activeCount = c.nominalCount

	return c.nominalCount
}
