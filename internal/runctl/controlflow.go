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

package runctl

import (
	"maps"
	"sync"

	"github.com/ashlotl/custard/internal/identify"
)

// Kind is the composition-wide outcome of a tick, aggregated from the
// individual control-flow values every fulfiller's closure returned.
type Kind int

const (
	// Continue means the next tick should simply run again.
	Continue Kind = iota
	// FullReload means every crate should be dropped and reloaded from
	// scratch.
	FullReload
	// PartialReload means only the crates named in ControlFlow.MustReload
	// (plus any whose unloaded spec changed) should be reloaded; others hand
	// off their live state.
	PartialReload
	// RecreateThreadpool means a panic left the worker pool in an
	// indeterminate state; it must be replaced before the next tick.
	RecreateThreadpool
	// Stop means the instance should exit.
	Stop
)

// A ControlFlow is the composition-wide outcome of one tick.
type ControlFlow struct {
	Kind       Kind
	MustReload map[identify.CrateName]bool // meaningful only when Kind == PartialReload
}

// continueFlow is the value every tick starts from.
func continueFlow() ControlFlow {
	return ControlFlow{Kind: Continue} //nolint:exhaustruct // MustReload only meaningful for PartialReload
}

// A ControlFlowCell holds the current tick's aggregate control-flow value
// behind a mutex. Every access goes through a method that defers the unlock,
// so a panic inside a fulfiller's closure — which never runs while this
// lock is held — can never leave the cell poisoned for the next holder.
type ControlFlowCell struct {
	mu    sync.Mutex
	value ControlFlow
}

// NewControlFlowCell returns a cell initialized to Continue.
func NewControlFlowCell() *ControlFlowCell {
	return &ControlFlowCell{value: continueFlow()} //nolint:exhaustruct // mu zero value is a valid unlocked mutex
}

// Get returns a copy of the current control-flow value.
func (c *ControlFlowCell) Get() ControlFlow {
	c.mu.Lock()
	defer c.mu.Unlock()

	return cloneControlFlow(c.value)
}

// Set overwrites the current control-flow value, used when a fulfiller's
// closure reports an outcome other than Continue.
func (c *ControlFlowCell) Set(cf ControlFlow) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.value = cf
}

// AddMustReload merges crateName into the current PartialReload set. If the
// cell holds any other kind (Continue, Stop, FullReload, or
// RecreateThreadpool), it is replaced by a PartialReload naming only
// crateName.
func (c *ControlFlowCell) AddMustReload(crateName identify.CrateName) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.value.Kind != PartialReload {
		c.value = ControlFlow{Kind: PartialReload, MustReload: map[identify.CrateName]bool{}}
	}

	if c.value.MustReload == nil {
		c.value.MustReload = map[identify.CrateName]bool{}
	}

	c.value.MustReload[crateName] = true
}

// Reset restores the cell to Continue, in preparation for the next tick.
func (c *ControlFlowCell) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.value = continueFlow()
}

func cloneControlFlow(cf ControlFlow) ControlFlow {
	if cf.MustReload == nil {
		return cf
	}

	return ControlFlow{Kind: cf.Kind, MustReload: maps.Clone(cf.MustReload)}
}
