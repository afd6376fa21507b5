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
	"runtime/debug"
	"sync/atomic"
	"weak"

	"github.com/ashlotl/custard/internal/logging"
	"github.com/ashlotl/custard/internal/ready"
	"github.com/ashlotl/custard/internal/runctl"
)

// A Fulfiller is the runtime wrapper around one materialized task. It is
// shared by every chain that contains it and is owned strongly by its
// loaded crate; chains and other fulfillers only ever hold a
// [weak.Pointer] to it.
type Fulfiller struct {
	Task           *LoadedTask
	Prerequisites  []weak.Pointer[Fulfiller]
	ChildrenChains []weak.Pointer[Chain]
	Done           *ready.Gate

	cease     atomic.Bool
	errored   atomic.Bool
	completed atomic.Bool
}

// New returns a fulfiller for task (nil if the task failed to materialize).
// entrypoint marks the underlying ready gate as one that may fire without a
// real predecessor on the first tick.
func New(task *LoadedTask, entrypoint bool) *Fulfiller {
	return &Fulfiller{ //nolint:exhaustruct // Prerequisites/ChildrenChains wired later, flags start false
		Task: task,
		Done: ready.New(entrypoint),
	}
}

// Ceased reports whether this fulfiller has ceased for the current tick.
func (f *Fulfiller) Ceased() bool {
	return f.cease.Load()
}

// Errored reports whether this fulfiller's last run reported an error or
// panicked.
func (f *Fulfiller) Errored() bool {
	return f.errored.Load()
}

// ClearCease clears the cease flag, used by RecreateThreadpool to resume
// every non-errored fulfiller.
func (f *Fulfiller) ClearCease() {
	f.cease.Store(false)
}

// ResetCompletion clears the per-tick completion flag, used before a tick
// begins so every fulfiller may once again contribute its one cease signal
// to the controller's active count.
func (f *Fulfiller) ResetCompletion() {
	f.completed.Store(false)
}

// completeOnce reports this fulfiller as done for the current tick exactly
// once, no matter how many call sites reach it (its own run, or a peer's
// notification). A fulfiller already errored as of the start of this tick is
// excluded from the controller's active count entirely, since the
// controller was already sized without it by a prior Reset.
func (f *Fulfiller) completeOnce(controller *runctl.Controller, excludedFromTick bool) {
	if !f.completed.CompareAndSwap(false, true) {
		return
	}

	if excludedFromTick {
		return
	}

	controller.CeaseFulfiller()
}

// PrerequisitesComplete reports whether every still-live prerequisite has
// released its gate beyond this fulfiller's own gate. A prerequisite whose
// weak reference no longer upgrades is treated as vacuously complete: the
// composition is being torn down, and blocking on a dead reference would
// only wedge the shutdown.
func (f *Fulfiller) PrerequisitesComplete() bool {
	for _, weakPrereq := range f.Prerequisites {
		prereq := weakPrereq.Value()
		if prereq == nil {
			continue
		}

		if !f.Done.LoadPrerequisite(prereq.Done) {
			return false
		}
	}

	return true
}

// RunTask runs this fulfiller's closure if its prerequisites are satisfied
// and it has not ceased, isolating any panic, then releases its ready gate
// and fans out to every still-live child chain.
func (f *Fulfiller) RunTask(
	pool *runctl.Pool,
	controller *runctl.Controller,
	allChains []*Chain,
	cfCell *runctl.ControlFlowCell,
) {
	if !f.PrerequisitesComplete() {
		return
	}

	wasErroredAtStart := f.Errored()

	if !f.Ceased() {
		outcome, panicked := f.invokeClosure()

		if outcome.Kind != Continue {
			f.applyOutcome(outcome, panicked, controller, cfCell)
			f.notifyTasksOfControlFlowChange(outcome, panicked, allChains, controller)
		}
	}

	f.completeOnce(controller, wasErroredAtStart)

	f.Done.Release()

	for _, weakChild := range f.ChildrenChains {
		if chain := weakChild.Value(); chain != nil {
			chain.AttemptToRun(pool, controller, allChains, cfCell)
		}
	}
}

func (f *Fulfiller) invokeClosure() (outcome ControlFlow, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			outcome = ControlFlow{ //nolint:exhaustruct // MustReload unused for a panic outcome
				Kind: TaskErr,
				Err: &PanicError{
					OffendingTask: f.Task.Name,
					Recovered:     r,
					Stack:         debug.Stack(),
				},
			}
		}
	}()

	return f.Task.Closure(), false
}

func (f *Fulfiller) applyOutcome(
	outcome ControlFlow,
	panicked bool,
	controller *runctl.Controller,
	cfCell *runctl.ControlFlowCell,
) {
	switch {
	case panicked:
		logging.Error("task panicked, recreating worker pool", "task", f.Task.Name.String(), "err", outcome.Err)
		f.errored.Store(true)
		controller.DecrementNominal()
		cfCell.Set(runctl.ControlFlow{Kind: runctl.RecreateThreadpool}) //nolint:exhaustruct // MustReload unused
	case outcome.Kind == FullReload:
		cfCell.Set(runctl.ControlFlow{Kind: runctl.FullReload}) //nolint:exhaustruct // MustReload unused
	case outcome.Kind == PartialReload:
		for crateName := range outcome.MustReload {
			cfCell.AddMustReload(crateName)
		}
	case outcome.Kind == StopAll:
		cfCell.Set(runctl.ControlFlow{Kind: runctl.Stop}) //nolint:exhaustruct // MustReload unused
	case outcome.Kind == TaskErr:
		logging.Error("task reported an error", "task", f.Task.Name.String(), "err", outcome.Err)
		f.errored.Store(true)
		controller.DecrementNominal()
	}
}

// notifyTasksOfControlFlowChange iterates every fulfiller across every
// chain, ceasing each one that must respond to current's outcome.
// FullReload, PartialReload, StopAll, and a panic unconditionally cease
// every fulfiller that has not already ceased; StopThis and a plain error
// cease only current itself and any peer whose plugin-provided handler
// says to stop.
func (f *Fulfiller) notifyTasksOfControlFlowChange(
	outcome ControlFlow,
	panicked bool,
	allChains []*Chain,
	controller *runctl.Controller,
) {
	unconditional := panicked || outcome.Kind == FullReload || outcome.Kind == PartialReload || outcome.Kind == StopAll

	for _, chain := range allChains {
		for _, weakOther := range chain.Fulfillers {
			other := weakOther.Value()
			if other == nil || other.Ceased() {
				continue
			}

			shouldCease := unconditional

			if !shouldCease && (outcome.Kind == StopThis || outcome.Kind == TaskErr) {
				switch {
				case other == f:
					shouldCease = true
				case other.Task != nil && other.Task.HandleControlFlowUpdate != nil:
					shouldCease = other.Task.HandleControlFlowUpdate(f.Task.Name, other.Task.Name, outcome) == HandleStop
				}
			}

			if shouldCease {
				other.cease.Store(true)

				// current's own completion is accounted for by the
				// unconditional completeOnce call at the end of RunTask,
				// using the errored state observed before this outcome was
				// applied; recomputing it here would wrongly exclude a
				// just-errored fulfiller from this tick's active count.
				if other != f {
					other.completeOnce(controller, other.Errored())
				}
			}
		}
	}
}
