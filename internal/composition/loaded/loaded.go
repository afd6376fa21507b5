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

// Package loaded builds the live, runnable graph of fulfillers and
// datachunks from a validated composition, wiring weak back-edges between
// fulfillers and their children chains, and drives one tick of execution.
package loaded

import (
	"fmt"
	"weak"

	chainbuilder "github.com/ashlotl/custard/internal/composition/chain"
	"github.com/ashlotl/custard/internal/composition/unloaded"
	"github.com/ashlotl/custard/internal/composition/validate"
	"github.com/ashlotl/custard/internal/datachunk"
	"github.com/ashlotl/custard/internal/fulfiller"
	"github.com/ashlotl/custard/internal/identify"
	"github.com/ashlotl/custard/internal/logging"
	"github.com/ashlotl/custard/internal/runctl"
)

// A LoadedDatachunk is one crate's materialized datachunk: a shared handle
// to its contents plus the declaration it was built from.
type LoadedDatachunk struct {
	Decl   unloaded.Datachunk
	Handle *datachunk.Handle[any]
}

// A LoadedCrate is one crate's materialized tasks and datachunks. Lib, if
// non-empty, names the dynamically loaded native library this crate's code
// came from, so the instance controller can close it on a full reload.
type LoadedCrate struct {
	Datachunks map[identify.DatachunkName]*LoadedDatachunk
	Tasks      map[identify.TaskName]*fulfiller.Fulfiller
	Lib        string
}

// A TaskRuntime is what a plugin produces when materializing a task: the
// opaque handle backing it, the closure to run, and the handler that
// decides how this task responds to a peer's StopThis or error outcome.
type TaskRuntime struct {
	UserData                any
	Closure                 func() fulfiller.ControlFlow
	HandleControlFlowUpdate func(current, self identify.FullTaskName, outcome fulfiller.ControlFlow) fulfiller.HandleOutcome
}

// A Materializer turns a declared datachunk or task into its live runtime
// form. It is the seam a plugin host implements to bridge a crate's
// dynamically loaded library into the scheduler.
type Materializer interface {
	MaterializeDatachunk(name identify.FullDatachunkName, decl unloaded.Datachunk) (any, error)
	MaterializeTask(name identify.FullTaskName, decl unloaded.Task, accessor *datachunk.Accessor) (TaskRuntime, error)
}

// A HandoffCrate carries forward one crate's materialized tasks and
// datachunks across a partial reload. It holds the content a plugin
// produced — a [fulfiller.LoadedTask] and a [LoadedDatachunk] per
// declaration — rather than whole fulfillers: a fulfiller's cease, error,
// and per-tick completion state belongs to one tick of one composition and
// must always be freshly constructed, even when the task it wraps is
// reused verbatim.
type HandoffCrate struct {
	Tasks      map[identify.TaskName]*fulfiller.LoadedTask
	Datachunks map[identify.DatachunkName]*LoadedDatachunk
}

// A Handoff carries forward crates from a prior LoadedComposition whose
// unloaded spec has not changed and which were not named for reload,
// letting a partial reload reuse their live task and datachunk content
// instead of reallocating it.
type Handoff struct {
	Crates map[identify.CrateName]*HandoffCrate
}

// A LoadedComposition is the live, runnable graph: a crate table, the
// chains that dispatch work across it, and the per-tick scheduling
// machinery.
type LoadedComposition struct {
	Crates     map[identify.CrateName]*LoadedCrate
	Chains     []*fulfiller.Chain
	Controller *runctl.Controller
	cfCell     *runctl.ControlFlowCell
}

// LookupDatachunk implements [datachunk.Lookup] over the live crate table.
func (lc *LoadedComposition) LookupDatachunk(name identify.FullDatachunkName) (*datachunk.Handle[any], bool, bool) {
	crate, ok := lc.Crates[name.Crate]
	if !ok {
		return nil, false, false
	}

	dc, ok := crate.Datachunks[name.Datachunk]
	if !ok {
		return nil, true, false
	}

	return dc.Handle, true, true
}

// TaskLoadError wraps a failure, including a recovered panic, materializing
// a task's closure.
type TaskLoadError struct {
	Name identify.FullTaskName
	Err  error
}

func (e *TaskLoadError) Error() string {
	return fmt.Sprintf("loading task %s: %v", e.Name, e.Err)
}

func (e *TaskLoadError) Unwrap() error {
	return e.Err
}

// Build constructs a LoadedComposition from checked, materializing every
// datachunk and task via materializer except where handoff supplies an
// already-live one to reuse. Every fulfiller is constructed fresh, even when
// the task it wraps comes from handoff. It returns the composition and the
// total fulfiller count, used to size the run controller.
func Build(checked *validate.Checked, materializer Materializer, handoff *Handoff) (*LoadedComposition, int, error) {
	comp := checked.Composition()
	logCrateCount(comp)

	lc := &LoadedComposition{
		Crates:     make(map[identify.CrateName]*LoadedCrate, len(comp.Crates)),
		Controller: nil,
		cfCell:     runctl.NewControlFlowCell(),
	}

	for crateName, crateDecl := range comp.Crates {
		var handoffCrate *HandoffCrate
		if handoff != nil {
			handoffCrate = handoff.Crates[crateName]
		}

		crate, err := buildCrate(crateName, crateDecl, materializer, handoffCrate)
		if err != nil {
			return nil, 0, err
		}

		lc.Crates[crateName] = crate
	}

	connectFulfillers(comp, lc.Crates)

	chains := createFulfillerChains(comp, lc.Crates)
	lc.Chains = chains

	attachFulfillerChains(chains)

	if err := loadClosures(comp, lc.Crates, lc, materializer); err != nil {
		return nil, 0, err
	}

	count := 0
	for _, crate := range lc.Crates {
		count += len(crate.Tasks)
	}

	lc.Controller = runctl.New(count)

	return lc, count, nil
}

// buildCrate materializes crateName's declared tasks and datachunks. When
// handoffCrate names a task or datachunk already produced for an identical
// declaration in a prior tick, its content is reused verbatim and
// re-wrapped; every [fulfiller.Fulfiller] is constructed fresh regardless,
// since its scheduling state belongs to this tick alone.
func buildCrate(
	crateName identify.CrateName,
	crateDecl unloaded.Crate,
	materializer Materializer,
	handoffCrate *HandoffCrate,
) (*LoadedCrate, error) {
	crate := &LoadedCrate{
		Datachunks: make(map[identify.DatachunkName]*LoadedDatachunk, len(crateDecl.Datachunks)),
		Tasks:      make(map[identify.TaskName]*fulfiller.Fulfiller, len(crateDecl.Tasks)),
		Lib:        crateDecl.Lib,
	}

	for dcName, dcDecl := range crateDecl.Datachunks {
		full := identify.FullDatachunkName{Crate: crateName, Datachunk: dcName}

		if handoffCrate != nil {
			if reused, ok := handoffCrate.Datachunks[dcName]; ok {
				crate.Datachunks[dcName] = reused

				continue
			}
		}

		value, err := materializer.MaterializeDatachunk(full, dcDecl)
		if err != nil {
			return nil, fmt.Errorf("materializing datachunk %s: %w", full, err)
		}

		crate.Datachunks[dcName] = &LoadedDatachunk{Decl: dcDecl, Handle: datachunk.NewHandle[any](value)}
	}

	for taskName, taskDecl := range crateDecl.Tasks {
		full := identify.FullTaskName{Crate: crateName, Task: taskName}

		var task *fulfiller.LoadedTask

		if handoffCrate != nil {
			task = handoffCrate.Tasks[taskName]
		}

		if task == nil {
			task = &fulfiller.LoadedTask{ //nolint:exhaustruct // UserData/Closure/HandleControlFlowUpdate filled by loadClosures
				Name:     full,
				Accesses: taskDecl.Accesses,
			}
		}

		crate.Tasks[taskName] = fulfiller.New(task, taskDecl.Entrypoint)
	}

	return crate, nil
}

// connectFulfillers resolves every task's declared parents to weak
// references into the crate table, installing them as that task's
// fulfiller's prerequisites.
func connectFulfillers(comp *unloaded.Composition, crates map[identify.CrateName]*LoadedCrate) {
	for crateName, crateDecl := range comp.Crates {
		for taskName, taskDecl := range crateDecl.Tasks {
			self := crates[crateName].Tasks[taskName]

			prereqs := make([]weak.Pointer[fulfiller.Fulfiller], 0, len(taskDecl.Parents))

			for _, parentName := range taskDecl.Parents {
				parentCrate, ok := crates[parentName.Crate]
				if !ok {
					continue
				}

				parent, ok := parentCrate.Tasks[parentName.Task]
				if !ok {
					continue
				}

				prereqs = append(prereqs, weak.Make(parent))
			}

			self.Prerequisites = prereqs
		}
	}
}

// createFulfillerChains runs the chain builder against the unloaded
// composition and resolves each name chain into a chain of weak fulfiller
// references.
func createFulfillerChains(comp *unloaded.Composition, crates map[identify.CrateName]*LoadedCrate) []*fulfiller.Chain {
	nameChains := chainbuilder.Build(comp)

	chains := make([]*fulfiller.Chain, 0, len(nameChains))

	for _, nameChain := range nameChains {
		fulfillers := make([]weak.Pointer[fulfiller.Fulfiller], 0, len(nameChain.Names))

		for _, name := range nameChain.Names {
			crate, ok := crates[name.Crate]
			if !ok {
				continue
			}

			f, ok := crate.Tasks[name.Task]
			if !ok {
				continue
			}

			fulfillers = append(fulfillers, weak.Make(f))
		}

		chains = append(chains, &fulfiller.Chain{FirstName: nameChain.FirstName(), Fulfillers: fulfillers})
	}

	return chains
}

// attachFulfillerChains installs, on every chain's first fulfiller's
// prerequisites, a weak back-edge into that chain's ChildrenChains — the
// "wake your successor" edge a fulfiller follows after it runs.
func attachFulfillerChains(chains []*fulfiller.Chain) {
	for _, chain := range chains {
		if len(chain.Fulfillers) == 0 {
			continue
		}

		first := chain.Fulfillers[0].Value()
		if first == nil {
			continue
		}

		weakChain := weak.Make(chain)

		for _, weakPrereq := range first.Prerequisites {
			prereq := weakPrereq.Value()
			if prereq == nil {
				continue
			}

			prereq.ChildrenChains = append(prereq.ChildrenChains, weakChain)
		}
	}
}

// loadClosures materializes every task's closure, skipping any task whose
// LoadedTask was reused from a handoff and so already carries a live
// closure. This must run after the crate table and every weak edge is
// wired, since a closure's accessor captures the live table.
func loadClosures(
	comp *unloaded.Composition,
	crates map[identify.CrateName]*LoadedCrate,
	lookup datachunk.Lookup,
	materializer Materializer,
) (err error) {
	for crateName, crateDecl := range comp.Crates {
		for taskName, taskDecl := range crateDecl.Tasks {
			full := identify.FullTaskName{Crate: crateName, Task: taskName}
			f := crates[crateName].Tasks[taskName]

			if f.Task.Closure != nil {
				continue
			}

			accessor := datachunk.NewAccessor(lookup, taskDecl.Accesses)

			runtime, loadErr := materializeTaskSafely(full, taskDecl, accessor, materializer)
			if loadErr != nil {
				return loadErr
			}

			f.Task.UserData = runtime.UserData
			f.Task.Closure = runtime.Closure
			f.Task.HandleControlFlowUpdate = runtime.HandleControlFlowUpdate
		}
	}

	return nil
}

func materializeTaskSafely(
	name identify.FullTaskName,
	decl unloaded.Task,
	accessor *datachunk.Accessor,
	materializer Materializer,
) (runtime TaskRuntime, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &TaskLoadError{Name: name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	runtime, err = materializer.MaterializeTask(name, decl, accessor)
	if err != nil {
		err = &TaskLoadError{Name: name, Err: err}
	}

	return runtime, err
}

// Run dispatches every chain for one tick, blocks until the worker fleet
// has ceased every active fulfiller, and returns the tick's aggregate
// control-flow outcome.
func (lc *LoadedComposition) Run(pool *runctl.Pool) runctl.ControlFlow {
	lc.resetCompletion()

	for _, chain := range lc.Chains {
		chain.AttemptToRun(pool, lc.Controller, lc.Chains, lc.cfCell)
	}

	lc.Controller.MainWait()

	outcome := lc.cfCell.Get()
	lc.cfCell.Reset()

	return outcome
}

// HandoffExcluding extracts a Handoff carrying forward every materialized
// task and datachunk in lc not named in mustReload, for use when building
// the next tick's partial reload. The fulfillers wrapping those tasks are
// not carried forward: [Build] always constructs fresh ones.
func (lc *LoadedComposition) HandoffExcluding(mustReload map[identify.CrateName]bool) *Handoff {
	crates := make(map[identify.CrateName]*HandoffCrate)

	for name, crate := range lc.Crates {
		if mustReload[name] {
			continue
		}

		tasks := make(map[identify.TaskName]*fulfiller.LoadedTask, len(crate.Tasks))
		for taskName, f := range crate.Tasks {
			tasks[taskName] = f.Task
		}

		crates[name] = &HandoffCrate{Tasks: tasks, Datachunks: crate.Datachunks}
	}

	return &Handoff{Crates: crates}
}

// resetCompletion clears every fulfiller's per-tick completion flag so this
// tick's completeOnce calls are honored; the flag is left set from the
// previous tick (or unset, on the first) otherwise.
func (lc *LoadedComposition) resetCompletion() {
	for _, crate := range lc.Crates {
		for _, f := range crate.Tasks {
			f.ResetCompletion()
		}
	}
}

// ResetCease clears the cease flag on every fulfiller that did not error,
// used when RecreateThreadpool recovers from a panic without discarding the
// rest of the composition's progress.
func (lc *LoadedComposition) ResetCease() {
	for _, crate := range lc.Crates {
		for _, f := range crate.Tasks {
			if !f.Errored() {
				f.ClearCease()
			}
		}
	}
}

// Libs returns the set of distinct native library paths backing this
// composition's crates, used by the instance controller to close them on a
// full reload.
func (lc *LoadedComposition) Libs() []string {
	seen := make(map[string]bool)

	var libs []string

	for _, crate := range lc.Crates {
		if crate.Lib == "" || seen[crate.Lib] {
			continue
		}

		seen[crate.Lib] = true

		libs = append(libs, crate.Lib)
	}

	return libs
}

func logCrateCount(comp *unloaded.Composition) {
	logging.Debug("building loaded composition", "crates", len(comp.Crates))
}
