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

// Package instance owns a running composition's top-level lifecycle: the
// initial build, the tick loop, and reacting to the control-flow outcome
// each tick reports by recreating the worker pool, reloading, or stopping.
package instance

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/ashlotl/custard/internal/composition/loaded"
	"github.com/ashlotl/custard/internal/composition/unloaded"
	"github.com/ashlotl/custard/internal/composition/validate"
	"github.com/ashlotl/custard/internal/identify"
	"github.com/ashlotl/custard/internal/logging"
	"github.com/ashlotl/custard/internal/runctl"
)

// A CompositionLoader parses a composition description and recursively
// merges every child crate's contributed fragment into its unloaded form.
// It is called once at startup and again on every full or partial reload.
type CompositionLoader interface {
	Load() (*unloaded.Composition, error)
}

// A LibraryCloser releases native libraries a loaded composition's crates
// were materialized from. Close is called with every library of the
// composition being discarded: the previous composition's after a full
// reload, and the current composition's at shutdown.
type LibraryCloser interface {
	Close(libs []string)
}

// ErrNoTasksSurvived is returned by Run when every fulfiller has errored and
// the controller's nominal count has dropped to zero.
var ErrNoTasksSurvived = errors.New("instance: every task has errored, nothing left to run")

// Settings configures the worker fleet an Instance drives its composition
// with.
type Settings struct {
	Workers int
}

// An Instance owns one composition's build and tick loop. It is not safe
// for concurrent use: Run must only ever be called from one goroutine at a
// time, matching the single main-thread model the scheduler assumes.
type Instance struct {
	loader       CompositionLoader
	materializer loaded.Materializer
	closer       LibraryCloser
	settings     Settings

	pool *runctl.Pool
	comp *loaded.LoadedComposition
	unl  *unloaded.Composition
}

// New parses, validates, and builds the first loaded composition.
func New(
	loader CompositionLoader,
	materializer loaded.Materializer,
	closer LibraryCloser,
	settings Settings,
) (*Instance, error) {
	inst := &Instance{ //nolint:exhaustruct // pool/comp/unl populated by buildFresh
		loader:       loader,
		materializer: materializer,
		closer:       closer,
		settings:     settings,
	}

	unl, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("instance: loading composition: %w", err)
	}

	if err := inst.buildFresh(unl); err != nil {
		return nil, err
	}

	return inst, nil
}

// build validates unl and constructs a loaded composition from it, handing
// off crates from handoff (nil for a from-scratch build).
func (inst *Instance) build(unl *unloaded.Composition, handoff *loaded.Handoff) (*loaded.LoadedComposition, error) {
	checked, err := validate.Composition(unl)
	if err != nil {
		return nil, fmt.Errorf("instance: validating composition: %w", err)
	}

	comp, _, err := loaded.Build(checked, inst.materializer, handoff)
	if err != nil {
		return nil, fmt.Errorf("instance: building composition: %w", err)
	}

	return comp, nil
}

// buildFresh replaces the instance's loaded composition and worker pool
// with newly built ones, handing off nothing: every task and datachunk is
// materialized anew.
func (inst *Instance) buildFresh(unl *unloaded.Composition) error {
	comp, err := inst.build(unl, nil)
	if err != nil {
		return err
	}

	inst.comp = comp
	inst.unl = unl
	inst.pool = runctl.NewPool(inst.settings.Workers)

	return nil
}

// Run drives ticks until the composition reports Stop, or until every task
// has errored and no fulfiller remains to make progress.
//
// Each loaded composition and worker pool is built fresh rather than
// literally inherited across a reload boundary the way a persistent
// rendezvous barrier would require: [loaded.LoadedComposition.Run] blocks
// until the tick it drives has fully completed before Run ever inspects the
// outcome, so no caller is ever left waiting on a barrier that spans a
// reload. A freshly sized controller is therefore equivalent to adjusting
// an inherited one, and much simpler.
func (inst *Instance) Run() error {
	for {
		outcome := inst.comp.Run(inst.pool)

		remaining := inst.comp.Controller.Reset()
		if remaining == 0 {
			inst.shutdown()

			return ErrNoTasksSurvived
		}

		switch outcome.Kind {
		case runctl.Continue:
			continue
		case runctl.Stop:
			inst.shutdown()

			return nil
		case runctl.RecreateThreadpool:
			inst.recreateThreadpool()
		case runctl.FullReload:
			if err := inst.fullReload(); err != nil {
				return err
			}
		case runctl.PartialReload:
			inst.partialReload(outcome.MustReload)
		}
	}
}

// recreateThreadpool clears cease on every non-errored fulfiller and
// replaces the worker pool, used after a panic has left it in an
// indeterminate state.
func (inst *Instance) recreateThreadpool() {
	inst.comp.ResetCease()

	oldPool := inst.pool
	inst.pool = runctl.NewPool(inst.settings.Workers)
	oldPool.StopWait()
}

// fullReload drops the current loaded composition and its native libraries,
// then rebuilds from scratch. Nothing is handed off: every task and
// datachunk is materialized anew.
func (inst *Instance) fullReload() error {
	oldLibs := inst.comp.Libs()
	oldPool := inst.pool

	unl, err := inst.loader.Load()
	if err != nil {
		return fmt.Errorf("instance: loading composition for full reload: %w", err)
	}

	if err := inst.buildFresh(unl); err != nil {
		return err
	}

	oldPool.StopWait()

	if inst.closer != nil {
		inst.closer.Close(oldLibs)
	}

	return nil
}

// partialReload re-parses and validates a prospective composition, then
// rebuilds handing off every crate not named in mustReload whose unloaded
// declaration is unchanged. A validation failure is not fatal: it is
// logged and the instance resumes running its current composition
// unchanged, matching the next tick's Continue default.
//
// A failed attempt still clears cease on the current composition's
// non-errored fulfillers before resuming: the tick that produced this
// PartialReload outcome already ceased every fulfiller unconditionally, on
// the assumption that Build was about to replace them with a fresh,
// un-ceased set. When the attempt aborts that replacement never happens, so
// resuming "as Continue" requires the same cease-clearing RecreateThreadpool
// performs.
//
// Native libraries are never closed here: per the lifetime rule a plugin is
// only ever dropped on a full reload or process exit, even when none of its
// crates survive a partial one.
func (inst *Instance) partialReload(mustReload map[identify.CrateName]bool) {
	prospective, err := inst.loader.Load()
	if err != nil {
		logging.Error("partial reload: failed to load composition, continuing", "err", err)
		inst.comp.ResetCease()

		return
	}

	exclude := inst.reloadExclusions(prospective, mustReload)
	handoff := inst.comp.HandoffExcluding(exclude)

	comp, err := inst.build(prospective, handoff)
	if err != nil {
		logging.Error("partial reload: prospective composition rejected, continuing", "err", err)
		inst.comp.ResetCease()

		return
	}

	oldPool := inst.pool

	inst.comp = comp
	inst.unl = prospective
	inst.pool = runctl.NewPool(inst.settings.Workers)

	oldPool.StopWait()
}

// reloadExclusions is the set of crates a partial reload must not hand
// off: every crate named in mustReload, plus every crate whose unloaded
// declaration differs between the running composition and prospective (or
// that prospective no longer declares at all).
func (inst *Instance) reloadExclusions(
	prospective *unloaded.Composition,
	mustReload map[identify.CrateName]bool,
) map[identify.CrateName]bool {
	exclude := make(map[identify.CrateName]bool, len(mustReload))
	for name := range mustReload {
		exclude[name] = true
	}

	for name, oldCrate := range inst.unl.Crates {
		newCrate, ok := prospective.Crates[name]
		if !ok || !reflect.DeepEqual(oldCrate, newCrate) {
			exclude[name] = true
		}
	}

	return exclude
}

func (inst *Instance) shutdown() {
	inst.pool.StopWait()

	if inst.closer != nil {
		inst.closer.Close(inst.comp.Libs())
	}
}
