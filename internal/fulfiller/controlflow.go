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

// Package fulfiller is the per-task runtime: the fulfiller that wraps a
// materialized task with scheduling state, and the fulfiller chain that
// dispatches a sequential run of fulfillers to a worker pool.
//
// Fulfillers form a DAG with back-edges (a fulfiller's children chains point
// back to it), which would be a reference cycle under strong ownership. To
// avoid that, chains and prerequisite lists hold [weak.Pointer] references;
// only the owning loaded crate holds fulfillers strongly. Upgrading a weak
// reference that no longer resolves means the composition is being torn
// down, which every call site here treats as a clean "exiting" condition
// rather than an error.
package fulfiller

import (
	"fmt"

	"github.com/ashlotl/custard/internal/access"
	"github.com/ashlotl/custard/internal/identify"
)

// Kind distinguishes the values a task closure may return. These are
// first-class return values, never conflated with Go's own error channel.
type Kind int

const (
	// Continue means nothing out of the ordinary happened.
	Continue Kind = iota
	// TaskErr means the task reported a failure of its own.
	TaskErr
	// StopThis means this task alone wishes to stop being scheduled; every
	// other fulfiller may independently decide whether to follow suit.
	StopThis
	// StopAll means the whole instance should stop.
	StopAll
	// FullReload means every crate should be dropped and reloaded.
	FullReload
	// PartialReload means only the named crates (plus any with a changed
	// spec) should be reloaded.
	PartialReload
)

// String renders the control-flow kind for logging.
func (k Kind) String() string {
	switch k {
	case Continue:
		return "continue"
	case TaskErr:
		return "error"
	case StopThis:
		return "stop this"
	case StopAll:
		return "stop all"
	case FullReload:
		return "full reload"
	case PartialReload:
		return "partial reload"
	default:
		return "unknown"
	}
}

// A ControlFlow is the value returned by a task closure.
type ControlFlow struct {
	Kind       Kind
	Err        error                        // meaningful only when Kind == TaskErr
	MustReload map[identify.CrateName]bool // meaningful only when Kind == PartialReload
}

// A PanicError wraps a recovered panic from a task closure. It is
// synthesized by the fulfiller, never returned by a plugin directly.
type PanicError struct {
	OffendingTask identify.FullTaskName
	Recovered     any
	Stack         []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task %s panicked: %v", e.OffendingTask, e.Recovered)
}

// HandleOutcome is returned by a task's plugin-provided control-flow
// handler, deciding whether that task should cease in response to a peer's
// StopThis or error outcome.
type HandleOutcome int

const (
	// HandleContinue means the task should keep being scheduled.
	HandleContinue HandleOutcome = iota
	// HandleStop means the task should cease.
	HandleStop
)

// A LoadedTask is a materialized task: its name, its declared accesses, the
// plugin-produced opaque handle backing it, and the closure and control-flow
// handler the plugin produced, both bound to that handle and to an accessor
// scoped to the declared accesses.
type LoadedTask struct {
	Name     identify.FullTaskName
	Accesses []access.Access
	UserData any
	Closure  func() ControlFlow
	// HandleControlFlowUpdate decides whether this task ceases in response
	// to a peer's StopThis or error outcome.
	HandleControlFlowUpdate func(currentName, selfName identify.FullTaskName, outcome ControlFlow) HandleOutcome
}
