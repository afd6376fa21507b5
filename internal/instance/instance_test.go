package instance

import (
	"sync"
	"testing"

	"github.com/ashlotl/custard/internal/composition/loaded"
	"github.com/ashlotl/custard/internal/composition/unloaded"
	"github.com/ashlotl/custard/internal/datachunk"
	"github.com/ashlotl/custard/internal/fulfiller"
	"github.com/ashlotl/custard/internal/identify"
)

// selfLoopComposition returns a single crate holding one entrypoint task
// whose only parent is itself, satisfying the cycle-membership requirement
// with the smallest possible fixture.
func selfLoopComposition(crate, task string) *unloaded.Composition {
	comp := unloaded.New()
	comp.Crates[identify.CrateName(crate)] = unloaded.Crate{
		Datachunks: map[identify.DatachunkName]unloaded.Datachunk{},
		Tasks: map[identify.TaskName]unloaded.Task{
			identify.TaskName(task): {
				Parents:    []identify.FullTaskName{{Crate: identify.CrateName(crate), Task: identify.TaskName(task)}},
				Entrypoint: true,
			},
		},
	}

	return comp
}

// staticLoader always returns the same composition, counting how many
// times it was asked to.
type staticLoader struct {
	mu    sync.Mutex
	comp  *unloaded.Composition
	calls int
}

func (l *staticLoader) Load() (*unloaded.Composition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls++

	return l.comp, nil
}

// sequenceLoader returns each composition in comps in turn, holding on the
// last one once exhausted.
type sequenceLoader struct {
	mu    sync.Mutex
	comps []*unloaded.Composition
	idx   int
}

func (l *sequenceLoader) Load() (*unloaded.Composition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.idx
	if i >= len(l.comps) {
		i = len(l.comps) - 1
	}

	l.idx++

	return l.comps[i], nil
}

// taskScript hands out a fixed sequence of outcomes to successive calls,
// repeating its last entry once exhausted.
type taskScript struct {
	mu       sync.Mutex
	calls    int
	outcomes []fulfiller.ControlFlow
}

func (s *taskScript) next() fulfiller.ControlFlow {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.calls
	if idx >= len(s.outcomes) {
		idx = len(s.outcomes) - 1
	}

	s.calls++

	return s.outcomes[idx]
}

// scriptedMaterializer stamps each named task with a closure drawn from a
// taskScript keyed by the task's full name, and counts how many times each
// name was materialized (reused handoff tasks are never re-materialized).
type scriptedMaterializer struct {
	mu                sync.Mutex
	scripts           map[string]*taskScript
	materializeCounts map[string]int
}

func newScriptedMaterializer() *scriptedMaterializer {
	return &scriptedMaterializer{
		scripts:           map[string]*taskScript{},
		materializeCounts: map[string]int{},
	}
}

func (m *scriptedMaterializer) script(name string, outcomes ...fulfiller.ControlFlow) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.scripts[name] = &taskScript{outcomes: outcomes} //nolint:exhaustruct // calls starts at zero
}

func (m *scriptedMaterializer) MaterializeDatachunk(identify.FullDatachunkName, unloaded.Datachunk) (any, error) {
	return nil, nil
}

func (m *scriptedMaterializer) MaterializeTask(
	name identify.FullTaskName,
	_ unloaded.Task,
	_ *datachunk.Accessor,
) (loaded.TaskRuntime, error) {
	m.mu.Lock()
	m.materializeCounts[name.String()]++
	s := m.scripts[name.String()]
	m.mu.Unlock()

	return scriptedRuntime(s), nil
}

// scriptedRuntime builds the runtime a Fulfiller invokes, closing over s so
// its calls counter survives across rebuilds keyed by task name.
func scriptedRuntime(s *taskScript) loaded.TaskRuntime {
	return loaded.TaskRuntime{ //nolint:exhaustruct // UserData/HandleControlFlowUpdate unused in these fixtures
		Closure: func() fulfiller.ControlFlow {
			return s.next()
		},
	}
}

func continueFlow() fulfiller.ControlFlow {
	return fulfiller.ControlFlow{Kind: fulfiller.Continue} //nolint:exhaustruct // MustReload/Err unused
}

func stopFlow() fulfiller.ControlFlow {
	return fulfiller.ControlFlow{Kind: fulfiller.StopAll} //nolint:exhaustruct // MustReload/Err unused
}

func TestInstanceRunsMultipleTicksUntilStop(t *testing.T) {
	loader := &staticLoader{comp: selfLoopComposition("a", "one")} //nolint:exhaustruct // calls starts at zero

	materializer := newScriptedMaterializer()
	materializer.script("a/one", continueFlow(), continueFlow(), stopFlow())

	inst, err := New(loader, materializer, nil, Settings{Workers: 1})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := inst.Run(); err != nil {
		t.Fatalf("Run() error = %v, want nil", err)
	}

	materializer.mu.Lock()
	defer materializer.mu.Unlock()

	if materializer.materializeCounts["a/one"] != 1 {
		t.Fatalf("materializeCounts[a/one] = %d, want 1 (no reload happened)", materializer.materializeCounts["a/one"])
	}

	s := materializer.scripts["a/one"]
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.calls != 3 {
		t.Fatalf("closure invoked %d times, want 3 ticks worth", s.calls)
	}
}

func TestInstanceRecreateThreadpoolResumesSurvivingTask(t *testing.T) {
	comp := unloaded.New()
	comp.Crates["a"] = unloaded.Crate{
		Datachunks: map[identify.DatachunkName]unloaded.Datachunk{},
		Tasks: map[identify.TaskName]unloaded.Task{
			"boom": {Parents: []identify.FullTaskName{{Crate: "a", Task: "boom"}}, Entrypoint: true},
		},
	}
	comp.Crates["b"] = unloaded.Crate{
		Datachunks: map[identify.DatachunkName]unloaded.Datachunk{},
		Tasks: map[identify.TaskName]unloaded.Task{
			"safe": {Parents: []identify.FullTaskName{{Crate: "b", Task: "safe"}}, Entrypoint: true},
		},
	}

	loader := &staticLoader{comp: comp} //nolint:exhaustruct // calls starts at zero

	var mu sync.Mutex

	boomCalls, safeCalls := 0, 0

	materializer := panicAwareMaterializer{
		boom: func() fulfiller.ControlFlow {
			mu.Lock()
			boomCalls++
			mu.Unlock()

			panic("kaboom")
		},
		safe: func() fulfiller.ControlFlow {
			mu.Lock()
			safeCalls++
			n := safeCalls
			mu.Unlock()

			if n >= 2 {
				return stopFlow()
			}

			return continueFlow()
		},
	}

	inst, err := New(loader, materializer, nil, Settings{Workers: 1})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := inst.Run(); err != nil {
		t.Fatalf("Run() error = %v, want nil", err)
	}

	mu.Lock()
	defer mu.Unlock()

	if boomCalls != 1 {
		t.Fatalf("boomCalls = %d, want 1 (errored task must never run again)", boomCalls)
	}

	if safeCalls != 2 {
		t.Fatalf("safeCalls = %d, want 2 (survivor keeps ticking after the pool is recreated)", safeCalls)
	}
}

// panicAwareMaterializer wires fixed closures by task name, used where a
// taskScript's ControlFlow-only vocabulary can't express a panic.
type panicAwareMaterializer struct {
	boom func() fulfiller.ControlFlow
	safe func() fulfiller.ControlFlow
}

func (panicAwareMaterializer) MaterializeDatachunk(identify.FullDatachunkName, unloaded.Datachunk) (any, error) {
	return nil, nil
}

func (m panicAwareMaterializer) MaterializeTask(
	name identify.FullTaskName,
	_ unloaded.Task,
	_ *datachunk.Accessor,
) (loaded.TaskRuntime, error) {
	var closure func() fulfiller.ControlFlow

	switch name.Task {
	case "boom":
		closure = m.boom
	case "safe":
		closure = m.safe
	}

	return loaded.TaskRuntime{Closure: closure}, nil //nolint:exhaustruct // UserData/HandleControlFlowUpdate unused
}

func TestInstanceFullReloadRematerializesEveryTask(t *testing.T) {
	loader := &staticLoader{comp: selfLoopComposition("a", "one")} //nolint:exhaustruct // calls starts at zero

	materializer := newScriptedMaterializer()
	materializer.script("a/one",
		fulfiller.ControlFlow{Kind: fulfiller.FullReload}, //nolint:exhaustruct // MustReload/Err unused
		stopFlow(),
	)

	closer := &recordingCloser{} //nolint:exhaustruct // closed starts nil

	inst, err := New(loader, materializer, closer, Settings{Workers: 1})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := inst.Run(); err != nil {
		t.Fatalf("Run() error = %v, want nil", err)
	}

	materializer.mu.Lock()
	defer materializer.mu.Unlock()

	if materializer.materializeCounts["a/one"] != 2 {
		t.Fatalf("materializeCounts[a/one] = %d, want 2 (initial build + full reload)", materializer.materializeCounts["a/one"])
	}

	closer.mu.Lock()
	defer closer.mu.Unlock()

	if len(closer.closed) != 2 {
		t.Fatalf("Close called %d times, want 2 (full reload + final shutdown)", len(closer.closed))
	}
}

type recordingCloser struct {
	mu     sync.Mutex
	closed [][]string
}

func (c *recordingCloser) Close(libs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = append(c.closed, libs)
}

func TestInstancePartialReloadHandsOffUnchangedCrate(t *testing.T) {
	initial := unloaded.New()
	initial.Crates["a"] = unloaded.Crate{
		Datachunks: map[identify.DatachunkName]unloaded.Datachunk{},
		Tasks: map[identify.TaskName]unloaded.Task{
			"one": {Parents: []identify.FullTaskName{{Crate: "a", Task: "one"}}, Entrypoint: true},
		},
	}
	initial.Crates["b"] = unloaded.Crate{
		Datachunks: map[identify.DatachunkName]unloaded.Datachunk{},
		Tasks: map[identify.TaskName]unloaded.Task{
			"two": {Parents: []identify.FullTaskName{{Crate: "b", Task: "two"}}, Entrypoint: true},
		},
	}

	invalid := unloaded.New()
	invalid.Crates["a"] = initial.Crates["a"]
	invalid.Crates["b"] = unloaded.Crate{
		Datachunks: map[identify.DatachunkName]unloaded.Datachunk{},
		Tasks: map[identify.TaskName]unloaded.Task{
			"two": {Parents: []identify.FullTaskName{{Crate: "b", Task: "nonexistent"}}, Entrypoint: true},
		},
	}

	reloaded := unloaded.New()
	reloaded.Crates["a"] = initial.Crates["a"]
	reloaded.Crates["b"] = unloaded.Crate{
		Datachunks: map[identify.DatachunkName]unloaded.Datachunk{},
		Tasks: map[identify.TaskName]unloaded.Task{
			"two": {TypeName: "changed", Parents: []identify.FullTaskName{{Crate: "b", Task: "two"}}, Entrypoint: true},
		},
	}

	loader := &sequenceLoader{comps: []*unloaded.Composition{initial, invalid, reloaded}} //nolint:exhaustruct // idx starts at zero

	partialReloadB := fulfiller.ControlFlow{ //nolint:exhaustruct // Err unused
		Kind:       fulfiller.PartialReload,
		MustReload: map[identify.CrateName]bool{"b": true},
	}

	materializer := newScriptedMaterializer()
	materializer.script("a/one", continueFlow())
	materializer.script("b/two", partialReloadB, partialReloadB, stopFlow())

	inst, err := New(loader, materializer, nil, Settings{Workers: 1})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := inst.Run(); err != nil {
		t.Fatalf("Run() error = %v, want nil", err)
	}

	materializer.mu.Lock()
	defer materializer.mu.Unlock()

	if materializer.materializeCounts["a/one"] != 1 {
		t.Fatalf("materializeCounts[a/one] = %d, want 1 (handed off across the partial reload)", materializer.materializeCounts["a/one"])
	}

	if materializer.materializeCounts["b/two"] != 2 {
		t.Fatalf("materializeCounts[b/two] = %d, want 2 (initial build + the reload that changed its spec)", materializer.materializeCounts["b/two"])
	}
}
