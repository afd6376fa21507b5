package fulfiller

import (
	"sync"
	"testing"
	"weak"

	"github.com/ashlotl/custard/internal/runctl"
)

func TestChainRunExecutesInOrder(t *testing.T) {
	var mu sync.Mutex

	var order []string

	record := func(name string) func() ControlFlow {
		return func() ControlFlow {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()

			return ControlFlow{Kind: Continue} //nolint:exhaustruct // MustReload/Err unused for Continue
		}
	}

	first := newTestFulfiller(fullName("a", "one"), true, record("one"))
	second := newTestFulfiller(fullName("a", "two"), false, record("two"))
	second.Prerequisites = []weak.Pointer[Fulfiller]{weak.Make(first)}

	chain := &Chain{
		FirstName:  first.Task.Name,
		Fulfillers: []weak.Pointer[Fulfiller]{weak.Make(first), weak.Make(second)},
	}

	pool := runctl.NewPool(1)
	defer pool.StopWait()

	controller := runctl.New(2)
	cfCell := runctl.NewControlFlowCell()

	mainDone := make(chan struct{})

	go func() {
		controller.MainWait()
		close(mainDone)
	}()

	chain.Run(pool, controller, []*Chain{chain}, cfCell)

	<-mainDone

	mu.Lock()
	defer mu.Unlock()

	if len(order) != 2 || order[0] != "one" || order[1] != "two" {
		t.Fatalf("order = %v, want [one two]", order)
	}
}

func TestChainRunStopsAtDeadFulfiller(t *testing.T) {
	ran := false

	second := newTestFulfiller(fullName("a", "two"), true, func() ControlFlow {
		ran = true
		return ControlFlow{Kind: Continue} //nolint:exhaustruct // MustReload/Err unused for Continue
	})

	chain := &Chain{
		FirstName:  fullName("a", "one"),
		Fulfillers: []weak.Pointer[Fulfiller]{{}, weak.Make(second)},
	}

	pool := runctl.NewPool(1)
	defer pool.StopWait()

	controller := runctl.New(1)
	cfCell := runctl.NewControlFlowCell()

	chain.Run(pool, controller, []*Chain{chain}, cfCell)

	if ran {
		t.Fatal("chain ran a fulfiller past a dead weak reference")
	}
}

func TestChainAttemptToRunSkipsWhenPrerequisiteIncomplete(t *testing.T) {
	ran := false

	upstream := newTestFulfiller(fullName("a", "up"), false, func() ControlFlow {
		return ControlFlow{Kind: Continue} //nolint:exhaustruct // MustReload/Err unused for Continue
	})

	first := newTestFulfiller(fullName("a", "one"), false, func() ControlFlow {
		ran = true
		return ControlFlow{Kind: Continue} //nolint:exhaustruct // MustReload/Err unused for Continue
	})
	first.Prerequisites = []weak.Pointer[Fulfiller]{weak.Make(upstream)}

	chain := &Chain{
		FirstName:  first.Task.Name,
		Fulfillers: []weak.Pointer[Fulfiller]{weak.Make(first)},
	}

	pool := runctl.NewPool(1)
	defer pool.StopWait()

	controller := runctl.New(1)
	cfCell := runctl.NewControlFlowCell()

	chain.AttemptToRun(pool, controller, []*Chain{chain}, cfCell)
	pool.StopWait()

	if ran {
		t.Fatal("AttemptToRun submitted a chain whose first fulfiller's prerequisites were incomplete")
	}
}

func TestChainAttemptToRunEmptyChainIsNoop(t *testing.T) {
	chain := &Chain{FirstName: fullName("a", "one"), Fulfillers: nil}

	pool := runctl.NewPool(1)
	defer pool.StopWait()

	controller := runctl.New(0)
	cfCell := runctl.NewControlFlowCell()

	chain.AttemptToRun(pool, controller, []*Chain{chain}, cfCell)
}
