package unloaded

import (
	"testing"

	"github.com/ashlotl/custard/internal/access"
	"github.com/ashlotl/custard/internal/identify"
)

func diamond() *Composition {
	c := New()
	c.Crates["x"] = Crate{
		Tasks: map[identify.TaskName]Task{
			"A": {Entrypoint: true},
			"B": {Parents: []identify.FullTaskName{{Crate: "x", Task: "A"}}},
			"C": {Parents: []identify.FullTaskName{{Crate: "x", Task: "A"}}},
			"D": {Parents: []identify.FullTaskName{
				{Crate: "x", Task: "B"},
				{Crate: "x", Task: "C"},
			}},
		},
		Datachunks: map[identify.DatachunkName]Datachunk{},
	}

	return c
}

func TestGetTask(t *testing.T) {
	c := diamond()

	task, ok := c.GetTask(identify.FullTaskName{Crate: "x", Task: "A"})
	if !ok {
		t.Fatal("GetTask() not found")
	}

	if !task.Entrypoint {
		t.Error("expected A to be an entrypoint")
	}

	if _, ok := c.GetTask(identify.FullTaskName{Crate: "x", Task: "ghost"}); ok {
		t.Error("GetTask() found a task that does not exist")
	}
}

func TestChildrenOf(t *testing.T) {
	c := diamond()

	children := c.ChildrenOf(identify.FullTaskName{Crate: "x", Task: "A"}, func(identify.FullTaskName, Task) bool { return true })
	if len(children) != 2 {
		t.Fatalf("ChildrenOf(A) = %v, want 2 entries", children)
	}

	children = c.ChildrenOf(identify.FullTaskName{Crate: "x", Task: "B"}, func(identify.FullTaskName, Task) bool { return true })
	if len(children) != 1 || children[0].Task != "D" {
		t.Fatalf("ChildrenOf(B) = %v, want [D]", children)
	}
}

func TestTraverseAncestorsSelfLoop(t *testing.T) {
	c := New()
	c.Crates["x"] = Crate{
		Tasks: map[identify.TaskName]Task{
			"A": {Entrypoint: true, Parents: []identify.FullTaskName{{Crate: "x", Task: "A"}}},
		},
	}

	self := identify.FullTaskName{Crate: "x", Task: "A"}

	found := false

	c.TraverseAncestors(self, map[identify.FullTaskName]bool{}, func(current identify.FullTaskName, task Task) bool {
		for _, p := range task.Parents {
			if p == self {
				found = true

				return true
			}
		}

		return false
	})

	if !found {
		t.Error("expected self-loop to be detected on first visitor call")
	}
}

func TestTraverseAncestorsCycle(t *testing.T) {
	c := New()
	c.Crates["x"] = Crate{
		Tasks: map[identify.TaskName]Task{
			"A": {Entrypoint: true, Parents: []identify.FullTaskName{{Crate: "x", Task: "C"}}},
			"B": {Parents: []identify.FullTaskName{{Crate: "x", Task: "A"}}},
			"C": {Parents: []identify.FullTaskName{{Crate: "x", Task: "B"}}},
		},
	}

	a := identify.FullTaskName{Crate: "x", Task: "A"}

	found := false
	entrypointSeen := false

	c.TraverseAncestors(a, map[identify.FullTaskName]bool{}, func(current identify.FullTaskName, task Task) bool {
		entrypointSeen = entrypointSeen || task.Entrypoint

		for _, p := range task.Parents {
			if p == a {
				found = true

				return true
			}
		}

		return false
	})

	if !found {
		t.Error("expected cycle A->C->B->A to be detected")
	}

	if !entrypointSeen {
		t.Error("expected to observe A's own entrypoint flag while walking the cycle")
	}
}

func TestTaskKeepsAccesses(t *testing.T) {
	// Guard against accidentally dropping Access fields when constructing Task.
	task := Task{Accesses: []access.Access{{Of: identify.FullDatachunkName{Crate: "x", Datachunk: "d"}, Kind: access.Shared}}}
	if len(task.Accesses) != 1 {
		t.Fatal("expected one access")
	}
}
