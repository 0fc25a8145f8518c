package graph

import (
	"errors"
	"testing"
)

func TestBuildFromRaw_SimpleDAG(t *testing.T) {
	// A -> B -> D
	// A -> C -> D
	raw := []RawTask{
		{ID: "a", Runtime: 1},
		{ID: "b", Runtime: 1, Parents: []string{"a"}},
		{ID: "c", Runtime: 1, Parents: []string{"a"}},
		{ID: "d", Runtime: 1, Parents: []string{"b", "c"}},
	}

	g, err := BuildFromRaw(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if g.TaskCount() != 4 {
		t.Errorf("expected 4 tasks, got %d", g.TaskCount())
	}

	start, err := g.StartTask()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if start.ID != "a" {
		t.Errorf("expected start task a, got %s", start.ID)
	}

	leaves := g.Leaves()
	if len(leaves) != 1 || g.TaskAt(leaves[0]).ID != "d" {
		t.Errorf("expected leaves=[d], got %v", leaves)
	}

	a, _ := g.Task("a")
	if len(a.Successors) != 2 {
		t.Errorf("expected a to have 2 successors, got %v", a.Successors)
	}
	d, _ := g.Task("d")
	if len(d.Predecessors) != 2 {
		t.Errorf("expected d to have 2 predecessors, got %v", d.Predecessors)
	}
}

func TestBuildFromRaw_SeveralRootsGetSentinel(t *testing.T) {
	raw := []RawTask{
		{ID: "a", Runtime: 3, Power: 5},
		{ID: "b", Runtime: 2, Power: 5},
		{ID: "c", Runtime: 1, Power: 5, Parents: []string{"a", "b"}},
	}

	g, err := BuildFromRaw(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	start, err := g.StartTask()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if start.ID != StartTaskID {
		t.Fatalf("expected sentinel start task, got %s", start.ID)
	}
	if start.Runtime != 0 || start.Power != 0 {
		t.Errorf("sentinel must be free, got runtime=%d power=%g", start.Runtime, start.Power)
	}
	if len(start.Successors) != 2 {
		t.Errorf("expected sentinel to precede both roots, got %v", start.Successors)
	}
	if err := g.Validate(); err != nil {
		t.Errorf("expected valid graph, got %v", err)
	}
}

func TestBuildFromRaw_CycleDetection(t *testing.T) {
	// A -> B -> C -> A (cycle)
	raw := []RawTask{
		{ID: "a", Parents: []string{"c"}},
		{ID: "b", Parents: []string{"a"}},
		{ID: "c", Parents: []string{"b"}},
	}

	_, err := BuildFromRaw(raw)
	if err == nil {
		t.Fatal("expected cycle error, got nil")
	}
	if !errors.Is(err, ErrCycle) {
		t.Errorf("expected ErrCycle, got %v", err)
	}
	t.Logf("cycle error (expected): %v", err)
}

func TestBuildFromRaw_ExternalParentsIgnored(t *testing.T) {
	raw := []RawTask{
		{ID: "a", Parents: []string{"z"}},
		{ID: "b", Parents: []string{"a"}},
	}

	g, err := BuildFromRaw(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a, _ := g.Task("a")
	if len(a.Predecessors) != 0 {
		t.Errorf("expected no predecessors for a (z not in graph), got %v", a.Predecessors)
	}
}

func TestBuildFromRaw_Empty(t *testing.T) {
	_, err := BuildFromRaw(nil)
	if !errors.Is(err, ErrEmptyGraph) {
		t.Fatalf("expected ErrEmptyGraph, got %v", err)
	}
}

func TestCreateTask_Duplicate(t *testing.T) {
	g := New()
	if _, err := g.CreateTask("a", 1, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := g.CreateTask("a", 2, 2)
	if !errors.Is(err, ErrDuplicateTask) {
		t.Errorf("expected ErrDuplicateTask, got %v", err)
	}
}

func TestCreateTask_Negative(t *testing.T) {
	g := New()
	if _, err := g.CreateTask("a", -1, 1); err == nil {
		t.Error("expected error for negative runtime")
	}
}

func TestStartTask_Unset(t *testing.T) {
	g := New()
	if _, err := g.StartTask(); !errors.Is(err, ErrEmptyGraph) {
		t.Errorf("expected ErrEmptyGraph, got %v", err)
	}
	g.CreateTask("a", 1, 1)
	if _, err := g.StartTask(); !errors.Is(err, ErrNoStartTask) {
		t.Errorf("expected ErrNoStartTask, got %v", err)
	}
}

func TestRemoveTask_CompactsArena(t *testing.T) {
	g := New()
	for _, id := range []string{"a", "b", "c", "d"} {
		g.CreateTask(id, 1, 1)
	}
	g.SetStartTask("a")
	g.CreateDependency("a", "b")
	g.CreateDependency("b", "c")
	g.CreateDependency("a", "d")
	g.CreateDependency("d", "c")

	if err := g.RemoveTask("b"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if g.TaskCount() != 3 {
		t.Fatalf("expected 3 tasks, got %d", g.TaskCount())
	}
	for i, task := range g.Tasks() {
		if task.Index != i {
			t.Errorf("task %s: expected index %d, got %d", task.ID, i, task.Index)
		}
	}

	a, _ := g.Task("a")
	c, _ := g.Task("c")
	d, _ := g.Task("d")
	if len(a.Successors) != 1 || a.Successors[0] != d.Index {
		t.Errorf("expected a -> d only, got %v", a.Successors)
	}
	if len(c.Predecessors) != 1 || c.Predecessors[0] != d.Index {
		t.Errorf("expected d -> c only, got %v", c.Predecessors)
	}

	start, err := g.StartTask()
	if err != nil || start.ID != "a" {
		t.Errorf("expected start task a to survive removal, got %v, %v", start, err)
	}

	if err := g.RemoveTask("b"); !errors.Is(err, ErrUnknownTask) {
		t.Errorf("expected ErrUnknownTask, got %v", err)
	}
}

func TestRemoveDependency(t *testing.T) {
	g := New()
	g.CreateTask("a", 1, 1)
	g.CreateTask("b", 1, 1)
	g.CreateDependency("a", "b")
	g.CreateDependency("a", "b")

	a, _ := g.Task("a")
	if len(a.Successors) != 1 {
		t.Fatalf("duplicate edge must be ignored, got %v", a.Successors)
	}

	if err := g.RemoveDependency("a", "b"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := g.Task("b")
	if len(a.Successors) != 0 || len(b.Predecessors) != 0 {
		t.Errorf("expected edge removed, got %v / %v", a.Successors, b.Predecessors)
	}
}

func TestValidate_SecondRoot(t *testing.T) {
	g := New()
	g.CreateTask("a", 1, 1)
	g.CreateTask("b", 1, 1)
	g.SetStartTask("a")

	if err := g.Validate(); err == nil {
		t.Error("expected error for a second task without predecessors")
	}
}

func TestDetectCycle_NoCycle(t *testing.T) {
	g := New()
	g.CreateTask("a", 1, 1)
	g.CreateTask("b", 1, 1)
	g.CreateDependency("a", "b")

	if cycle := g.DetectCycle(); cycle != nil {
		t.Errorf("expected no cycle, got %v", cycle)
	}
}

func TestDetectCycle_WithCycle(t *testing.T) {
	g := New()
	g.CreateTask("a", 1, 1)
	g.CreateTask("b", 1, 1)
	g.CreateTask("c", 1, 1)
	g.CreateDependency("a", "b")
	g.CreateDependency("b", "c")
	g.CreateDependency("c", "a")

	cycle := g.DetectCycle()
	if cycle == nil {
		t.Fatal("expected cycle, got nil")
	}
	if len(cycle) < 3 {
		t.Errorf("expected cycle of length >= 3, got %v", cycle)
	}
	t.Logf("detected cycle: %v", cycle)
}
