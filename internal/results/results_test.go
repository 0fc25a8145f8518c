package results

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
)

func TestNewAndLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), DefaultDir)

	e, err := New(dir, "exp-001", "blast.json", 4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if e.ID != "exp-001" {
		t.Errorf("expected id exp-001, got %s", e.ID)
	}
	if e.Status != "running" {
		t.Errorf("expected status running, got %s", e.Status)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if loaded.Workflow != "blast.json" {
		t.Errorf("loaded workflow mismatch: %s", loaded.Workflow)
	}
	if loaded.TotalRuns != 4 {
		t.Errorf("loaded total runs mismatch: %d", loaded.TotalRuns)
	}
	if loaded.Runs == nil {
		t.Error("expected runs map after load")
	}
}

func TestUpdateRun(t *testing.T) {
	dir := t.TempDir()

	e, err := New(dir, "exp-002", "wf.json", 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	r := &RunRecord{Status: StatusCompleted, Strategy: "lpt", C: 0.5, Brown: 12, Makespan: 40}
	if err := e.UpdateRun("run-0", r); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	got := e.GetRun("run-0")
	if got == nil {
		t.Fatal("expected run, got nil")
	}
	if got.Strategy != "lpt" {
		t.Errorf("expected lpt, got %s", got.Strategy)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.GetRun("run-0").Makespan != 40 {
		t.Errorf("expected persisted makespan 40, got %d", loaded.GetRun("run-0").Makespan)
	}
}

func TestConcurrentUpdates(t *testing.T) {
	dir := t.TempDir()

	e, err := New(dir, "exp-003", "wf.json", 16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e.UpdateRun(fmt.Sprintf("run-%02d", i), &RunRecord{Status: StatusCompleted, Brown: float64(i)})
		}(i)
	}
	wg.Wait()

	ids := e.RunIDs()
	if len(ids) != 16 {
		t.Fatalf("expected 16 runs, got %d", len(ids))
	}
	if ids[0] != "run-00" || ids[15] != "run-15" {
		t.Errorf("expected sorted ids, got %v", ids)
	}
}

func TestBest(t *testing.T) {
	e, err := New(t.TempDir(), "exp-004", "wf.json", 3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, _, ok := e.Best(); ok {
		t.Error("expected no best run before any completed")
	}

	e.UpdateRun("a", &RunRecord{Status: StatusCompleted, Brown: 5})
	e.UpdateRun("b", &RunRecord{Status: StatusInfeasible})
	e.UpdateRun("c", &RunRecord{Status: StatusCompleted, Brown: 2})
	e.UpdateRun("d", &RunRecord{Status: StatusCompleted, Brown: 2})

	id, r, ok := e.Best()
	if !ok {
		t.Fatal("expected a best run")
	}
	if id != "c" || r.Brown != 2 {
		t.Errorf("expected run c with brown 2, got %s with %g", id, r.Brown)
	}
}

func TestExists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), DefaultDir)

	if Exists(dir) {
		t.Error("expected Exists()=false before creation")
	}

	New(dir, "exp", "wf.json", 1)

	if !Exists(dir) {
		t.Error("expected Exists()=true after creation")
	}

	Clean(dir)

	if Exists(dir) {
		t.Error("expected Exists()=false after Clean()")
	}
}

func TestSetStatus(t *testing.T) {
	dir := t.TempDir()

	e, err := New(dir, "exp-005", "wf.json", 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	e.SetStatus("completed")

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Status != "completed" {
		t.Errorf("expected completed, got %s", loaded.Status)
	}
}

func TestArchiveAndLoadArchived(t *testing.T) {
	dir := t.TempDir()

	e, err := New(dir, "exp-006", "wf.json", 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e.UpdateRun("run-0", &RunRecord{Status: StatusCompleted, Brown: 1})

	if err := e.Archive(dir); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if Exists(dir) {
		t.Error("expected current results to be moved")
	}

	archived, err := LoadArchived(dir, "exp-006")
	if err != nil {
		t.Fatalf("LoadArchived: %v", err)
	}
	if archived.GetRun("run-0") == nil {
		t.Error("expected archived run")
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Error("expected error for missing results")
	}
}
