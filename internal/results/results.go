// Package results persists the runs of an experiment under .greensched/.
package results

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
)

// DefaultDir is where results are kept relative to the working directory.
const DefaultDir = ".greensched"

const (
	resultsFile = "results.json"
	archiveDir  = "archive"
)

// RunStatus represents the status of one scheduling run.
type RunStatus string

const (
	StatusPending    RunStatus = "pending"
	StatusRunning    RunStatus = "running"
	StatusCompleted  RunStatus = "completed"
	StatusInfeasible RunStatus = "infeasible"
	StatusFailed     RunStatus = "failed"
	StatusCancelled  RunStatus = "cancelled"
)

// Experiment is the persistent record of an experiment.
type Experiment struct {
	ID        string                `json:"id"`
	Workflow  string                `json:"workflow"`
	StartedAt time.Time             `json:"started_at"`
	Status    string                `json:"status"` // "running", "completed", "cancelled"
	TotalRuns int                   `json:"total_runs"`
	Runs      map[string]*RunRecord `json:"runs"`

	mu   sync.Mutex
	path string
}

// RunRecord is the persistent record of a single scheduling run.
type RunRecord struct {
	Status           RunStatus  `json:"status"`
	TaskSort         string     `json:"task_sort"`
	ShiftMode        string     `json:"shift_mode"`
	Strategy         string     `json:"boundary_strategy"`
	C                float64    `json:"c"`
	Deadline         int        `json:"deadline,omitempty"`
	Makespan         int        `json:"makespan,omitempty"`
	Brown            float64    `json:"brown_energy"`
	GreenUnused      float64    `json:"green_unused"`
	Total            float64    `json:"total_energy"`
	BrownBeforeShift float64    `json:"brown_before_shift"`
	ShiftKept        bool       `json:"shift_kept,omitempty"`
	Violations       int        `json:"violations,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	Error            string     `json:"error,omitempty"`
}

// New creates an experiment record in dir and persists it.
func New(dir, id, workflow string, totalRuns int) (*Experiment, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "create results dir")
	}

	e := &Experiment{
		ID:        id,
		Workflow:  workflow,
		StartedAt: time.Now(),
		Status:    "running",
		TotalRuns: totalRuns,
		Runs:      make(map[string]*RunRecord),
		path:      filepath.Join(dir, resultsFile),
	}

	if err := e.Save(); err != nil {
		return nil, err
	}
	return e, nil
}

// Load reads the current experiment record from dir.
func Load(dir string) (*Experiment, error) {
	return load(filepath.Join(dir, resultsFile))
}

// LoadArchived reads an archived experiment record.
func LoadArchived(dir, id string) (*Experiment, error) {
	return load(filepath.Join(dir, archiveDir, id+".json"))
}

func load(path string) (*Experiment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read results")
	}

	var e Experiment
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, errors.Wrap(err, "parse results")
	}
	if e.Runs == nil {
		e.Runs = make(map[string]*RunRecord)
	}
	e.path = path
	return &e, nil
}

// Exists checks if a results file exists in dir.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, resultsFile))
	return err == nil
}

// Save persists the current record to disk.
func (e *Experiment) Save() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.saveLocked()
}

func (e *Experiment) saveLocked() error {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal results")
	}
	return os.WriteFile(e.path, data, 0644)
}

// SetStatus updates the overall experiment status and saves.
func (e *Experiment) SetStatus(status string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Status = status
	return e.saveLocked()
}

// UpdateRun stores the record of a run and saves.
func (e *Experiment) UpdateRun(runID string, r *RunRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Runs[runID] = r
	return e.saveLocked()
}

// GetRun returns the record of a run.
func (e *Experiment) GetRun(runID string) *RunRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Runs[runID]
}

// RunIDs returns the ids of all recorded runs in ascending order.
func (e *Experiment) RunIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := maps.Keys(e.Runs)
	sort.Strings(ids)
	return ids
}

// Best returns the completed run with the least brown energy. Ties go to the
// smaller run id.
func (e *Experiment) Best() (string, *RunRecord, bool) {
	var (
		bestID string
		best   *RunRecord
	)
	for _, id := range e.RunIDs() {
		r := e.GetRun(id)
		if r.Status != StatusCompleted {
			continue
		}
		if best == nil || r.Brown < best.Brown {
			bestID, best = id, r
		}
	}
	return bestID, best, best != nil
}

// Archive moves the current results file to the archive under the
// experiment id.
func (e *Experiment) Archive(dir string) error {
	archive := filepath.Join(dir, archiveDir)
	if err := os.MkdirAll(archive, 0755); err != nil {
		return errors.Wrap(err, "create archive dir")
	}
	if err := e.Save(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	dst := filepath.Join(archive, e.ID+".json")
	if err := os.Rename(e.path, dst); err != nil {
		return errors.Wrap(err, "archive results")
	}
	e.path = dst
	return nil
}

// Clean removes the results directory.
func Clean(dir string) error {
	return os.RemoveAll(dir)
}
