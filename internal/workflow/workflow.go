// Package workflow reads workflow descriptions in the WfCommons JSON
// formats, or a flat task list, into a TaskGraph.
package workflow

import (
	"math"
	"math/rand"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"

	"github.com/marcelo-torres/green-scheduler-sub000/internal/graph"
)

// Options control how task attributes missing from the file are filled in.
type Options struct {
	// DefaultPower is used for tasks without a power attribute.
	DefaultPower float64

	// When PowerMax > PowerMin, tasks without a power attribute draw one
	// uniformly from [PowerMin, PowerMax) using Seed.
	PowerMin, PowerMax float64
	Seed               int64
}

// Load reads the workflow file at path and builds its task graph.
func Load(path string, opts Options) (*graph.TaskGraph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading workflow")
	}
	raw, err := Parse(data, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing workflow %s", path)
	}
	return graph.BuildFromRaw(raw)
}

// Parse extracts raw tasks from a workflow document. Three layouts are
// accepted:
//
//	workflow.specification.tasks + workflow.execution.tasks  (WfCommons 1.4+)
//	workflow.tasks                                           (older WfCommons)
//	tasks                                                    (flat list)
//
// Runtimes are rounded up to whole seconds.
func Parse(data []byte, opts Options) ([]graph.RawTask, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("invalid JSON")
	}
	doc := gjson.ParseBytes(data)

	var (
		tasks    gjson.Result
		runtimes map[string]gjson.Result
	)
	if spec := doc.Get("workflow.specification.tasks"); spec.IsArray() {
		tasks = spec
		runtimes = make(map[string]gjson.Result)
		doc.Get("workflow.execution.tasks").ForEach(func(_, t gjson.Result) bool {
			runtimes[taskID(t)] = t
			return true
		})
	} else if wf := doc.Get("workflow.tasks"); wf.IsArray() {
		tasks = wf
	} else if flat := doc.Get("tasks"); flat.IsArray() {
		tasks = flat
	} else {
		return nil, errors.New("no task list found")
	}

	var rng *rand.Rand
	if opts.PowerMax > opts.PowerMin {
		rng = rand.New(rand.NewSource(opts.Seed))
	}

	var (
		raw     []graph.RawTask
		failure error
	)
	tasks.ForEach(func(_, t gjson.Result) bool {
		id := taskID(t)
		if id == "" {
			failure = errors.Errorf("task %d has no id", len(raw))
			return false
		}

		secs := runtimeOf(t)
		if exec, ok := runtimes[id]; ok {
			secs = runtimeOf(exec)
		}
		if secs < 0 {
			failure = errors.Errorf("task %s has negative runtime %g", id, secs)
			return false
		}

		power := opts.DefaultPower
		if p := t.Get("power"); p.Exists() {
			power = p.Float()
		} else if rng != nil {
			power = opts.PowerMin + rng.Float64()*(opts.PowerMax-opts.PowerMin)
		}
		if power < 0 {
			failure = errors.Errorf("task %s has negative power %g", id, power)
			return false
		}

		var parents []string
		t.Get("parents").ForEach(func(_, p gjson.Result) bool {
			parents = append(parents, p.String())
			return true
		})

		raw = append(raw, graph.RawTask{
			ID:      id,
			Runtime: int(math.Ceil(secs)),
			Power:   power,
			Parents: parents,
		})
		return true
	})
	if failure != nil {
		return nil, failure
	}
	if len(raw) == 0 {
		return nil, graph.ErrEmptyGraph
	}
	return raw, nil
}

// taskID prefers "id" and falls back to "name". Numeric ids are formatted in
// decimal.
func taskID(t gjson.Result) string {
	for _, key := range []string{"id", "name"} {
		v := t.Get(key)
		switch v.Type {
		case gjson.String:
			return v.String()
		case gjson.Number:
			return strconv.FormatInt(v.Int(), 10)
		}
	}
	return ""
}

func runtimeOf(t gjson.Result) float64 {
	for _, key := range []string{"runtimeInSeconds", "runtime"} {
		if v := t.Get(key); v.Exists() {
			return v.Float()
		}
	}
	return 0
}
