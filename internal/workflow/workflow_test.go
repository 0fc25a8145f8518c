package workflow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcelo-torres/green-scheduler-sub000/internal/graph"
)

const modern = `{
  "name": "blast",
  "workflow": {
    "specification": {
      "tasks": [
        {"name": "split", "id": "split_1", "parents": [], "children": ["blast_1", "blast_2"]},
        {"name": "blast", "id": "blast_1", "parents": ["split_1"]},
        {"name": "blast", "id": "blast_2", "parents": ["split_1"], "power": 42}
      ]
    },
    "execution": {
      "tasks": [
        {"id": "split_1", "runtimeInSeconds": 3.2},
        {"id": "blast_1", "runtimeInSeconds": 10},
        {"id": "blast_2", "runtimeInSeconds": 0.5}
      ]
    }
  }
}`

const legacy = `{
  "workflow": {
    "tasks": [
      {"name": "a", "runtime": 4, "parents": []},
      {"name": "b", "runtime": 2.01, "parents": ["a", "missing"]}
    ]
  }
}`

func TestParseModern(t *testing.T) {
	raw, err := Parse([]byte(modern), Options{DefaultPower: 10})
	require.NoError(t, err)
	assert.Equal(t, []graph.RawTask{
		{ID: "split_1", Runtime: 4, Power: 10},
		{ID: "blast_1", Runtime: 10, Power: 10, Parents: []string{"split_1"}},
		{ID: "blast_2", Runtime: 1, Power: 42, Parents: []string{"split_1"}},
	}, raw)
}

func TestParseLegacy(t *testing.T) {
	raw, err := Parse([]byte(legacy), Options{DefaultPower: 5})
	require.NoError(t, err)
	assert.Equal(t, []graph.RawTask{
		{ID: "a", Runtime: 4, Power: 5},
		{ID: "b", Runtime: 3, Power: 5, Parents: []string{"a", "missing"}},
	}, raw)
}

func TestParseFlatNumericIDs(t *testing.T) {
	raw, err := Parse([]byte(`{"tasks": [{"id": 1, "runtime": 1}, {"id": 2, "runtime": 1, "parents": ["1"]}]}`), Options{})
	require.NoError(t, err)
	require.Len(t, raw, 2)
	assert.Equal(t, "1", raw[0].ID)
	assert.Equal(t, "2", raw[1].ID)
}

func TestParseRandomPowerIsSeeded(t *testing.T) {
	opts := Options{PowerMin: 10, PowerMax: 20, Seed: 7}
	first, err := Parse([]byte(legacy), opts)
	require.NoError(t, err)
	second, err := Parse([]byte(legacy), opts)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	for _, r := range first {
		assert.GreaterOrEqual(t, r.Power, 10.0)
		assert.Less(t, r.Power, 20.0)
	}
}

func TestParseErrors(t *testing.T) {
	cases := map[string]string{
		"invalid json":     `{"tasks": [`,
		"no tasks":         `{"jobs": []}`,
		"empty":            `{"tasks": []}`,
		"missing id":       `{"tasks": [{"runtime": 1}]}`,
		"negative runtime": `{"tasks": [{"id": "a", "runtime": -1}]}`,
		"negative power":   `{"tasks": [{"id": "a", "runtime": 1, "power": -3}]}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc), Options{})
			assert.Error(t, err)
		})
	}
}

func TestLoadBuildsGraph(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wf.json")
	require.NoError(t, os.WriteFile(path, []byte(modern), 0o644))

	g, err := Load(path, Options{DefaultPower: 1})
	require.NoError(t, err)
	start, err := g.StartTask()
	require.NoError(t, err)
	assert.Equal(t, "split_1", start.ID)
	assert.Equal(t, 3, g.TaskCount())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"), Options{})
	assert.Error(t, err)
}
