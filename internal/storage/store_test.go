package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro/maestro/internal/common/logger"
)

type record struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func testStore(t *testing.T) *Store {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	require.NoError(t, err)
	store, err := NewStore(t.TempDir(), log)
	require.NoError(t, err)
	return store
}

func TestStore_WriteReadRoundTrip(t *testing.T) {
	s := testStore(t)

	in := &record{ID: "proj_1", Name: "demo"}
	require.NoError(t, s.WriteJSON(filepath.Join("projects", "proj_1.json"), in))

	var out record
	require.NoError(t, s.ReadJSON(filepath.Join("projects", "proj_1.json"), &out))
	assert.Equal(t, *in, out)
}

func TestStore_MarshalDeterministic(t *testing.T) {
	in := map[string]string{"b": "2", "a": "1", "c": "3"}
	first, err := Marshal(in)
	require.NoError(t, err)
	second, err := Marshal(in)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Loading and re-serializing yields the same bytes.
	var decoded map[string]string
	require.NoError(t, json.Unmarshal(first, &decoded))
	third, err := Marshal(decoded)
	require.NoError(t, err)
	assert.Equal(t, first, third)
}

func TestStore_DeleteIdempotent(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.WriteJSON("projects/proj_1.json", &record{ID: "proj_1"}))
	require.NoError(t, s.Delete("projects/proj_1.json"))
	require.NoError(t, s.Delete("projects/proj_1.json"))
}

func TestStore_ReplayDirQuarantinesCorrupt(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.WriteJSON("tasks/p/task_1.json", &record{ID: "task_1"}))
	require.NoError(t, s.WriteJSON("tasks/p/task_2.json", &record{ID: "task_2"}))
	require.NoError(t, s.WriteFile("tasks/p/task_3.json", []byte("{not json")))

	var loaded []string
	err := s.ReplayDir("tasks", func(path string, data []byte) error {
		var r record
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		loaded = append(loaded, r.ID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"task_1", "task_2"}, loaded)

	// The corrupt file was renamed out of the replay set.
	_, err = os.Stat(s.Path("tasks/p/task_3.json"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(s.Path("tasks/p/task_3.json.corrupt"))
	assert.NoError(t, err)
}

func TestStore_ReplayDirMissingDir(t *testing.T) {
	s := testStore(t)
	err := s.ReplayDir("does-not-exist", func(path string, data []byte) error { return nil })
	assert.NoError(t, err)
}
