package cron

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskValidate(t *testing.T) {
	tests := []struct {
		name    string
		task    Task
		wantErr bool
	}{
		{
			name: "valid GET task",
			task: Task{Method: "GET", URL: "http://example.com/api", Cron: "*/1 * * * *"},
		},
		{
			name: "valid 6-field cron",
			task: Task{Method: "POST", URL: "http://example.com/api", Cron: "0 */1 * * * *"},
		},
		{
			name:    "unsupported method",
			task:    Task{Method: "CONNECT", URL: "http://example.com/api", Cron: "*/1 * * * *"},
			wantErr: true,
		},
		{
			name:    "malformed url",
			task:    Task{Method: "GET", URL: "not-a-url", Cron: "*/1 * * * *"},
			wantErr: true,
		},
		{
			name:    "malformed cron",
			task:    Task{Method: "GET", URL: "http://example.com/api", Cron: "not a cron"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.task.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTaskValidateUnsupportedMethodType(t *testing.T) {
	task := Task{Method: "CONNECT", URL: "http://example.com", Cron: "* * * * *"}
	err := task.Validate()
	require.Error(t, err)

	var unsupported *UnsupportedMethodError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "CONNECT", unsupported.Method)
}

func TestUsesBody(t *testing.T) {
	assert.True(t, (&Task{Method: "POST"}).UsesBody())
	assert.True(t, (&Task{Method: "PUT"}).UsesBody())
	assert.True(t, (&Task{Method: "PATCH"}).UsesBody())
	assert.False(t, (&Task{Method: "GET"}).UsesBody())
	assert.False(t, (&Task{Method: "DELETE"}).UsesBody())
}

func TestLoadWorkload(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadWorkload(filepath.Join(t.TempDir(), "nope.json"))
		require.Error(t, err)

		var loadErr *LoadWorkloadError
		require.ErrorAs(t, err, &loadErr)
		assert.True(t, loadErr.Missing)
	})

	t.Run("malformed json", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "workload.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

		_, err := LoadWorkload(path)
		require.Error(t, err)

		var loadErr *LoadWorkloadError
		require.ErrorAs(t, err, &loadErr)
		assert.False(t, loadErr.Missing)
	})

	t.Run("valid workload", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "workload.json")
		content := `[{"method":"get","url":"http://example.com/api","cron":"*/1 * * * *"}]`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		tasks, err := LoadWorkload(path)
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, "GET", tasks[0].Method, "method should be normalized to upper case")
	})

	t.Run("empty workload loads zero tasks", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "workload.json")
		require.NoError(t, os.WriteFile(path, []byte(`[]`), 0o644))

		tasks, err := LoadWorkload(path)
		require.NoError(t, err)
		assert.Empty(t, tasks)
	})
}
