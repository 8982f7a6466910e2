package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSizeOf(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "cache.db")
	require.NoError(t, os.WriteFile(db, []byte("hello"), 0600))
	models := filepath.Join(dir, "models", "nested")
	require.NoError(t, os.MkdirAll(models, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(models, "a.onnx"), []byte("ab"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "models", "b.onnx"), []byte("c"), 0600))

	tests := []struct {
		name  string
		paths []string
		want  int64
	}{
		{"file", []string{db}, 5},
		{"directory", []string{filepath.Join(dir, "models")}, 3},
		{"database sidecars missing", []string{db, db + "-wal", db + "-shm"}, 5},
		{"empty path", []string{"", db}, 5},
		{"nothing", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SizeOf(tt.paths...)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}
