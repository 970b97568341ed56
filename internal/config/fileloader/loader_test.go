package fileloader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attpc/conductor/internal/config"
)

func TestFileLoader_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conductor.yaml")
	loader := NewFileLoader(path)

	cfg := config.Default()
	cfg.Experiment = "e20009"
	cfg.RunNumber = 7
	cfg.Pressure = 300.0

	require.NoError(t, loader.Save(context.Background(), &cfg))

	loaded, err := loader.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cfg, *loaded)
}

func TestFileLoader_MissingFile(t *testing.T) {
	loader := NewFileLoader(filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := loader.Load(context.Background())
	assert.Error(t, err)
}

func TestFileLoader_MalformedYaml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("experiment: [unclosed"), 0o644))

	_, err := NewFileLoader(path).Load(context.Background())
	assert.Error(t, err)
}

func TestFileLoader_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	require.NoError(t, os.WriteFile(path, []byte("experiment: e20020\n"), 0o644))

	loaded, err := NewFileLoader(path).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "e20020", loaded.Experiment)
	assert.Equal(t, "H2", loaded.Gas)
}

func TestFileLoader_RejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invalid.yaml")
	require.NoError(t, os.WriteFile(path, []byte("experiment: e20020\nrun_number: -3\n"), 0o644))

	_, err := NewFileLoader(path).Load(context.Background())
	assert.Error(t, err)
}
