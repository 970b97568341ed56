package config

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "empty experiment", mutate: func(c *Config) { c.Experiment = "" }},
		{name: "negative run number", mutate: func(c *Config) { c.RunNumber = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("CONDUCTOR_EXPERIMENT", "e20020")
	t.Setenv("CONDUCTOR_RUN_NUMBER", "17")

	cfg := Default()
	cfg.Gas = "He"

	out, err := ApplyEnvOverrides(cfg)
	require.NoError(t, err)
	assert.Equal(t, "e20020", out.Experiment)
	assert.Equal(t, int32(17), out.RunNumber)
	// Fields without an env var keep the loaded value.
	assert.Equal(t, "He", out.Gas)
}

func TestApplyEnvOverrides_NoEnv(t *testing.T) {
	cfg := Default()
	cfg.Experiment = "e20009"

	out, err := ApplyEnvOverrides(cfg)
	require.NoError(t, err)
	assert.Equal(t, cfg, out)
}

func TestRunTable_AppendCreatesHeaderOnce(t *testing.T) {
	dir := t.TempDir()
	table := NewRunTable(dir)

	cfg := Default()
	cfg.Experiment = "e20009"
	cfg.RunNumber = 42
	cfg.Energy = 3.5

	require.NoError(t, table.Append(cfg, 90*time.Second))
	cfg.RunNumber = 43
	require.NoError(t, table.Append(cfg, 30*time.Second))

	f, err := os.Open(filepath.Join(dir, "e20009.csv"))
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, runTableHeader, rows[0])
	assert.Equal(t, "42", rows[1][1])
	assert.Equal(t, "90", rows[1][2])
	assert.Equal(t, "3.50", rows[1][6])
	assert.Equal(t, "43", rows[2][1])
	// Every row carries a distinct tag.
	assert.NotEqual(t, rows[1][0], rows[2][0])
}
