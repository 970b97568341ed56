package config

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// runTableHeader is the column layout of the per-experiment run log. The
// RunID column carries a unique tag so rows stay distinguishable even when
// an operator reuses a run number.
var runTableHeader = []string{
	"RunID", "Run", "Duration(s)", "Note", "Gas", "Beam", "Energy(MeV/U)",
	"Pressure(Torr)", "B-Field(T)", "V_THGEM(V)", "V_MM(V)", "V_Cathode(kV)",
	"E-Drift(V)", "E-Trans(V)",
}

// RunTable appends one row per finished run to a per-experiment csv file.
type RunTable struct {
	dir string
}

// NewRunTable constructs a run table rooted at the given directory.
func NewRunTable(dir string) *RunTable {
	return &RunTable{dir: dir}
}

// Append logs a finished run: the configuration it ran with plus the
// measured duration. The table file is created with its header on first use.
func (t *RunTable) Append(cfg Config, duration time.Duration) error {
	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return fmt.Errorf("creating run table directory: %w", err)
	}

	path := filepath.Join(t.dir, cfg.Experiment+".csv")
	fresh := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fresh = true
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening run table: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if fresh {
		if err := w.Write(runTableHeader); err != nil {
			return fmt.Errorf("writing run table header: %w", err)
		}
	}

	row := []string{
		uuid.NewString(),
		strconv.Itoa(int(cfg.RunNumber)),
		strconv.FormatInt(int64(duration.Seconds()), 10),
		cfg.Description,
		cfg.Gas,
		cfg.Beam,
		formatField(cfg.Energy),
		formatField(cfg.Pressure),
		formatField(cfg.MagneticField),
		formatField(cfg.VTHGEM),
		formatField(cfg.VMM),
		formatField(cfg.VCathode),
		formatField(cfg.EDrift),
		formatField(cfg.ETrans),
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("writing run table row: %w", err)
	}

	w.Flush()
	return w.Error()
}

func formatField(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
