// Package config defines the experiment run configuration: the experiment
// name and run number driving the control plane, plus the detector settings
// recorded alongside every run.
package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds everything an operator sets up for an experiment. The
// detector fields are bookkeeping only; they are never transmitted to the
// modules but every finished run logs them to the run table.
type Config struct {
	Experiment  string `yaml:"experiment" mapstructure:"experiment" validate:"required"`
	RunNumber   int32  `yaml:"run_number" mapstructure:"run_number" validate:"gte=0"`
	Description string `yaml:"description" mapstructure:"description"`

	Pressure      float64 `yaml:"pressure" mapstructure:"pressure"`
	VTHGEM        float64 `yaml:"v_thgem" mapstructure:"v_thgem"`
	VMM           float64 `yaml:"v_mm" mapstructure:"v_mm"`
	EDrift        float64 `yaml:"e_drift" mapstructure:"e_drift"`
	VCathode      float64 `yaml:"v_cathode" mapstructure:"v_cathode"`
	ETrans        float64 `yaml:"e_trans" mapstructure:"e_trans"`
	Gas           string  `yaml:"gas" mapstructure:"gas"`
	Beam          string  `yaml:"beam" mapstructure:"beam"`
	Energy        float64 `yaml:"energy" mapstructure:"energy"`
	MagneticField float64 `yaml:"magnetic_field" mapstructure:"magnetic_field"`
}

// Default returns a starter configuration for a fresh experiment.
func Default() Config {
	return Config{
		Experiment:  "Exp",
		RunNumber:   0,
		Description: "Write here",
		Gas:         "H2",
		Beam:        "16C",
	}
}

var validate = validator.New()

// Validate checks the structural constraints on the configuration.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// envPrefix scopes the environment overrides: CONDUCTOR_EXPERIMENT,
// CONDUCTOR_RUN_NUMBER, and so on.
const envPrefix = "CONDUCTOR"

// ApplyEnvOverrides layers CONDUCTOR_* environment variables over the
// loaded configuration. Only variables that are actually set override.
func ApplyEnvOverrides(cfg Config) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	keys := []string{
		"experiment", "run_number", "description",
		"pressure", "v_thgem", "v_mm", "e_drift", "v_cathode", "e_trans",
		"gas", "beam", "energy", "magnetic_field",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return cfg, fmt.Errorf("binding env override %s: %w", key, err)
		}
	}

	v.SetDefault("experiment", cfg.Experiment)
	v.SetDefault("run_number", cfg.RunNumber)
	v.SetDefault("description", cfg.Description)
	v.SetDefault("pressure", cfg.Pressure)
	v.SetDefault("v_thgem", cfg.VTHGEM)
	v.SetDefault("v_mm", cfg.VMM)
	v.SetDefault("e_drift", cfg.EDrift)
	v.SetDefault("v_cathode", cfg.VCathode)
	v.SetDefault("e_trans", cfg.ETrans)
	v.SetDefault("gas", cfg.Gas)
	v.SetDefault("beam", cfg.Beam)
	v.SetDefault("energy", cfg.Energy)
	v.SetDefault("magnetic_field", cfg.MagneticField)

	var out Config
	if err := v.Unmarshal(&out); err != nil {
		return cfg, fmt.Errorf("applying env overrides: %w", err)
	}
	return out, nil
}
