// Package commands is a small scripting hook for the rough edges of the
// acquisition system that no control server covers: shuffling run files
// into experiment directories, backing up configuration sets, and checking
// whether a run number was already used. Each hook is a shell script in the
// script directory; this package builds the invocations and reports a
// coarse status.
package commands

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/attpc/conductor/internal/domain/daq"
	"github.com/attpc/conductor/pkg/common/logger"
)

// Status is the coarse outcome of a command.
type Status string

const (
	// StatusSuccess means every invocation exited zero.
	StatusSuccess Status = "Success"

	// StatusFailure means at least one invocation exited non-zero.
	StatusFailure Status = "Failure"

	// StatusCouldNotExecute means an invocation never ran at all.
	StatusCouldNotExecute Status = "CouldNotExecute"
)

// Name identifies one of the scripted hooks.
type Name string

const (
	// NameMoveDataFiles moves run files into the experiment directory.
	NameMoveDataFiles Name = "MoveDataFiles"

	// NameBackupConfig snapshots the configuration set for a finished run.
	NameBackupConfig Name = "BackupConfig"

	// NameCheckRunExists tests whether a run number already has data.
	NameCheckRunExists Name = "CheckRunExists"
)

// ErrNoInvocations is returned when a command descriptor resolves to
// nothing to run, e.g. moving data files with no reachable monitor.
var ErrNoInvocations = errors.New("command has no invocations")

// Invocation is one script call: the script name plus its arguments.
type Invocation struct {
	Script string
	Args   []string
}

// Command is a fully resolved descriptor: which hook it is and the exact
// invocations to run. Descriptors are plain data so they can be built,
// inspected, and tested without touching a shell.
type Command struct {
	Name        Name
	Invocations []Invocation
}

// MoveDataFiles builds the descriptor that moves run files off every
// reachable front-end into the experiment directory.
func MoveDataFiles(monitors []daq.MonitorSnapshot, experiment string, runNumber int32) Command {
	cmd := Command{Name: NameMoveDataFiles}
	for _, m := range monitors {
		if !m.Reachable() {
			continue
		}
		cmd.Invocations = append(cmd.Invocations, Invocation{
			Script: "move_graw.sh",
			Args:   []string{m.Address, m.Location, experiment, strconv.Itoa(int(runNumber))},
		})
	}
	return cmd
}

// BackupConfig builds the descriptor that snapshots the configuration set
// into the backup directory under the run's name.
func BackupConfig(configDir, backupDir, experiment string, runNumber int32) Command {
	return Command{
		Name: NameBackupConfig,
		Invocations: []Invocation{{
			Script: "backup_configs.sh",
			Args:   []string{configDir, backupDir, experiment, strconv.Itoa(int(runNumber))},
		}},
	}
}

// CheckRunExists builds the descriptor that tests whether the run number
// already has data. One front-end suffices: every front-end shares the
// experiment directory layout.
func CheckRunExists(monitors []daq.MonitorSnapshot, experiment string, runNumber int32) Command {
	cmd := Command{Name: NameCheckRunExists}
	for _, m := range monitors {
		if !m.Reachable() {
			continue
		}
		cmd.Invocations = append(cmd.Invocations, Invocation{
			Script: "test_graw.sh",
			Args:   []string{m.Address, m.Location, experiment, strconv.Itoa(int(runNumber))},
		})
		break
	}
	return cmd
}

// Executor runs command descriptors through a shell.
type Executor struct {
	shell     string
	scriptDir string
	logger    *logger.Logger
}

// NewExecutor constructs an executor rooted at the given script directory.
func NewExecutor(shell, scriptDir string, log *logger.Logger) *Executor {
	return &Executor{shell: shell, scriptDir: scriptDir, logger: log}
}

// Execute runs every invocation of the descriptor and reduces the outcomes:
// an invocation that cannot run at all short-circuits to CouldNotExecute, a
// non-zero exit downgrades the result to Failure, and the rest is Success.
func (e *Executor) Execute(ctx context.Context, cmd Command) Status {
	if len(cmd.Invocations) == 0 {
		e.logger.Error(ctx, "could not execute command", "command", string(cmd.Name), "error", ErrNoInvocations)
		return StatusCouldNotExecute
	}

	result := StatusSuccess
	for _, inv := range cmd.Invocations {
		args := append([]string{filepath.Join(e.scriptDir, inv.Script)}, inv.Args...)
		output, err := exec.CommandContext(ctx, e.shell, args...).CombinedOutput()

		var exitErr *exec.ExitError
		switch {
		case err == nil:
			continue
		case errors.As(err, &exitErr):
			e.logger.Warn(ctx, "command invocation failed",
				"command", string(cmd.Name), "script", inv.Script, "output", string(output))
			result = StatusFailure
		default:
			e.logger.Error(ctx, "could not execute command",
				"command", string(cmd.Name), "script", inv.Script, "error", err)
			return StatusCouldNotExecute
		}
	}
	return result
}
