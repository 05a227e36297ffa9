package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Opts carries per-invocation settings for an external command.
type Opts struct {
	// Dir is the working directory for the command. Empty means the
	// current process directory.
	Dir string
	// Env is the complete environment for the command. Nil inherits the
	// parent environment.
	Env []string
}

// Runner executes external commands with debug logging. All publish and
// cleanup steps go through a single Runner so invocations are logged and
// fail the same way everywhere.
type Runner struct {
	logger *slog.Logger
}

// New creates a Runner that logs command invocations to the given logger.
func New(logger *slog.Logger) *Runner {
	return &Runner{logger: logger}
}

// Run executes a command and waits for it. A nonzero exit is returned as an
// error wrapping the command's combined output. Callers with a defined
// fallback path simply ignore the error.
func (r *Runner) Run(ctx context.Context, opts Opts, name string, args ...string) error {
	_, err := r.run(ctx, opts, name, args...)
	return err
}

// Output executes a command and returns its combined output. The output is
// returned even when the command fails, so callers can parse partial
// results from tolerated failures.
func (r *Runner) Output(ctx context.Context, opts Opts, name string, args ...string) (string, error) {
	return r.run(ctx, opts, name, args...)
}

func (r *Runner) run(ctx context.Context, opts Opts, name string, args ...string) (string, error) {
	if opts.Dir != "" {
		r.logger.Debug("run", "cmd", name+" "+strings.Join(args, " "), "dir", opts.Dir)
	} else {
		r.logger.Debug("run", "cmd", name+" "+strings.Join(args, " "))
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = opts.Dir
	cmd.Env = opts.Env

	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

// CheckTools verifies that every named tool is present on PATH. The publish
// flow calls this before any mutation so a missing tool is a precondition
// error, not a mid-run failure.
func (r *Runner) CheckTools(names ...string) error {
	for _, name := range names {
		if _, err := exec.LookPath(name); err != nil {
			return fmt.Errorf("required command not found on PATH: %s", name)
		}
	}
	return nil
}
