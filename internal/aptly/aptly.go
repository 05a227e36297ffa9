package aptly

import (
	"context"
	"fmt"

	"github.com/feelpp/apt/internal/runner"
)

// Signing describes how publish operations are signed. The same flags are
// appended to every mutating subcommand that accepts them; subcommands that
// do not (publish source add/replace) defer signing to the following
// publish update.
type Signing struct {
	Enabled    bool
	KeyID      string
	Passphrase string
}

func (s Signing) flags() []string {
	if !s.Enabled {
		return []string{"-skip-signing"}
	}
	flags := []string{"-gpg-key", s.KeyID}
	if s.Passphrase != "" {
		flags = append(flags, "-passphrase", s.Passphrase)
	}
	return flags
}

// Engine is the boundary to the aptly binary. Every method maps to exactly
// one subcommand invocation; sequencing and fallback decisions live in the
// publish package.
type Engine interface {
	// RepoCreate creates a staging repository. Failing because the
	// repository already exists is expected; callers tolerate the error.
	RepoCreate(ctx context.Context, name, component, distro string) error
	// RepoAdd adds package files to a staging repository.
	RepoAdd(ctx context.Context, name string, debs []string) error
	// SnapshotCreate captures the staging repository's package set.
	SnapshotCreate(ctx context.Context, snapshot, repo string) error
	// PublishSnapshot creates a publication from a snapshot (first publish).
	PublishSnapshot(ctx context.Context, snapshot, prefix, distro, component string, sign Signing) error
	// PublishSwitch atomically replaces one component's snapshot in an
	// existing publication.
	PublishSwitch(ctx context.Context, distro, prefix, snapshot, component string, sign Signing) error
	// PublishSourceAdd stages a new component source for a publication.
	PublishSourceAdd(ctx context.Context, distro, prefix, snapshot, component string) error
	// PublishSourceReplace replaces a staged component source.
	PublishSourceReplace(ctx context.Context, distro, prefix, snapshot, component string) error
	// PublishUpdate regenerates the publication metadata.
	PublishUpdate(ctx context.Context, distro, prefix string, sign Signing) error
	// PublishShow queries a publication and returns the engine's output;
	// a nonzero exit means the engine database does not know it.
	PublishShow(ctx context.Context, distro, prefix string) (string, error)
	// DBRecover rebuilds the engine database from the public files.
	DBRecover(ctx context.Context) error
}

// ShellEngine implements Engine by shelling out to the aptly command,
// pinned to one workspace's config descriptor.
type ShellEngine struct {
	run *runner.Runner
	ws  *Workspace
}

// NewShellEngine creates an aptly client bound to the given workspace.
func NewShellEngine(run *runner.Runner, ws *Workspace) *ShellEngine {
	return &ShellEngine{run: run, ws: ws}
}

func (e *ShellEngine) aptly(ctx context.Context, args ...string) error {
	full := append([]string{"-config=" + e.ws.ConfigPath}, args...)
	return e.run.Run(ctx, runner.Opts{Env: e.ws.Env()}, "aptly", full...)
}

// RepoCreate creates a staging repository bound to a component and
// distribution.
func (e *ShellEngine) RepoCreate(ctx context.Context, name, component, distro string) error {
	return e.aptly(ctx, "repo", "create",
		"-component="+component,
		"-distribution="+distro,
		name)
}

// RepoAdd adds package files to a staging repository.
func (e *ShellEngine) RepoAdd(ctx context.Context, name string, debs []string) error {
	args := append([]string{"repo", "add", name}, debs...)
	if err := e.aptly(ctx, args...); err != nil {
		return fmt.Errorf("failed to add packages to %s: %w", name, err)
	}
	return nil
}

// SnapshotCreate captures the staging repository's current package set.
func (e *ShellEngine) SnapshotCreate(ctx context.Context, snapshot, repo string) error {
	if err := e.aptly(ctx, "snapshot", "create", snapshot, "from", "repo", repo); err != nil {
		return fmt.Errorf("failed to create snapshot %s: %w", snapshot, err)
	}
	return nil
}

// PublishSnapshot creates a publication directly from a snapshot.
func (e *ShellEngine) PublishSnapshot(ctx context.Context, snapshot, prefix, distro, component string, sign Signing) error {
	args := []string{"publish", "snapshot",
		"-distribution=" + distro,
		"-component=" + component,
		"-force-overwrite"}
	args = append(args, sign.flags()...)
	args = append(args, snapshot, prefix)
	if err := e.aptly(ctx, args...); err != nil {
		return fmt.Errorf("failed to publish snapshot %s: %w", snapshot, err)
	}
	return nil
}

// PublishSwitch switches one component of an existing publication to a new
// snapshot, overwriting published files.
func (e *ShellEngine) PublishSwitch(ctx context.Context, distro, prefix, snapshot, component string, sign Signing) error {
	args := []string{"publish", "switch",
		"-component=" + component,
		"-force-overwrite"}
	args = append(args, sign.flags()...)
	args = append(args, distro, prefix, snapshot)
	if err := e.aptly(ctx, args...); err != nil {
		return fmt.Errorf("failed to switch component %s: %w", component, err)
	}
	return nil
}

// PublishSourceAdd stages an additional component source. The subcommand
// accepts no signing flags; signing happens in the following update.
func (e *ShellEngine) PublishSourceAdd(ctx context.Context, distro, prefix, snapshot, component string) error {
	return e.aptly(ctx, "publish", "source", "add",
		"-prefix="+prefix,
		"-component="+component,
		distro, snapshot)
}

// PublishSourceReplace replaces a staged component source.
func (e *ShellEngine) PublishSourceReplace(ctx context.Context, distro, prefix, snapshot, component string) error {
	if err := e.aptly(ctx, "publish", "source", "replace",
		"-prefix="+prefix,
		"-component="+component,
		distro, snapshot); err != nil {
		return fmt.Errorf("failed to replace component %s: %w", component, err)
	}
	return nil
}

// PublishUpdate regenerates the release index for a publication.
func (e *ShellEngine) PublishUpdate(ctx context.Context, distro, prefix string, sign Signing) error {
	args := []string{"publish", "update"}
	args = append(args, sign.flags()...)
	args = append(args, distro, prefix)
	return e.aptly(ctx, args...)
}

// PublishShow queries the engine database for a publication.
func (e *ShellEngine) PublishShow(ctx context.Context, distro, prefix string) (string, error) {
	full := []string{"-config=" + e.ws.ConfigPath, "publish", "show", distro, prefix}
	return e.run.Output(ctx, runner.Opts{Env: e.ws.Env()}, "aptly", full...)
}

// DBRecover rebuilds the engine database from public files.
func (e *ShellEngine) DBRecover(ctx context.Context) error {
	return e.aptly(ctx, "db", "recover")
}
