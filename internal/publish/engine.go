package publish

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/feelpp/apt/internal/aptly"
	"github.com/feelpp/apt/internal/config"
	"github.com/feelpp/apt/internal/git"
	"github.com/feelpp/apt/internal/rsync"
	"github.com/feelpp/apt/internal/runner"
)

// Engine orchestrates one publish run: seed a workspace from the published
// tree, stage packages, reconcile the publication, and sync the result
// back. Execution is strictly sequential; every external command completes
// before the next starts.
type Engine struct {
	opts   config.Publish
	run    *runner.Runner
	git    git.Client
	mirror rsync.Client
	logger *slog.Logger

	// engineFor builds the repo-engine client once the workspace exists.
	engineFor func(ws *aptly.Workspace) aptly.Engine
	now       func() time.Time
}

// NewEngine creates a publish engine with shell-backed tool clients.
func NewEngine(opts config.Publish, run *runner.Runner, gitClient git.Client, mirror rsync.Client, logger *slog.Logger) *Engine {
	return &Engine{
		opts:   opts,
		run:    run,
		git:    gitClient,
		mirror: mirror,
		logger: logger,
		engineFor: func(ws *aptly.Workspace) aptly.Engine {
			return aptly.NewShellEngine(run, ws)
		},
		now: time.Now,
	}
}

// Run executes the complete publish flow.
func (e *Engine) Run(ctx context.Context) error {
	tools := []string{"git", "rsync", "aptly"}
	if e.opts.Sign {
		tools = append(tools, "gpg")
	}
	if err := e.run.CheckTools(tools...); err != nil {
		return err
	}

	e.logger.Info("starting publish",
		"component", e.opts.Component,
		"distro", e.opts.Distro,
		"channel", e.opts.Channel,
		"repo", e.opts.PagesRepo,
		"branch", e.opts.Branch,
		"signing", e.opts.Sign)

	// Ephemeral working directories, discarded on any outcome.
	pagesDir, err := os.MkdirTemp("", "apt-pages.")
	if err != nil {
		return fmt.Errorf("failed to create pages workspace: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(pagesDir)
	}()

	workDir, err := os.MkdirTemp("", "aptly.")
	if err != nil {
		return fmt.Errorf("failed to create aptly workspace: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(workDir)
	}()

	ws, err := aptly.Provision(workDir, e.opts.AptlyConfig, e.opts.AptlyRoot)
	if err != nil {
		return err
	}
	engine := e.engineFor(ws)

	e.logger.Info("workspace provisioned", "config", ws.ConfigPath, "root", ws.Root)

	// Clone the published tree and seed the engine's public root from it.
	e.logger.Info("cloning pages branch", "repo", e.opts.PagesRepo, "branch", e.opts.Branch)
	if err := e.git.CloneBranch(ctx, e.opts.PagesRepo, e.opts.Branch, pagesDir); err != nil {
		return err
	}

	publicRoot := ws.PublicDir()
	if err := os.MkdirAll(publicRoot, 0o755); err != nil {
		return fmt.Errorf("failed to create public root: %w", err)
	}
	if err := e.mirror.Mirror(ctx, pagesDir, publicRoot, false); err != nil {
		return err
	}

	channel := string(e.opts.Channel)
	state := NewInspector(engine, e.logger).Inspect(ctx, publicRoot, channel, e.opts.Distro)

	debs, err := e.collectDebs(publicRoot, channel)
	if err != nil {
		return err
	}
	// When auto-bump filters out every input file, the published tree
	// already holds them all. Snapshotting here would capture an empty
	// staging repository and switch the live component to it, so the run
	// ends as a successful no-op instead.
	if e.opts.AutoBump && e.opts.DebsDir != "" && len(debs) == 0 {
		e.logger.Info("every package is already published, nothing to do",
			"channel", channel, "distro", e.opts.Distro, "component", e.opts.Component)
		return nil
	}

	snapshot, err := e.stage(ctx, engine, debs, channel)
	if err != nil {
		return err
	}

	target := Target{
		Component: e.opts.Component,
		Distro:    e.opts.Distro,
		Channel:   channel,
		Snapshot:  snapshot,
		Sign: aptly.Signing{
			Enabled:    e.opts.Sign,
			KeyID:      e.opts.KeyID,
			Passphrase: e.opts.Passphrase,
		},
	}
	if err := NewReconciler(engine, e.logger).Reconcile(ctx, state, target); err != nil {
		return err
	}

	// Mirror the regenerated tree back and publish it.
	if err := e.mirror.Mirror(ctx, publicRoot, pagesDir, true); err != nil {
		return err
	}
	// The marker keeps the static host from filtering the dists/ tree.
	if err := os.WriteFile(filepath.Join(pagesDir, ".nojekyll"), nil, 0o644); err != nil {
		return fmt.Errorf("failed to write .nojekyll marker: %w", err)
	}

	message := fmt.Sprintf("Publish %s (%s/%s) %s",
		e.opts.Component, e.opts.Distro, channel, e.now().UTC().Format(time.RFC3339))
	if err := e.git.CommitAndPush(ctx, pagesDir, e.opts.Branch, message); err != nil {
		return err
	}

	e.logger.Info("publish complete",
		"channel", channel, "distro", e.opts.Distro, "component", e.opts.Component)
	return nil
}

// stage creates (or reuses) the staging repository, adds the package files
// and captures them in a fresh, uniquely named snapshot.
func (e *Engine) stage(ctx context.Context, engine aptly.Engine, debs []string, channel string) (string, error) {
	repoName := fmt.Sprintf("%s-%s-%s", e.opts.Component, e.opts.Distro, channel)
	e.logger.Info("staging repository", "name", repoName)

	// Create-or-reuse: the create fails when the repository already
	// exists, which is fine.
	if err := engine.RepoCreate(ctx, repoName, e.opts.Component, e.opts.Distro); err != nil {
		e.logger.Debug("staging repository already exists", "name", repoName)
	}

	if len(debs) > 0 {
		e.logger.Info("adding packages", "count", len(debs))
		if err := engine.RepoAdd(ctx, repoName, debs); err != nil {
			return "", err
		}
	}

	snapshot := fmt.Sprintf("%s-%s", repoName, e.now().UTC().Format("20060102-150405"))
	if err := engine.SnapshotCreate(ctx, snapshot, repoName); err != nil {
		return "", err
	}
	return snapshot, nil
}

// collectDebs resolves the package files to stage. Without a debs
// directory the run bootstraps an empty component. With auto-bump enabled,
// files whose exact name is already published in the channel's pool are
// skipped so republishing an unchanged artifact cannot fail the run.
func (e *Engine) collectDebs(publicRoot, channel string) ([]string, error) {
	if e.opts.DebsDir == "" {
		e.logger.Info("no debs directory given, bootstrapping an empty component")
		return nil, nil
	}

	info, err := os.Stat(e.opts.DebsDir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("debs path does not exist or is not a directory: %s", e.opts.DebsDir)
	}

	debs, err := filepath.Glob(filepath.Join(e.opts.DebsDir, "*.deb"))
	if err != nil {
		return nil, fmt.Errorf("failed to list debs: %w", err)
	}
	if len(debs) == 0 {
		return nil, fmt.Errorf("no .deb files found in %s", e.opts.DebsDir)
	}
	sort.Strings(debs)

	if !e.opts.AutoBump {
		return debs, nil
	}

	published := publishedFilenames(filepath.Join(publicRoot, channel, "pool"))
	kept := debs[:0]
	for _, deb := range debs {
		if published[filepath.Base(deb)] {
			e.logger.Warn("package already published, skipping", "file", filepath.Base(deb))
			continue
		}
		kept = append(kept, deb)
	}
	return kept, nil
}

// publishedFilenames collects the basenames of every .deb under a pool
// directory. A missing pool means nothing is published yet.
func publishedFilenames(poolDir string) map[string]bool {
	names := make(map[string]bool)
	_ = filepath.WalkDir(poolDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && strings.HasSuffix(path, ".deb") {
			names[filepath.Base(path)] = true
		}
		return nil
	})
	return names
}
