package publish

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/feelpp/apt/internal/aptly"
	"github.com/feelpp/apt/internal/config"
	"github.com/feelpp/apt/internal/runner"
)

// mockGit seeds its fixture tree into the clone destination and records
// the commit it is asked to push.
type mockGit struct {
	seed func(destDir string) error

	pushedDir     string
	pushedBranch  string
	pushedMessage string
	markerPresent bool
}

func (m *mockGit) CloneBranch(_ context.Context, _, _, destDir string) error {
	if m.seed == nil {
		return nil
	}
	return m.seed(destDir)
}

func (m *mockGit) CommitAndPush(_ context.Context, dir, branch, message string) error {
	m.pushedDir = dir
	m.pushedBranch = branch
	m.pushedMessage = message
	_, err := os.Stat(filepath.Join(dir, ".nojekyll"))
	m.markerPresent = err == nil
	return nil
}

// mockMirror copies trees with os.CopyFS instead of shelling out.
type mockMirror struct{}

func (mockMirror) Mirror(_ context.Context, srcDir, dstDir string, deleteExtraneous bool) error {
	if deleteExtraneous {
		if err := os.RemoveAll(dstDir); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return err
	}
	return os.CopyFS(dstDir, os.DirFS(srcDir))
}

// installStubTools puts no-op git, rsync and aptly executables on PATH so
// the preflight tool check passes.
func installStubTools(t *testing.T) {
	t.Helper()
	bin := t.TempDir()
	for _, name := range []string{"git", "rsync", "aptly", "gpg"} {
		path := filepath.Join(bin, name)
		if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
			t.Fatalf("failed to install stub %s: %v", name, err)
		}
	}
	t.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func writeDebs(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("deb"), 0o644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
}

func newTestEngine(t *testing.T, opts config.Publish, gitClient *mockGit, mock *mockEngine) *Engine {
	t.Helper()
	e := NewEngine(opts, runner.New(testLogger()), gitClient, mockMirror{}, testLogger())
	e.engineFor = func(_ *aptly.Workspace) aptly.Engine { return mock }
	e.now = func() time.Time {
		return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	}
	return e
}

func TestRunBootstrap(t *testing.T) {
	installStubTools(t)

	debsDir := t.TempDir()
	writeDebs(t, debsDir, "zfeelpp-mmg_5.8.0-1_amd64.deb", "feelpp-mmg_5.8.0-1_arm64.deb")

	gitClient := &mockGit{}
	mock := &mockEngine{showErr: os.ErrNotExist}
	e := newTestEngine(t, config.Publish{
		Component: "mmg",
		Distro:    "noble",
		Channel:   config.ChannelStable,
		DebsDir:   debsDir,
		PagesRepo: "https://example.invalid/pages.git",
		Branch:    "gh-pages",
	}, gitClient, mock)

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, call := range []string{"repo create", "repo add", "snapshot create", "publish snapshot"} {
		if !mock.called(call) {
			t.Errorf("expected %q to be called, got %v", call, mock.calls)
		}
	}
	if mock.called("publish switch") || mock.called("publish source add") {
		t.Errorf("bootstrap must not switch or add, got %v", mock.calls)
	}

	// Glob results are staged in sorted order.
	wantDebs := []string{
		filepath.Join(debsDir, "feelpp-mmg_5.8.0-1_arm64.deb"),
		filepath.Join(debsDir, "zfeelpp-mmg_5.8.0-1_amd64.deb"),
	}
	if diff := cmp.Diff(wantDebs, mock.addedDebs); diff != "" {
		t.Errorf("staged debs mismatch (-want +got):\n%s", diff)
	}

	if want := "mmg-noble-stable-20240601-120000"; mock.snapshotName != want {
		t.Errorf("snapshot name = %q, want %q", mock.snapshotName, want)
	}

	if gitClient.pushedBranch != "gh-pages" {
		t.Errorf("pushed branch = %q, want gh-pages", gitClient.pushedBranch)
	}
	if want := "Publish mmg (noble/stable) 2024-06-01T12:00:00Z"; gitClient.pushedMessage != want {
		t.Errorf("commit message = %q, want %q", gitClient.pushedMessage, want)
	}
	if !gitClient.markerPresent {
		t.Error("expected .nojekyll marker in the pushed tree")
	}
}

func TestRunSwitchesExistingComponent(t *testing.T) {
	installStubTools(t)

	debsDir := t.TempDir()
	writeDebs(t, debsDir, "feelpp-mmg_5.8.1-1_amd64.deb")

	gitClient := &mockGit{
		seed: func(destDir string) error {
			dists := filepath.Join(destDir, "stable", "dists", "noble")
			if err := os.MkdirAll(dists, 0o755); err != nil {
				return err
			}
			return os.WriteFile(filepath.Join(dists, "InRelease"),
				[]byte("Suite: noble\nComponents: main mmg\n"), 0o644)
		},
	}
	mock := &mockEngine{showOut: "Prefix: stable\nComponents: main mmg\n"}
	e := newTestEngine(t, config.Publish{
		Component: "mmg",
		Distro:    "noble",
		Channel:   config.ChannelStable,
		DebsDir:   debsDir,
		PagesRepo: "https://example.invalid/pages.git",
		Branch:    "gh-pages",
	}, gitClient, mock)

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !mock.called("publish switch") {
		t.Errorf("expected publish switch, got %v", mock.calls)
	}
	if mock.called("publish snapshot") || mock.called("publish source add") {
		t.Errorf("switch must not bootstrap or add, got %v", mock.calls)
	}
}

func TestRunAddsNewComponent(t *testing.T) {
	installStubTools(t)

	debsDir := t.TempDir()
	writeDebs(t, debsDir, "feelpp-hpddm_1.0.0-1_amd64.deb")

	gitClient := &mockGit{
		seed: func(destDir string) error {
			dists := filepath.Join(destDir, "testing", "dists", "noble")
			if err := os.MkdirAll(dists, 0o755); err != nil {
				return err
			}
			return os.WriteFile(filepath.Join(dists, "InRelease"),
				[]byte("Suite: noble\nComponents: mmg\n"), 0o644)
		},
	}
	mock := &mockEngine{showOut: "Prefix: testing\nComponents: mmg\n"}
	e := newTestEngine(t, config.Publish{
		Component: "hpddm",
		Distro:    "noble",
		Channel:   config.ChannelTesting,
		DebsDir:   debsDir,
		PagesRepo: "https://example.invalid/pages.git",
		Branch:    "gh-pages",
	}, gitClient, mock)

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !mock.called("publish source add") || !mock.called("publish update") {
		t.Errorf("expected source add and update, got %v", mock.calls)
	}
}

func TestRunEmptyDebsDirFails(t *testing.T) {
	installStubTools(t)

	gitClient := &mockGit{}
	mock := &mockEngine{showErr: os.ErrNotExist}
	e := newTestEngine(t, config.Publish{
		Component: "mmg",
		Distro:    "noble",
		Channel:   config.ChannelStable,
		DebsDir:   t.TempDir(),
		PagesRepo: "https://example.invalid/pages.git",
		Branch:    "gh-pages",
	}, gitClient, mock)

	err := e.Run(context.Background())
	if err == nil {
		t.Fatal("expected error for a debs directory without packages")
	}
	if !strings.Contains(err.Error(), "no .deb files") {
		t.Errorf("unexpected error: %v", err)
	}
	if gitClient.pushedMessage != "" {
		t.Error("nothing should be pushed when staging fails")
	}
}

func TestRunNoDebsDirBootstrapsEmptyComponent(t *testing.T) {
	installStubTools(t)

	gitClient := &mockGit{}
	mock := &mockEngine{showErr: os.ErrNotExist}
	e := newTestEngine(t, config.Publish{
		Component: "mmg",
		Distro:    "noble",
		Channel:   config.ChannelStable,
		PagesRepo: "https://example.invalid/pages.git",
		Branch:    "gh-pages",
	}, gitClient, mock)

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if mock.called("repo add") {
		t.Error("no packages should be added without a debs directory")
	}
	if !mock.called("snapshot create") || !mock.called("publish snapshot") {
		t.Errorf("empty bootstrap still snapshots and publishes, got %v", mock.calls)
	}
}

func TestRunAutoBumpAllPublishedIsNoOp(t *testing.T) {
	installStubTools(t)

	debsDir := t.TempDir()
	writeDebs(t, debsDir, "feelpp-mmg_5.8.0-1_amd64.deb")

	gitClient := &mockGit{
		seed: func(destDir string) error {
			pool := filepath.Join(destDir, "stable", "pool", "mmg", "f", "feelpp-mmg")
			if err := os.MkdirAll(pool, 0o755); err != nil {
				return err
			}
			return os.WriteFile(filepath.Join(pool, "feelpp-mmg_5.8.0-1_amd64.deb"),
				[]byte("deb"), 0o644)
		},
	}
	mock := &mockEngine{showOut: "Prefix: stable\nComponents: mmg\n"}
	e := newTestEngine(t, config.Publish{
		Component: "mmg",
		Distro:    "noble",
		Channel:   config.ChannelStable,
		DebsDir:   debsDir,
		PagesRepo: "https://example.invalid/pages.git",
		Branch:    "gh-pages",
		AutoBump:  true,
	}, gitClient, mock)

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Every input file is already in the pool. Capturing a snapshot now
	// would freeze an empty staging repository and switching to it would
	// wipe the live component, so the run must stop before staging.
	for _, call := range []string{"snapshot create", "publish snapshot", "publish switch", "publish source add"} {
		if mock.called(call) {
			t.Errorf("%q must not run when nothing is left to publish, got %v", call, mock.calls)
		}
	}
	if gitClient.pushedMessage != "" {
		t.Errorf("nothing should be pushed when nothing is left to publish, got %q", gitClient.pushedMessage)
	}
}

func TestRunRerunConvergesToSwitch(t *testing.T) {
	installStubTools(t)

	debsDir := t.TempDir()
	writeDebs(t, debsDir, "feelpp-mmg_5.8.0-1_amd64.deb")

	opts := config.Publish{
		Component: "mmg",
		Distro:    "noble",
		Channel:   config.ChannelStable,
		DebsDir:   debsDir,
		PagesRepo: "https://example.invalid/pages.git",
		Branch:    "gh-pages",
	}

	// First run: nothing published yet, so the publication is
	// bootstrapped from the fresh snapshot.
	first := &mockEngine{showErr: os.ErrNotExist}
	firstGit := &mockGit{}
	e := newTestEngine(t, opts, firstGit, first)
	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if !first.called("publish snapshot") {
		t.Fatalf("first run should bootstrap, got %v", first.calls)
	}

	// Rerun with identical inputs against the state the first run left
	// behind: the engine now knows the component, so it is switched,
	// never bootstrapped or added a second time.
	second := &mockEngine{showOut: "Prefix: stable\nComponents: mmg\n"}
	secondGit := &mockGit{}
	e = newTestEngine(t, opts, secondGit, second)
	e.now = func() time.Time {
		return time.Date(2024, 6, 1, 12, 0, 1, 0, time.UTC)
	}
	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if !second.called("publish switch") {
		t.Errorf("rerun should switch the existing component, got %v", second.calls)
	}
	if second.called("publish snapshot") || second.called("publish source add") {
		t.Errorf("rerun must not bootstrap or add again, got %v", second.calls)
	}

	// Snapshots are immutable; each run captures its own.
	if first.snapshotName == second.snapshotName {
		t.Errorf("rerun reused snapshot name %q", first.snapshotName)
	}
	if diff := cmp.Diff(first.addedDebs, second.addedDebs); diff != "" {
		t.Errorf("rerun staged a different package set (-first +second):\n%s", diff)
	}
	if secondGit.pushedMessage == "" {
		t.Error("rerun should still publish the regenerated tree")
	}
}

func TestRunAutoBumpSkipsPublishedFiles(t *testing.T) {
	installStubTools(t)

	debsDir := t.TempDir()
	writeDebs(t, debsDir, "feelpp-mmg_5.8.0-1_amd64.deb", "feelpp-mmg_5.8.1-1_amd64.deb")

	gitClient := &mockGit{
		seed: func(destDir string) error {
			pool := filepath.Join(destDir, "stable", "pool", "main", "f", "feelpp-mmg")
			if err := os.MkdirAll(pool, 0o755); err != nil {
				return err
			}
			dists := filepath.Join(destDir, "stable", "dists", "noble")
			if err := os.MkdirAll(dists, 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(filepath.Join(dists, "InRelease"),
				[]byte("Components: mmg\n"), 0o644); err != nil {
				return err
			}
			return os.WriteFile(filepath.Join(pool, "feelpp-mmg_5.8.0-1_amd64.deb"),
				[]byte("deb"), 0o644)
		},
	}
	mock := &mockEngine{showOut: "Components: mmg\n"}
	e := newTestEngine(t, config.Publish{
		Component: "mmg",
		Distro:    "noble",
		Channel:   config.ChannelStable,
		DebsDir:   debsDir,
		PagesRepo: "https://example.invalid/pages.git",
		Branch:    "gh-pages",
		AutoBump:  true,
	}, gitClient, mock)

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	wantDebs := []string{filepath.Join(debsDir, "feelpp-mmg_5.8.1-1_amd64.deb")}
	if diff := cmp.Diff(wantDebs, mock.addedDebs); diff != "" {
		t.Errorf("staged debs mismatch (-want +got):\n%s", diff)
	}
}
