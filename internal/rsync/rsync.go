package rsync

import (
	"context"
	"fmt"
	"strings"

	"github.com/feelpp/apt/internal/runner"
)

// Client mirrors directory trees between the pages checkout and the repo
// engine's public root.
type Client interface {
	// Mirror copies the contents of srcDir into dstDir. With
	// deleteExtraneous set, files present in dstDir but not in srcDir are
	// removed, making dstDir an exact mirror.
	Mirror(ctx context.Context, srcDir, dstDir string, deleteExtraneous bool) error
}

// ShellClient implements Client by shelling out to the rsync command
type ShellClient struct {
	run *runner.Runner
}

// NewShellClient creates a new rsync client
func NewShellClient(run *runner.Runner) *ShellClient {
	return &ShellClient{run: run}
}

// Mirror copies srcDir's contents into dstDir.
func (c *ShellClient) Mirror(ctx context.Context, srcDir, dstDir string, deleteExtraneous bool) error {
	args := []string{"-a"}
	if deleteExtraneous {
		args = append(args, "--delete")
	}
	// Trailing slashes make rsync copy directory contents, not the
	// directory itself.
	args = append(args, withSlash(srcDir), withSlash(dstDir))

	if err := c.run.Run(ctx, runner.Opts{}, "rsync", args...); err != nil {
		return fmt.Errorf("rsync failed: %w", err)
	}
	return nil
}

func withSlash(dir string) string {
	if strings.HasSuffix(dir, "/") {
		return dir
	}
	return dir + "/"
}
