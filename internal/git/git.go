package git

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/feelpp/apt/internal/runner"
)

// Client provides git operations for the published pages branch
type Client interface {
	// CloneBranch clones the given branch of a repository into destDir.
	// When the branch does not exist yet, the repository is cloned and an
	// empty orphan branch is created locally so a first publish can
	// bootstrap the tree.
	CloneBranch(ctx context.Context, url, branch, destDir string) error
	// CommitAndPush stages everything in dir, commits with the given
	// message and pushes the branch. An empty commit is not an error;
	// a rejected push is.
	CommitAndPush(ctx context.Context, dir, branch, message string) error
}

// ShellClient implements Client by shelling out to the git command
type ShellClient struct {
	run            *runner.Runner
	sshKeyFile     string
	httpsTokenFile string
}

// NewShellClient creates a new git client that uses the git command
func NewShellClient(run *runner.Runner, sshKeyFile, httpsTokenFile string) *ShellClient {
	return &ShellClient{
		run:            run,
		sshKeyFile:     sshKeyFile,
		httpsTokenFile: httpsTokenFile,
	}
}

// CloneBranch clones the pages branch, falling back to an orphan checkout
// when the branch does not exist on the remote.
func (c *ShellClient) CloneBranch(ctx context.Context, url, branch, destDir string) error {
	env, flags, err := c.authEnv(url)
	if err != nil {
		return err
	}
	opts := runner.Opts{Env: env}

	if err := c.run.Run(ctx, opts, "git", gitArgs(flags, "clone", "-b", branch, url, destDir)...); err == nil {
		return nil
	}

	// Branch not found: clone the default branch and create the orphan locally.
	if err := c.run.Run(ctx, opts, "git", gitArgs(flags, "clone", url, destDir)...); err != nil {
		return fmt.Errorf("git clone failed: %w", err)
	}
	inDir := runner.Opts{Dir: destDir, Env: env}
	if err := c.run.Run(ctx, inDir, "git", "checkout", "--orphan", branch); err != nil {
		return fmt.Errorf("git checkout --orphan failed: %w", err)
	}
	// Fails when the index is already empty; that is fine.
	_ = c.run.Run(ctx, inDir, "git", "rm", "-rf", ".")
	return nil
}

// CommitAndPush stages, commits and pushes the published tree.
func (c *ShellClient) CommitAndPush(ctx context.Context, dir, branch, message string) error {
	env, flags, err := c.authEnv("")
	if err != nil {
		return err
	}
	opts := runner.Opts{Dir: dir, Env: env}

	if err := c.run.Run(ctx, opts, "git", "add", "-A"); err != nil {
		return fmt.Errorf("git add failed: %w", err)
	}
	// Commit may be empty when nothing changed; ignore failure.
	_ = c.run.Run(ctx, opts, "git", "commit", "-m", message)

	if err := c.run.Run(ctx, opts, "git", gitArgs(flags, "push", "origin", branch)...); err != nil {
		return fmt.Errorf("git push failed: %w", err)
	}
	return nil
}

// authEnv builds the environment and extra git flags for authenticated
// operations. With no auth configured it returns a nil environment so the
// parent environment is inherited unchanged.
func (c *ShellClient) authEnv(url string) ([]string, []string, error) {
	// SSH authentication
	if c.sshKeyFile != "" && (url == "" || strings.HasPrefix(url, "git@") || strings.HasPrefix(url, "ssh://")) {
		// The path is shell-quoted to prevent injection via crafted filenames.
		sshCmd := fmt.Sprintf("ssh -i %s -o StrictHostKeyChecking=accept-new -F /dev/null", shellQuote(c.sshKeyFile))
		env := append(os.Environ(), "GIT_SSH_COMMAND="+sshCmd)
		return env, nil, nil
	}

	// HTTPS authentication with token
	if c.httpsTokenFile != "" && (url == "" || strings.HasPrefix(url, "https://")) {
		token, err := os.ReadFile(c.httpsTokenFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read HTTPS token file: %w", err)
		}

		// Pass the token via environment variable and configure a git
		// credential helper that reads it. This avoids embedding the
		// token directly in a shell expression.
		env := append(os.Environ(),
			"GIT_TERMINAL_PROMPT=0",
			"APTPUB_GIT_TOKEN="+strings.TrimSpace(string(token)),
		)
		flags := []string{
			"-c", `credential.helper=!f() { echo "username=x-access-token"; echo "password=$APTPUB_GIT_TOKEN"; }; f`,
		}
		return env, flags, nil
	}

	return nil, nil, nil
}

// gitArgs places configuration flags before the subcommand.
func gitArgs(flags []string, args ...string) []string {
	result := make([]string, 0, len(flags)+len(args))
	result = append(result, flags...)
	result = append(result, args...)
	return result
}

// shellQuote wraps s in single quotes, escaping any embedded single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
