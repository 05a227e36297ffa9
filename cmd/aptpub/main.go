package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/feelpp/apt/internal/cleanup"
	"github.com/feelpp/apt/internal/config"
	"github.com/feelpp/apt/internal/git"
	"github.com/feelpp/apt/internal/publish"
	"github.com/feelpp/apt/internal/rsync"
	"github.com/feelpp/apt/internal/runner"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	verbose   bool
	logFormat string

	// Publish flags
	component   string
	distro      string
	channel     string
	debsDir     string
	pagesRepo   string
	branch      string
	sign        bool
	keyID       string
	passphrase  string
	aptlyConfig string
	aptlyRoot   string
	autoBump    bool

	// Cleanup/analyze flags
	repoPath                 string
	dryRun                   bool
	execute                  bool
	maxAgeDays               int
	maxVersions              int
	channelList              string
	includeStablePrereleases bool
	policyFile               string
	jsonOutput               bool
	outputFile               string
	githubOutput             bool

	// Init-policy flags
	policyOutput string
)

func main() {
	// The original tool was invoked without a subcommand; keep those
	// call sites working by treating a bare --component as publish.
	os.Args = legacyArgs(os.Args)

	ctx, cancel := setupSignalHandler()
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if ctx.Err() != nil {
			os.Exit(130)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "aptpub",
	Short: "Publish and prune Debian packages on a GitHub Pages APT repository",
	Long: `aptpub maintains a multi-channel APT repository served from a GitHub Pages
branch. It wraps aptly, git, rsync and gpg into two operations:

publish stages .deb files into an aptly snapshot and reconciles the
published tree for one (channel, distribution, component) slot, then
commits and pushes the result.

cleanup and analyze apply a retention policy to the published pool,
removing stale pre-releases and excess package versions.`,
	SilenceUsage: true,
}

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish packages for one component to the repository",
	Long: `Publish clones the pages branch, seeds a throwaway aptly workspace from it,
stages the .deb files into a timestamped snapshot and reconciles the
publication: first publish bootstraps it, a new component is added, an
existing component is switched to the new snapshot. The regenerated tree
is committed and pushed back.

Defaults for --pages-repo, --branch, --keyid and --passphrase may come
from the PAGES_REPO, BRANCH, GPG_KEYID and GPG_PASSPHRASE environment
variables or from a config file.`,
	RunE: runPublish,
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Analyze and delete packages per the retention policy",
	Long: `Cleanup scans the published pool, classifies packages as stale
pre-releases or excess versions per the retention policy, and prints a
report. The default is a dry run; pass --execute to delete the candidates
and prune emptied pool directories.

Deleting pool files leaves the release indices stale. Re-run publish for
the affected channels to regenerate them.`,
	RunE: runCleanup,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Report cleanup candidates without deleting anything",
	Long: `Analyze scans the published pool and reports what cleanup would delete,
with repository-wide statistics. With --github-output the summary is
appended to $GITHUB_OUTPUT for CI pipelines.`,
	RunE: runAnalyze,
}

var initPolicyCmd = &cobra.Command{
	Use:   "init-policy",
	Short: "Write a default retention policy file",
	RunE:  runInitPolicy,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("aptpub %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file with publish defaults")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	// Publish command flags
	publishCmd.Flags().StringVar(&component, "component", "", "component name, normalized to [a-z0-9-] (required)")
	publishCmd.Flags().StringVar(&distro, "distro", "", "target distribution (default \"noble\")")
	publishCmd.Flags().StringVar(&channel, "channel", "", "publication channel: stable, testing or pr (default \"stable\")")
	publishCmd.Flags().StringVar(&debsDir, "debs-dir", "", "directory with .deb files to publish (empty bootstraps an empty component)")
	publishCmd.Flags().StringVar(&pagesRepo, "pages-repo", "", "pages repository URL (default $PAGES_REPO)")
	publishCmd.Flags().StringVar(&branch, "branch", "", "pages branch (default $BRANCH or \"gh-pages\")")
	publishCmd.Flags().BoolVar(&sign, "sign", false, "sign the publication with gpg")
	publishCmd.Flags().StringVar(&keyID, "keyid", "", "gpg key id for signing (default $GPG_KEYID)")
	publishCmd.Flags().StringVar(&passphrase, "passphrase", "", "gpg key passphrase (default $GPG_PASSPHRASE)")
	publishCmd.Flags().StringVar(&aptlyConfig, "aptly-config", "", "existing aptly config to adapt instead of a generated one")
	publishCmd.Flags().StringVar(&aptlyRoot, "aptly-root", "", "override the aptly root directory")
	publishCmd.Flags().BoolVar(&autoBump, "auto-bump", false, "skip .deb files whose exact filename is already published")
	_ = publishCmd.MarkFlagRequired("component")

	// Cleanup command flags
	cleanupCmd.Flags().StringVar(&repoPath, "repo-path", "", "path to the repository checkout (required)")
	cleanupCmd.Flags().BoolVar(&dryRun, "dry-run", true, "only report what would be deleted")
	cleanupCmd.Flags().BoolVar(&execute, "execute", false, "actually delete the candidates")
	cleanupCmd.Flags().IntVar(&maxAgeDays, "max-age-days", 90, "maximum age for pre-release packages")
	cleanupCmd.Flags().IntVar(&maxVersions, "max-versions", 0, "versions to keep per package (0 uses per-channel defaults)")
	cleanupCmd.Flags().StringVar(&channelList, "channels", "", "comma-separated channels to analyze (default all)")
	cleanupCmd.Flags().BoolVar(&includeStablePrereleases, "include-stable-prereleases", false, "also clean pre-releases from the stable channel")
	cleanupCmd.Flags().StringVar(&policyFile, "policy", "", "retention policy file (overrides the policy flags)")
	cleanupCmd.Flags().BoolVar(&jsonOutput, "json", false, "print the report as JSON")
	_ = cleanupCmd.MarkFlagRequired("repo-path")

	// Analyze command flags
	analyzeCmd.Flags().StringVar(&repoPath, "repo-path", "", "path to the repository checkout (required)")
	analyzeCmd.Flags().IntVar(&maxAgeDays, "max-age-days", 90, "maximum age for pre-release packages")
	analyzeCmd.Flags().IntVar(&maxVersions, "max-versions", 0, "versions to keep per package (0 uses per-channel defaults)")
	analyzeCmd.Flags().StringVar(&channelList, "channels", "", "comma-separated channels to analyze (default all)")
	analyzeCmd.Flags().BoolVar(&includeStablePrereleases, "include-stable-prereleases", false, "also flag pre-releases from the stable channel")
	analyzeCmd.Flags().StringVar(&policyFile, "policy", "", "retention policy file (overrides the policy flags)")
	analyzeCmd.Flags().BoolVar(&jsonOutput, "json", false, "print the analysis as JSON")
	analyzeCmd.Flags().StringVar(&outputFile, "output", "", "write the JSON report to a file")
	analyzeCmd.Flags().BoolVar(&githubOutput, "github-output", false, "append the summary to $GITHUB_OUTPUT")
	_ = analyzeCmd.MarkFlagRequired("repo-path")

	// Init-policy command flags
	initPolicyCmd.Flags().StringVar(&policyOutput, "output", "retention-policy.json", "where to write the policy file")

	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(initPolicyCmd)
	rootCmd.AddCommand(versionCmd)
}

func runPublish(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	opts := config.Publish{
		Component:   component,
		Distro:      distro,
		Channel:     config.Channel(channel),
		DebsDir:     debsDir,
		PagesRepo:   pagesRepo,
		Branch:      branch,
		Sign:        sign,
		KeyID:       keyID,
		Passphrase:  passphrase,
		AptlyConfig: aptlyConfig,
		AptlyRoot:   aptlyRoot,
		AutoBump:    autoBump,
	}

	var defaults *config.File
	if cfgFile != "" {
		logger.Info("loading configuration", "path", cfgFile)
		f, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		defaults = f
	}
	opts.Resolve(defaults)

	if err := opts.Validate(); err != nil {
		return err
	}

	run := runner.New(logger)
	gitClient := git.NewShellClient(run, "", "")
	mirror := rsync.NewShellClient(run)

	engine := publish.NewEngine(opts, run, gitClient, mirror, logger)
	if err := engine.Run(cmd.Context()); err != nil {
		logger.Error("publish failed", "error", err)
		return err
	}
	return nil
}

func runCleanup(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cleaner, channels, err := buildCleaner(logger)
	if err != nil {
		return err
	}

	packages, err := cleaner.Scan(channels)
	if err != nil {
		return err
	}
	prerelease, excess := cleaner.FindCandidates(packages)

	report := cleaner.Report(prerelease, excess)
	if jsonOutput {
		if err := report.WriteJSON(os.Stdout); err != nil {
			return err
		}
	} else {
		if err := report.WriteText(os.Stdout); err != nil {
			return err
		}
	}

	// Deletion is opt-in through --execute alone; --dry-run documents
	// the default and cannot enable deletion on its own.
	if !execute {
		_ = cleaner.Cleanup(prerelease, excess, true)
		fmt.Println("(dry run - no packages were deleted)")
		return nil
	}

	result := cleaner.Cleanup(prerelease, excess, false)
	fmt.Printf("Cleanup completed: %d packages deleted\n", len(result.Deleted))
	if len(result.Failed) > 0 {
		return fmt.Errorf("failed to delete %d packages", len(result.Failed))
	}
	return nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cleaner, channels, err := buildCleaner(logger)
	if err != nil {
		return err
	}

	packages, err := cleaner.Scan(channels)
	if err != nil {
		return err
	}
	prerelease, excess := cleaner.FindCandidates(packages)

	analysis := cleanup.NewAnalysis(packages, prerelease, excess, cleanup.AnalysisConfig{
		MaxAgeDays:               maxAgeDays,
		Channels:                 channels,
		IncludeStablePrereleases: includeStablePrereleases,
		MaxVersions:              maxVersions,
	})

	if jsonOutput {
		if err := analysis.WriteJSON(os.Stdout); err != nil {
			return err
		}
	} else {
		if err := analysis.WriteText(os.Stdout); err != nil {
			return err
		}
	}

	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("failed to create report file: %w", err)
		}
		werr := cleaner.Report(prerelease, excess).WriteJSON(f)
		if cerr := f.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			return fmt.Errorf("failed to write report file: %w", werr)
		}
		if !jsonOutput {
			fmt.Printf("Report saved to: %s\n", outputFile)
		}
	}

	if githubOutput {
		if path := os.Getenv("GITHUB_OUTPUT"); path != "" {
			if err := analysis.AppendGitHubOutput(path); err != nil {
				return err
			}
		}
	}
	return nil
}

func runInitPolicy(cmd *cobra.Command, args []string) error {
	if err := cleanup.DefaultPolicy().Save(policyOutput); err != nil {
		return err
	}
	fmt.Printf("Created retention policy configuration: %s\n", policyOutput)
	fmt.Println()
	fmt.Println("Edit this file to customize cleanup behavior.")
	return nil
}

func buildCleaner(logger *slog.Logger) (*cleanup.Cleaner, []string, error) {
	if _, err := os.Stat(repoPath); err != nil {
		return nil, nil, fmt.Errorf("repository path does not exist: %s", repoPath)
	}

	var policy cleanup.Policy
	if policyFile != "" {
		p, err := cleanup.LoadPolicy(policyFile)
		if err != nil {
			return nil, nil, err
		}
		policy = p
	} else {
		policy = cleanup.FlagPolicy(maxAgeDays, maxVersions, includeStablePrereleases)
	}

	cleaner, err := cleanup.NewCleaner(repoPath, policy, logger)
	if err != nil {
		return nil, nil, err
	}

	channels := []string{"stable", "testing", "pr"}
	if channelList != "" {
		channels = strings.Split(channelList, ",")
	}
	return cleaner, channels, nil
}

// legacyArgs rewrites an invocation that skips the subcommand but passes
// --component into a publish invocation.
func legacyArgs(args []string) []string {
	if len(args) < 2 {
		return args
	}

	known := map[string]bool{
		"publish": true, "cleanup": true, "analyze": true,
		"init-policy": true, "version": true, "help": true, "completion": true,
	}
	hasComponent := false
	for _, arg := range args[1:] {
		if !strings.HasPrefix(arg, "-") && known[arg] {
			return args
		}
		if arg == "--component" || strings.HasPrefix(arg, "--component=") {
			hasComponent = true
		}
	}
	if !hasComponent {
		return args
	}

	rewritten := make([]string, 0, len(args)+1)
	rewritten = append(rewritten, args[0], "publish")
	rewritten = append(rewritten, args[1:]...)
	return rewritten
}

func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
