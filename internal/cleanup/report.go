package cleanup

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
)

// Summary aggregates a cleanup candidate set.
type Summary struct {
	TotalCandidates        int     `json:"total_candidates"`
	PrereleaseCandidates   int     `json:"prerelease_candidates"`
	VersionLimitCandidates int     `json:"version_limit_candidates"`
	TotalSizeBytes         int64   `json:"total_size_bytes"`
	TotalSizeMB            float64 `json:"total_size_mb"`
}

// Report is the cleanup command's analysis output.
type Report struct {
	Summary     Summary              `json:"summary"`
	ByChannel   map[string][]Package `json:"by_channel"`
	Policy      Policy               `json:"policy"`
	GeneratedAt time.Time            `json:"generated_at"`
}

// Report builds the cleanup report for the given candidate lists.
func (c *Cleaner) Report(prerelease, excess []Package) Report {
	candidates := dedupe(prerelease, excess)

	var totalSize int64
	byChannel := make(map[string][]Package)
	for _, pkg := range candidates {
		totalSize += pkg.Size
		byChannel[pkg.Channel] = append(byChannel[pkg.Channel], pkg)
	}

	return Report{
		Summary: Summary{
			TotalCandidates:        len(candidates),
			PrereleaseCandidates:   len(prerelease),
			VersionLimitCandidates: len(excess),
			TotalSizeBytes:         totalSize,
			TotalSizeMB:            megabytes(totalSize),
		},
		ByChannel:   byChannel,
		Policy:      c.policy,
		GeneratedAt: c.now().UTC(),
	}
}

// WriteJSON renders the report as indented JSON.
func (r Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteText renders the report for humans, one table per channel.
func (r Report) WriteText(w io.Writer) error {
	fmt.Fprintln(w, "APT repository cleanup analysis")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Total candidates:     %d\n", r.Summary.TotalCandidates)
	fmt.Fprintf(w, "  Pre-release packages: %d\n", r.Summary.PrereleaseCandidates)
	fmt.Fprintf(w, "  Version limit excess: %d\n", r.Summary.VersionLimitCandidates)
	fmt.Fprintf(w, "  Space to reclaim:     %.2f MB\n", r.Summary.TotalSizeMB)
	fmt.Fprintln(w)

	channels := make([]string, 0, len(r.ByChannel))
	for channel := range r.ByChannel {
		channels = append(channels, channel)
	}
	sort.Strings(channels)

	for _, channel := range channels {
		pkgs := r.ByChannel[channel]
		if len(pkgs) == 0 {
			continue
		}
		sort.Slice(pkgs, func(i, j int) bool {
			if pkgs[i].Name != pkgs[j].Name {
				return pkgs[i].Name < pkgs[j].Name
			}
			return pkgs[i].Version < pkgs[j].Version
		})

		fmt.Fprintf(w, "[%s] (%d packages)\n", strings.ToUpper(channel), len(pkgs))
		if err := writePackageTable(w, pkgs); err != nil {
			return err
		}
		fmt.Fprintln(w)
	}
	return nil
}

// AnalysisConfig echoes the analyze command's effective settings.
type AnalysisConfig struct {
	MaxAgeDays               int      `json:"max_age_days"`
	Channels                 []string `json:"channels"`
	IncludeStablePrereleases bool     `json:"include_stable_prereleases"`
	MaxVersions              int      `json:"max_versions"`
}

// AnalysisSummary carries the repository-wide statistics the CI pipeline
// consumes.
type AnalysisSummary struct {
	TotalPackages          int     `json:"total_packages"`
	TotalSizeMB            float64 `json:"total_size_mb"`
	CleanupCandidates      int     `json:"cleanup_candidates"`
	CleanupSizeMB          float64 `json:"cleanup_size_mb"`
	VersionLimitCandidates int     `json:"version_limit_candidates"`
}

// Analysis is the analyze command's output.
type Analysis struct {
	Summary                AnalysisSummary `json:"summary"`
	CleanupCandidates      []Package       `json:"cleanup_candidates"`
	VersionLimitCandidates []Package       `json:"version_limit_candidates"`
	Config                 AnalysisConfig  `json:"config"`
}

// NewAnalysis builds the analyze output from a scan and its
// classification.
func NewAnalysis(packages, prerelease, excess []Package, cfg AnalysisConfig) Analysis {
	var totalSize, cleanupSize int64
	for _, pkg := range packages {
		totalSize += pkg.Size
	}
	for _, pkg := range prerelease {
		cleanupSize += pkg.Size
	}

	if prerelease == nil {
		prerelease = []Package{}
	}
	if excess == nil {
		excess = []Package{}
	}

	return Analysis{
		Summary: AnalysisSummary{
			TotalPackages:          len(packages),
			TotalSizeMB:            megabytes(totalSize),
			CleanupCandidates:      len(prerelease),
			CleanupSizeMB:          megabytes(cleanupSize),
			VersionLimitCandidates: len(excess),
		},
		CleanupCandidates:      prerelease,
		VersionLimitCandidates: excess,
		Config:                 cfg,
	}
}

// WriteJSON renders the analysis as indented JSON.
func (a Analysis) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(a)
}

// WriteText renders the analysis for humans.
func (a Analysis) WriteText(w io.Writer) error {
	fmt.Fprintln(w, "APT repository cleanup analysis")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Configuration:")
	fmt.Fprintf(w, "  Max age for pre-releases:    %d days\n", a.Config.MaxAgeDays)
	fmt.Fprintf(w, "  Channels analyzed:           %s\n", strings.Join(a.Config.Channels, ", "))
	fmt.Fprintf(w, "  Include stable pre-releases: %t\n", a.Config.IncludeStablePrereleases)
	if a.Config.MaxVersions > 0 {
		fmt.Fprintf(w, "  Max versions per package:    %d\n", a.Config.MaxVersions)
	} else {
		fmt.Fprintf(w, "  Max versions per package:    unlimited\n")
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Repository statistics:")
	fmt.Fprintf(w, "  Total packages: %d\n", a.Summary.TotalPackages)
	fmt.Fprintf(w, "  Total size:     %.2f MB\n", a.Summary.TotalSizeMB)
	fmt.Fprintln(w)

	if len(a.CleanupCandidates) > 0 {
		fmt.Fprintf(w, "Pre-release packages to clean (%d packages, %.2f MB):\n",
			len(a.CleanupCandidates), a.Summary.CleanupSizeMB)
		if err := writePackageTable(w, a.CleanupCandidates); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(w, "No pre-release packages found matching cleanup criteria.")
	}

	if len(a.VersionLimitCandidates) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Excess versions to clean (%d packages):\n", len(a.VersionLimitCandidates))
		if err := writePackageTable(w, a.VersionLimitCandidates); err != nil {
			return err
		}
	}
	return nil
}

// AppendGitHubOutput appends the analysis summary in the key=value format
// GitHub Actions reads from $GITHUB_OUTPUT.
func (a Analysis) AppendGitHubOutput(path string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open github output file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	_, err = fmt.Fprintf(f, "total_packages=%d\ncleanup_count=%d\ncleanup_size_mb=%v\nversion_limit_count=%d\n",
		a.Summary.TotalPackages,
		a.Summary.CleanupCandidates,
		a.Summary.CleanupSizeMB,
		a.Summary.VersionLimitCandidates)
	if err != nil {
		return fmt.Errorf("failed to write github output: %w", err)
	}
	return nil
}

func writePackageTable(w io.Writer, pkgs []Package) error {
	table := tablewriter.NewTable(w,
		tablewriter.WithConfig(tablewriter.Config{
			Header: tw.CellConfig{
				Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
				Formatting: tw.CellFormatting{AutoFormat: tw.Off},
			},
			Row: tw.CellConfig{
				Alignment: tw.CellAlignment{Global: tw.AlignLeft},
			},
		}),
		tablewriter.WithHeader([]string{"Package", "Version", "Arch", "Channel", "Component", "Age (days)", "Size (KB)"}),
		tablewriter.WithRenderer(renderer.NewBlueprint()),
	)
	for _, pkg := range pkgs {
		_ = table.Append([]string{
			pkg.Name,
			pkg.Version,
			pkg.Arch,
			pkg.Channel,
			pkg.Component,
			fmt.Sprintf("%d", pkg.AgeDays),
			fmt.Sprintf("%.1f", float64(pkg.Size)/1024),
		})
	}
	return table.Render()
}

func megabytes(bytes int64) float64 {
	return math.Round(float64(bytes)/(1024*1024)*100) / 100
}
