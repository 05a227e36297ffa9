// Package cleanup scans a published APT tree and removes packages per a
// retention policy: stale pre-releases and excess versions beyond a
// per-channel limit. Deletion only touches the pool; regenerating the
// release metadata afterwards is the publisher's job.
package cleanup

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/feelpp/apt/internal/deb"
)

// Package is one scanned .deb file in the published pool.
type Package struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	Arch       string `json:"arch"`
	Channel    string `json:"channel"`
	Component  string `json:"component"`
	Path       string `json:"path"`
	Size       int64  `json:"size"`
	AgeDays    int    `json:"age_days"`
	Prerelease bool   `json:"is_prerelease"`
}

// Failure records one package the cleaner could not delete.
type Failure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Result is the outcome of one cleanup pass.
type Result struct {
	DryRun  bool      `json:"dry_run"`
	Deleted []string  `json:"deleted"`
	Failed  []Failure `json:"failed"`
}

// Cleaner applies a retention policy to a published tree rooted at a
// local checkout of the pages branch.
type Cleaner struct {
	root      string
	policy    Policy
	protected []*regexp.Regexp
	logger    *slog.Logger
	now       func() time.Time
}

// NewCleaner creates a Cleaner for the repository checkout at root. The
// policy's protected package patterns are compiled up front so a bad
// pattern fails before anything is scanned.
func NewCleaner(root string, policy Policy, logger *slog.Logger) (*Cleaner, error) {
	protected := make([]*regexp.Regexp, 0, len(policy.ProtectedPackages))
	for _, pattern := range policy.ProtectedPackages {
		re, err := regexp.Compile("^(?:" + pattern + ")")
		if err != nil {
			return nil, fmt.Errorf("invalid protected package pattern %q: %w", pattern, err)
		}
		protected = append(protected, re)
	}
	return &Cleaner{
		root:      root,
		policy:    policy,
		protected: protected,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Scan walks the given channels' pool directories and parses every .deb
// it finds. Unparseable filenames are skipped with a warning. A channel
// without a pool directory is simply empty.
func (c *Cleaner) Scan(channels []string) ([]Package, error) {
	var packages []Package

	for _, channel := range channels {
		poolDir := filepath.Join(c.root, channel, "pool")
		if _, err := os.Stat(poolDir); err != nil {
			c.logger.Debug("channel has no pool directory", "channel", channel)
			continue
		}

		err := filepath.WalkDir(poolDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(d.Name(), ".deb") {
				return nil
			}

			info, ok := deb.ParseFilename(d.Name())
			if !ok {
				c.logger.Warn("could not parse package filename", "file", d.Name())
				return nil
			}

			rel, err := filepath.Rel(poolDir, path)
			if err != nil {
				return err
			}
			component := "unknown"
			if parts := strings.SplitN(rel, string(filepath.Separator), 2); len(parts) == 2 {
				component = parts[0]
			}

			stat, err := os.Stat(path)
			if err != nil {
				return err
			}

			packages = append(packages, Package{
				Name:       info.Name,
				Version:    info.Version,
				Arch:       info.Arch,
				Channel:    channel,
				Component:  component,
				Path:       path,
				Size:       stat.Size(),
				AgeDays:    int(c.now().Sub(stat.ModTime()).Hours() / 24),
				Prerelease: deb.IsPrerelease(info.Version),
			})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s pool: %w", channel, err)
		}
	}

	c.logger.Info("scanned packages", "count", len(packages), "channels", len(channels))
	return packages, nil
}

type groupKey struct {
	channel, component, name, arch string
}

// FindCandidates classifies scanned packages into stale pre-releases and
// versions beyond a channel's retention limit. A package counted as a
// pre-release candidate is never also counted as an excess version.
func (c *Cleaner) FindCandidates(packages []Package) (prerelease, excess []Package) {
	groups := make(map[groupKey][]Package)
	for _, pkg := range packages {
		key := groupKey{pkg.Channel, pkg.Component, pkg.Name, pkg.Arch}
		groups[key] = append(groups[key], pkg)
	}

	keys := make([]groupKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.channel != b.channel {
			return a.channel < b.channel
		}
		if a.component != b.component {
			return a.component < b.component
		}
		if a.name != b.name {
			return a.name < b.name
		}
		return a.arch < b.arch
	})

	flagged := make(map[string]bool)

	for _, key := range keys {
		group := groups[key]
		keepPrereleases, maxVersions, maxAgeDays := c.policy.channelPolicy(key.channel)

		if c.isProtectedComponent(key.component) {
			c.logger.Debug("skipping protected component", "component", key.component)
			continue
		}
		if c.isProtectedPackage(key.name) {
			c.logger.Debug("skipping protected package", "package", key.name)
			continue
		}

		if !keepPrereleases {
			for _, pkg := range group {
				if pkg.Prerelease && pkg.AgeDays > maxAgeDays {
					prerelease = append(prerelease, pkg)
					flagged[pkg.Path] = true
					c.logger.Debug("pre-release candidate",
						"package", pkg.Name, "version", pkg.Version, "age_days", pkg.AgeDays)
				}
			}
		}

		if maxVersions > 0 && len(group) > maxVersions {
			sorted := append([]Package(nil), group...)
			sort.SliceStable(sorted, func(i, j int) bool {
				return deb.CompareVersions(sorted[i].Version, sorted[j].Version) > 0
			})
			for _, pkg := range sorted[maxVersions:] {
				if flagged[pkg.Path] {
					continue
				}
				excess = append(excess, pkg)
				c.logger.Debug("version limit candidate",
					"package", pkg.Name, "version", pkg.Version, "keeping", maxVersions)
			}
		}
	}

	c.logger.Info("classified cleanup candidates",
		"prerelease", len(prerelease), "version_limit", len(excess))
	return prerelease, excess
}

// Cleanup deletes the candidate packages, or with dryRun just reports what
// would go. After each deletion, parent directories emptied by it are
// pruned up to (not including) the repository root.
func (c *Cleaner) Cleanup(prerelease, excess []Package, dryRun bool) Result {
	result := Result{DryRun: dryRun, Deleted: []string{}, Failed: []Failure{}}

	for _, pkg := range dedupe(prerelease, excess) {
		if dryRun {
			c.logger.Info("would delete", "path", pkg.Path)
			result.Deleted = append(result.Deleted, pkg.Path)
			continue
		}

		if err := os.Remove(pkg.Path); err != nil {
			c.logger.Error("failed to delete package", "path", pkg.Path, "error", err)
			result.Failed = append(result.Failed, Failure{Path: pkg.Path, Error: err.Error()})
			continue
		}
		c.logger.Info("deleted package", "path", pkg.Path)
		result.Deleted = append(result.Deleted, pkg.Path)
		c.pruneEmptyParents(pkg.Path)
	}

	return result
}

// dedupe unions the two candidate lists, keeping the first occurrence of
// each path.
func dedupe(prerelease, excess []Package) []Package {
	seen := make(map[string]bool)
	union := make([]Package, 0, len(prerelease)+len(excess))
	for _, pkg := range append(append([]Package(nil), prerelease...), excess...) {
		if seen[pkg.Path] {
			continue
		}
		seen[pkg.Path] = true
		union = append(union, pkg)
	}
	return union
}

func (c *Cleaner) pruneEmptyParents(path string) {
	prefix := c.root + string(filepath.Separator)
	for dir := filepath.Dir(path); dir != c.root && strings.HasPrefix(dir, prefix); dir = filepath.Dir(dir) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		c.logger.Debug("removed empty directory", "path", dir)
	}
}

func (c *Cleaner) isProtectedComponent(component string) bool {
	for _, protected := range c.policy.ProtectedComponents {
		if component == protected {
			return true
		}
	}
	return false
}

func (c *Cleaner) isProtectedPackage(name string) bool {
	for _, re := range c.protected {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}
