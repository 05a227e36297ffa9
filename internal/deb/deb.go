package deb

import (
	"regexp"
	"sort"
	"strings"

	"pault.ag/go/debian/version"
)

// prereleasePatterns are the Debian versioning conventions that mark a
// package version as non-final.
var prereleasePatterns = []string{
	`~alpha\d*`,
	`~beta\d*`,
	`~rc\d*`,
	`~pre\d*`,
	`~dev`,
	`~git\d*`,
	`~svn\d*`,
	`~bzr\d*`,
	`\+git\d{8}`,
	`\+svn\d+`,
	`alpha\d+`,
	`beta\d+`,
	`rc\d+`,
	`\.0~`,
}

var (
	prereleaseRe   = regexp.MustCompile(`(?i)` + strings.Join(prereleasePatterns, "|"))
	filenameRe     = regexp.MustCompile(`^(.+)_([^_]+)_([^_]+)\.deb$`)
	nonComponentRe = regexp.MustCompile(`[^a-z0-9]+`)
)

// FileInfo is the result of parsing a Debian package filename.
type FileInfo struct {
	Name    string
	Version string
	Arch    string
}

// ParseFilename splits a "name_version_arch.deb" filename. It returns
// ok=false for filenames that do not follow the convention; callers skip
// those with a warning rather than failing.
func ParseFilename(filename string) (FileInfo, bool) {
	m := filenameRe.FindStringSubmatch(filename)
	if m == nil {
		return FileInfo{}, false
	}
	return FileInfo{Name: m[1], Version: m[2], Arch: m[3]}, true
}

// NormalizeComponent lowers the name and collapses every run of characters
// outside [a-z0-9] into a single hyphen, trimming leading and trailing
// hyphens. The result is stable under repeated normalization.
func NormalizeComponent(s string) string {
	s = strings.ToLower(s)
	s = nonComponentRe.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// IsPrerelease reports whether a version string matches any of the known
// pre-release conventions.
func IsPrerelease(v string) bool {
	return prereleaseRe.MatchString(v)
}

// CompareVersions orders two Debian version strings per Debian policy
// (tilde before everything, numeric runs compared as numbers). Versions
// that fail to parse fall back to plain string comparison, matching the
// behavior when dpkg is unavailable.
func CompareVersions(a, b string) int {
	va, errA := version.Parse(a)
	vb, errB := version.Parse(b)
	if errA != nil || errB != nil {
		return strings.Compare(a, b)
	}
	return version.Compare(va, vb)
}

// SortVersions sorts version strings in place, oldest first by default or
// newest first when newestFirst is set.
func SortVersions(versions []string, newestFirst bool) {
	sort.SliceStable(versions, func(i, j int) bool {
		c := CompareVersions(versions[i], versions[j])
		if newestFirst {
			return c > 0
		}
		return c < 0
	})
}
