package deb

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNormalizeComponent(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"My Project!!", "my-project"},
		{"feelpp", "feelpp"},
		{"Feel++", "feel"},
		{"a__b--c", "a-b-c"},
		{"---", ""},
		{"MMG 5.7", "mmg-5-7"},
	}

	for _, tc := range tests {
		if got := NormalizeComponent(tc.in); got != tc.want {
			t.Errorf("NormalizeComponent(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeComponentIdempotent(t *testing.T) {
	inputs := []string{"My Project!!", "feel++", "a b c", "already-normal", "UPPER_case.name"}
	for _, in := range inputs {
		once := NormalizeComponent(in)
		twice := NormalizeComponent(once)
		if once != twice {
			t.Errorf("normalization not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestParseFilename(t *testing.T) {
	tests := []struct {
		filename string
		want     FileInfo
		ok       bool
	}{
		{"mmg_5.7.2_amd64.deb", FileInfo{Name: "mmg", Version: "5.7.2", Arch: "amd64"}, true},
		{"libfoo-dev_1.0.0-1ubuntu1_arm64.deb", FileInfo{Name: "libfoo-dev", Version: "1.0.0-1ubuntu1", Arch: "arm64"}, true},
		{"not-a-deb.txt", FileInfo{}, false},
		{"missing-parts.deb", FileInfo{}, false},
	}

	for _, tc := range tests {
		got, ok := ParseFilename(tc.filename)
		if ok != tc.ok {
			t.Errorf("ParseFilename(%q) ok = %v, want %v", tc.filename, ok, tc.ok)
			continue
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("ParseFilename(%q) mismatch (-want +got):\n%s", tc.filename, diff)
		}
	}
}

func TestIsPrerelease(t *testing.T) {
	tests := []struct {
		version string
		want    bool
	}{
		{"1.2.0~beta3", true},
		{"2.0+git20240101", true},
		{"1.0~rc1", true},
		{"3.1~alpha", true},
		{"0.9~dev", true},
		{"1.2.0", false},
		{"2.0-1ubuntu1", false},
		{"5.7.2-2", false},
	}

	for _, tc := range tests {
		if got := IsPrerelease(tc.version); got != tc.want {
			t.Errorf("IsPrerelease(%q) = %v, want %v", tc.version, got, tc.want)
		}
	}
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int // sign only
	}{
		{"1.0", "2.0", -1},
		{"2.0", "1.0", 1},
		{"1.0", "1.0", 0},
		// tilde sorts before release, digit runs compare numerically
		{"1.0~rc1", "1.0", -1},
		{"1.10", "1.9", 1},
		{"1.0-1", "1.0-1ubuntu1", -1},
	}

	for _, tc := range tests {
		got := CompareVersions(tc.a, tc.b)
		if sign(got) != tc.want {
			t.Errorf("CompareVersions(%q, %q) = %d, want sign %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestSortVersionsNewestFirst(t *testing.T) {
	versions := []string{"1.0", "1.10", "1.2", "1.0~rc1", "2.0"}
	SortVersions(versions, true)

	want := []string{"2.0", "1.10", "1.2", "1.0", "1.0~rc1"}
	if diff := cmp.Diff(want, versions); diff != "" {
		t.Errorf("SortVersions mismatch (-want +got):\n%s", diff)
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}
