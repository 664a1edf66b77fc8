package version

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/mwantia/opsreg/pkg/errs"
)

// Version is a parsed semantic version. Pre and Build are empty when absent.
type Version struct {
	Major uint64 `json:"major" yaml:"major"`
	Minor uint64 `json:"minor" yaml:"minor"`
	Patch uint64 `json:"patch" yaml:"patch"`
	Pre   string `json:"pre,omitempty"   yaml:"pre,omitempty"`
	Build string `json:"build,omitempty" yaml:"build,omitempty"`
}

// Parse parses a full major.minor.patch[-pre][+build] string.
func Parse(s string) (Version, error) {
	sv, err := semver.StrictNewVersion(strings.TrimSpace(s))
	if err != nil {
		return Version{}, fmt.Errorf("invalid version '%s': %v: %w", s, err, errs.ErrInvalidArgument)
	}

	return Version{
		Major: sv.Major(),
		Minor: sv.Minor(),
		Patch: sv.Patch(),
		Pre:   sv.Prerelease(),
		Build: sv.Metadata(),
	}, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Version) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Pre != "" {
		s += "-" + v.Pre
	}
	if v.Build != "" {
		s += "+" + v.Build
	}
	return s
}

// Core returns the version without pre-release and build tags.
func (v Version) Core() Version {
	return Version{Major: v.Major, Minor: v.Minor, Patch: v.Patch}
}

// IsPrerelease reports whether a pre-release tag is present.
func (v Version) IsPrerelease() bool {
	return v.Pre != ""
}

// Compare orders two versions by precedence and returns -1, 0 or 1.
//
// Major, minor and patch compare numerically. A release outranks the same
// core carrying a pre-release tag, and pre-release tags compare
// lexicographically. Build tags carry no precedence.
func Compare(a, b Version) int {
	if c := compareCore(a, b); c != 0 {
		return c
	}

	switch {
	case a.Pre == b.Pre:
		return 0
	case a.Pre == "":
		return 1
	case b.Pre == "":
		return -1
	case a.Pre < b.Pre:
		return -1
	default:
		return 1
	}
}

func compareCore(a, b Version) int {
	for _, pair := range [3][2]uint64{{a.Major, b.Major}, {a.Minor, b.Minor}, {a.Patch, b.Patch}} {
		if pair[0] < pair[1] {
			return -1
		}
		if pair[0] > pair[1] {
			return 1
		}
	}
	return 0
}

// Sort orders versions by precedence; ties keep their input order.
func Sort(versions []Version, descending bool) {
	sort.SliceStable(versions, func(i, j int) bool {
		if descending {
			return Compare(versions[i], versions[j]) > 0
		}
		return Compare(versions[i], versions[j]) < 0
	})
}

// SortStrings parses and sorts version strings.
func SortStrings(versions []string, descending bool) ([]string, error) {
	parsed := make([]Version, 0, len(versions))
	for _, s := range versions {
		v, err := Parse(s)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, v)
	}

	Sort(parsed, descending)

	result := make([]string, 0, len(parsed))
	for _, v := range parsed {
		result = append(result, v.String())
	}
	return result, nil
}
