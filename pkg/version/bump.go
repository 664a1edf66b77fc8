package version

import (
	"fmt"
	"strings"

	"github.com/mwantia/opsreg/pkg/errs"
)

type BumpType int

const (
	BumpMajor BumpType = iota
	BumpMinor
	BumpPatch
	BumpPre
	BumpBuild
	BumpPreBuild
)

func (b BumpType) String() string {
	switch b {
	case BumpMajor:
		return "major"
	case BumpMinor:
		return "minor"
	case BumpPatch:
		return "patch"
	case BumpPre:
		return "pre"
	case BumpBuild:
		return "build"
	case BumpPreBuild:
		return "pre_build"
	default:
		return "unknown"
	}
}

// ParseBumpType accepts major, minor, patch, pre, build and pre_build.
func ParseBumpType(s string) (BumpType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "major":
		return BumpMajor, nil
	case "minor":
		return BumpMinor, nil
	case "patch":
		return BumpPatch, nil
	case "pre":
		return BumpPre, nil
	case "build":
		return BumpBuild, nil
	case "pre_build", "prebuild":
		return BumpPreBuild, nil
	default:
		return 0, fmt.Errorf("unknown bump type '%s': %w", s, errs.ErrInvalidArgument)
	}
}

// Bump derives the next version. Pre and build tags are dropped from the
// input and replaced by the given ones, which are validated by re-parsing.
func Bump(v Version, kind BumpType, pre, build string) (Version, error) {
	next := v.Core()

	switch kind {
	case BumpMajor:
		next.Major++
		next.Minor = 0
		next.Patch = 0
	case BumpMinor:
		next.Minor++
		next.Patch = 0
	case BumpPatch:
		next.Patch++
	case BumpPre, BumpBuild, BumpPreBuild:
		// keep the core, only the tags change
	default:
		return Version{}, fmt.Errorf("unknown bump type %d: %w", kind, errs.ErrInvalidArgument)
	}

	if kind == BumpPre && pre == "" || kind == BumpPreBuild && pre == "" {
		return Version{}, fmt.Errorf("bump '%s' requires a pre-release tag: %w", kind, errs.ErrInvalidArgument)
	}
	if kind == BumpBuild && build == "" || kind == BumpPreBuild && build == "" {
		return Version{}, fmt.Errorf("bump '%s' requires a build tag: %w", kind, errs.ErrInvalidArgument)
	}

	next.Pre = pre
	next.Build = build

	return Parse(next.String())
}
