package version

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mwantia/opsreg/pkg/errs"
)

type BoundsKind int

const (
	// BoundsAny matches every version.
	BoundsAny BoundsKind = iota
	// BoundsPrefix pins the first Parts components of Lower.
	BoundsPrefix
	// BoundsExact matches Lower including its pre-release tag.
	BoundsExact
	// BoundsRange matches Lower <= v and v.Core() < Upper.
	BoundsRange
)

// Bounds is a parsed version selector as used for registry lookups.
//
// Accepted forms: "" and "*" (any), "1" and "1.2" and "1.2.3" (component
// prefix), "1.*" and "1.2.x" (prefix), "1.2.3-rc.1" (exact), "~1.2" and
// "^1.2.3" (ranges).
type Bounds struct {
	Kind  BoundsKind
	Parts int
	Lower Version
	Upper Version
}

func ParseBounds(expr string) (Bounds, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" || expr == "*" || expr == "x" {
		return Bounds{Kind: BoundsAny}, nil
	}

	switch expr[0] {
	case '^':
		return parseCaret(expr[1:])
	case '~':
		return parseTilde(expr[1:])
	}

	if strings.ContainsAny(expr, "-+") {
		v, err := Parse(expr)
		if err != nil {
			return Bounds{}, err
		}
		return Bounds{Kind: BoundsExact, Parts: 3, Lower: v}, nil
	}

	parts, err := parseParts(strings.TrimRight(strings.TrimSuffix(strings.TrimSuffix(expr, ".*"), ".x"), "."))
	if err != nil {
		return Bounds{}, fmt.Errorf("invalid version selector '%s': %w", expr, err)
	}

	return Bounds{Kind: BoundsPrefix, Parts: len(parts), Lower: fromParts(parts)}, nil
}

func parseCaret(s string) (Bounds, error) {
	parts, err := parseParts(s)
	if err != nil {
		return Bounds{}, fmt.Errorf("invalid caret selector '^%s': %w", s, err)
	}

	lower := fromParts(parts)
	var upper Version
	switch {
	case lower.Major > 0 || len(parts) == 1:
		upper = Version{Major: lower.Major + 1}
	case lower.Minor > 0 || len(parts) == 2:
		upper = Version{Major: 0, Minor: lower.Minor + 1}
	default:
		upper = Version{Major: 0, Minor: 0, Patch: lower.Patch + 1}
	}

	return Bounds{Kind: BoundsRange, Parts: len(parts), Lower: lower, Upper: upper}, nil
}

func parseTilde(s string) (Bounds, error) {
	parts, err := parseParts(s)
	if err != nil {
		return Bounds{}, fmt.Errorf("invalid tilde selector '~%s': %w", s, err)
	}

	lower := fromParts(parts)
	upper := Version{Major: lower.Major, Minor: lower.Minor + 1}
	if len(parts) == 1 {
		upper = Version{Major: lower.Major + 1}
	}

	return Bounds{Kind: BoundsRange, Parts: len(parts), Lower: lower, Upper: upper}, nil
}

func parseParts(s string) ([]uint64, error) {
	fields := strings.Split(s, ".")
	if len(fields) == 0 || len(fields) > 3 {
		return nil, fmt.Errorf("expected 1 to 3 components: %w", errs.ErrInvalidArgument)
	}

	parts := make([]uint64, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("component '%s' is not a number: %w", f, errs.ErrInvalidArgument)
		}
		parts = append(parts, n)
	}
	return parts, nil
}

func fromParts(parts []uint64) Version {
	var v Version
	if len(parts) > 0 {
		v.Major = parts[0]
	}
	if len(parts) > 1 {
		v.Minor = parts[1]
	}
	if len(parts) > 2 {
		v.Patch = parts[2]
	}
	return v
}

// Match reports whether v satisfies the selector.
func (b Bounds) Match(v Version) bool {
	switch b.Kind {
	case BoundsAny:
		return true
	case BoundsPrefix:
		if b.Parts > 0 && v.Major != b.Lower.Major {
			return false
		}
		if b.Parts > 1 && v.Minor != b.Lower.Minor {
			return false
		}
		if b.Parts > 2 && v.Patch != b.Lower.Patch {
			return false
		}
		return true
	case BoundsExact:
		return Compare(v, b.Lower) == 0
	case BoundsRange:
		return Compare(v, b.Lower) >= 0 && compareCore(v.Core(), b.Upper) < 0
	default:
		return false
	}
}

// Pinned returns the leading components every match shares, which lets
// the registry narrow queries on indexed columns before Match runs.
func (b Bounds) Pinned() []uint64 {
	var pinned []uint64
	switch b.Kind {
	case BoundsPrefix, BoundsExact:
		all := []uint64{b.Lower.Major, b.Lower.Minor, b.Lower.Patch}
		pinned = all[:b.Parts]
	case BoundsRange:
		lo, up := b.Lower, b.Upper
		switch {
		case up.Major == lo.Major+1 && up.Minor == 0 && up.Patch == 0:
			pinned = []uint64{lo.Major}
		case up.Major == lo.Major && up.Minor == lo.Minor+1 && up.Patch == 0:
			pinned = []uint64{lo.Major, lo.Minor}
		case up.Major == lo.Major && up.Minor == lo.Minor:
			pinned = []uint64{lo.Major, lo.Minor, lo.Patch}
		}
	}
	return pinned
}

// Complete turns a prefix selector into a concrete version, which is the
// starting point when no registered version matches yet.
func (b Bounds) Complete() Version {
	if b.Kind == BoundsAny {
		return Version{Minor: 1}
	}
	return b.Lower
}
