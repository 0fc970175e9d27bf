package graph

import (
	"fmt"

	"golang.org/x/mod/semver"
)

// ChangeLevel is the significance of a graph mutation.
type ChangeLevel int32

const (
	ChangeNone ChangeLevel = iota
	// ChangePatch covers confidence-only updates.
	ChangePatch
	// ChangeMinor covers new nodes, edges, alternative selectors and recovery strategies.
	ChangeMinor
	// ChangeMajor covers removed nodes or edges.
	ChangeMajor
)

func (c ChangeLevel) String() string {
	switch c {
	case ChangePatch:
		return "patch"
	case ChangeMinor:
		return "minor"
	case ChangeMajor:
		return "major"
	default:
		return "none"
	}
}

// Version is a semantic version of a workflow graph.
type Version struct {
	Major int
	Minor int
	Patch int
}

// ParseVersion parses "MAJOR.MINOR.PATCH" (a leading "v" is accepted).
func ParseVersion(s string) (Version, error) {
	if s == "" {
		return Version{}, nil
	}
	canonical := s
	if canonical[0] != 'v' {
		canonical = "v" + canonical
	}
	if !semver.IsValid(canonical) || semver.Canonical(canonical) != canonical || semver.Prerelease(canonical) != "" {
		return Version{}, fmt.Errorf("graph: invalid version %q", s)
	}
	var v Version
	if _, err := fmt.Sscanf(canonical, "v%d.%d.%d", &v.Major, &v.Minor, &v.Patch); err != nil {
		return Version{}, fmt.Errorf("graph: invalid version %q: %w", s, err)
	}
	return v, nil
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1, 0 or +1 as v is less than, equal to, or greater than o.
func (v Version) Compare(o Version) int {
	return semver.Compare("v"+v.String(), "v"+o.String())
}

// Bump returns v advanced by level.
func (v Version) Bump(level ChangeLevel) Version {
	switch level {
	case ChangeMajor:
		return Version{Major: v.Major + 1}
	case ChangeMinor:
		return Version{Major: v.Major, Minor: v.Minor + 1}
	case ChangePatch:
		return Version{Major: v.Major, Minor: v.Minor, Patch: v.Patch + 1}
	default:
		return v
	}
}

// MarshalText implements encoding.TextMarshaler.
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Version) UnmarshalText(b []byte) error {
	parsed, err := ParseVersion(string(b))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
