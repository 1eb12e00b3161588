package ipabuild

import (
	"fmt"
	"strings"
)

// lipoArchMarker precedes the architecture list in `lipo -info` output for fat files:
//
//	Architectures in the fat file: Foo are: armv7 x86_64 arm64
const lipoArchMarker = "are:"

// Inspector reports the architecture slices contained in a binary
type Inspector interface {
	Slices(path string) ([]string, error)
}

// LipoInspector lists slices by scraping `lipo -info`
type LipoInspector struct {
	Runner Runner
}

// Slices runs `lipo -info path` and parses its output.
// An unrecognized output format yields an empty result, not an error.
func (i *LipoInspector) Slices(path string) ([]string, error) {
	out, err := i.Runner.Output("lipo", "-info", path)
	if err != nil {
		return nil, err
	}
	return ParseLipoInfo(string(out)), nil
}

// ParseLipoInfo extracts the architectures listed after the "are:" marker,
// up to the end of that line, in order and without repeats. Returns nil if
// the marker is missing.
func ParseLipoInfo(text string) []string {
	idx := strings.Index(text, lipoArchMarker)
	if idx < 0 {
		return nil
	}

	rest := text[idx+len(lipoArchMarker):]
	if nl := strings.IndexAny(rest, "\r\n"); nl >= 0 {
		rest = rest[:nl]
	}

	var slices []string
	seen := make(map[string]bool)
	for _, slice := range strings.Fields(rest) {
		if !seen[slice] {
			seen[slice] = true
			slices = append(slices, slice)
		}
	}
	return slices
}

// Stripper removes architecture slices that are not allow-listed
type Stripper struct {
	Runner  Runner
	Allowed []string
}

// Strip removes every slice of path that is not in the allow-list, one
// `lipo -remove` invocation per slice, rewriting the binary in place.
// It returns the slices left in the binary.
func (s *Stripper) Strip(path string, slices []string) ([]string, error) {
	var remaining []string
	for _, slice := range slices {
		if s.allowed(slice) {
			remaining = append(remaining, slice)
			continue
		}
		if err := s.Runner.Run("lipo", "-remove", slice, "-output", path, path); err != nil {
			return nil, fmt.Errorf("failed to remove %s slice from %s: %w", slice, path, err)
		}
	}
	return remaining, nil
}

func (s *Stripper) allowed(slice string) bool {
	for _, a := range s.Allowed {
		if a == slice {
			return true
		}
	}
	return false
}
