package ipabuild

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path"
	"regexp"
	"strings"
)

// cartfileEntry captures the last path segment before the closing quote, e.g.
// `github "adblockplus/libadblockplus-ios" ~> 1.0` yields "libadblockplus-ios".
// The match is greedy up to the last quote on the line, so an entry with a
// quoted branch such as `git "file:///a/b" "br"` yields `b" "br`. Release
// scripts built against this rule rely on the same names; keep it as is.
var cartfileEntry = regexp.MustCompile(`^.+/(.*)"`)

// ParseCartfile returns the framework names declared in a Carthage manifest.
// Comment lines and lines that do not look like a dependency are skipped.
// Names are normalized by replacing '-' with '_', matching the module names Carthage builds.
func ParseCartfile(r io.Reader) ([]string, error) {
	var names []string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}

		m := cartfileEntry.FindStringSubmatch(line)
		if m == nil || m[1] == "" {
			continue
		}
		names = append(names, strings.ReplaceAll(m[1], "-", "_"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	return names, nil
}

// FrameworkPaths maps framework names to the relative path of their binary,
// <name>.framework/<name>. Order and duplicates are preserved.
func FrameworkPaths(names []string) []string {
	paths := make([]string, 0, len(names))
	for _, name := range names {
		paths = append(paths, path.Join(name+".framework", name))
	}
	return paths
}

// DiscoverFrameworks reads the manifest at manifestPath and returns the
// relative binary paths of every declared framework
func DiscoverFrameworks(manifestPath string) ([]string, error) {
	f, err := os.Open(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()

	names, err := ParseCartfile(f)
	if err != nil {
		return nil, err
	}
	return FrameworkPaths(names), nil
}
