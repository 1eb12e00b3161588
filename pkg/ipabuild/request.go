package ipabuild

import (
	"fmt"
	"time"
)

// BuildNumberLayout formats the UTC start time of a build as its build number
const BuildNumberLayout = "200601021504"

// Request is one build invocation. It is created once and not modified afterwards;
// every stage reads the same BuildNumber.
type Request struct {
	Kind        string // Build kind, selects a KindConfig
	Bootstrap   bool   // Re-resolve all pinned dependencies instead of updating
	BuildNumber string
}

// NewRequest creates a request whose build number is derived from now
func NewRequest(kind string, bootstrap bool, now time.Time) Request {
	return Request{
		Kind:        kind,
		Bootstrap:   bootstrap,
		BuildNumber: BuildNumber(now),
	}
}

// BuildNumber returns the build number for a build started at t
func BuildNumber(t time.Time) string {
	return t.UTC().Format(BuildNumberLayout)
}

// BuildName returns the base name shared by the archive and the packaged IPA
func (r Request) BuildName(product string) string {
	return fmt.Sprintf("%s-%s-%s", product, r.Kind, r.BuildNumber)
}
