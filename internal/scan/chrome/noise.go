package chrome

import (
	"fmt"

	"github.com/domainscout/engine/pkg/pattern"
)

// defaultNoisePatterns drop ad-tech hosts that show up on nearly every page
// and carry no signal about the scanned site. Custom patterns from config are
// appended, never substituted.
var defaultNoisePatterns = []string{
	"*doubleclick*",
	"*google*",
}

// NoiseFilter decides which observed hostnames are worth reporting.
type NoiseFilter struct {
	compiled []*pattern.Pattern
	sources  []string
}

// NewNoiseFilter compiles the default patterns plus any custom ones. An
// invalid custom pattern fails the whole filter so misconfiguration is
// caught at startup rather than silently skipped per scan.
func NewNoiseFilter(customPatterns []string) (*NoiseFilter, error) {
	all := make([]string, 0, len(defaultNoisePatterns)+len(customPatterns))
	all = append(all, defaultNoisePatterns...)
	all = append(all, customPatterns...)

	f := &NoiseFilter{
		compiled: make([]*pattern.Pattern, 0, len(all)),
		sources:  all,
	}
	for _, raw := range all {
		p, err := pattern.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("noise pattern %q: %w", raw, err)
		}
		f.compiled = append(f.compiled, p)
	}
	return f, nil
}

// IsNoise reports whether hostname matches any filter pattern.
func (f *NoiseFilter) IsNoise(hostname string) bool {
	for _, p := range f.compiled {
		if p.Match(hostname) {
			return true
		}
	}
	return false
}

// Patterns returns the pattern sources in effect, defaults first.
func (f *NoiseFilter) Patterns() []string {
	out := make([]string, len(f.sources))
	copy(out, f.sources)
	return out
}
