package tools

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultConcurrency is used when the caller does not request a cap.
const DefaultConcurrency = 3

// Backends that throttle aggressively and must be queried one at a time.
var defaultSerial = map[string]bool{
	"duckduckgo": true,
	"brave":      true,
	"arxiv":      true,
}

// Policy decides the effective concurrency for a named backend.
type Policy struct {
	serial map[string]bool
}

type policyFile struct {
	Backends map[string]struct {
		Serial *bool `yaml:"serial"`
	} `yaml:"backends"`
}

// DefaultPolicy returns the built-in policy.
func DefaultPolicy() *Policy {
	serial := make(map[string]bool, len(defaultSerial))
	for k, v := range defaultSerial {
		serial[k] = v
	}
	return &Policy{serial: serial}
}

// LoadPolicy reads overrides from a yaml file on top of the defaults:
//
//	backends:
//	  tavily:
//	    serial: true
//	  brave:
//	    serial: false
//
// An empty path yields the default policy.
func LoadPolicy(path string) (*Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read search policy %s: %w", path, err)
	}
	var f policyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse search policy %s: %w", path, err)
	}
	for name, b := range f.Backends {
		if b.Serial != nil {
			p.serial[normalizeName(name)] = *b.Serial
		}
	}
	return p, nil
}

// Concurrency returns the cap to use for backend name given the caller's
// requested value.
func (p *Policy) Concurrency(name string, requested int) int {
	if p == nil {
		p = DefaultPolicy()
	}
	if p.serial[normalizeName(name)] {
		return 1
	}
	if requested <= 0 {
		return DefaultConcurrency
	}
	return requested
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
