package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Catalog holds RuleSets for several game versions, keyed by ruleset_version.
// The RuleSets themselves are immutable; only the index is locked.
type Catalog struct {
	mu       sync.RWMutex
	versions map[string]*RuleSet
	fallback string
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		versions: make(map[string]*RuleSet),
	}
}

// Add registers rs under its version. The first RuleSet added becomes the
// fallback for sessions that carry no version.
func (c *Catalog) Add(rs *RuleSet) error {
	if rs == nil {
		return fmt.Errorf("nil ruleset")
	}
	version := strings.TrimSpace(rs.Version())
	if version == "" {
		return fmt.Errorf("ruleset has no %s", KeyVersion)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.versions[version]; exists {
		return fmt.Errorf("duplicate ruleset version %q", version)
	}
	c.versions[version] = rs
	if c.fallback == "" {
		c.fallback = version
	}
	return nil
}

// LoadDir adds every *.json file in dir.
func (c *Catalog) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read rules dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			continue
		}
		rs, err := LoadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return fmt.Errorf("%s: %w", e.Name(), err)
		}
		if err := c.Add(rs); err != nil {
			return fmt.Errorf("%s: %w", e.Name(), err)
		}
	}
	return nil
}

// SetFallback selects the version used when a lookup names no version.
func (c *Catalog) SetFallback(version string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.versions[version]; !ok {
		return &UnknownRuleError{Version: version, Keys: []string{KeyVersion}}
	}
	c.fallback = version
	return nil
}

// Get returns the RuleSet for version, or the fallback when version is empty.
func (c *Catalog) Get(version string) (*RuleSet, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	version = strings.TrimSpace(version)
	if version == "" {
		version = c.fallback
	}
	rs, ok := c.versions[version]
	if !ok {
		return nil, &UnknownRuleError{Version: version, Keys: []string{KeyVersion}}
	}
	return rs, nil
}

// Versions returns all registered versions, sorted.
func (c *Catalog) Versions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.versions))
	for v := range c.versions {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of registered versions.
func (c *Catalog) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.versions)
}
