// Package catalog assembles one frozen capability registry per effect group
// from named model families.
package catalog

import (
	"fmt"
	"sort"

	"github.com/dyluth/effectd/pkg/capability"
	"github.com/dyluth/effectd/pkg/model/curve"
	"github.com/dyluth/effectd/pkg/model/ensemble"
	"github.com/dyluth/effectd/pkg/model/linear"
	"github.com/dyluth/effectd/pkg/model/numeric"
	"github.com/dyluth/effectd/pkg/model/tree"
)

// Family is a named set of types that are admitted together.
type Family struct {
	Name     string
	Requires []string
	Entries  func() []capability.Entry
}

var families = map[string]Family{
	"numeric": {
		Name:    "numeric",
		Entries: numeric.Entries,
	},
	"forest": {
		Name:     "forest",
		Requires: []string{"numeric"},
		Entries: func() []capability.Entry {
			return []capability.Entry{
				tree.Entry(),
				tree.RegressorEntry(tree.KindDecision),
				ensemble.Entry(ensemble.KindRandomForest),
			}
		},
	},
	"extratrees": {
		Name:     "extratrees",
		Requires: []string{"numeric"},
		Entries: func() []capability.Entry {
			return []capability.Entry{
				tree.Entry(),
				tree.RegressorEntry(tree.KindExtra),
				ensemble.Entry(ensemble.KindExtraTrees),
			}
		},
	},
	"linear": {
		Name:     "linear",
		Requires: []string{"numeric"},
		Entries:  linear.Entries,
	},
	"curve": {
		Name:     "curve",
		Requires: []string{"numeric"},
		Entries:  curve.Entries,
	},
}

// FamilyNames returns the known family names, sorted.
func FamilyNames() []string {
	names := make([]string, 0, len(families))
	for name := range families {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultGroups returns the group to family mapping used when configuration
// does not name any groups.
func DefaultGroups() map[string][]string {
	return map[string][]string{
		"energy":           {"forest"},
		"rdt":              {"extratrees"},
		"scaling":          {"extratrees", "curve"},
		"vertical_scaling": {"curve"},
	}
}

// Catalog holds one frozen registry per group.
type Catalog struct {
	registries map[string]*capability.Registry
}

// New builds and freezes a registry for each group.
// Families pull in the families they require.
func New(groups map[string][]string) (*Catalog, error) {
	if len(groups) == 0 {
		return nil, fmt.Errorf("no effect groups configured")
	}

	c := &Catalog{registries: make(map[string]*capability.Registry, len(groups))}
	for group, names := range groups {
		if len(names) == 0 {
			return nil, fmt.Errorf("group %q admits no model families", group)
		}

		reg := capability.NewRegistry()
		visited := make(map[string]bool)
		for _, name := range names {
			if err := register(reg, name, visited); err != nil {
				return nil, fmt.Errorf("group %q: %w", group, err)
			}
		}
		reg.Freeze()
		c.registries[group] = reg
	}
	return c, nil
}

func register(reg *capability.Registry, name string, visited map[string]bool) error {
	if visited[name] {
		return nil
	}
	visited[name] = true

	f, ok := families[name]
	if !ok {
		return fmt.Errorf("unknown model family %q (known: %v)", name, FamilyNames())
	}
	for _, dep := range f.Requires {
		if err := register(reg, dep, visited); err != nil {
			return err
		}
	}
	return reg.RegisterEntries(f.Entries())
}

// Registry returns the frozen registry of a group.
func (c *Catalog) Registry(group string) (*capability.Registry, bool) {
	reg, ok := c.registries[group]
	return reg, ok
}

// Groups returns the configured group names, sorted.
func (c *Catalog) Groups() []string {
	names := make([]string, 0, len(c.registries))
	for name := range c.registries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
