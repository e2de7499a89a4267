package catalog

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// catalogFile is the on-disk layout of one catalog document.
// A document may carry templates, units, or both.
type catalogFile struct {
	Templates []*Template `yaml:"templates"`
	Units     []*WorkUnit `yaml:"units"`
	Hooks     []*Hook     `yaml:"hooks"`
}

var validClasses = map[string]bool{
	"implement": true,
	"validate":  true,
	"document":  true,
	"review":    true,
	"ship":      true,
}

var validGateTypes = map[string]bool{
	"human":       true,
	"auto":        true,
	"conditional": true,
}

// Load reads every *.yaml document under dir and builds the catalog.
// Unknown YAML fields are rejected so template typos fail loudly.
func Load(fs afero.Fs, dir string) (*Catalog, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, fmt.Errorf("catalog: read dir: %w", err)
	}

	c := &Catalog{
		Templates: make(map[string]*Template),
		Units:     make(map[string]*WorkUnit),
		Hooks:     make(map[string]*Hook),
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := afero.ReadFile(fs, path)
		if err != nil {
			return nil, fmt.Errorf("catalog: read %s: %w", path, err)
		}
		if err := c.mergeDocument(data, path); err != nil {
			return nil, err
		}
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) mergeDocument(data []byte, path string) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true) // Fail on unknown fields
	var doc catalogFile
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("catalog: parse %s: %w", path, err)
	}

	for _, tpl := range doc.Templates {
		if tpl.ID == "" {
			return fmt.Errorf("catalog: %s: template without id", path)
		}
		if _, dup := c.Templates[tpl.ID]; dup {
			return fmt.Errorf("catalog: duplicate template id %q", tpl.ID)
		}
		c.Templates[tpl.ID] = tpl
	}
	for _, unit := range doc.Units {
		if unit.ID == "" {
			return fmt.Errorf("catalog: %s: unit without id", path)
		}
		if _, dup := c.Units[unit.ID]; dup {
			return fmt.Errorf("catalog: duplicate unit id %q", unit.ID)
		}
		c.Units[unit.ID] = unit
	}
	for _, hook := range doc.Hooks {
		if hook.ID == "" {
			return fmt.Errorf("catalog: %s: hook without id", path)
		}
		if hook.Command == "" {
			return fmt.Errorf("catalog: %s: hook %q without command", path, hook.ID)
		}
		if _, dup := c.Hooks[hook.ID]; dup {
			return fmt.Errorf("catalog: duplicate hook id %q", hook.ID)
		}
		c.Hooks[hook.ID] = hook
	}
	return nil
}

// validate checks template structure and cross-references to units
func (c *Catalog) validate() error {
	for id, tpl := range c.Templates {
		if len(tpl.Phases) == 0 {
			return fmt.Errorf("catalog: template %q has no phases", id)
		}
		for _, phase := range tpl.Phases {
			if phase.Name == "" {
				return fmt.Errorf("catalog: template %q has a phase without a name", id)
			}
			if !validClasses[phase.Class] {
				return fmt.Errorf("catalog: template %q phase %q has unknown class %q", id, phase.Name, phase.Class)
			}
			for _, unit := range phase.Units {
				if _, ok := c.Units[unit.ID]; !ok {
					return fmt.Errorf("catalog: template %q phase %q references unknown unit %q", id, phase.Name, unit.ID)
				}
			}
			if phase.Gate != nil {
				if phase.Gate.ID == "" {
					return fmt.Errorf("catalog: template %q phase %q has a gate without an id", id, phase.Name)
				}
				if !validGateTypes[phase.Gate.Type] {
					return fmt.Errorf("catalog: template %q gate %q has unknown type %q", id, phase.Gate.ID, phase.Gate.Type)
				}
			}
		}
	}
	return nil
}

// Template looks up a workflow template by id
func (c *Catalog) Template(id string) (*Template, bool) {
	tpl, ok := c.Templates[id]
	return tpl, ok
}

// Unit looks up a work-unit descriptor by id
func (c *Catalog) Unit(id string) (*WorkUnit, bool) {
	unit, ok := c.Units[id]
	return unit, ok
}

// Hook looks up a verification hook by id
func (c *Catalog) Hook(id string) (*Hook, bool) {
	hook, ok := c.Hooks[id]
	return hook, ok
}

// HookCommands returns the hook id to command mapping, for runners that
// shell out to verification commands.
func (c *Catalog) HookCommands() map[string]string {
	cmds := make(map[string]string, len(c.Hooks))
	for id, hook := range c.Hooks {
		cmds[id] = hook.Command
	}
	return cmds
}
