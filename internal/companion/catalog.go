// Package companion holds the catalog of companions and resolves the
// personality text sent to the model.
package companion

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var builtinCatalog []byte

// ErrUnknown is returned when a companion id is not in the catalog.
var ErrUnknown = errors.New("unknown companion")

// Companion is one selectable character.
type Companion struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Greeting    string `yaml:"greeting" json:"greeting"`
	Personality string `yaml:"personality" json:"personality"`
}

type catalogFile struct {
	Companions []Companion `yaml:"companions"`
}

// Catalog is an immutable set of companions keyed by id.
type Catalog struct {
	byID      map[string]Companion
	defaultID string
}

// Builtin returns the embedded catalog.
func Builtin() *Catalog {
	c, err := Parse(builtinCatalog)
	if err != nil {
		panic(fmt.Sprintf("companion: embedded catalog is invalid: %v", err))
	}
	return c
}

// Parse decodes a YAML catalog. The first entry becomes the default.
func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing companion catalog: %w", err)
	}
	c := &Catalog{byID: make(map[string]Companion, len(f.Companions))}
	for i, comp := range f.Companions {
		comp.ID = strings.TrimSpace(comp.ID)
		if comp.ID == "" {
			return nil, fmt.Errorf("companion %d: id is required", i)
		}
		if strings.TrimSpace(comp.Personality) == "" {
			return nil, fmt.Errorf("companion %q: personality is required", comp.ID)
		}
		if comp.Name == "" {
			comp.Name = comp.ID
		}
		if c.defaultID == "" {
			c.defaultID = comp.ID
		}
		c.byID[comp.ID] = comp
	}
	if len(c.byID) == 0 {
		return nil, errors.New("companion catalog is empty")
	}
	return c, nil
}

// Load returns the builtin catalog merged with the user catalog at path, if
// present. Entries from the user catalog override builtin ones by id.
func Load(path string) (*Catalog, error) {
	base := Builtin()
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return base, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading companion catalog: %w", err)
	}
	user, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return base.merge(user), nil
}

func (c *Catalog) merge(other *Catalog) *Catalog {
	out := &Catalog{byID: make(map[string]Companion, len(c.byID)+len(other.byID)), defaultID: c.defaultID}
	for id, comp := range c.byID {
		out.byID[id] = comp
	}
	for id, comp := range other.byID {
		out.byID[id] = comp
	}
	return out
}

func (c *Catalog) Get(id string) (Companion, error) {
	comp, ok := c.byID[id]
	if !ok {
		return Companion{}, fmt.Errorf("%w: %q", ErrUnknown, id)
	}
	return comp, nil
}

// List returns all companions sorted by id.
func (c *Catalog) List() []Companion {
	out := make([]Companion, 0, len(c.byID))
	for _, comp := range c.byID {
		out = append(out, comp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns the sorted companion ids.
func (c *Catalog) IDs() []string {
	list := c.List()
	ids := make([]string, len(list))
	for i, comp := range list {
		ids[i] = comp.ID
	}
	return ids
}

func (c *Catalog) Default() Companion {
	return c.byID[c.defaultID]
}
