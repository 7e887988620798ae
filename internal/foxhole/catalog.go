// Package foxhole holds game knowledge: the item catalog with regiment slang,
// display formatting and the OCR-tolerant stockpile name matcher.
package foxhole

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Item is one catalog entry.
type Item struct {
	Code     string   `yaml:"code"`
	Name     string   `yaml:"name"`
	Category string   `yaml:"category"`
	Vehicle  bool     `yaml:"vehicle"`
	Tags     []string `yaml:"tags"`
}

// Catalog resolves item codes to names and slang tags to codes.
type Catalog struct {
	items map[string]Item
	byTag map[string][]string
}

type catalogFile struct {
	Items []Item `yaml:"items"`
}

// ParseCatalog decodes a YAML catalog. Duplicate codes are rejected.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("foxhole: parse catalog: %w", err)
	}
	c := &Catalog{items: make(map[string]Item, len(f.Items)), byTag: make(map[string][]string)}
	for _, it := range f.Items {
		if it.Code == "" {
			return nil, fmt.Errorf("foxhole: catalog entry %q has no code", it.Name)
		}
		if _, dup := c.items[it.Code]; dup {
			return nil, fmt.Errorf("foxhole: duplicate catalog code %q", it.Code)
		}
		c.items[it.Code] = it
		for _, tag := range it.Tags {
			tag = strings.ToLower(strings.TrimSpace(tag))
			c.byTag[tag] = append(c.byTag[tag], it.Code)
		}
	}
	return c, nil
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// DefaultCatalog returns the embedded catalog.
func DefaultCatalog() *Catalog {
	defaultOnce.Do(func() {
		c, err := ParseCatalog(catalogYAML)
		if err != nil {
			panic(err)
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// DisplayName returns the in-game name, or the code itself when unknown.
func (c *Catalog) DisplayName(code string) string {
	if it, ok := c.items[code]; ok && it.Name != "" {
		return it.Name
	}
	return code
}

// CodesByTag returns the item codes carrying the slang tag (case-insensitive), sorted.
func (c *Catalog) CodesByTag(tag string) []string {
	codes := append([]string(nil), c.byTag[strings.ToLower(strings.TrimSpace(tag))]...)
	sort.Strings(codes)
	return codes
}

// IsVehicle reports whether the code is a vehicle. Unknown codes are not.
func (c *Catalog) IsVehicle(code string) bool {
	return c.items[code].Vehicle
}

// InCategory reports whether code belongs to category. "" and "all" match everything.
func (c *Catalog) InCategory(code, category string) bool {
	category = strings.ToLower(strings.TrimSpace(category))
	if category == "" || category == "all" {
		return true
	}
	if category == "vehicles" {
		return c.IsVehicle(code)
	}
	return c.items[code].Category == category
}

// Len is the number of catalog entries.
func (c *Catalog) Len() int { return len(c.items) }
