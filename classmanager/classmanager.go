// Package classmanager implements the process-wide class_name -> (id,
// color, weight) mapping used to encode and decode classification,
// segmentation and detection labels.
package classmanager

import (
	"encoding/json"
	"fmt"
	"io"
	"math"

	"github.com/milosgajdos83/cn24/cnerr"
)

// UnknownClass is the reserved sentinel id for pixels/samples that match no
// registered class.
const UnknownClass = -1

// Color is an RGB triple used to match segmentation label images to class
// ids by nearest-neighbor L2 distance.
type Color struct {
	R, G, B uint8
}

func (c Color) distSq(o Color) float64 {
	dr := float64(c.R) - float64(o.R)
	dg := float64(c.G) - float64(o.G)
	db := float64(c.B) - float64(o.B)
	return dr*dr + dg*dg + db*db
}

// Class is one registered class: its dense id, display color and training
// weight (used to up/down-weight its contribution to loss).
type Class struct {
	ID     int     `json:"id"`
	Name   string  `json:"name"`
	Color  Color   `json:"color"`
	Weight float64 `json:"weight"`
}

// Manager is the mutable-at-configuration-time class registry. All
// mutation (Register) is expected to happen before any NetGraph built
// against it is initialized; subsequent lookups are read-only.
type Manager struct {
	byName []Class
	index  map[string]int
}

func New() *Manager {
	return &Manager{index: make(map[string]int)}
}

// Register adds a new class with the next dense id, starting at 0. It
// fails if the name is already registered.
func (m *Manager) Register(name string, color Color, weight float64) (int, error) {
	if _, exists := m.index[name]; exists {
		return 0, fmt.Errorf("classmanager: class %q already registered: %w", name, cnerr.ErrConfig)
	}
	id := len(m.byName)
	m.byName = append(m.byName, Class{ID: id, Name: name, Color: color, Weight: weight})
	m.index[name] = id
	return id, nil
}

// Count returns the number of registered classes.
func (m *Manager) Count() int { return len(m.byName) }

// ByName looks up a class by its registered name.
func (m *Manager) ByName(name string) (Class, bool) {
	id, ok := m.index[name]
	if !ok {
		return Class{}, false
	}
	return m.byName[id], true
}

// ByID looks up a class by its dense id.
func (m *Manager) ByID(id int) (Class, bool) {
	if id < 0 || id >= len(m.byName) {
		return Class{}, false
	}
	return m.byName[id], true
}

// ClassOf returns the id of the class whose color is closest (L2 distance)
// to the given color, or UnknownClass if no class is registered.
func (m *Manager) ClassOf(c Color) int {
	if len(m.byName) == 0 {
		return UnknownClass
	}
	best, bestDist := UnknownClass, math.MaxFloat64
	for _, cls := range m.byName {
		if d := cls.Color.distSq(c); d < bestDist {
			best, bestDist = cls.ID, d
		}
	}
	return best
}

// Weight returns the configured weight for id, or 1 if id is unknown.
func (m *Manager) Weight(id int) float64 {
	cls, ok := m.ByID(id)
	if !ok {
		return 1
	}
	return cls.Weight
}

// manifest is the on-disk JSON shape: a flat list of classes.
type manifest struct {
	Classes []Class `json:"classes"`
}

// Save writes the registry as JSON in registration (id) order.
func (m *Manager) Save(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(manifest{Classes: m.byName})
}

// Load builds a new registry from classes decoded from r. IDs
// are taken from the JSON (not reassigned), so Load can round-trip a
// registry saved by Save.
func Load(r io.Reader) (*Manager, error) {
	var man manifest
	if err := json.NewDecoder(r).Decode(&man); err != nil {
		return nil, fmt.Errorf("classmanager: decoding manifest: %w", err)
	}
	m := New()
	for _, c := range man.Classes {
		if _, exists := m.index[c.Name]; exists {
			return nil, fmt.Errorf("classmanager: duplicate class %q in manifest: %w", c.Name, cnerr.ErrConfig)
		}
		m.index[c.Name] = len(m.byName)
		m.byName = append(m.byName, c)
	}
	return m, nil
}
