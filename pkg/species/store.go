// Package species serves a small primate species dataset as MCP tools.
package species

import (
	_ "embed"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed data/species.yaml
var defaultData []byte

// ErrNotFound is returned when no species matches a name.
var ErrNotFound = errors.New("species not found")

// Species is one dataset entry. Accessed counts successful lookups by name.
type Species struct {
	Name       string  `yaml:"name" json:"name"`
	Location   string  `yaml:"location" json:"location"`
	Details    string  `yaml:"details" json:"details"`
	Population int     `yaml:"population" json:"population"`
	Latitude   float64 `yaml:"latitude" json:"latitude"`
	Longitude  float64 `yaml:"longitude" json:"longitude"`
	Fictional  bool    `yaml:"fictional" json:"fictional"`
	Accessed   int     `yaml:"-" json:"accessed"`
}

// Store is a concurrency-safe, in-memory species catalogue.
type Store struct {
	mu      sync.Mutex
	species []Species
	index   map[string]int
}

// Default returns a store seeded with the embedded dataset.
func Default() *Store {
	s, err := Parse(defaultData)
	if err != nil {
		panic(fmt.Sprintf("species: embedded dataset: %v", err))
	}
	return s
}

// LoadFile reads a YAML dataset from disk.
func LoadFile(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	return Parse(data)
}

// Parse builds a store from a YAML list of species.
func Parse(data []byte) (*Store, error) {
	var list []Species
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse dataset: %w", err)
	}
	s := &Store{index: make(map[string]int, len(list))}
	for _, sp := range list {
		sp.Name = strings.TrimSpace(sp.Name)
		if sp.Name == "" {
			return nil, errors.New("parse dataset: species without a name")
		}
		key := normalizeName(sp.Name)
		if _, dup := s.index[key]; dup {
			return nil, fmt.Errorf("parse dataset: duplicate species %q", sp.Name)
		}
		s.index[key] = len(s.species)
		s.species = append(s.species, sp)
	}
	return s, nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// All returns every species in dataset order.
func (s *Store) All() []Species {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Species(nil), s.species...)
}

// ByName looks a species up case-insensitively and counts the access.
// Blank and unknown names return ErrNotFound.
func (s *Store) ByName(name string) (Species, error) {
	key := normalizeName(name)
	if key == "" {
		return Species{}, ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[key]
	if !ok {
		return Species{}, fmt.Errorf("%w: %s", ErrNotFound, strings.TrimSpace(name))
	}
	s.species[i].Accessed++
	return s.species[i], nil
}

// Random returns any species, or false for an empty store.
func (s *Store) Random() (Species, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.species) == 0 {
		return Species{}, false
	}
	return s.species[rand.IntN(len(s.species))], true
}

// Exists reports whether a species name is known, ignoring case.
func (s *Store) Exists(name string) bool {
	key := normalizeName(name)
	if key == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[key]
	return ok
}

// Count returns the number of species.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.species)
}

// Names lists species names in dataset order.
func (s *Store) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.species))
	for i, sp := range s.species {
		out[i] = sp.Name
	}
	return out
}
