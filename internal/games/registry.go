// Package games maps game names and aliases to their rule engines.
package games

import (
	"fmt"
	"sort"
	"strings"

	"github.com/louisbranch/arbiter.games/internal/engine"
	"github.com/louisbranch/arbiter.games/internal/games/stonepile"
)

// Entry pairs a game's metadata with its rule-engine constructor.
type Entry struct {
	Info engine.Info
	New  func() engine.Rules
}

// Registry resolves game names and aliases, case-insensitively.
type Registry struct {
	byAlias map[string]Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byAlias: map[string]Entry{}}
}

// Register adds a game under its name and every alias.
func (r *Registry) Register(entry Entry) error {
	if entry.Info.Name == "" {
		return fmt.Errorf("register game: name is required")
	}
	if entry.New == nil {
		return fmt.Errorf("register game %s: constructor is required", entry.Info.Name)
	}
	aliases := append([]string{entry.Info.Name}, entry.Info.Aliases...)
	for _, alias := range aliases {
		key := strings.ToLower(strings.TrimSpace(alias))
		if key == "" {
			continue
		}
		if existing, ok := r.byAlias[key]; ok && existing.Info.Name != entry.Info.Name {
			return fmt.Errorf("register game %s: alias %q already taken by %s",
				entry.Info.Name, alias, existing.Info.Name)
		}
		r.byAlias[key] = entry
	}
	return nil
}

// Resolve looks up a game by name or alias.
func (r *Registry) Resolve(alias string) (Entry, bool) {
	entry, ok := r.byAlias[strings.ToLower(strings.TrimSpace(alias))]
	return entry, ok
}

// Names returns the distinct registered game names, sorted.
func (r *Registry) Names() []string {
	seen := map[string]bool{}
	for _, entry := range r.byAlias {
		seen[entry.Info.Name] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default returns a registry with the built-in games registered.
func Default() *Registry {
	r := NewRegistry()
	if err := r.Register(Entry{Info: stonepile.GameInfo(), New: stonepile.New}); err != nil {
		// Built-in registrations cannot conflict.
		panic(err)
	}
	return r
}
