package games

import (
	"testing"

	"github.com/louisbranch/arbiter.games/internal/engine"
)

func stubEntry(name string, aliases ...string) Entry {
	return Entry{
		Info: engine.Info{Name: name, Aliases: aliases, RequiredPlayers: 2},
		New:  func() engine.Rules { return nil },
	}
}

func TestResolveByNameAndAlias(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(stubEntry("Checkers", "ck")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	for _, alias := range []string{"Checkers", "checkers", "CHECKERS", "ck", " ck "} {
		entry, ok := r.Resolve(alias)
		if !ok {
			t.Fatalf("Resolve(%q): not found", alias)
		}
		if entry.Info.Name != "Checkers" {
			t.Fatalf("Resolve(%q) = %s, want Checkers", alias, entry.Info.Name)
		}
	}

	if _, ok := r.Resolve("chess"); ok {
		t.Fatal("Resolve(chess) found an unregistered game")
	}
}

func TestRegisterRejectsAliasConflicts(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(stubEntry("Checkers", "ck")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(stubEntry("Chess", "ck")); err == nil {
		t.Fatal("Register accepted an alias owned by another game")
	}
	// Re-registering the same game is allowed.
	if err := r.Register(stubEntry("Checkers", "ck")); err != nil {
		t.Fatalf("Register same game twice: %v", err)
	}
}

func TestRegisterRequiresNameAndConstructor(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Entry{New: func() engine.Rules { return nil }}); err == nil {
		t.Fatal("Register accepted an entry without a name")
	}
	if err := r.Register(Entry{Info: engine.Info{Name: "Chess"}}); err == nil {
		t.Fatal("Register accepted an entry without a constructor")
	}
}

func TestDefaultRegistryHasStonepile(t *testing.T) {
	r := Default()
	entry, ok := r.Resolve("stonepile")
	if !ok {
		t.Fatal("default registry missing stonepile")
	}
	if entry.Info.RequiredPlayers != 2 {
		t.Fatalf("stonepile wants %d players, want 2", entry.Info.RequiredPlayers)
	}
	names := r.Names()
	if len(names) != 1 || names[0] != "Stonepile" {
		t.Fatalf("Names() = %v, want [Stonepile]", names)
	}
}
