// Package engine provides the turn/order protocol state machine and the
// delta-tracked object graph that a specific game's rule engine extends.
package engine

import (
	"strconv"

	"github.com/louisbranch/arbiter.games/internal/delta"
)

// Object is any entity with a unique, session-scoped identifier. The rest
// of the state graph references objects only by id, never by embedding,
// which is what lets serialization break reference cycles.
type Object interface {
	ID() string
}

// ObjectBase carries the identity and tracked-path plumbing shared by all
// game objects. Embed it and build tracked properties under Path().
type ObjectBase struct {
	id   string
	kind string
	path delta.Path
	game *Game
}

// NewObjectBase allocates the next monotonic object id, registers the
// object slot in the game's graph and records its identity into the delta
// stream. The caller then attaches its tracked properties under Path().
func NewObjectBase(g *Game, kind string) ObjectBase {
	objectID := strconv.Itoa(g.nextObjectID)
	g.nextObjectID++

	base := ObjectBase{
		id:   objectID,
		kind: kind,
		path: delta.NewPath("gameObjects", objectID),
		game: g,
	}
	delta.NewValue(g.root, base.path.Child("id"), objectID)
	delta.NewValue(g.root, base.path.Child("gameObjectName"), kind)
	return base
}

// ID returns the object's session-scoped identifier.
func (b *ObjectBase) ID() string { return b.id }

// Kind returns the game-specific type name the object was created with.
func (b *ObjectBase) Kind() string { return b.kind }

// Path is the object's location under the state root; tracked properties
// hang off it.
func (b *ObjectBase) Path() delta.Path { return b.path }

// Game returns the owning game.
func (b *ObjectBase) Game() *Game { return b.game }
