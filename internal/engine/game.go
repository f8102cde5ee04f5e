package engine

import (
	"fmt"
	"time"

	"github.com/louisbranch/arbiter.games/internal/delta"
	"github.com/louisbranch/arbiter.games/internal/platform/errors"
)

const defaultMaxInvalids = 10

// Config parameterizes a game instance.
type Config struct {
	Rules       Rules
	Session     string
	Settings    map[string]string
	RandomSeed  string
	MaxInvalids int
}

// Game is the framework's half of a running match: the delta-tracked object
// graph, the players, the order book and the win/loss bookkeeping. A Game
// and everything in it belong to the single worker goroutine driving the
// match.
type Game struct {
	rules    Rules
	root     *delta.Root
	session  string
	settings map[string]string
	seed     string

	objects      map[string]Object
	nextObjectID int

	players    []*Player
	playersSeq *delta.Sequence[Object]

	over *delta.Value[bool]

	orders orderBook

	maxInvalids   int
	invalidCounts map[string]int
}

// NewGame builds the base state tree for one match.
func NewGame(cfg Config) *Game {
	g := &Game{
		rules:         cfg.Rules,
		session:       cfg.Session,
		settings:      cfg.Settings,
		seed:          cfg.RandomSeed,
		objects:       map[string]Object{},
		maxInvalids:   cfg.MaxInvalids,
		invalidCounts: map[string]int{},
	}
	if g.settings == nil {
		g.settings = map[string]string{}
	}
	if g.maxInvalids <= 0 {
		g.maxInvalids = defaultMaxInvalids
	}
	g.root = delta.NewRoot(Serialize)
	g.orders.pending = map[int]*Order{}

	info := cfg.Rules.Info()
	delta.NewValue(g.root, delta.NewPath("name"), info.Name)
	delta.NewValue(g.root, delta.NewPath("session"), cfg.Session)
	delta.NewValue(g.root, delta.NewPath("randomSeed"), cfg.RandomSeed)
	g.over = delta.NewValue(g.root, delta.NewPath("over"), false)
	g.playersSeq = delta.NewSequence[Object](g.root, delta.NewPath("players"), nil)
	return g
}

// Root exposes the delta root so rules can attach tracked properties and
// the worker can flush views.
func (g *Game) Root() *delta.Root { return g.root }

// Rules returns the rule engine driving this match.
func (g *Game) Rules() Rules { return g.rules }

// Session returns the match's session id.
func (g *Game) Session() string { return g.session }

// Seed returns the match's random seed, recorded for replay.
func (g *Game) Seed() string { return g.seed }

// Setting returns a negotiated setting, with a fallback default.
func (g *Game) Setting(key, fallback string) string {
	if v, ok := g.settings[key]; ok {
		return v
	}
	return fallback
}

// Settings returns the full negotiated settings map.
func (g *Game) Settings() map[string]string { return g.settings }

// Register adds an object to the live graph. Create and AddPlayer call it;
// rules constructing objects outside those paths must call it themselves.
func (g *Game) Register(obj Object) {
	g.objects[obj.ID()] = obj
}

// Object resolves an id against the live graph.
func (g *Game) Object(objectID string) (Object, bool) {
	obj, ok := g.objects[objectID]
	return obj, ok
}

// Create allocates a game object of a rule-defined type, registering it in
// the graph.
func (g *Game) Create(kind string, init map[string]any) (Object, error) {
	obj, err := g.rules.NewGameObject(g, kind, init)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", kind, err)
	}
	g.Register(obj)
	return obj, nil
}

// AddPlayer creates the player object for one participant slot.
func (g *Game) AddPlayer(name, clientType string, timeRemaining time.Duration) *Player {
	p := newPlayer(g, len(g.players), name, clientType, timeRemaining)
	g.Register(p)
	g.players = append(g.players, p)
	g.playersSeq.Push(p)
	return p
}

// Players returns the participant list in slot order.
func (g *Game) Players() []*Player { return g.players }

// Begin runs the rules' post-player-assignment setup.
func (g *Game) Begin() error {
	if err := g.rules.Begin(g); err != nil {
		return fmt.Errorf("begin %s: %w", g.rules.Info().Name, err)
	}
	return nil
}

// IsOver reports whether the match has ended.
func (g *Game) IsOver() bool { return g.over.Get() }

// SetOver marks the match finished.
func (g *Game) SetOver() { g.over.Set(true) }

// DeclareWinner marks a player as having won. Idempotent; a player cannot
// both win and lose.
func (g *Game) DeclareWinner(p *Player, reason string) {
	if p == nil || p.Decided() {
		return
	}
	p.Won.Set(true)
	p.ReasonWon.Set(reason)
}

// DeclareLoser marks a player as having lost.
func (g *Game) DeclareLoser(p *Player, reason string) {
	if p == nil || p.Decided() {
		return
	}
	p.Lost.Set(true)
	p.ReasonLost.Set(reason)
}

// CheckWinConditions runs the rules' turn-boundary win check, marking the
// game over when it reports a result. Also ends the game when every player
// has been decided.
func (g *Game) CheckWinConditions() {
	if g.IsOver() {
		return
	}
	if g.rules.CheckForWinner(g) {
		g.SetOver()
		return
	}
	undecided := 0
	for _, p := range g.players {
		if !p.Decided() {
			undecided++
		}
	}
	if len(g.players) > 0 && undecided == 0 {
		g.SetOver()
	}
}

// RegisterInvalid counts one invalid action against a player. Exceeding the
// budget is a loss condition; the return reports whether that happened.
func (g *Game) RegisterInvalid(p *Player) bool {
	if p == nil {
		return false
	}
	g.invalidCounts[p.ID()]++
	if g.invalidCounts[p.ID()] > g.maxInvalids {
		g.DeclareLoser(p, "exceeded invalid action limit")
		g.CheckWinConditions()
		return true
	}
	return false
}

// InvalidCount reports how many invalid actions a player has accumulated.
func (g *Game) InvalidCount(p *Player) int {
	return g.invalidCounts[p.ID()]
}

// Winners returns the players marked as winners.
func (g *Game) Winners() []*Player {
	var out []*Player
	for _, p := range g.players {
		if p.Won.Get() {
			out = append(out, p)
		}
	}
	return out
}

// Losers returns the players marked as losers.
func (g *Game) Losers() []*Player {
	var out []*Player
	for _, p := range g.players {
		if p.Lost.Get() {
			out = append(out, p)
		}
	}
	return out
}

// FindRunnable resolves a run request's target object.
func (g *Game) FindRunnable(objectID string) (Runnable, error) {
	obj, ok := g.objects[objectID]
	if !ok {
		return nil, errors.New(errors.CodeRunUnknownTarget,
			fmt.Sprintf("no game object with id %q", objectID))
	}
	runnable, ok := obj.(Runnable)
	if !ok {
		return nil, errors.New(errors.CodeRunUnknownTarget,
			fmt.Sprintf("game object %q does not accept run requests", objectID))
	}
	return runnable, nil
}
