package engine

// Info describes a game to the lobby and the registry.
type Info struct {
	Name            string
	Aliases         []string
	RequiredPlayers int
	// HiddenInfo marks games that obscure state per player; the worker
	// then sends each client its own view stream.
	HiddenInfo bool
}

// Rules is the contract a specific game's rule engine implements. The
// framework owns clients, players, deltas and the order book; the rules
// own everything about what the game means.
type Rules interface {
	// Info describes the game.
	Info() Info
	// NewGameObject constructs a game object of the named type. Create
	// routes through it so run requests can allocate rule-defined types.
	NewGameObject(g *Game, kind string, init map[string]any) (Object, error)
	// Begin runs post-player-assignment setup, before the first delta is
	// broadcast.
	Begin(g *Game) error
	// CheckForWinner runs at each turn boundary; returning true ends the
	// match. Implementations declare winners/losers before returning.
	CheckForWinner(g *Game) bool
}

// OrderHandler is implemented by rules that handle finished orders without
// a per-order callback; it is the name-derived default handler.
type OrderHandler interface {
	OrderFinished(g *Game, player *Player, name string, returned any) error
}

// Runnable is implemented by game objects exposing client-callable logic
// through run requests.
type Runnable interface {
	Object
	// ValidateRun is consulted before execution; a non-nil Invalid
	// rejects the action and counts against the player's budget.
	ValidateRun(g *Game, player *Player, function string, args map[string]any) *Invalid
	// Run executes the named function. It completes the RunContext
	// synchronously before returning, or enqueues an order whose
	// callback completes it later.
	Run(rc *RunContext) error
}
