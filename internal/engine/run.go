package engine

// Invalid marks an action rejected by game rules: an expected,
// game-author-raised condition, not a crash. The message and data are sent
// verbatim to the offending client.
type Invalid struct {
	Message string
	Data    any
}

// RunResult is the outcome of one run request.
type RunResult struct {
	// Returned is serialized and sent back in the ran event.
	Returned any
	// Invalid, when set, turns the reply into an invalid event and counts
	// against the player's budget.
	Invalid *Invalid
	// AltersState hints whether the call mutated game state.
	AltersState bool
}

// RunContext carries one client run request through game logic. Logic
// completes it synchronously by calling Complete before Run returns, or
// asynchronously: enqueue an order whose callback calls Complete once the
// client has answered. The worker suspends the reply until then.
type RunContext struct {
	Game     *Game
	Player   *Player
	Function string
	Args     map[string]any

	complete  func(*RunResult)
	completed bool
}

// NewRunContext builds a run context whose completion invokes done exactly
// once.
func NewRunContext(g *Game, p *Player, function string, args map[string]any, done func(*RunResult)) *RunContext {
	return &RunContext{
		Game:     g,
		Player:   p,
		Function: function,
		Args:     args,
		complete: done,
	}
}

// Complete resolves the run with its result. Later calls are ignored.
func (rc *RunContext) Complete(res *RunResult) {
	if rc.completed {
		return
	}
	rc.completed = true
	if res == nil {
		res = &RunResult{}
	}
	if rc.complete != nil {
		rc.complete(res)
	}
}

// Completed reports whether the run has resolved.
func (rc *RunContext) Completed() bool { return rc.completed }
