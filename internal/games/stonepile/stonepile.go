// Package stonepile implements the built-in reference game: a pile of
// stones, two players alternating takes of 1 to maxTake stones, whoever
// takes the last stone wins.
package stonepile

import (
	"fmt"
	"strconv"

	"github.com/louisbranch/arbiter.games/internal/delta"
	"github.com/louisbranch/arbiter.games/internal/engine"
	"github.com/louisbranch/arbiter.games/internal/platform/errors"
)

// GameInfo describes stonepile to the lobby registry.
func GameInfo() engine.Info {
	return engine.Info{
		Name:            "Stonepile",
		Aliases:         []string{"stonepile", "stones", "nim"},
		RequiredPlayers: 2,
	}
}

// Rules is the stonepile rule engine. One instance serves one match.
type Rules struct {
	pile        *Pile
	currentTurn *delta.Value[int]
}

// New constructs a fresh rule engine for one match.
func New() engine.Rules { return &Rules{} }

// Info implements engine.Rules.
func (r *Rules) Info() engine.Info { return GameInfo() }

// Pile is the shared stack of stones players draw from. It is the game's
// only runnable object: clients call take on it.
type Pile struct {
	engine.ObjectBase
	rules *Rules

	Stones  *delta.Value[int]
	MaxTake *delta.Value[int]
}

// NewGameObject implements engine.Rules.
func (r *Rules) NewGameObject(g *engine.Game, kind string, init map[string]any) (engine.Object, error) {
	switch kind {
	case "Pile":
		stones := 21
		maxTake := 3
		if v, ok := init["stones"].(int); ok {
			stones = v
		}
		if v, ok := init["maxTake"].(int); ok {
			maxTake = v
		}
		p := &Pile{ObjectBase: engine.NewObjectBase(g, "Pile"), rules: r}
		p.Stones = delta.NewValue(g.Root(), p.Path().Child("stones"), stones)
		p.MaxTake = delta.NewValue(g.Root(), p.Path().Child("maxTake"), maxTake)
		return p, nil
	default:
		return nil, errors.New(errors.CodeNotFound,
			fmt.Sprintf("stonepile has no game object type %q", kind))
	}
}

// Begin implements engine.Rules: build the pile from the match settings and
// order the first player to play.
func (r *Rules) Begin(g *engine.Game) error {
	stones, err := positiveSetting(g, "stones", 21)
	if err != nil {
		return err
	}
	maxTake, err := positiveSetting(g, "maxTake", 3)
	if err != nil {
		return err
	}

	obj, err := g.Create("Pile", map[string]any{"stones": stones, "maxTake": maxTake})
	if err != nil {
		return err
	}
	r.pile = obj.(*Pile)
	r.currentTurn = delta.NewValue(g.Root(), delta.NewPath("currentTurn"), 0)

	r.orderCurrentPlayer(g)
	return nil
}

func positiveSetting(g *engine.Game, key string, fallback int) (int, error) {
	raw := g.Setting(key, strconv.Itoa(fallback))
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New(errors.CodeLobbyInvalidSettings,
			fmt.Sprintf("setting %s must be a positive integer, got %q", key, raw))
	}
	return n, nil
}

// CheckForWinner implements engine.Rules. The take path declares the winner
// the moment the pile empties; here we only settle matches decided outside
// the rules, e.g. a disconnect or an exhausted invalid budget.
func (r *Rules) CheckForWinner(g *engine.Game) bool {
	if len(g.Winners()) > 0 {
		for _, p := range g.Players() {
			if !p.Decided() {
				g.DeclareLoser(p, "opponent won")
			}
		}
		return true
	}

	var undecided []*engine.Player
	for _, p := range g.Players() {
		if !p.Decided() {
			undecided = append(undecided, p)
		}
	}
	if len(undecided) == 1 && len(g.Losers()) == len(g.Players())-1 {
		g.DeclareWinner(undecided[0], "all opponents lost")
		return true
	}
	return false
}

// orderCurrentPlayer asks the player whose turn it is to play. The callback
// treats the returned value as the number of stones to take.
func (r *Rules) orderCurrentPlayer(g *engine.Game) {
	player := g.Players()[r.currentTurn.Get()]
	g.Order(player, "play", []any{r.pile}, func(g *engine.Game, returned any) error {
		count, ok := asCount(returned)
		if !ok || r.invalidTake(count) != nil {
			if g.RegisterInvalid(player) {
				return nil
			}
			r.orderCurrentPlayer(g)
			return nil
		}
		r.take(g, player, count)
		return nil
	})
}

// take removes count stones and either ends the match or passes the turn.
// Callers validate count first.
func (r *Rules) take(g *engine.Game, player *engine.Player, count int) {
	r.pile.Stones.Set(r.pile.Stones.Get() - count)
	if r.pile.Stones.Get() == 0 {
		g.DeclareWinner(player, "took the last stone")
		for _, other := range g.Players() {
			if other != player {
				g.DeclareLoser(other, "opponent took the last stone")
			}
		}
		return
	}
	r.currentTurn.Set((r.currentTurn.Get() + 1) % len(g.Players()))
	r.orderCurrentPlayer(g)
}

// invalidTake reports why count is not a legal take, or nil when it is.
func (r *Rules) invalidTake(count int) *engine.Invalid {
	maxTake := r.pile.MaxTake.Get()
	stones := r.pile.Stones.Get()
	if count < 1 || count > maxTake {
		return &engine.Invalid{
			Message: fmt.Sprintf("must take between 1 and %d stones", maxTake),
			Data:    map[string]any{"count": count, "maxTake": maxTake},
		}
	}
	if count > stones {
		return &engine.Invalid{
			Message: fmt.Sprintf("only %d stones remain", stones),
			Data:    map[string]any{"count": count, "stones": stones},
		}
	}
	return nil
}

// ValidateRun implements engine.Runnable for take calls against the pile.
func (p *Pile) ValidateRun(g *engine.Game, player *engine.Player, function string, args map[string]any) *engine.Invalid {
	if function != "take" {
		return &engine.Invalid{Message: fmt.Sprintf("Pile has no function %q", function)}
	}
	current := g.Players()[p.rules.currentTurn.Get()]
	if player != current {
		return &engine.Invalid{Message: "it is not your turn"}
	}
	count, ok := asCount(args["count"])
	if !ok {
		return &engine.Invalid{Message: "count must be an integer", Data: args["count"]}
	}
	return p.rules.invalidTake(count)
}

// Run implements engine.Runnable: take stones and report how many remain.
func (p *Pile) Run(rc *engine.RunContext) error {
	count, _ := asCount(rc.Args["count"])
	p.rules.take(rc.Game, rc.Player, count)
	rc.Complete(&engine.RunResult{
		Returned:    p.Stones.Get(),
		AltersState: true,
	})
	return nil
}

// asCount coerces a client-supplied number into a stone count. JSON decoding
// hands numbers over as float64.
func asCount(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}
