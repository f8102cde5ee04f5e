package stonepile

import (
	"testing"
	"time"

	"github.com/louisbranch/arbiter.games/internal/engine"
)

func newMatch(t *testing.T, settings map[string]string) (*engine.Game, *Rules) {
	t.Helper()
	rules := New().(*Rules)
	g := engine.NewGame(engine.Config{
		Rules:    rules,
		Session:  "test",
		Settings: settings,
	})
	g.AddPlayer("alice", "test", time.Minute)
	g.AddPlayer("bob", "test", time.Minute)
	if err := g.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return g, rules
}

func TestBeginBuildsPileFromSettings(t *testing.T) {
	_, rules := newMatch(t, map[string]string{"stones": "5", "maxTake": "2"})
	if got := rules.pile.Stones.Get(); got != 5 {
		t.Fatalf("stones = %d, want 5", got)
	}
	if got := rules.pile.MaxTake.Get(); got != 2 {
		t.Fatalf("maxTake = %d, want 2", got)
	}
}

func TestBeginDefaultsAndOrdersFirstPlayer(t *testing.T) {
	g, rules := newMatch(t, nil)
	if got := rules.pile.Stones.Get(); got != 21 {
		t.Fatalf("stones = %d, want 21", got)
	}

	orders := g.QueuedOrders()
	if len(orders) != 1 {
		t.Fatalf("queued %d orders, want 1", len(orders))
	}
	if orders[0].Player != g.Players()[0] {
		t.Fatal("first order not addressed to player 0")
	}
	if orders[0].Name != "play" {
		t.Fatalf("order name = %q, want play", orders[0].Name)
	}
}

func TestBeginRejectsBadSettings(t *testing.T) {
	for _, raw := range []string{"0", "-3", "lots"} {
		rules := New()
		g := engine.NewGame(engine.Config{
			Rules:    rules,
			Session:  "test",
			Settings: map[string]string{"stones": raw},
		})
		g.AddPlayer("alice", "test", time.Minute)
		g.AddPlayer("bob", "test", time.Minute)
		if err := g.Begin(); err == nil {
			t.Fatalf("Begin accepted stones=%q", raw)
		}
	}
}

// playTurn answers the single queued order with the given take count.
func playTurn(t *testing.T, g *engine.Game, count any) {
	t.Helper()
	orders := g.QueuedOrders()
	if len(orders) != 1 {
		t.Fatalf("queued %d orders, want 1", len(orders))
	}
	if err := g.FinishOrder(orders[0].Index, count); err != nil {
		t.Fatalf("FinishOrder: %v", err)
	}
}

func TestTurnsAlternateUntilLastStone(t *testing.T) {
	g, rules := newMatch(t, map[string]string{"stones": "5"})

	playTurn(t, g, float64(3)) // alice leaves 2
	if got := rules.pile.Stones.Get(); got != 2 {
		t.Fatalf("stones = %d, want 2", got)
	}
	orders := g.QueuedOrders()
	if len(orders) != 1 || orders[0].Player != g.Players()[1] {
		t.Fatal("turn did not pass to player 1")
	}

	if err := g.FinishOrder(orders[0].Index, float64(2)); err != nil { // bob takes the last stones
		t.Fatalf("FinishOrder: %v", err)
	}
	winners := g.Winners()
	if len(winners) != 1 || winners[0] != g.Players()[1] {
		t.Fatal("player 1 should have won by taking the last stone")
	}
	if losers := g.Losers(); len(losers) != 1 || losers[0] != g.Players()[0] {
		t.Fatal("player 0 should have lost")
	}
}

func TestInvalidOrderAnswerReordersSamePlayer(t *testing.T) {
	g := newMatchGame(t)
	playTurn(t, g, float64(99)) // way past maxTake

	orders := g.QueuedOrders()
	if len(orders) != 1 || orders[0].Player != g.Players()[0] {
		t.Fatal("player 0 should be re-ordered after an invalid answer")
	}
	if got := g.InvalidCount(g.Players()[0]); got != 1 {
		t.Fatalf("invalid count = %d, want 1", got)
	}
}

func newMatchGame(t *testing.T) *engine.Game {
	t.Helper()
	g, _ := newMatch(t, nil)
	return g
}

func TestValidateRunEnforcesTurnAndBounds(t *testing.T) {
	g, rules := newMatch(t, map[string]string{"stones": "2"})
	pile := rules.pile
	alice, bob := g.Players()[0], g.Players()[1]

	if inv := pile.ValidateRun(g, bob, "take", map[string]any{"count": float64(1)}); inv == nil {
		t.Fatal("out-of-turn take not rejected")
	}
	if inv := pile.ValidateRun(g, alice, "take", map[string]any{"count": float64(4)}); inv == nil {
		t.Fatal("take above maxTake not rejected")
	}
	if inv := pile.ValidateRun(g, alice, "take", map[string]any{"count": float64(3)}); inv == nil {
		t.Fatal("take above remaining stones not rejected")
	}
	if inv := pile.ValidateRun(g, alice, "take", map[string]any{"count": "two"}); inv == nil {
		t.Fatal("non-numeric count not rejected")
	}
	if inv := pile.ValidateRun(g, alice, "burn", map[string]any{"count": float64(1)}); inv == nil {
		t.Fatal("unknown function not rejected")
	}
	if inv := pile.ValidateRun(g, alice, "take", map[string]any{"count": float64(2)}); inv != nil {
		t.Fatalf("legal take rejected: %s", inv.Message)
	}
}

func TestRunTakesStonesAndReturnsRemaining(t *testing.T) {
	g, rules := newMatch(t, map[string]string{"stones": "5"})
	alice := g.Players()[0]

	var result *engine.RunResult
	rc := engine.NewRunContext(g, alice, "take", map[string]any{"count": float64(2)},
		func(res *engine.RunResult) { result = res })
	if err := rules.pile.Run(rc); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result == nil {
		t.Fatal("run did not complete synchronously")
	}
	if got := result.Returned; got != 3 {
		t.Fatalf("returned %v, want 3", got)
	}
	if !result.AltersState {
		t.Fatal("take should report altered state")
	}
}

func TestCheckForWinnerSettlesDisconnects(t *testing.T) {
	g, rules := newMatch(t, nil)
	alice, bob := g.Players()[0], g.Players()[1]

	if rules.CheckForWinner(g) {
		t.Fatal("no winner expected at start")
	}

	g.DeclareLoser(alice, "disconnected")
	if !rules.CheckForWinner(g) {
		t.Fatal("remaining player should win when opponent lost")
	}
	if winners := g.Winners(); len(winners) != 1 || winners[0] != bob {
		t.Fatal("player 1 should have won by forfeit")
	}
}
