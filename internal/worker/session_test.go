package worker

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/louisbranch/arbiter.games/internal/delta"
	"github.com/louisbranch/arbiter.games/internal/engine"
	"github.com/louisbranch/arbiter.games/internal/games/stonepile"
	"github.com/louisbranch/arbiter.games/internal/wire"
)

// remote is the test's half of one client connection: a background reader
// splits the stream into envelopes so session sends never block.
type remote struct {
	t    *testing.T
	conn net.Conn
	envs chan wire.Envelope
}

func newRemote(t *testing.T, conn net.Conn) *remote {
	t.Helper()
	r := &remote{t: t, conn: conn, envs: make(chan wire.Envelope, 32)}
	go func() {
		br := bufio.NewReader(conn)
		for {
			msg, err := br.ReadBytes(wire.EOT)
			if err != nil {
				close(r.envs)
				return
			}
			env, err := wire.DecodeEnvelope(msg[:len(msg)-1])
			if err != nil {
				return
			}
			r.envs <- env
		}
	}()
	return r
}

func (r *remote) send(event string, payload any) {
	r.t.Helper()
	msg, err := wire.Encode(event, payload)
	if err != nil {
		r.t.Fatalf("encode %s: %v", event, err)
	}
	if _, err := r.conn.Write(append(msg, wire.EOT)); err != nil {
		r.t.Fatalf("write %s: %v", event, err)
	}
}

// expect waits for the next envelope and asserts its event name.
func (r *remote) expect(event string) wire.Envelope {
	r.t.Helper()
	select {
	case env, ok := <-r.envs:
		if !ok {
			r.t.Fatalf("connection closed while waiting for %q", event)
		}
		if env.Event != event {
			r.t.Fatalf("expected event %q, got %q (%s)", event, env.Event, env.Data)
		}
		return env
	case <-time.After(2 * time.Second):
		r.t.Fatalf("timed out waiting for %q", event)
	}
	return wire.Envelope{}
}

// expectEventually drains envelopes until the named event arrives.
func (r *remote) expectEventually(event string) wire.Envelope {
	r.t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case env, ok := <-r.envs:
			if !ok {
				r.t.Fatalf("connection closed while waiting for %q", event)
			}
			if env.Event == event {
				return env
			}
		case <-deadline:
			r.t.Fatalf("timed out waiting for %q", event)
		}
	}
}

type harness struct {
	session *Session
	remotes []*remote
	done    chan result
}

type result struct {
	res *Result
	err error
}

// startMatch wires two piped clients into a stonepile session and runs it.
func startMatch(t *testing.T, settings map[string]string, thinkTime time.Duration) *harness {
	return startMatchConfig(t, Config{
		Rules:       stonepile.New(),
		GameSession: "1",
		Settings:    settings,
		RandomSeed:  "seed",
		GraceDelay:  10 * time.Millisecond,
	}, thinkTime)
}

func startMatchConfig(t *testing.T, cfg Config, thinkTime time.Duration) *harness {
	t.Helper()
	session := NewSession(cfg)

	h := &harness{session: session, done: make(chan result, 1)}
	noTimeout := thinkTime <= 0
	if noTimeout {
		thinkTime = time.Minute
	}
	var participants []Participant
	for i := 0; i < 2; i++ {
		local, far := net.Pipe()
		var opts []wire.Option
		if noTimeout {
			opts = append(opts, wire.WithNoTimeout())
		}
		client, err := wire.NewClient(wire.NewTCPTransport(local, nil), opts...)
		if err != nil {
			t.Fatalf("new client: %v", err)
		}
		client.Name = []string{"alice", "bob"}[i]
		client.Kind = "test"
		client.SetTimeRemaining(thinkTime)
		participants = append(participants, Participant{Client: client, PlayerIndex: i})
		h.remotes = append(h.remotes, newRemote(t, far))
		t.Cleanup(func() { _ = far.Close() })
	}

	go func() {
		res, err := session.Run(context.Background(), participants)
		h.done <- result{res, err}
	}()
	return h
}

func (h *harness) wait(t *testing.T) *Result {
	t.Helper()
	select {
	case r := <-h.done:
		if r.err != nil {
			t.Fatalf("session: %v", r.err)
		}
		return r.res
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
	}
	return nil
}

// pileID digs the pile's object id out of the initial state delta.
func pileID(t *testing.T, env wire.Envelope) string {
	t.Helper()
	return objectID(t, env, "Pile")
}

// objectID digs an object's id out of a state delta by its type name.
func objectID(t *testing.T, env wire.Envelope, name string) string {
	t.Helper()
	tree, err := wire.DecodePayload[map[string]any](env)
	if err != nil {
		t.Fatalf("decode delta: %v", err)
	}
	objects, _ := tree["gameObjects"].(map[string]any)
	for id, raw := range objects {
		obj, _ := raw.(map[string]any)
		if obj["gameObjectName"] == name {
			return id
		}
	}
	t.Fatalf("no %s in delta: %s", name, env.Data)
	return ""
}

func TestSessionPlaysMatchOverOrders(t *testing.T) {
	h := startMatch(t, map[string]string{"stones": "3"}, 0)
	alice, bob := h.remotes[0], h.remotes[1]

	start := alice.expect(wire.EventStart)
	startData, err := wire.DecodePayload[wire.StartData](start)
	if err != nil || startData.PlayerID == "" {
		t.Fatalf("start payload = %s, err %v", start.Data, err)
	}
	bob.expect(wire.EventStart)
	alice.expect(wire.EventDelta)
	bob.expect(wire.EventDelta)

	order := alice.expect(wire.EventOrder)
	orderData, err := wire.DecodePayload[wire.OrderData](order)
	if err != nil {
		t.Fatalf("decode order: %v", err)
	}
	if orderData.Name != "play" {
		t.Fatalf("order name = %q, want play", orderData.Name)
	}

	// Taking all three stones ends the match immediately.
	alice.send(wire.EventFinished, wire.FinishedData{OrderIndex: orderData.Index, Returned: 3})

	alice.expect(wire.EventDelta)
	over, err := wire.DecodePayload[wire.OverData](alice.expect(wire.EventOver))
	if err != nil {
		t.Fatalf("decode over: %v", err)
	}
	if over.GamelogFilename != "" {
		t.Fatalf("no store configured, got gamelog %q", over.GamelogFilename)
	}
	bob.expect(wire.EventDelta)
	bob.expect(wire.EventOver)

	res := h.wait(t)
	if len(res.Winners) != 1 || res.Winners[0].Name != "alice" {
		t.Fatalf("winners = %+v, want alice", res.Winners)
	}
	if len(res.Losers) != 1 || res.Losers[0].Name != "bob" {
		t.Fatalf("losers = %+v, want bob", res.Losers)
	}
}

func TestSessionHandlesRunRequests(t *testing.T) {
	h := startMatch(t, map[string]string{"stones": "5"}, 0)
	alice, bob := h.remotes[0], h.remotes[1]

	alice.expect(wire.EventStart)
	bob.expect(wire.EventStart)
	pile := pileID(t, alice.expect(wire.EventDelta))
	bob.expect(wire.EventDelta)
	alice.expect(wire.EventOrder)

	// Out of turn: bob's run is rejected but still answered with ran.
	bob.send(wire.EventRun, wire.RunData{
		Caller:       wire.Reference{ID: pile},
		FunctionName: "take",
		Args:         map[string]any{"count": 1},
	})
	bob.expect(wire.EventInvalid)
	bob.expect(wire.EventRan)

	// In turn: alice takes two stones via run.
	alice.send(wire.EventRun, wire.RunData{
		Caller:       wire.Reference{ID: pile},
		FunctionName: "take",
		Args:         map[string]any{"count": 2},
	})
	ran, err := wire.DecodePayload[wire.RanData](alice.expectEventually(wire.EventRan))
	if err != nil {
		t.Fatalf("decode ran: %v", err)
	}
	if remaining, ok := ran.Returned.(float64); !ok || remaining != 3 {
		t.Fatalf("ran returned %v, want 3", ran.Returned)
	}

	// The turn passed: bob is ordered to play.
	bob.expectEventually(wire.EventOrder)
}

func TestSessionDisconnectDecidesMatch(t *testing.T) {
	h := startMatch(t, nil, 0)
	alice, bob := h.remotes[0], h.remotes[1]

	alice.expect(wire.EventStart)
	bob.expect(wire.EventStart)
	alice.expect(wire.EventDelta)
	bob.expect(wire.EventDelta)
	alice.expect(wire.EventOrder)

	_ = bob.conn.Close()

	alice.expectEventually(wire.EventOver)
	res := h.wait(t)
	if len(res.Winners) != 1 || res.Winners[0].Name != "alice" {
		t.Fatalf("winners = %+v, want alice by forfeit", res.Winners)
	}
	if len(res.Losers) != 1 || res.Losers[0].Reason != "disconnected" {
		t.Fatalf("losers = %+v, want bob disconnected", res.Losers)
	}
}

func TestSessionTimeoutDecidesMatch(t *testing.T) {
	h := startMatch(t, nil, 50*time.Millisecond)
	alice, bob := h.remotes[0], h.remotes[1]

	alice.expect(wire.EventStart)
	bob.expect(wire.EventStart)
	alice.expect(wire.EventDelta)
	bob.expect(wire.EventDelta)
	// Alice is ordered to play and never answers. The forfeit is terminal:
	// she is told why and then dropped.
	alice.expect(wire.EventOrder)
	alice.expectEventually(wire.EventFatal)
	select {
	case env, ok := <-alice.envs:
		if ok {
			t.Fatalf("unexpected event %q after timeout forfeit", env.Event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("connection still open after timeout forfeit")
	}

	bob.expectEventually(wire.EventOver)
	res := h.wait(t)
	if len(res.Losers) != 1 || res.Losers[0].Name != "alice" || res.Losers[0].Reason != "timed out" {
		t.Fatalf("losers = %+v, want alice timed out", res.Losers)
	}
}

func TestSessionInvalidBudgetDecidesMatch(t *testing.T) {
	h := startMatchConfig(t, Config{
		Rules:       stonepile.New(),
		GameSession: "1",
		RandomSeed:  "seed",
		MaxInvalids: 2,
		GraceDelay:  10 * time.Millisecond,
	}, 0)
	alice, bob := h.remotes[0], h.remotes[1]

	alice.expect(wire.EventStart)
	bob.expect(wire.EventStart)
	pile := pileID(t, alice.expect(wire.EventDelta))
	bob.expect(wire.EventDelta)
	alice.expect(wire.EventOrder)

	// Out-of-turn runs past the budget of two cost bob the match.
	for i := 0; i < 3; i++ {
		bob.send(wire.EventRun, wire.RunData{
			Caller:       wire.Reference{ID: pile},
			FunctionName: "take",
			Args:         map[string]any{"count": 1},
		})
		bob.expect(wire.EventInvalid)
		bob.expect(wire.EventRan)
	}

	bob.expectEventually(wire.EventOver)
	res := h.wait(t)
	if len(res.Losers) != 1 || res.Losers[0].Name != "bob" {
		t.Fatalf("losers = %+v, want bob", res.Losers)
	}
	if res.Losers[0].Reason != "exceeded invalid action limit" {
		t.Fatalf("loss reason = %q", res.Losers[0].Reason)
	}
}

// blindRules is a minimal hidden-info game: one secret number only the
// first player may see. The first player wins by answering the guess order.
type blindRules struct {
	secret *delta.Value[int]
}

func (r *blindRules) Info() engine.Info {
	return engine.Info{Name: "Blind", RequiredPlayers: 2, HiddenInfo: true}
}

func (r *blindRules) NewGameObject(g *engine.Game, kind string, init map[string]any) (engine.Object, error) {
	return nil, fmt.Errorf("blind has no game object type %q", kind)
}

func (r *blindRules) Begin(g *engine.Game) error {
	r.secret = delta.NewValue(g.Root(), delta.NewPath("secret"), 42)
	r.secret.Obscure(g.Players()[1].ID(), 0)
	g.Order(g.Players()[0], "guess", nil, func(g *engine.Game, returned any) error {
		g.DeclareWinner(g.Players()[0], "answered the guess")
		return nil
	})
	return nil
}

func (r *blindRules) CheckForWinner(g *engine.Game) bool {
	if len(g.Winners()) == 0 {
		return false
	}
	for _, p := range g.Players() {
		if !p.Decided() {
			g.DeclareLoser(p, "opponent won")
		}
	}
	return true
}

func TestSessionObscuresHiddenInfoPerPlayer(t *testing.T) {
	h := startMatchConfig(t, Config{
		Rules:       &blindRules{},
		GameSession: "1",
		RandomSeed:  "seed",
		GraceDelay:  10 * time.Millisecond,
	}, 0)
	alice, bob := h.remotes[0], h.remotes[1]

	alice.expect(wire.EventStart)
	bob.expect(wire.EventStart)

	aliceTree, err := wire.DecodePayload[map[string]any](alice.expect(wire.EventDelta))
	if err != nil {
		t.Fatalf("decode alice delta: %v", err)
	}
	bobTree, err := wire.DecodePayload[map[string]any](bob.expect(wire.EventDelta))
	if err != nil {
		t.Fatalf("decode bob delta: %v", err)
	}
	if got := aliceTree["secret"]; got != float64(42) {
		t.Fatalf("alice sees secret = %v, want 42", got)
	}
	if got := bobTree["secret"]; got != float64(0) {
		t.Fatalf("bob sees secret = %v, want the obscured 0", got)
	}

	order, err := wire.DecodePayload[wire.OrderData](alice.expect(wire.EventOrder))
	if err != nil {
		t.Fatalf("decode order: %v", err)
	}
	alice.send(wire.EventFinished, wire.FinishedData{OrderIndex: order.Index, Returned: true})
	alice.expectEventually(wire.EventOver)
	bob.expectEventually(wire.EventOver)

	res := h.wait(t)
	if len(res.Winners) != 1 || res.Winners[0].Name != "alice" {
		t.Fatalf("winners = %+v, want alice", res.Winners)
	}
}

// relayRules is a minimal continuation game: a run on its desk suspends on
// a confirm order back to the caller and completes with the order's answer.
type relayRules struct{}

func (r *relayRules) Info() engine.Info {
	return engine.Info{Name: "Relay", RequiredPlayers: 2}
}

type desk struct {
	engine.ObjectBase
}

func (r *relayRules) NewGameObject(g *engine.Game, kind string, init map[string]any) (engine.Object, error) {
	if kind != "Desk" {
		return nil, fmt.Errorf("relay has no game object type %q", kind)
	}
	return &desk{ObjectBase: engine.NewObjectBase(g, "Desk")}, nil
}

func (r *relayRules) Begin(g *engine.Game) error {
	_, err := g.Create("Desk", nil)
	return err
}

func (r *relayRules) CheckForWinner(g *engine.Game) bool {
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

func (d *desk) ValidateRun(g *engine.Game, p *engine.Player, function string, args map[string]any) *engine.Invalid {
	if function != "ask" {
		return &engine.Invalid{Message: fmt.Sprintf("desk has no function %q", function)}
	}
	return nil
}

func (d *desk) Run(rc *engine.RunContext) error {
	rc.Game.Order(rc.Player, "confirm", nil, func(g *engine.Game, returned any) error {
		g.DeclareWinner(rc.Player, "confirmed")
		rc.Complete(&engine.RunResult{Returned: returned, AltersState: true})
		return nil
	})
	return nil
}

func TestSessionRunSuspendsOnOrder(t *testing.T) {
	h := startMatchConfig(t, Config{
		Rules:       &relayRules{},
		GameSession: "1",
		RandomSeed:  "seed",
		GraceDelay:  10 * time.Millisecond,
	}, 0)
	alice, bob := h.remotes[0], h.remotes[1]

	alice.expect(wire.EventStart)
	bob.expect(wire.EventStart)
	desk := objectID(t, alice.expect(wire.EventDelta), "Desk")
	bob.expect(wire.EventDelta)

	alice.send(wire.EventRun, wire.RunData{Caller: wire.Reference{ID: desk}, FunctionName: "ask"})
	order, err := wire.DecodePayload[wire.OrderData](alice.expect(wire.EventOrder))
	if err != nil {
		t.Fatalf("decode order: %v", err)
	}
	if order.Name != "confirm" {
		t.Fatalf("order name = %q, want confirm", order.Name)
	}

	// A second run while the first is suspended is rejected without a ran
	// reply and without counting as an invalid action.
	alice.send(wire.EventRun, wire.RunData{Caller: wire.Reference{ID: desk}, FunctionName: "ask"})
	alice.expect(wire.EventInvalid)

	// Answering the order completes the suspended run.
	alice.send(wire.EventFinished, wire.FinishedData{OrderIndex: order.Index, Returned: "done"})
	ran, err := wire.DecodePayload[wire.RanData](alice.expectEventually(wire.EventRan))
	if err != nil {
		t.Fatalf("decode ran: %v", err)
	}
	if ran.Returned != "done" {
		t.Fatalf("ran returned %v, want done", ran.Returned)
	}
	alice.expectEventually(wire.EventOver)
	bob.expectEventually(wire.EventOver)

	res := h.wait(t)
	if len(res.Winners) != 1 || res.Winners[0].Name != "alice" {
		t.Fatalf("winners = %+v, want alice", res.Winners)
	}
}

func TestSessionSuspendedRunStillTicks(t *testing.T) {
	h := startMatchConfig(t, Config{
		Rules:       &relayRules{},
		GameSession: "1",
		RandomSeed:  "seed",
		GraceDelay:  10 * time.Millisecond,
	}, 50*time.Millisecond)
	alice, bob := h.remotes[0], h.remotes[1]

	alice.expect(wire.EventStart)
	bob.expect(wire.EventStart)
	desk := objectID(t, alice.expect(wire.EventDelta), "Desk")
	bob.expect(wire.EventDelta)

	// The run suspends on a confirm order back to alice; her clock must
	// run while the match waits on her answer.
	alice.send(wire.EventRun, wire.RunData{Caller: wire.Reference{ID: desk}, FunctionName: "ask"})
	alice.expect(wire.EventOrder)

	bob.expectEventually(wire.EventOver)
	res := h.wait(t)
	if len(res.Losers) != 1 || res.Losers[0].Name != "alice" || res.Losers[0].Reason != "timed out" {
		t.Fatalf("losers = %+v, want alice timed out", res.Losers)
	}
}
