package worker

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/louisbranch/arbiter.games/internal/engine"
	"github.com/louisbranch/arbiter.games/internal/gamelog"
	"github.com/louisbranch/arbiter.games/internal/platform/errors"
	"github.com/louisbranch/arbiter.games/internal/wire"
)

const defaultGraceDelay = time.Second

// Config parameterizes one match session.
type Config struct {
	Rules       engine.Rules
	GameSession string
	Settings    map[string]string
	RandomSeed  string
	MaxInvalids int

	// Store receives the finished gamelog. Nil skips persistence.
	Store *gamelog.Store
	// GraceDelay is how long clients get to read the over event before
	// their sockets close.
	GraceDelay time.Duration
}

// Participant pairs a connected client with its player slot. Index -1 marks
// a spectator.
type Participant struct {
	Client      *wire.Client
	PlayerIndex int
}

type eventKind int

const (
	eventMessage eventKind = iota
	eventClosed
	eventTimeout
)

type sessionEvent struct {
	seat *seat
	kind eventKind
	env  wire.Envelope
}

type seat struct {
	client *wire.Client
	// player is nil for spectators.
	player     *engine.Player
	runPending bool
	gone       bool
}

// Session drives one match to completion. A single goroutine (the Run
// caller) owns the game engine and all seats; client pumps only push
// events into the session's channel.
type Session struct {
	cfg    Config
	game   *engine.Game
	hidden bool

	seats      []*seat
	byClientID map[string]*seat
	orderOwner map[int]*seat

	events chan sessionEvent
	done   chan struct{}

	deltas []gamelog.Delta

	fatalErr error
}

// NewSession prepares a session for the given match parameters.
func NewSession(cfg Config) *Session {
	if cfg.GraceDelay <= 0 {
		cfg.GraceDelay = defaultGraceDelay
	}
	return &Session{
		cfg:        cfg,
		hidden:     cfg.Rules.Info().HiddenInfo,
		byClientID: map[string]*seat{},
		orderOwner: map[int]*seat{},
		events:     make(chan sessionEvent, 64),
		done:       make(chan struct{}),
	}
}

// Run plays the match to its end and returns the result. It blocks until
// the match is over, a fatal game error occurs or the context is canceled.
func (s *Session) Run(ctx context.Context, participants []Participant) (*Result, error) {
	s.game = engine.NewGame(engine.Config{
		Rules:       s.cfg.Rules,
		Session:     s.cfg.GameSession,
		Settings:    s.cfg.Settings,
		RandomSeed:  s.cfg.RandomSeed,
		MaxInvalids: s.cfg.MaxInvalids,
	})
	defer close(s.done)

	if err := s.seatParticipants(participants); err != nil {
		s.abort("match could not start")
		return nil, err
	}

	if err := s.game.Begin(); err != nil {
		s.abort("match could not start")
		return nil, errors.Wrap(errors.CodeMatchFatal, "game begin", err)
	}

	for _, st := range s.seats {
		playerID := ""
		if st.player != nil {
			playerID = st.player.ID()
		}
		_ = st.client.Send(wire.EventStart, wire.StartData{PlayerID: playerID})
	}
	s.broadcast("start")
	s.dispatchOrders()
	s.resumeTicking()

	for !s.game.IsOver() && s.fatalErr == nil {
		select {
		case <-ctx.Done():
			s.abort("server is shutting down")
			return nil, ctx.Err()
		case ev := <-s.events:
			switch ev.kind {
			case eventMessage:
				s.handleMessage(ev.seat, ev.env)
			case eventClosed:
				s.handleClosed(ev.seat)
			case eventTimeout:
				s.handleTimeout(ev.seat)
			}
		}
	}

	if s.fatalErr != nil {
		s.abort("a fatal game error ended the match")
		return nil, s.fatalErr
	}
	return s.finish(ctx), nil
}

// seatParticipants adds players in slot order and registers hidden-info
// viewers. Spectators get seats without players.
func (s *Session) seatParticipants(participants []Participant) error {
	ordered := make([]Participant, len(participants))
	copy(ordered, participants)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i].PlayerIndex, ordered[j].PlayerIndex
		if (a < 0) != (b < 0) {
			return a >= 0
		}
		return a < b
	})

	for i, p := range ordered {
		st := &seat{client: p.Client}
		if p.PlayerIndex >= 0 {
			if p.PlayerIndex != i {
				return errors.New(errors.CodeMatchFatal,
					fmt.Sprintf("player slots are not dense: got index %d at seat %d", p.PlayerIndex, i))
			}
			st.player = s.game.AddPlayer(p.Client.Name, p.Client.Kind, p.Client.TimeRemaining())
			if s.hidden {
				s.game.Root().AddViewer(st.player.ID())
			}
		}
		s.seats = append(s.seats, st)
		s.byClientID[p.Client.ID()] = st

		st.client.SetHandler(func(c *wire.Client, env wire.Envelope) {
			s.push(sessionEvent{seat: s.byClientID[c.ID()], kind: eventMessage, env: env})
		})
		st.client.SetCloseHandler(func(c *wire.Client, err error) {
			s.push(sessionEvent{seat: s.byClientID[c.ID()], kind: eventClosed})
		})
		st.client.SetTimeoutHandler(func(c *wire.Client) {
			s.push(sessionEvent{seat: s.byClientID[c.ID()], kind: eventTimeout})
		})
		st.client.Start()
	}
	return nil
}

// push delivers an event to the loop without blocking forever once the
// session is done; pumps would otherwise leak on shutdown.
func (s *Session) push(ev sessionEvent) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *Session) handleMessage(st *seat, env wire.Envelope) {
	switch env.Event {
	case wire.EventRun:
		s.handleRun(st, env)
	case wire.EventFinished:
		s.handleFinished(st, env)
	case wire.EventAlive:
		// Keepalive only.
	default:
		_ = st.client.Send(wire.EventInvalid, wire.InvalidData{
			Message: fmt.Sprintf("unexpected event %q", env.Event),
		})
	}
}

func (s *Session) handleRun(st *seat, env wire.Envelope) {
	if s.game.IsOver() || (st.player != nil && st.player.Decided()) {
		_ = st.client.Send(wire.EventOver, wire.OverData{})
		return
	}
	if st.player == nil {
		_ = st.client.Send(wire.EventInvalid, wire.InvalidData{Message: "spectators cannot act"})
		return
	}
	if st.runPending {
		s.reject(st, &engine.Invalid{Message: "a previous run is still being executed"}, false, false)
		return
	}
	st.client.PauseTicking()

	data, err := wire.DecodePayload[wire.RunData](env)
	if err != nil {
		s.reject(st, &engine.Invalid{Message: fmt.Sprintf("malformed run: %v", err)}, true, true)
		return
	}
	runnable, err := s.game.FindRunnable(data.Caller.ID)
	if err != nil {
		s.reject(st, &engine.Invalid{Message: err.Error(), Data: data.Caller}, true, true)
		return
	}
	args := map[string]any{}
	for key, raw := range data.Args {
		args[key] = engine.Deserialize(raw, s.game.Object)
	}
	if inv := runnable.ValidateRun(s.game, st.player, data.FunctionName, args); inv != nil {
		s.reject(st, inv, true, true)
		return
	}

	st.runPending = true
	rc := engine.NewRunContext(s.game, st.player, data.FunctionName, args, func(res *engine.RunResult) {
		s.completeRun(st, res)
	})
	if err := runnable.Run(rc); err != nil {
		// A rules error is a game bug, not a client mistake; the match
		// cannot continue.
		s.fatalErr = errors.Wrap(errors.CodeMatchFatal,
			fmt.Sprintf("run %s on %s", data.FunctionName, data.Caller.ID), err)
		return
	}
	if !rc.Completed() {
		// The run suspended on an order; the reply waits for its callback.
		s.dispatchOrders()
		s.resumeTicking()
	}
}

// completeRun resolves one run request, synchronously from Run or later
// from an order callback. Always on the loop goroutine.
func (s *Session) completeRun(st *seat, res *engine.RunResult) {
	st.runPending = false
	if res.Invalid != nil {
		_ = st.client.Send(wire.EventInvalid, wire.InvalidData{
			Message: res.Invalid.Message,
			Data:    engine.Serialize(res.Invalid.Data),
		})
		s.game.RegisterInvalid(st.player)
		_ = st.client.Send(wire.EventRan, wire.RanData{})
	} else {
		_ = st.client.Send(wire.EventRan, wire.RanData{Returned: engine.Serialize(res.Returned)})
	}
	s.turnBoundary("ran")
}

func (s *Session) handleFinished(st *seat, env wire.Envelope) {
	if s.game.IsOver() || (st.player != nil && st.player.Decided()) {
		_ = st.client.Send(wire.EventOver, wire.OverData{})
		return
	}
	if st.player == nil {
		_ = st.client.Send(wire.EventInvalid, wire.InvalidData{Message: "spectators cannot act"})
		return
	}
	st.client.PauseTicking()

	data, err := wire.DecodePayload[wire.FinishedData](env)
	if err != nil {
		s.reject(st, &engine.Invalid{Message: fmt.Sprintf("malformed finished: %v", err)}, true, false)
		return
	}
	owner, ok := s.orderOwner[data.OrderIndex]
	if !ok || owner != st {
		s.reject(st, &engine.Invalid{
			Message: fmt.Sprintf("order %d is not yours to finish", data.OrderIndex),
		}, true, false)
		return
	}
	delete(s.orderOwner, data.OrderIndex)

	if err := s.game.FinishOrder(data.OrderIndex, data.Returned); err != nil {
		if errors.CodeOf(err) == errors.CodeOrderNoHandler {
			s.fatalErr = err
			return
		}
		s.reject(st, &engine.Invalid{Message: err.Error()}, true, false)
		return
	}
	s.turnBoundary("finished")
}

// reject reports an invalid action. Budgeted rejections count toward the
// player's invalid limit and may decide the match; rejected runs are also
// answered with an empty ran so the client's request resolves.
func (s *Session) reject(st *seat, inv *engine.Invalid, budgeted, ranReply bool) {
	_ = st.client.Send(wire.EventInvalid, wire.InvalidData{
		Message: inv.Message,
		Data:    engine.Serialize(inv.Data),
	})
	if budgeted && st.player != nil {
		s.game.RegisterInvalid(st.player)
	}
	if ranReply {
		_ = st.client.Send(wire.EventRan, wire.RanData{})
	}
	s.turnBoundary("invalid")
}

// turnBoundary runs the win-condition check, broadcasts accumulated state,
// dispatches new orders and restarts clocks. Every state-changing event
// funnels through here.
func (s *Session) turnBoundary(deltaType string) {
	s.game.CheckWinConditions()
	s.broadcast(deltaType)
	s.dispatchOrders()
	s.resumeTicking()
}

// handleClosed drops a disconnected seat; its player forfeits.
func (s *Session) handleClosed(st *seat) {
	if st.gone {
		return
	}
	st.gone = true
	s.declareLoss(st, "disconnected", "disconnect")
}

// handleTimeout forfeits a player whose think time ran out. Exhausted
// think time is terminal for the client: record the loss, then drop the
// connection.
func (s *Session) handleTimeout(st *seat) {
	if st.gone || s.game.IsOver() {
		return
	}
	s.declareLoss(st, "timed out", "timeout")
	st.gone = true
	st.client.Disconnect("ran out of think time")
}

func (s *Session) declareLoss(st *seat, reason, deltaType string) {
	st.client.PauseTicking()
	if st.player == nil || st.player.Decided() || s.game.IsOver() {
		return
	}
	log.Printf("client %s %s, declaring loss", st.client.ID(), reason)
	s.game.DeclareLoser(st.player, reason)
	s.turnBoundary(deltaType)
}

// broadcast flushes the pending delta: one gamelog entry plus a delta event
// per connected client, each seeing its own view for hidden-info games.
func (s *Session) broadcast(deltaType string) {
	for _, st := range s.seats {
		if st.player != nil {
			st.player.TimeRemaining.Set(st.client.TimeRemaining().Nanoseconds())
		}
	}
	root := s.game.Root()
	if !root.HasPending() {
		return
	}

	entry := gamelog.Delta{Type: deltaType, Game: root.Pending()}
	for _, st := range s.seats {
		if st.player == nil || !s.hidden {
			continue
		}
		if root.Diverged(st.player.ID()) {
			if entry.Obscured == nil {
				entry.Obscured = map[string]map[string]any{}
			}
			entry.Obscured[st.player.ID()] = root.PendingView(st.player.ID())
		}
	}
	for _, st := range s.seats {
		if st.gone {
			continue
		}
		tree := entry.Game
		if s.hidden && st.player != nil {
			tree = root.PendingView(st.player.ID())
		}
		_ = st.client.Send(wire.EventDelta, tree)
	}
	root.Flush()
	s.deltas = append(s.deltas, entry)
}

// dispatchOrders drains the engine's queued orders out to their clients.
func (s *Session) dispatchOrders() {
	for _, o := range s.game.QueuedOrders() {
		st := s.seatForPlayer(o.Player)
		if st == nil || st.gone {
			continue
		}
		s.orderOwner[o.Index] = st
		args := make([]any, len(o.Args))
		for i, a := range o.Args {
			args[i] = engine.Serialize(a)
		}
		_ = st.client.Send(wire.EventOrder, wire.OrderData{
			Index: o.Index,
			Name:  o.Name,
			Args:  args,
		})
	}
}

// resumeTicking restarts the clock of every player the match is waiting
// on: anyone holding an unanswered order, including a player whose own
// suspended run is waiting on their order.
func (s *Session) resumeTicking() {
	if s.game.IsOver() {
		for _, st := range s.seats {
			st.client.PauseTicking()
		}
		return
	}
	for _, st := range s.seats {
		if st.player == nil || st.gone {
			continue
		}
		waiting := s.game.PendingOrders(st.player) > 0 && !st.player.Decided()
		if waiting {
			st.client.StartTicking()
		} else {
			st.client.PauseTicking()
		}
	}
}

func (s *Session) seatForPlayer(p *engine.Player) *seat {
	for _, st := range s.seats {
		if st.player == p {
			return st
		}
	}
	return nil
}

// finish closes out an over match: persist the gamelog, notify every
// client, give them a grace period to read the notice, then close.
func (s *Session) finish(ctx context.Context) *Result {
	// State changed after the last broadcast (the over flag at minimum)
	// goes to the gamelog only; there is no further turn to sync.
	root := s.game.Root()
	if root.HasPending() {
		s.deltas = append(s.deltas, gamelog.Delta{Type: "over", Game: root.Pending()})
		root.Flush()
	}

	glog := s.buildGamelog()
	filename := ""
	if s.cfg.Store != nil {
		written, err := s.cfg.Store.Write(ctx, glog)
		if err != nil {
			log.Printf("write gamelog for %s: %v", s.cfg.GameSession, err)
		} else {
			filename = written
		}
	}

	for _, st := range s.seats {
		if st.gone {
			continue
		}
		_ = st.client.Send(wire.EventOver, wire.OverData{GamelogFilename: filename})
	}

	grace := time.NewTimer(s.cfg.GraceDelay)
	defer grace.Stop()
	select {
	case <-ctx.Done():
	case <-grace.C:
	}
	for _, st := range s.seats {
		st.client.Close()
	}

	return &Result{
		GamelogFilename: filename,
		Winners:         glog.Winners,
		Losers:          glog.Losers,
	}
}

func (s *Session) buildGamelog() *gamelog.Gamelog {
	results := func(players []*engine.Player, won bool) []gamelog.Result {
		out := make([]gamelog.Result, 0, len(players))
		for _, p := range players {
			reason := p.ReasonLost.Get()
			if won {
				reason = p.ReasonWon.Get()
			}
			out = append(out, gamelog.Result{
				Index:  p.Index,
				ID:     p.ID(),
				Name:   p.Name.Get(),
				Reason: reason,
			})
		}
		return out
	}
	return &gamelog.Gamelog{
		GameName:    s.cfg.Rules.Info().Name,
		GameSession: s.cfg.GameSession,
		Epoch:       time.Now().UnixMilli(),
		RandomSeed:  s.cfg.RandomSeed,
		Settings:    s.cfg.Settings,
		Winners:     results(s.game.Winners(), true),
		Losers:      results(s.game.Losers(), false),
		Deltas:      s.deltas,
	}
}

// abort tears the match down after an unrecoverable error.
func (s *Session) abort(reason string) {
	for _, st := range s.seats {
		if !st.gone {
			st.client.Disconnect(reason)
		}
	}
}
