// Package lobby accepts client connections, forms matches and hands full
// matches to workers.
package lobby

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/arbiter.games/internal/delta"
	"github.com/louisbranch/arbiter.games/internal/gamelog"
	"github.com/louisbranch/arbiter.games/internal/games"
	"github.com/louisbranch/arbiter.games/internal/platform/id"
	"github.com/louisbranch/arbiter.games/internal/wire"
	"github.com/louisbranch/arbiter.games/internal/worker"
)

const (
	defaultTimePerPlayer = 15 * time.Minute
	defaultClientKind    = "unknown"
)

// Config parameterizes a lobby.
type Config struct {
	Registry *games.Registry
	// Store persists gamelogs for in-process matches. Worker processes
	// open their own store under GamelogDir.
	Store      *gamelog.Store
	GamelogDir string
	// WorkerBinary is the worker executable spawned per match. Empty, or
	// SingleProcess, keeps every match in the lobby process.
	WorkerBinary  string
	SingleProcess bool

	TimePerPlayer time.Duration
	MaxInvalids   int
	GraceDelay    time.Duration
	NoTimeout     bool
	// AuthKey, when set, requires HMAC-signed join tokens.
	AuthKey []byte
}

// Lobby owns match formation. Client pumps call into it concurrently; the
// mutex guards all match state.
type Lobby struct {
	cfg Config

	mu          sync.Mutex
	matches     map[string]*Match
	order       []*Match
	byClient    map[string]*Match
	nextSession int
	closed      bool
	cancels     map[*Match]context.CancelFunc

	running sync.WaitGroup
}

// New creates a lobby.
func New(cfg Config) *Lobby {
	if cfg.TimePerPlayer <= 0 {
		cfg.TimePerPlayer = defaultTimePerPlayer
	}
	return &Lobby{
		cfg:      cfg,
		matches:  map[string]*Match{},
		byClient: map[string]*Match{},
		cancels:  map[*Match]context.CancelFunc{},
	}
}

// HandleClient adopts a freshly accepted connection. The first event must
// be play; anything else is a protocol error.
func (l *Lobby) HandleClient(c *wire.Client) {
	c.SetCloseHandler(func(c *wire.Client, _ error) { l.clientClosed(c) })
	c.SetHandler(func(c *wire.Client, env wire.Envelope) { l.handleEvent(c, env) })
	c.Start()
}

func (l *Lobby) handleEvent(c *wire.Client, env wire.Envelope) {
	switch env.Event {
	case wire.EventPlay:
		data, err := wire.DecodePayload[wire.PlayData](env)
		if err != nil {
			c.Disconnect(fmt.Sprintf("malformed play: %v", err))
			return
		}
		l.join(c, data)
	case wire.EventAlive:
		// Keepalive only.
	default:
		c.Disconnect(fmt.Sprintf("expected a play event, got %q", env.Event))
	}
}

func (l *Lobby) join(c *wire.Client, data wire.PlayData) {
	name := strings.TrimSpace(data.PlayerName)
	if name == "" {
		c.Disconnect("a player name is required")
		return
	}
	if err := validateJoinToken(l.cfg.AuthKey, data.Password, name, nil); err != nil {
		c.Disconnect(err.Error())
		return
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		c.Disconnect("server is shutting down")
		return
	}
	if _, joined := l.byClient[c.ID()]; joined {
		l.mu.Unlock()
		c.Disconnect("already in a game session")
		return
	}
	entry, ok := l.cfg.Registry.Resolve(data.GameName)
	if !ok {
		l.mu.Unlock()
		c.Disconnect(fmt.Sprintf("unknown game %q", data.GameName))
		return
	}

	session := strings.TrimSpace(data.RequestedSession)
	if session == "" || session == "new" {
		session = strconv.Itoa(l.nextSession)
		l.nextSession++
	}
	key := matchKey(entry.Info.Name, session)
	m := l.matches[key]
	if m != nil && m.status == StatusRunning {
		l.mu.Unlock()
		c.Disconnect(fmt.Sprintf("game session %s is already running", session))
		return
	}
	if m == nil || m.status == StatusOver {
		m = newMatch(entry, session)
		l.matches[key] = m
		l.order = append(l.order, m)
	}

	if err := m.mergeSettings(data.GameSettings); err != nil {
		l.mu.Unlock()
		c.Disconnect(err.Error())
		return
	}

	c.Name = name
	c.Kind = data.ClientType
	if c.Kind == "" {
		c.Kind = defaultClientKind
	}
	c.Spectating = data.Spectating
	c.SetTimeRemaining(l.cfg.TimePerPlayer)

	if data.Spectating {
		m.spectators = append(m.spectators, c)
	} else if _, err := m.seat(c, data.PlayerIndex); err != nil {
		l.mu.Unlock()
		c.Disconnect(err.Error())
		return
	}
	l.byClient[c.ID()] = m

	full := m.full()
	if full {
		l.start(m)
	}
	l.mu.Unlock()

	_ = c.Send(wire.EventLobbied, wire.LobbiedData{
		GameName:    entry.Info.Name,
		GameSession: session,
		Constants: wire.Constants{
			DeltaRemoved:    delta.Removed,
			DeltaListLength: delta.LenKey,
		},
	})
	if full {
		l.launch(m)
	}
}

// clientClosed reopens a forming match's slot when its client drops.
func (l *Lobby) clientClosed(c *wire.Client) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.byClient[c.ID()]
	if !ok {
		return
	}
	delete(l.byClient, c.ID())
	if m.status == StatusForming {
		m.unseat(c)
	}
}

func matchKey(gameName, session string) string {
	return gameName + "/" + session
}

// MatchInfo is a point-in-time snapshot of one match.
type MatchInfo struct {
	GameName        string
	Session         string
	Status          Status
	GamelogFilename string
	Error           string
}

// Find looks a match up by game alias and session id. Session "*" returns
// the most recently created match for that game.
func (l *Lobby) Find(gameAlias, session string) (MatchInfo, bool) {
	entry, ok := l.cfg.Registry.Resolve(gameAlias)
	if !ok {
		return MatchInfo{}, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var m *Match
	if session == "*" {
		for i := len(l.order) - 1; i >= 0; i-- {
			if l.order[i].entry.Info.Name == entry.Info.Name {
				m = l.order[i]
				break
			}
		}
	} else {
		m = l.matches[matchKey(entry.Info.Name, session)]
	}
	if m == nil {
		return MatchInfo{}, false
	}
	return MatchInfo{
		GameName:        m.GameName(),
		Session:         m.session,
		Status:          m.status,
		GamelogFilename: m.gamelogFilename,
		Error:           m.runError,
	}, true
}

// start transitions a full match to running, under the lobby mutex. The
// actual worker launch happens outside the lock in launch.
func (l *Lobby) start(m *Match) {
	m.status = StatusRunning
	for _, c := range m.clients() {
		delete(l.byClient, c.ID())
	}
	l.running.Add(1)
}

// launch hands a running match to a worker: a separate process when every
// connection survives a fd handoff, the lobby process otherwise.
func (l *Lobby) launch(m *Match) {
	ctx, cancel := context.WithCancel(context.Background())
	l.mu.Lock()
	l.cancels[m] = cancel
	l.mu.Unlock()

	seed, err := id.NewID()
	if err != nil {
		seed = strconv.FormatInt(time.Now().UnixNano(), 10)
	}

	transferable := l.cfg.WorkerBinary != "" && !l.cfg.SingleProcess
	for _, c := range m.clients() {
		if !c.CanDetach() {
			transferable = false
			break
		}
	}

	if transferable {
		go l.runWorkerProcess(ctx, m, seed)
	} else {
		go l.runInProcess(ctx, m, seed)
	}
}

func (l *Lobby) runInProcess(ctx context.Context, m *Match, seed string) {
	defer l.running.Done()

	var participants []worker.Participant
	for idx, c := range m.slots {
		participants = append(participants, worker.Participant{Client: c, PlayerIndex: idx})
	}
	for _, c := range m.spectators {
		participants = append(participants, worker.Participant{Client: c, PlayerIndex: -1})
	}

	session := worker.NewSession(worker.Config{
		Rules:       m.entry.New(),
		GameSession: m.session,
		Settings:    m.settings,
		RandomSeed:  seed,
		MaxInvalids: l.cfg.MaxInvalids,
		Store:       l.cfg.Store,
		GraceDelay:  l.cfg.GraceDelay,
	})
	res, err := session.Run(ctx, participants)
	l.finishMatch(m, res, err)
}

func (l *Lobby) finishMatch(m *Match, res *worker.Result, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m.status = StatusOver
	delete(l.cancels, m)
	if res != nil {
		m.gamelogFilename = res.GamelogFilename
	}
	if err != nil {
		m.runError = err.Error()
		log.Printf("match %s/%s failed: %v", m.GameName(), m.session, err)
		return
	}
	log.Printf("match %s/%s over, gamelog %s", m.GameName(), m.session, m.gamelogFilename)
}

// Shutdown stops accepting joins and waits for running matches. When the
// context expires first, remaining matches are aborted.
func (l *Lobby) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	l.closed = true
	var forming []*wire.Client
	for _, m := range l.order {
		if m.status == StatusForming {
			forming = append(forming, m.clients()...)
			m.status = StatusOver
		}
	}
	l.mu.Unlock()

	for _, c := range forming {
		if c != nil {
			c.Disconnect("server is shutting down")
		}
	}

	done := make(chan struct{})
	go func() {
		l.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		for _, cancel := range l.cancels {
			cancel()
		}
		l.mu.Unlock()
		<-done
		return ctx.Err()
	}
}
