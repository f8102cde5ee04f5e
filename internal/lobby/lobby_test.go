package lobby

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/louisbranch/arbiter.games/internal/engine"
	"github.com/louisbranch/arbiter.games/internal/games"
	"github.com/louisbranch/arbiter.games/internal/games/stonepile"
	"github.com/louisbranch/arbiter.games/internal/wire"
)

// testConn is the test's half of one piped connection, with a background
// reader so lobby sends never block.
type testConn struct {
	t    *testing.T
	conn net.Conn
	envs chan wire.Envelope
}

func dial(t *testing.T, l *Lobby) *testConn {
	t.Helper()
	local, far := net.Pipe()
	client, err := wire.NewClient(wire.NewTCPTransport(local, nil))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	l.HandleClient(client)
	return attach(t, far)
}

// attach wraps a raw connection in a testConn with its reader running.
func attach(t *testing.T, conn net.Conn) *testConn {
	t.Helper()
	tc := &testConn{t: t, conn: conn, envs: make(chan wire.Envelope, 32)}
	go func() {
		br := bufio.NewReader(conn)
		for {
			msg, err := br.ReadBytes(wire.EOT)
			if err != nil {
				close(tc.envs)
				return
			}
			env, err := wire.DecodeEnvelope(msg[:len(msg)-1])
			if err != nil {
				return
			}
			tc.envs <- env
		}
	}()
	t.Cleanup(func() { _ = conn.Close() })
	return tc
}

func (tc *testConn) send(event string, payload any) {
	tc.t.Helper()
	msg, err := wire.Encode(event, payload)
	if err != nil {
		tc.t.Fatalf("encode %s: %v", event, err)
	}
	if _, err := tc.conn.Write(append(msg, wire.EOT)); err != nil {
		tc.t.Fatalf("write %s: %v", event, err)
	}
}

func (tc *testConn) expect(event string) wire.Envelope {
	tc.t.Helper()
	select {
	case env, ok := <-tc.envs:
		if !ok {
			tc.t.Fatalf("connection closed while waiting for %q", event)
		}
		if env.Event != event {
			tc.t.Fatalf("expected event %q, got %q (%s)", event, env.Event, env.Data)
		}
		return env
	case <-time.After(2 * time.Second):
		tc.t.Fatalf("timed out waiting for %q", event)
	}
	return wire.Envelope{}
}

// threePlayerRegistry registers a forming-only game that never fills with
// the two clients these tests connect.
func threePlayerRegistry(t *testing.T) *games.Registry {
	t.Helper()
	r := games.NewRegistry()
	err := r.Register(games.Entry{
		Info: engine.Info{Name: "Trio", Aliases: []string{"trio"}, RequiredPlayers: 3},
		New:  stonepile.New,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return r
}

func play(name, session string) wire.PlayData {
	return wire.PlayData{
		GameName:         "trio",
		RequestedSession: session,
		PlayerName:       name,
		ClientType:       "test",
	}
}

func (l *Lobby) matchForTest(t *testing.T, game, session string) *Match {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	m := l.matches[matchKey(game, session)]
	if m == nil {
		t.Fatalf("no match %s/%s", game, session)
	}
	return m
}

func TestJoinConfirmsWithConstants(t *testing.T) {
	l := New(Config{Registry: threePlayerRegistry(t)})
	tc := dial(t, l)

	tc.send(wire.EventPlay, play("alice", "1"))
	lobbied, err := wire.DecodePayload[wire.LobbiedData](tc.expect(wire.EventLobbied))
	if err != nil {
		t.Fatalf("decode lobbied: %v", err)
	}
	if lobbied.GameName != "Trio" || lobbied.GameSession != "1" {
		t.Fatalf("lobbied = %+v", lobbied)
	}
	if lobbied.Constants.DeltaRemoved != "&RM" || lobbied.Constants.DeltaListLength != "&LEN" {
		t.Fatalf("constants = %+v", lobbied.Constants)
	}
}

func TestJoinRejectsUnknownGameAndMissingName(t *testing.T) {
	l := New(Config{Registry: threePlayerRegistry(t)})

	tc := dial(t, l)
	tc.send(wire.EventPlay, wire.PlayData{GameName: "chess", PlayerName: "alice"})
	tc.expect(wire.EventFatal)

	tc = dial(t, l)
	tc.send(wire.EventPlay, wire.PlayData{GameName: "trio"})
	tc.expect(wire.EventFatal)
}

func TestSlotAssignment(t *testing.T) {
	l := New(Config{Registry: threePlayerRegistry(t)})

	idx := func(i int) *int { return &i }

	// First player asks for the last slot and gets it.
	c1 := dial(t, l)
	p := play("alice", "1")
	p.PlayerIndex = idx(2)
	c1.send(wire.EventPlay, p)
	c1.expect(wire.EventLobbied)

	// Second player asks for the same slot; it is taken, so the first
	// open one is assigned instead.
	c2 := dial(t, l)
	p = play("bob", "1")
	p.PlayerIndex = idx(2)
	c2.send(wire.EventPlay, p)
	c2.expect(wire.EventLobbied)

	// Spectators never occupy slots.
	c3 := dial(t, l)
	p = play("carol", "1")
	p.Spectating = true
	c3.send(wire.EventPlay, p)
	c3.expect(wire.EventLobbied)

	m := l.matchForTest(t, "Trio", "1")
	l.mu.Lock()
	defer l.mu.Unlock()
	if m.slots[2] == nil || m.slots[2].Name != "alice" {
		t.Fatalf("slot 2 = %v, want alice", m.slots[2])
	}
	if m.slots[0] == nil || m.slots[0].Name != "bob" {
		t.Fatalf("slot 0 = %v, want bob", m.slots[0])
	}
	if m.slots[1] != nil {
		t.Fatalf("slot 1 should be open, got %v", m.slots[1])
	}
	if len(m.spectators) != 1 || m.spectators[0].Name != "carol" {
		t.Fatalf("spectators = %v, want carol", m.spectators)
	}
}

func TestJoinRejectsOutOfRangeIndex(t *testing.T) {
	l := New(Config{Registry: threePlayerRegistry(t)})
	tc := dial(t, l)

	bad := 7
	p := play("alice", "1")
	p.PlayerIndex = &bad
	tc.send(wire.EventPlay, p)
	tc.expect(wire.EventFatal)
}

func TestFirstSettingsWriterWins(t *testing.T) {
	l := New(Config{Registry: threePlayerRegistry(t)})

	c1 := dial(t, l)
	p := play("alice", "1")
	p.GameSettings = "stones=5&maxTake=2"
	c1.send(wire.EventPlay, p)
	c1.expect(wire.EventLobbied)

	c2 := dial(t, l)
	p = play("bob", "1")
	p.GameSettings = "stones=9&extra=yes"
	c2.send(wire.EventPlay, p)
	c2.expect(wire.EventLobbied)

	m := l.matchForTest(t, "Trio", "1")
	l.mu.Lock()
	defer l.mu.Unlock()
	want := map[string]string{"stones": "5", "maxTake": "2", "extra": "yes"}
	for key, value := range want {
		if m.settings[key] != value {
			t.Fatalf("settings[%s] = %q, want %q (all: %v)", key, m.settings[key], value, m.settings)
		}
	}
}

func TestNewSessionAllocatesDistinctIDs(t *testing.T) {
	l := New(Config{Registry: threePlayerRegistry(t)})

	sessions := map[string]bool{}
	for _, name := range []string{"alice", "bob"} {
		tc := dial(t, l)
		tc.send(wire.EventPlay, play(name, "new"))
		lobbied, err := wire.DecodePayload[wire.LobbiedData](tc.expect(wire.EventLobbied))
		if err != nil {
			t.Fatalf("decode lobbied: %v", err)
		}
		if sessions[lobbied.GameSession] {
			t.Fatalf("session id %q allocated twice", lobbied.GameSession)
		}
		sessions[lobbied.GameSession] = true
	}
}

func TestDisconnectReopensSlot(t *testing.T) {
	l := New(Config{Registry: threePlayerRegistry(t)})

	c1 := dial(t, l)
	c1.send(wire.EventPlay, play("alice", "1"))
	c1.expect(wire.EventLobbied)
	_ = c1.conn.Close()

	// The slot reopens, so another player can take index 0.
	deadline := time.After(2 * time.Second)
	for {
		m := l.matchForTest(t, "Trio", "1")
		l.mu.Lock()
		open := m.slots[0] == nil
		l.mu.Unlock()
		if open {
			break
		}
		select {
		case <-deadline:
			t.Fatal("slot was not reopened after disconnect")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func joinToken(t *testing.T, key []byte, subject string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestJoinAuth(t *testing.T) {
	key := []byte("lobby-test-key")
	l := New(Config{Registry: threePlayerRegistry(t), AuthKey: key})

	// No token.
	tc := dial(t, l)
	tc.send(wire.EventPlay, play("alice", "1"))
	tc.expect(wire.EventFatal)

	// Token for somebody else.
	tc = dial(t, l)
	p := play("alice", "1")
	p.Password = joinToken(t, key, "mallory")
	tc.send(wire.EventPlay, p)
	tc.expect(wire.EventFatal)

	// Token signed with the wrong key.
	tc = dial(t, l)
	p = play("alice", "1")
	p.Password = joinToken(t, []byte("other-key"), "alice")
	tc.send(wire.EventPlay, p)
	tc.expect(wire.EventFatal)

	// Valid token.
	tc = dial(t, l)
	p = play("alice", "1")
	p.Password = joinToken(t, key, "alice")
	tc.send(wire.EventPlay, p)
	tc.expect(wire.EventLobbied)
}

func TestShutdownDisconnectsFormingClients(t *testing.T) {
	l := New(Config{Registry: threePlayerRegistry(t)})

	tc := dial(t, l)
	tc.send(wire.EventPlay, play("alice", "1"))
	tc.expect(wire.EventLobbied)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	tc.expect(wire.EventFatal)

	// Late joins are refused.
	late := dial(t, l)
	late.send(wire.EventPlay, play("bob", "2"))
	late.expect(wire.EventFatal)
}

func TestFindBySessionAndWildcard(t *testing.T) {
	l := New(Config{Registry: threePlayerRegistry(t)})

	for _, session := range []string{"1", "2"} {
		tc := dial(t, l)
		tc.send(wire.EventPlay, play("alice", session))
		tc.expect(wire.EventLobbied)
	}

	info, ok := l.Find("trio", "1")
	if !ok || info.Session != "1" || info.Status != StatusForming {
		t.Fatalf("Find(1) = %+v, %v", info, ok)
	}
	latest, ok := l.Find("TRIO", "*")
	if !ok || latest.Session != "2" {
		t.Fatalf("Find(*) = %+v, %v", latest, ok)
	}
	if _, ok := l.Find("chess", "1"); ok {
		t.Fatal("Find resolved an unknown game")
	}
}
