package lobby

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/louisbranch/arbiter.games/internal/games"
	"github.com/louisbranch/arbiter.games/internal/wire"
)

// Status is a match's lifecycle phase.
type Status string

const (
	// StatusForming means the match is waiting for players.
	StatusForming Status = "forming"
	// StatusRunning means a worker owns the match.
	StatusRunning Status = "running"
	// StatusOver means the match finished and its result is recorded.
	StatusOver Status = "over"
)

// Match is one game session from formation to completion. Guarded by the
// owning lobby's mutex.
type Match struct {
	entry   games.Entry
	session string
	status  Status

	// slots holds seated players by index; nil is an open slot.
	slots      []*wire.Client
	spectators []*wire.Client
	settings   map[string]string

	// Result fields, populated once status is StatusOver.
	gamelogFilename string
	runError        string
}

func newMatch(entry games.Entry, session string) *Match {
	return &Match{
		entry:    entry,
		session:  session,
		status:   StatusForming,
		slots:    make([]*wire.Client, entry.Info.RequiredPlayers),
		settings: map[string]string{},
	}
}

// GameName returns the canonical name of the match's game.
func (m *Match) GameName() string { return m.entry.Info.Name }

// Session returns the match's session id.
func (m *Match) Session() string { return m.session }

// Status returns the match's lifecycle phase.
func (m *Match) Status() Status { return m.status }

// seat places a client in a player slot: the requested index when it is
// valid and open, otherwise the first open slot.
func (m *Match) seat(c *wire.Client, requested *int) (int, error) {
	if requested != nil {
		idx := *requested
		if idx < 0 || idx >= len(m.slots) {
			return 0, fmt.Errorf("player index %d out of range for %d players",
				idx, len(m.slots))
		}
		if m.slots[idx] == nil {
			m.slots[idx] = c
			return idx, nil
		}
	}
	for idx, taken := range m.slots {
		if taken == nil {
			m.slots[idx] = c
			return idx, nil
		}
	}
	return 0, fmt.Errorf("game session %s is full", m.session)
}

// unseat removes a client that left during formation, reopening its slot.
func (m *Match) unseat(c *wire.Client) {
	for idx, seated := range m.slots {
		if seated == c {
			m.slots[idx] = nil
			return
		}
	}
	for i, spec := range m.spectators {
		if spec == c {
			m.spectators = append(m.spectators[:i], m.spectators[i+1:]...)
			return
		}
	}
}

// full reports whether every player slot is taken.
func (m *Match) full() bool {
	for _, seated := range m.slots {
		if seated == nil {
			return false
		}
	}
	return true
}

// clients returns every connected participant, players first in slot order.
func (m *Match) clients() []*wire.Client {
	out := make([]*wire.Client, 0, len(m.slots)+len(m.spectators))
	out = append(out, m.slots...)
	return append(out, m.spectators...)
}

// mergeSettings folds a client's requested settings in. The first client to
// supply a key wins; later values for the same key are ignored.
func (m *Match) mergeSettings(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return fmt.Errorf("parse game settings: %w", err)
	}
	for key, vals := range values {
		if _, taken := m.settings[key]; taken || len(vals) == 0 {
			continue
		}
		m.settings[key] = vals[0]
	}
	return nil
}
