// Package gamelog records finished matches as compressed replay files with a
// SQLite lookup index.
package gamelog

import (
	"fmt"
	"strings"
)

// Delta is one recorded state transition plus the event that caused it.
type Delta struct {
	// Type names the triggering event: start, ran, finished, disconnect,
	// timeout or over.
	Type string `json:"type"`
	// Game is the true state delta, unobscured.
	Game map[string]any `json:"game,omitempty"`
	// Data carries the triggering event's payload, when it has one.
	Data any `json:"data,omitempty"`
	// Obscured holds each diverged viewer's delta, keyed by player id. It
	// is only present for games with hidden information.
	Obscured map[string]map[string]any `json:"obscured,omitempty"`
}

// Result records one player's final standing.
type Result struct {
	Index  int    `json:"index"`
	ID     string `json:"id"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Gamelog is the full replay record of one match.
type Gamelog struct {
	GameName    string            `json:"gameName"`
	GameSession string            `json:"gameSession"`
	Epoch       int64             `json:"epoch"`
	RandomSeed  string            `json:"randomSeed"`
	Settings    map[string]string `json:"settings,omitempty"`
	Winners     []Result          `json:"winners"`
	Losers      []Result          `json:"losers"`
	Deltas      []Delta           `json:"deltas"`
}

// Filename is the on-disk name this gamelog is stored under.
func (g *Gamelog) Filename() string {
	return fmt.Sprintf("%d-%s-%s.json.lz4",
		g.Epoch, sanitize(g.GameName), sanitize(g.GameSession))
}

// sanitize strips client-supplied identifiers down to filesystem-safe
// characters. Sessions come straight off the wire, so this guards against
// path traversal in filenames.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}
