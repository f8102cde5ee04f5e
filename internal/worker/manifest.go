// Package worker runs one match: it owns the game engine, funnels every
// client's events through a single loop and records the gamelog.
package worker

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/louisbranch/arbiter.games/internal/gamelog"
	"github.com/louisbranch/arbiter.games/internal/wire"
)

// ClientManifest describes one handed-off connection. The i-th client's
// socket is inherited as file descriptor 3+i.
type ClientManifest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind string `json:"kind,omitempty"`
	// PlayerIndex is the player slot, or -1 for spectators.
	PlayerIndex     int   `json:"playerIndex"`
	TimeRemainingNS int64 `json:"timeRemainingNs"`
	// Buffered holds bytes the lobby had already read past the last
	// complete message; they must be replayed before the socket.
	Buffered []byte `json:"buffered,omitempty"`
}

// Manifest is everything a worker process needs to run one match. The lobby
// writes it to the worker's stdin as one JSON document.
type Manifest struct {
	GameName     string            `json:"gameName"`
	GameSession  string            `json:"gameSession"`
	RandomSeed   string            `json:"randomSeed"`
	Settings     map[string]string `json:"settings,omitempty"`
	MaxInvalids  int               `json:"maxInvalids,omitempty"`
	GamelogDir   string            `json:"gamelogDir,omitempty"`
	GraceDelayNS int64             `json:"graceDelayNs,omitempty"`
	NoTimeout    bool              `json:"noTimeout,omitempty"`
	Clients      []ClientManifest  `json:"clients"`
}

// ReadManifest decodes a manifest from the worker's stdin.
func ReadManifest(r io.Reader) (*Manifest, error) {
	var m Manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode worker manifest: %w", err)
	}
	return &m, nil
}

// Write encodes the manifest as one JSON line.
func (m *Manifest) Write(w io.Writer) error {
	if err := json.NewEncoder(w).Encode(m); err != nil {
		return fmt.Errorf("encode worker manifest: %w", err)
	}
	return nil
}

// Result is the worker's report back to the lobby, printed as one JSON line
// on stdout when the match ends.
type Result struct {
	GamelogFilename string           `json:"gamelogFilename,omitempty"`
	Winners         []gamelog.Result `json:"winners,omitempty"`
	Losers          []gamelog.Result `json:"losers,omitempty"`
	Error           string           `json:"error,omitempty"`
}

// ReadResult decodes a worker's result line.
func ReadResult(r io.Reader) (*Result, error) {
	var res Result
	if err := json.NewDecoder(r).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode worker result: %w", err)
	}
	return &res, nil
}

// Write encodes the result as one JSON line.
func (r *Result) Write(w io.Writer) error {
	if err := json.NewEncoder(w).Encode(r); err != nil {
		return fmt.Errorf("encode worker result: %w", err)
	}
	return nil
}

// AttachClients rebuilds wire clients from the file descriptors the lobby
// passed alongside the manifest.
func (m *Manifest) AttachClients() ([]Participant, error) {
	participants := make([]Participant, 0, len(m.Clients))
	for i, cm := range m.Clients {
		file := os.NewFile(uintptr(3+i), fmt.Sprintf("client-%s", cm.ID))
		if file == nil {
			return nil, fmt.Errorf("client %s: missing inherited fd %d", cm.ID, 3+i)
		}
		conn, err := net.FileConn(file)
		_ = file.Close()
		if err != nil {
			return nil, fmt.Errorf("client %s: rebuild conn from fd: %w", cm.ID, err)
		}

		opts := []wire.Option{wire.WithID(cm.ID)}
		if m.NoTimeout {
			opts = append(opts, wire.WithNoTimeout())
		}
		client, err := wire.NewClient(wire.NewTCPTransport(conn, cm.Buffered), opts...)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		client.Name = cm.Name
		client.Kind = cm.Kind
		client.Spectating = cm.PlayerIndex < 0
		client.SetTimeRemaining(time.Duration(cm.TimeRemainingNS))
		participants = append(participants, Participant{
			Client:      client,
			PlayerIndex: cm.PlayerIndex,
		})
	}
	return participants, nil
}
