// Package wire implements the event-tagged JSON protocol spoken between the
// server and remote AI clients, over stream (TCP) and message (websocket)
// transports.
package wire

// Event names sent by clients.
const (
	EventPlay     = "play"
	EventRun      = "run"
	EventFinished = "finished"
	EventAlive    = "alive"
)

// Event names sent by the server.
const (
	EventLobbied = "lobbied"
	EventStart   = "start"
	EventDelta   = "delta"
	EventOrder   = "order"
	EventRan     = "ran"
	EventInvalid = "invalid"
	EventOver    = "over"
	EventFatal   = "fatal"
)

// EOT terminates each message on stream transports. Raw streams may coalesce
// or split writes, so both ends buffer until they see the sentinel.
const EOT byte = 0x04

// PlayData is a client's join request.
type PlayData struct {
	GameName         string `json:"gameName"`
	RequestedSession string `json:"requestedSession"`
	ClientType       string `json:"clientType,omitempty"`
	PlayerName       string `json:"playerName"`
	PlayerIndex      *int   `json:"playerIndex,omitempty"`
	Password         string `json:"password,omitempty"`
	Spectating       bool   `json:"spectating,omitempty"`
	GameSettings     string `json:"gameSettings,omitempty"`
}

// Reference points at a game object by id. Object references never embed the
// object itself on the wire.
type Reference struct {
	ID string `json:"id"`
}

// RunData asks the server to invoke named game logic on a game object.
type RunData struct {
	Caller       Reference      `json:"caller"`
	FunctionName string         `json:"functionName"`
	Args         map[string]any `json:"args,omitempty"`
}

// FinishedData answers a previously issued order.
type FinishedData struct {
	OrderIndex int `json:"orderIndex"`
	Returned   any `json:"returned"`
}

// Constants tells clients how to interpret delta trees.
type Constants struct {
	DeltaRemoved    string `json:"DELTA_REMOVED"`
	DeltaListLength string `json:"DELTA_LIST_LENGTH"`
}

// LobbiedData confirms a client has been placed in a match-in-formation.
type LobbiedData struct {
	GameName    string    `json:"gameName"`
	GameSession string    `json:"gameSession"`
	Constants   Constants `json:"constants"`
}

// StartData tells a client the match has begun. PlayerID is empty for
// spectators.
type StartData struct {
	PlayerID string `json:"playerID,omitempty"`
}

// OrderData asks a client to execute named client-side logic.
type OrderData struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Args  []any  `json:"args,omitempty"`
}

// RanData carries the result of a completed run request.
type RanData struct {
	Returned any `json:"returned"`
}

// InvalidData reports a rejected action back to the offending client.
type InvalidData struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// OverData signals the end of a match, with optional pointers to the
// recorded gamelog.
type OverData struct {
	GamelogFilename string `json:"gamelogFilename,omitempty"`
}

// FatalData is the last message a client receives before disconnection.
type FatalData struct {
	Message string `json:"message"`
}
