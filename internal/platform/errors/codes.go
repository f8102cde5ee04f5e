package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Protocol errors
	CodeProtocolMalformed       Code = "PROTOCOL_MALFORMED"
	CodeProtocolUnexpectedEvent Code = "PROTOCOL_UNEXPECTED_EVENT"
	CodeProtocolEmptyEvent      Code = "PROTOCOL_EMPTY_EVENT"

	// Lobby errors
	CodeLobbyUnknownGame     Code = "LOBBY_UNKNOWN_GAME"
	CodeLobbyNameRequired    Code = "LOBBY_NAME_REQUIRED"
	CodeLobbyAuthFailed      Code = "LOBBY_AUTH_FAILED"
	CodeLobbyMatchRunning    Code = "LOBBY_MATCH_RUNNING"
	CodeLobbyShuttingDown    Code = "LOBBY_SHUTTING_DOWN"
	CodeLobbyInvalidSettings Code = "LOBBY_INVALID_SETTINGS"

	// Match errors
	CodeMatchOver        Code = "MATCH_OVER"
	CodeMatchFatal       Code = "MATCH_FATAL"
	CodeRunPending       Code = "RUN_PENDING"
	CodeRunUnknownTarget Code = "RUN_UNKNOWN_TARGET"
	CodeRunUnknownName   Code = "RUN_UNKNOWN_NAME"
	CodeOrderUnknown     Code = "ORDER_UNKNOWN"
	CodeOrderNoHandler   Code = "ORDER_NO_HANDLER"

	// Client errors
	CodeClientTimedOut     Code = "CLIENT_TIMED_OUT"
	CodeClientDisconnected Code = "CLIENT_DISCONNECTED"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)
