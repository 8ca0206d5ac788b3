package models

// SessionState represents the lifecycle state of a realtime connection.
type SessionState string

const (
	SessionDisconnected SessionState = "disconnected"
	SessionConnecting   SessionState = "connecting"
	SessionConnected    SessionState = "connected"
	SessionReconnecting SessionState = "reconnecting"
	SessionFailed       SessionState = "failed"
)
