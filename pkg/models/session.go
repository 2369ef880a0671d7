package models

import "time"

// ConnectionState describes a session's connection lifecycle.
type ConnectionState string

const (
	// StateStarting means the session handle exists but the socket is not open yet.
	StateStarting ConnectionState = "starting"
	// StateOpen means the session is connected and authenticated.
	StateOpen ConnectionState = "open"
	// StateClosed means the socket closed; the handle is dead.
	StateClosed ConnectionState = "closed"
	// StateUnknown is reported for sessions the process has never seen.
	StateUnknown ConnectionState = "unknown"
)

// SessionStatus is the supervisor's view of one session.
type SessionStatus struct {
	Session    string          `json:"session"`
	Connection ConnectionState `json:"connection"`
	LastChange time.Time       `json:"lastChange"`
}
