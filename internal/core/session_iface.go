package core

// SessionID identifies one live connection. It is transient: a participant that
// reconnects keeps its ParticipantID but gets a new SessionID.
type SessionID string

// Frame is an encoded outbound event.
type Frame []byte

// SignalConnection is the outbound side of a realtime connection.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend never blocks; it fails when the connection cannot take the frame now.
	TrySend(Frame) error
	Close()
}

// MemberSession binds a connection handle and its transport endpoint.
// This is what a room stores and fans out to.
type MemberSession interface {
	ID() SessionID
	Signal() SignalConnection
}
