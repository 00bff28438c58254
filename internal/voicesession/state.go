package voicesession

import (
	"errors"

	"github.com/eleven-am/voice-intake/internal/ticket"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

var allStates = []string{
	string(StateDisconnected),
	string(StateConnecting),
	string(StateConnected),
	string(StateError),
}

// User-facing messages. They never carry transport detail.
const (
	MessageAcquisitionFailed = "No se pudo acceder al micrófono o conectar con el servicio."
	MessageConnectionError   = "Error de conexión con el servidor."
)

var (
	ErrSessionActive  = errors.New("voicesession: a session is already active")
	ErrAcquisition    = errors.New("voicesession: could not acquire microphone or live session")
	ErrConnectAborted = errors.New("voicesession: connect aborted by disconnect")
	ErrManagerClosed  = errors.New("voicesession: manager closed")
)

// Active reports whether a new session may not be started from s.
func (s State) Active() bool {
	return s == StateConnecting || s == StateConnected
}

// Snapshot is the externally visible view of the engine.
type Snapshot struct {
	State     State          `json:"state"`
	Error     string         `json:"error,omitempty"`
	Speaking  bool           `json:"speaking"`
	SessionID string         `json:"session_id,omitempty"`
	Ticket    *ticket.Ticket `json:"ticket,omitempty"`
}
