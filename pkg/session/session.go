package session

import (
	"time"

	"github.com/grabbot/grabbot/pkg/fetch"
	"github.com/grabbot/grabbot/pkg/notify"
)

// State is a session's position in the fetch lifecycle.
type State string

const (
	// StateAwaitingFormat means a locator arrived and the format keyboard
	// is up. A new locator in this state replaces the session.
	StateAwaitingFormat State = "awaiting_format"
	// StateStarting means a worker was spawned but no progress yet.
	StateStarting State = "starting"
	// StateDownloading means progress reports are flowing.
	StateDownloading State = "downloading"
	// StateUploading means the fetch finished and delivery is running.
	StateUploading State = "uploading"
)

// Session is the per-chat state. Only the control loop mutates it.
type Session struct {
	Key      string
	Channel  string
	ChatID   string
	SenderID string
	Locator  string
	Format   fetch.Format
	State    State

	// Prompt is the format keyboard message; once a format is chosen it is
	// edited in place and becomes Status.
	Prompt notify.MessageRef
	Status notify.MessageRef

	StartedAt time.Time
}

// Busy reports whether a job is in flight for this session.
func (s *Session) Busy() bool {
	switch s.State {
	case StateStarting, StateDownloading, StateUploading:
		return true
	}
	return false
}
