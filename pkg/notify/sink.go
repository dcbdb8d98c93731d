// Package notify defines the contract between the orchestration core and
// whatever chat transport carries the conversation. Transports are external
// collaborators: every call here may fail with a transport error, and callers
// treat such failures as non-fatal.
package notify

import "context"

// MessageRef identifies a previously sent message so it can later be edited
// or deleted. MessageID is transport-specific (numeric for Telegram,
// snowflake string for Discord).
type MessageRef struct {
	ChatID    string
	MessageID string
}

func (r MessageRef) Zero() bool {
	return r.MessageID == ""
}

// Choice is one inline button offered to the user.
type Choice struct {
	Label string
	// Data is the opaque callback payload reported back when pressed.
	Data string
}

// AudioMeta decorates an audio attachment.
type AudioMeta struct {
	Title     string
	Performer string
}

// VideoMeta decorates a video attachment.
type VideoMeta struct {
	Width           int
	Height          int
	DurationSeconds int
}

// Sink is the notification surface of one chat transport.
type Sink interface {
	SendMessage(ctx context.Context, chatID, text string) (MessageRef, error)
	EditMessage(ctx context.Context, ref MessageRef, text string) error
	DeleteMessage(ctx context.Context, ref MessageRef) error
	PresentChoice(ctx context.Context, chatID, text string, choices []Choice) (MessageRef, error)
	SendAudio(ctx context.Context, chatID, path, caption string, meta AudioMeta) error
	SendVideo(ctx context.Context, chatID, path, caption string, meta VideoMeta) error
}
