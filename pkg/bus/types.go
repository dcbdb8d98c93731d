package bus

// EventKind discriminates the events feeding the session control loop.
type EventKind int

const (
	// EventLocator carries a target URL pasted into a chat.
	EventLocator EventKind = iota
	// EventFormat carries a format-button press ("audio"/"video").
	EventFormat
	// EventAnother is the "download another" button press.
	EventAnother
	// EventHistory is the /history command.
	EventHistory
	// EventJobDownloading is published once by a worker when the first
	// progress report arrives.
	EventJobDownloading
	// EventJobUploading is published by a worker when its fetch finished
	// and delivery started.
	EventJobUploading
	// EventJobFinished is published by a worker once delivery succeeded or
	// any stage failed.
	EventJobFinished
)

// Callback payloads carried by choice buttons. Channel pumps translate them
// back into events.
const (
	ChoiceFormatAudio = "format:audio"
	ChoiceFormatVideo = "format:video"
	ChoiceAnother     = "another"
)

// Event is the only message type crossing from channel pumps and workers
// into the control loop. Per chat, events are consumed in publish order.
type Event struct {
	Kind     EventKind
	Channel  string
	ChatID   string
	SenderID string

	// EventLocator
	Locator string

	// EventFormat
	Format string

	// EventJobFinished
	Delivered bool
	FailCause string
}

// SessionKey returns the key all per-chat state is sharded by.
func (e Event) SessionKey() string {
	return e.Channel + ":" + e.ChatID
}
