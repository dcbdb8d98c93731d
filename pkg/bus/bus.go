package bus

import (
	"context"

	"github.com/grabbot/grabbot/pkg/logger"
)

const defaultQueueSize = 256

// Queue is a buffered event queue with a single consumer (the session
// control loop) and many producers (channel pumps, fetch workers).
type Queue struct {
	events chan Event
}

func NewQueue() *Queue {
	return &Queue{events: make(chan Event, defaultQueueSize)}
}

// Publish enqueues an event. It never blocks producers: when the queue is
// full the event is dropped and logged, which only costs the user one
// interaction rather than wedging a channel pump.
func (q *Queue) Publish(ev Event) {
	select {
	case q.events <- ev:
	default:
		logger.WarnCF("bus", "Event queue full, dropping event", map[string]interface{}{
			"kind":    int(ev.Kind),
			"chat_id": ev.ChatID,
		})
	}
}

// PublishWait enqueues an event, blocking until there is room in the queue
// or ctx is done. Fetch workers use it for terminal outcomes: dropping one
// would leave its session alive forever, so outcomes wait out a full queue
// instead. Returns false only when ctx ended first.
func (q *Queue) PublishWait(ctx context.Context, ev Event) bool {
	select {
	case q.events <- ev:
		return true
	case <-ctx.Done():
		logger.WarnCF("bus", "Queue shut down before event was enqueued", map[string]interface{}{
			"kind":    int(ev.Kind),
			"chat_id": ev.ChatID,
		})
		return false
	}
}

// Consume blocks until an event arrives or ctx is done. The second return
// value is false when ctx ended.
func (q *Queue) Consume(ctx context.Context) (Event, bool) {
	select {
	case <-ctx.Done():
		return Event{}, false
	case ev := <-q.events:
		return ev, true
	}
}
