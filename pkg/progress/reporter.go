package progress

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/grabbot/grabbot/pkg/logger"
	"github.com/grabbot/grabbot/pkg/notify"
)

// StatusResolver reports where a session's live status message lives.
// Implemented by the session manager; returns false once the session is gone
// or never got a status message.
type StatusResolver interface {
	StatusTarget(key string) (notify.MessageRef, bool)
}

// Reporter periodically renders every active downloading snapshot into its
// chat's status message. Edit failures are logged and swallowed; the next
// tick retries naturally. Each chat is updated in its own goroutine so one
// slow transport call cannot delay the others.
type Reporter struct {
	store        *Store
	sinks        *notify.Router
	sessions     StatusResolver
	interval     time.Duration
	initialDelay time.Duration
	editTimeout  time.Duration
}

func NewReporter(store *Store, sinks *notify.Router, sessions StatusResolver, interval, initialDelay time.Duration) *Reporter {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Reporter{
		store:        store,
		sinks:        sinks,
		sessions:     sessions,
		interval:     interval,
		initialDelay: initialDelay,
		editTimeout:  10 * time.Second,
	}
}

// Run blocks until ctx is done.
func (r *Reporter) Run(ctx context.Context) {
	if r.initialDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.initialDelay):
		}
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick runs one reporting pass. ListActive already prunes stale entries.
func (r *Reporter) Tick(ctx context.Context) {
	active := r.store.ListActive()
	if len(active) == 0 {
		return
	}

	var wg sync.WaitGroup
	for key, snap := range active {
		if snap.Phase != PhaseDownloading {
			continue
		}
		wg.Add(1)
		go func(key string, snap Snapshot) {
			defer wg.Done()
			r.update(ctx, key, snap)
		}(key, snap)
	}
	wg.Wait()
}

func (r *Reporter) update(ctx context.Context, key string, snap Snapshot) {
	ref, ok := r.sessions.StatusTarget(key)
	if !ok || ref.Zero() {
		return
	}
	channel, _, ok := splitKey(key)
	if !ok {
		return
	}
	sink, ok := r.sinks.Sink(channel)
	if !ok {
		return
	}

	editCtx, cancel := context.WithTimeout(ctx, r.editTimeout)
	defer cancel()

	if err := sink.EditMessage(editCtx, ref, RenderStatus(snap)); err != nil {
		logger.DebugCF("reporter", "Status edit failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}
}

func splitKey(key string) (channel, chatID string, ok bool) {
	i := strings.Index(key, ":")
	if i <= 0 || i == len(key)-1 {
		return "", "", false
	}
	return key[:i], key[i+1:], true
}
