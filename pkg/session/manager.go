package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/grabbot/grabbot/pkg/bus"
	"github.com/grabbot/grabbot/pkg/config"
	"github.com/grabbot/grabbot/pkg/delivery"
	"github.com/grabbot/grabbot/pkg/fetch"
	"github.com/grabbot/grabbot/pkg/history"
	"github.com/grabbot/grabbot/pkg/logger"
	"github.com/grabbot/grabbot/pkg/notify"
	"github.com/grabbot/grabbot/pkg/progress"
	"github.com/grabbot/grabbot/pkg/utils"
)

const (
	sendTimeout  = 10 * time.Second
	failCauseMax = 100
	historyLimit = 10

	limiterCap  = 1024
	limiterIdle = time.Hour
)

// Recorder persists finished fetches. Implemented by history.Store.
type Recorder interface {
	Add(ctx context.Context, e history.Entry) error
	Recent(ctx context.Context, channel, chatID string, limit int) ([]history.Entry, error)
}

// Manager owns all per-chat sessions. It is the single consumer of the event
// queue: every session mutation happens on the Run goroutine, so no locking
// is needed beyond the map itself (read concurrently by the progress
// reporter through StatusTarget).
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	queue     *bus.Queue
	sinks     *notify.Router
	store     *progress.Store
	fetcher   fetch.Fetcher
	deliverer *delivery.Coordinator
	recorder  Recorder // nil when history is disabled

	scratchRoot string

	// scratch tracks directories owned by in-flight workers so the
	// janitor leaves them alone.
	scratchMu sync.Mutex
	scratch   map[string]struct{}

	// limiters is touched only by the control loop.
	limiters   map[string]*chatLimiter
	limitRate  rate.Limit
	limitBurst int

	// wg tracks fetch workers for shutdown.
	wg sync.WaitGroup
}

func NewManager(cfg *config.Config, queue *bus.Queue, sinks *notify.Router, store *progress.Store, fetcher fetch.Fetcher, deliverer *delivery.Coordinator, recorder Recorder) *Manager {
	perMinute := cfg.Limits.RequestsPerMinute
	if perMinute <= 0 {
		perMinute = 10
	}
	burst := cfg.Limits.RequestBurst
	if burst <= 0 {
		burst = 1
	}
	return &Manager{
		sessions:    make(map[string]*Session),
		queue:       queue,
		sinks:       sinks,
		store:       store,
		fetcher:     fetcher,
		deliverer:   deliverer,
		recorder:    recorder,
		scratchRoot: cfg.ScratchPath(),
		scratch:     make(map[string]struct{}),
		limiters:    make(map[string]*chatLimiter),
		limitRate:   rate.Every(time.Minute / time.Duration(perMinute)),
		limitBurst:  burst,
	}
}

// Run consumes events until ctx is done, then waits for in-flight workers.
func (m *Manager) Run(ctx context.Context) {
	logger.InfoC("session", "Control loop started")
	for {
		ev, ok := m.queue.Consume(ctx)
		if !ok {
			break
		}
		m.dispatch(ctx, ev)
	}
	m.wg.Wait()
	logger.InfoC("session", "Control loop stopped")
}

func (m *Manager) dispatch(ctx context.Context, ev bus.Event) {
	switch ev.Kind {
	case bus.EventLocator:
		m.handleLocator(ctx, ev)
	case bus.EventFormat:
		m.handleFormat(ctx, ev)
	case bus.EventAnother:
		m.handleAnother(ctx, ev)
	case bus.EventHistory:
		m.handleHistory(ctx, ev)
	case bus.EventJobDownloading:
		m.setState(ev.SessionKey(), StateDownloading)
	case bus.EventJobUploading:
		m.setState(ev.SessionKey(), StateUploading)
	case bus.EventJobFinished:
		m.handleOutcome(ctx, ev)
	}
}

// StatusTarget implements progress.StatusResolver.
func (m *Manager) StatusTarget(key string) (notify.MessageRef, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[key]
	if !ok || sess.Status.Zero() {
		return notify.MessageRef{}, false
	}
	return sess.Status, true
}

// Len returns the live session count.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) handleLocator(ctx context.Context, ev bus.Event) {
	key := ev.SessionKey()

	if !m.limiter(key).Allow() {
		m.send(ctx, ev.Channel, ev.ChatID, "⏳ Too many requests, give it a minute.")
		return
	}

	if !ValidateLocator(ev.Locator) {
		m.send(ctx, ev.Channel, ev.ChatID, "That doesn't look like a YouTube link. Send me one to download.")
		return
	}

	m.mu.RLock()
	existing := m.sessions[key]
	m.mu.RUnlock()
	if existing != nil && existing.Busy() {
		m.send(ctx, ev.Channel, ev.ChatID, "A download is already running in this chat. Wait for it to finish.")
		return
	}

	sink, ok := m.sinks.Sink(ev.Channel)
	if !ok {
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	ref, err := sink.PresentChoice(callCtx, ev.ChatID, "Choose a format:", []notify.Choice{
		{Label: "🎵 MP3", Data: bus.ChoiceFormatAudio},
		{Label: "🎬 MP4", Data: bus.ChoiceFormatVideo},
	})
	cancel()
	if err != nil {
		logger.WarnCF("session", "Format prompt failed", map[string]interface{}{
			"chat_id": ev.ChatID,
			"error":   err.Error(),
		})
		return
	}

	// An earlier AwaitingFormat session for this chat is simply replaced;
	// its keyboard buttons go stale.
	m.mu.Lock()
	m.sessions[key] = &Session{
		Key:       key,
		Channel:   ev.Channel,
		ChatID:    ev.ChatID,
		SenderID:  ev.SenderID,
		Locator:   ev.Locator,
		State:     StateAwaitingFormat,
		Prompt:    ref,
		StartedAt: time.Now(),
	}
	m.mu.Unlock()
}

func (m *Manager) handleFormat(ctx context.Context, ev bus.Event) {
	key := ev.SessionKey()

	m.mu.RLock()
	sess := m.sessions[key]
	m.mu.RUnlock()
	if sess == nil {
		// Button from a replaced or finished session.
		m.send(ctx, ev.Channel, ev.ChatID, "That session expired. Send the link again.")
		return
	}
	if sess.State != StateAwaitingFormat {
		// Duplicate press while the job is already running.
		m.send(ctx, ev.Channel, ev.ChatID, "A download is already running in this chat. Wait for it to finish.")
		return
	}

	format := fetch.Format(ev.Format)
	if !format.Valid() {
		return
	}

	sink, ok := m.sinks.Sink(ev.Channel)
	if !ok {
		return
	}

	// The keyboard message turns into the live status message.
	status := sess.Prompt
	callCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	err := sink.EditMessage(callCtx, status, "⏳ Starting download...")
	cancel()
	if err != nil {
		callCtx, cancel = context.WithTimeout(ctx, sendTimeout)
		status, err = sink.SendMessage(callCtx, ev.ChatID, "⏳ Starting download...")
		cancel()
		if err != nil {
			logger.WarnCF("session", "Status message failed", map[string]interface{}{
				"chat_id": ev.ChatID,
				"error":   err.Error(),
			})
			return
		}
	}

	m.mu.Lock()
	sess.Format = format
	sess.State = StateStarting
	sess.Status = status
	sess.StartedAt = time.Now()
	m.mu.Unlock()

	m.store.Set(key, progress.Snapshot{Phase: progress.PhaseStarting})

	job := jobSpec{
		Key:      key,
		Channel:  ev.Channel,
		ChatID:   ev.ChatID,
		SenderID: sess.SenderID,
		Locator:  sess.Locator,
		Format:   format,
		Status:   status,
	}
	m.wg.Add(1)
	go m.runJob(ctx, job)
}

func (m *Manager) handleAnother(ctx context.Context, ev bus.Event) {
	m.send(ctx, ev.Channel, ev.ChatID, "Send me a YouTube link to download.")
}

func (m *Manager) handleHistory(ctx context.Context, ev bus.Event) {
	if m.recorder == nil {
		m.send(ctx, ev.Channel, ev.ChatID, "History is disabled.")
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	entries, err := m.recorder.Recent(callCtx, ev.Channel, ev.ChatID, historyLimit)
	cancel()
	if err != nil {
		logger.WarnCF("session", "History query failed", map[string]interface{}{
			"chat_id": ev.ChatID,
			"error":   err.Error(),
		})
		m.send(ctx, ev.Channel, ev.ChatID, "Could not load history, try again later.")
		return
	}
	m.send(ctx, ev.Channel, ev.ChatID, history.RenderRecent(entries))
}

func (m *Manager) handleOutcome(ctx context.Context, ev bus.Event) {
	key := ev.SessionKey()
	m.store.Delete(key)

	m.mu.RLock()
	sess := m.sessions[key]
	m.mu.RUnlock()
	if sess == nil {
		return
	}

	if !ev.Delivered {
		text := "❌ " + utils.Truncate(ev.FailCause, failCauseMax) + "\nSend the link again to retry."
		sink, ok := m.sinks.Sink(ev.Channel)
		if ok {
			callCtx, cancel := context.WithTimeout(ctx, sendTimeout)
			var err error
			if !sess.Status.Zero() {
				err = sink.EditMessage(callCtx, sess.Status, text)
			} else {
				_, err = sink.SendMessage(callCtx, ev.ChatID, text)
			}
			cancel()
			if err != nil {
				callCtx, cancel = context.WithTimeout(ctx, sendTimeout)
				sink.SendMessage(callCtx, ev.ChatID, text)
				cancel()
			}
		}
	}

	m.mu.Lock()
	delete(m.sessions, key)
	m.mu.Unlock()

	logger.InfoCF("session", "Session finished", map[string]interface{}{
		"key":       key,
		"delivered": ev.Delivered,
	})
}

func (m *Manager) setState(key string, state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[key]; ok {
		sess.State = state
	}
}

// chatLimiter pairs a rate limiter with its last use so idle chats can be
// evicted.
type chatLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

func (m *Manager) limiter(key string) *rate.Limiter {
	now := time.Now()
	cl, ok := m.limiters[key]
	if !ok {
		if len(m.limiters) >= limiterCap {
			m.evictIdleLimiters(now)
		}
		cl = &chatLimiter{lim: rate.NewLimiter(m.limitRate, m.limitBurst)}
		m.limiters[key] = cl
	}
	cl.seen = now
	return cl.lim
}

func (m *Manager) evictIdleLimiters(now time.Time) {
	for key, cl := range m.limiters {
		if now.Sub(cl.seen) > limiterIdle {
			delete(m.limiters, key)
		}
	}
}

// ActiveScratch lists scratch directories with a live worker. The janitor
// skips them when sweeping.
func (m *Manager) ActiveScratch() []string {
	m.scratchMu.Lock()
	defer m.scratchMu.Unlock()
	dirs := make([]string, 0, len(m.scratch))
	for dir := range m.scratch {
		dirs = append(dirs, dir)
	}
	return dirs
}

func (m *Manager) trackScratch(dir string) {
	m.scratchMu.Lock()
	m.scratch[dir] = struct{}{}
	m.scratchMu.Unlock()
}

func (m *Manager) releaseScratch(dir string) {
	m.scratchMu.Lock()
	delete(m.scratch, dir)
	m.scratchMu.Unlock()
}

func (m *Manager) send(ctx context.Context, channel, chatID, text string) {
	sink, ok := m.sinks.Sink(channel)
	if !ok {
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if _, err := sink.SendMessage(callCtx, chatID, text); err != nil {
		logger.DebugCF("session", "Send failed", map[string]interface{}{
			"chat_id": chatID,
			"error":   err.Error(),
		})
	}
}

// jobSpec is the immutable copy of session fields a worker needs.
type jobSpec struct {
	Key      string
	Channel  string
	ChatID   string
	SenderID string
	Locator  string
	Format   fetch.Format
	Status   notify.MessageRef
}

// runJob is the fetch worker. It never touches the session map; everything
// flows back through the queue and the progress store.
func (m *Manager) runJob(ctx context.Context, job jobSpec) {
	defer m.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("session", "Fetch worker panicked", map[string]interface{}{
				"key":   job.Key,
				"panic": fmt.Sprint(r),
			})
			m.finishJob(ctx, job, "", 0, "something went wrong")
		}
	}()

	dir := filepath.Join(m.scratchRoot, uuid.NewString())
	if err := os.MkdirAll(dir, 0755); err != nil {
		m.finishJob(ctx, job, "", 0, "could not prepare workspace")
		return
	}
	m.trackScratch(dir)
	defer func() {
		m.releaseScratch(dir)
		os.RemoveAll(dir)
	}()

	meta, err := m.fetcher.Probe(ctx, job.Locator)
	if err != nil {
		m.finishJob(ctx, job, "", 0, fetch.CauseOf(err))
		return
	}

	var once sync.Once
	err = m.fetcher.Download(ctx, fetch.Request{
		Locator: job.Locator,
		Format:  job.Format,
		Dir:     dir,
		OnProgress: func(rep fetch.Report) {
			once.Do(func() {
				m.queue.Publish(bus.Event{
					Kind:    bus.EventJobDownloading,
					Channel: job.Channel,
					ChatID:  job.ChatID,
				})
			})
			m.store.Set(job.Key, progress.Snapshot{
				Phase:      progress.PhaseDownloading,
				Percent:    progress.ParsePercent(rep.PercentRaw),
				PercentRaw: rep.PercentRaw,
				Speed:      rep.Speed,
				ETA:        rep.ETA,
			})
		},
	})
	if err != nil {
		m.finishJob(ctx, job, meta.Title, 0, fetch.CauseOf(err))
		return
	}

	m.store.Set(job.Key, progress.Snapshot{Phase: progress.PhaseFinished, Percent: 100})
	m.queue.Publish(bus.Event{
		Kind:    bus.EventJobUploading,
		Channel: job.Channel,
		ChatID:  job.ChatID,
	})

	res, err := m.deliverer.Deliver(ctx, delivery.Job{
		Channel: job.Channel,
		ChatID:  job.ChatID,
		Locator: job.Locator,
		Format:  job.Format,
		Dir:     dir,
		Meta:    meta,
		Status:  job.Status,
	})
	if err != nil {
		var de *delivery.Error
		cause := "the delivery failed"
		if errors.As(err, &de) {
			cause = de.Cause
		}
		m.finishJob(ctx, job, meta.Title, 0, cause)
		return
	}

	m.finishJob(ctx, job, res.Title, res.SizeBytes, "")
}

// finishJob records history and publishes the outcome event. The job
// context may already be cancelled, so the history write gets its own
// deadline; ctx only bounds the outcome publish for shutdown.
func (m *Manager) finishJob(ctx context.Context, job jobSpec, title string, size int64, failCause string) {
	if m.recorder != nil {
		recCtx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		err := m.recorder.Add(recCtx, history.Entry{
			Channel:   job.Channel,
			ChatID:    job.ChatID,
			SenderID:  job.SenderID,
			Locator:   job.Locator,
			Format:    string(job.Format),
			Title:     title,
			SizeBytes: size,
			Delivered: failCause == "",
			FailCause: failCause,
		})
		cancel()
		if err != nil {
			logger.WarnCF("session", "History record failed", map[string]interface{}{
				"key":   job.Key,
				"error": err.Error(),
			})
		}
	}

	// A dropped outcome would strand the session, so this publish waits
	// out a full queue.
	m.queue.PublishWait(ctx, bus.Event{
		Kind:      bus.EventJobFinished,
		Channel:   job.Channel,
		ChatID:    job.ChatID,
		SenderID:  job.SenderID,
		Locator:   job.Locator,
		Delivered: failCause == "",
		FailCause: failCause,
	})
}
