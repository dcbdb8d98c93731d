package janitor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adhocore/gronx"

	"github.com/grabbot/grabbot/pkg/logger"
)

// historyRetention bounds how long finished fetches stay queryable.
const historyRetention = 30 * 24 * time.Hour

// Pruner trims old history rows. Implemented by history.Store.
type Pruner interface {
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Activity lists scratch directories owned by in-flight workers. Implemented
// by session.Manager. The sweep must never touch these, whatever their
// mtime: a slow download can outlive the age limit without ever refreshing
// its directory.
type Activity interface {
	ActiveScratch() []string
}

// Janitor sweeps abandoned scratch directories on a cron schedule. Scratch
// dirs normally vanish with their worker; the sweep catches the ones left by
// crashes and kills.
type Janitor struct {
	root     string
	schedule string
	maxAge   time.Duration
	activity Activity
	pruner   Pruner // nil when history is disabled
}

func New(root, schedule string, maxAge time.Duration, activity Activity, pruner Pruner) (*Janitor, error) {
	gron := gronx.New()
	if !gron.IsValid(schedule) {
		return nil, fmt.Errorf("invalid cleanup schedule %q", schedule)
	}
	if maxAge <= 0 {
		maxAge = 6 * time.Hour
	}
	return &Janitor{root: root, schedule: schedule, maxAge: maxAge, activity: activity, pruner: pruner}, nil
}

// Run blocks until ctx is done, checking the schedule once a minute.
func (j *Janitor) Run(ctx context.Context) {
	gron := gronx.New()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due, err := gron.IsDue(j.schedule)
			if err != nil || !due {
				continue
			}
			if _, err := j.Sweep(ctx); err != nil {
				logger.WarnCF("janitor", "Sweep failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}
}

// Sweep removes scratch entries older than the age limit and prunes old
// history rows. Returns how many scratch entries went.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(j.root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read scratch root: %w", err)
	}

	live := make(map[string]struct{})
	if j.activity != nil {
		for _, dir := range j.activity.ActiveScratch() {
			live[dir] = struct{}{}
		}
	}

	cutoff := time.Now().Add(-j.maxAge)
	removed := 0
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(j.root, entry.Name())
		if _, ok := live[path]; ok {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			logger.WarnCF("janitor", "Scratch entry removal failed", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
			continue
		}
		removed++
	}

	if removed > 0 {
		logger.InfoCF("janitor", "Scratch swept", map[string]interface{}{
			"removed": removed,
		})
	}

	if j.pruner != nil {
		if n, err := j.pruner.Prune(ctx, historyRetention); err != nil {
			logger.WarnCF("janitor", "History prune failed", map[string]interface{}{
				"error": err.Error(),
			})
		} else if n > 0 {
			logger.InfoCF("janitor", "History pruned", map[string]interface{}{
				"rows": n,
			})
		}
	}

	return removed, nil
}
