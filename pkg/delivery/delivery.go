package delivery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/grabbot/grabbot/pkg/bus"
	"github.com/grabbot/grabbot/pkg/fetch"
	"github.com/grabbot/grabbot/pkg/logger"
	"github.com/grabbot/grabbot/pkg/notify"
	"github.com/grabbot/grabbot/pkg/utils"
)

var audioExts = map[string]bool{".mp3": true, ".m4a": true, ".opus": true, ".ogg": true}
var videoExts = map[string]bool{".mp4": true, ".mkv": true, ".webm": true, ".mov": true}

// Job is one fetched artifact waiting to be handed to its chat.
type Job struct {
	Channel string
	ChatID  string
	Locator string
	Format  fetch.Format
	Dir     string // scratch directory holding the artifact
	Meta    fetch.Metadata
	Status  notify.MessageRef
}

// Result describes a completed delivery.
type Result struct {
	Title     string
	SizeBytes int64
}

// Error is a delivery failure with a cause fit for the chat.
type Error struct {
	Cause string
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Cause + ": " + e.Err.Error()
	}
	return e.Cause
}

func (e *Error) Unwrap() error { return e.Err }

// Coordinator hands fetched artifacts to their chats.
type Coordinator struct {
	sinks         *notify.Router
	maxVideoBytes int64
}

func NewCoordinator(sinks *notify.Router, maxVideoBytes int64) *Coordinator {
	return &Coordinator{sinks: sinks, maxVideoBytes: maxVideoBytes}
}

// Deliver uploads the artifact in job.Dir, replaces the status message with a
// summary, and offers a follow-up button.
func (c *Coordinator) Deliver(ctx context.Context, job Job) (Result, error) {
	sink, ok := c.sinks.Sink(job.Channel)
	if !ok {
		return Result{}, &Error{Cause: "delivery channel is unavailable"}
	}

	path, size, err := findArtifact(job.Dir, job.Format)
	if err != nil {
		return Result{}, err
	}

	title := job.Meta.Title
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	// Best effort; the upload proceeds even if the edit bounces.
	if !job.Status.Zero() {
		if err := sink.EditMessage(ctx, job.Status, "⏫ Uploading..."); err != nil {
			logger.DebugCF("delivery", "Upload status edit failed", map[string]interface{}{
				"chat_id": job.ChatID,
				"error":   err.Error(),
			})
		}
	}

	switch job.Format {
	case fetch.FormatAudio:
		meta := notify.AudioMeta{
			Title:     utils.Truncate(title, 64),
			Performer: job.Meta.Uploader,
		}
		if err := sink.SendAudio(ctx, job.ChatID, path, "", meta); err != nil {
			return Result{}, &Error{Cause: "the audio upload failed", Err: err}
		}
	default:
		if c.maxVideoBytes > 0 && size > c.maxVideoBytes {
			return Result{}, &Error{Cause: fmt.Sprintf(
				"the video is too large to deliver (%s, limit %s)",
				utils.FormatBytes(size), utils.FormatBytes(c.maxVideoBytes))}
		}
		meta := notify.VideoMeta{
			Width:           job.Meta.Width,
			Height:          job.Meta.Height,
			DurationSeconds: job.Meta.DurationSeconds,
		}
		if meta.Width == 0 {
			meta.Width = 1280
		}
		if meta.Height == 0 {
			meta.Height = 720
		}
		if err := sink.SendVideo(ctx, job.ChatID, path, "", meta); err != nil {
			return Result{}, &Error{Cause: "the video upload failed", Err: err}
		}
	}

	if !job.Status.Zero() {
		if err := sink.DeleteMessage(ctx, job.Status); err != nil {
			logger.DebugCF("delivery", "Status delete failed", map[string]interface{}{
				"chat_id": job.ChatID,
				"error":   err.Error(),
			})
		}
	}

	summary := fmt.Sprintf("✅ %s\nFormat: %s\nSize: %s",
		utils.Truncate(title, 100), job.Format, utils.FormatBytes(size))
	if _, err := sink.PresentChoice(ctx, job.ChatID, summary, []notify.Choice{
		{Label: "Download another", Data: bus.ChoiceAnother},
	}); err != nil {
		logger.WarnCF("delivery", "Summary send failed", map[string]interface{}{
			"chat_id": job.ChatID,
			"error":   err.Error(),
		})
	}

	return Result{Title: title, SizeBytes: size}, nil
}

// findArtifact picks the downloaded media file out of the scratch dir. The
// fetch tool may leave partial or sidecar files behind, so the match is by
// extension and the largest candidate wins.
func findArtifact(dir string, format fetch.Format) (string, int64, error) {
	wanted := videoExts
	if format == fetch.FormatAudio {
		wanted = audioExts
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", 0, &Error{Cause: "the downloaded file went missing", Err: err}
	}

	var best string
	var bestSize int64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !wanted[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.Size() == 0 {
			continue
		}
		if info.Size() > bestSize {
			best = filepath.Join(dir, entry.Name())
			bestSize = info.Size()
		}
	}

	if best == "" {
		return "", 0, &Error{Cause: "the downloaded file went missing"}
	}
	return best, bestSize, nil
}
