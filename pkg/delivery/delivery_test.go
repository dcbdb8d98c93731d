package delivery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grabbot/grabbot/pkg/fetch"
	"github.com/grabbot/grabbot/pkg/notify"
)

type fakeSink struct {
	edits    []string
	deletes  []notify.MessageRef
	choices  []string
	audio    []notify.AudioMeta
	video    []notify.VideoMeta
	sentPath string
}

func (f *fakeSink) SendMessage(ctx context.Context, chatID, text string) (notify.MessageRef, error) {
	return notify.MessageRef{ChatID: chatID, MessageID: "1"}, nil
}

func (f *fakeSink) EditMessage(ctx context.Context, ref notify.MessageRef, text string) error {
	f.edits = append(f.edits, text)
	return nil
}

func (f *fakeSink) DeleteMessage(ctx context.Context, ref notify.MessageRef) error {
	f.deletes = append(f.deletes, ref)
	return nil
}

func (f *fakeSink) PresentChoice(ctx context.Context, chatID, text string, choices []notify.Choice) (notify.MessageRef, error) {
	f.choices = append(f.choices, text)
	return notify.MessageRef{ChatID: chatID, MessageID: "2"}, nil
}

func (f *fakeSink) SendAudio(ctx context.Context, chatID, path, caption string, meta notify.AudioMeta) error {
	f.sentPath = path
	f.audio = append(f.audio, meta)
	return nil
}

func (f *fakeSink) SendVideo(ctx context.Context, chatID, path, caption string, meta notify.VideoMeta) error {
	f.sentPath = path
	f.video = append(f.video, meta)
	return nil
}

func newTestCoordinator(maxVideoBytes int64) (*Coordinator, *fakeSink) {
	sink := &fakeSink{}
	router := notify.NewRouter()
	router.Register("telegram", sink)
	return NewCoordinator(router, maxVideoBytes), sink
}

func writeArtifact(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, make([]byte, size), 0644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	return path
}

func TestDeliverAudio(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "A Song.mp3", 2048)

	c, sink := newTestCoordinator(0)
	res, err := c.Deliver(context.Background(), Job{
		Channel: "telegram",
		ChatID:  "100",
		Format:  fetch.FormatAudio,
		Dir:     dir,
		Meta:    fetch.Metadata{Title: "A Song", Uploader: "someone"},
		Status:  notify.MessageRef{ChatID: "100", MessageID: "7"},
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if res.SizeBytes != 2048 || res.Title != "A Song" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(sink.audio) != 1 || sink.audio[0].Performer != "someone" {
		t.Fatalf("unexpected audio meta: %+v", sink.audio)
	}
	if len(sink.deletes) != 1 {
		t.Fatalf("status message should be deleted, got %d deletes", len(sink.deletes))
	}
	if len(sink.choices) != 1 || !strings.Contains(sink.choices[0], "A Song") {
		t.Fatalf("summary not offered: %+v", sink.choices)
	}
}

func TestDeliverVideoSizeCap(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "big.mp4", 4096)

	c, sink := newTestCoordinator(1024)
	_, err := c.Deliver(context.Background(), Job{
		Channel: "telegram",
		ChatID:  "100",
		Format:  fetch.FormatVideo,
		Dir:     dir,
	})
	if err == nil {
		t.Fatal("expected size cap error")
	}
	var de *Error
	if !errors.As(err, &de) || !strings.Contains(de.Cause, "too large") {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sink.video) != 0 {
		t.Fatal("oversized video must not be uploaded")
	}
}

func TestDeliverVideoDimensionFallback(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "clip.mp4", 100)

	c, sink := newTestCoordinator(0)
	_, err := c.Deliver(context.Background(), Job{
		Channel: "telegram",
		ChatID:  "100",
		Format:  fetch.FormatVideo,
		Dir:     dir,
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if sink.video[0].Width != 1280 || sink.video[0].Height != 720 {
		t.Fatalf("dimension fallback missing: %+v", sink.video[0])
	}
}

func TestDeliverMissingArtifact(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "notes.txt", 100)

	c, _ := newTestCoordinator(0)
	_, err := c.Deliver(context.Background(), Job{
		Channel: "telegram",
		ChatID:  "100",
		Format:  fetch.FormatAudio,
		Dir:     dir,
	})
	var de *Error
	if !errors.As(err, &de) || !strings.Contains(de.Cause, "missing") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFindArtifactPicksLargest(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "partial.mp4", 10)
	want := writeArtifact(t, dir, "full.mp4", 1000)
	writeArtifact(t, dir, "empty.mp4", 0)

	path, size, err := findArtifact(dir, fetch.FormatVideo)
	if err != nil {
		t.Fatalf("findArtifact: %v", err)
	}
	if path != want || size != 1000 {
		t.Fatalf("got %q (%d), want %q", path, size, want)
	}
}
