package fetch

import (
	"context"
	"errors"
)

// Format selects the delivery profile for a fetch.
type Format string

const (
	FormatAudio Format = "audio"
	FormatVideo Format = "video"
)

// Valid reports whether f is a known format.
func (f Format) Valid() bool {
	return f == FormatAudio || f == FormatVideo
}

// Metadata is what a probe learns about a locator before fetching.
type Metadata struct {
	Title           string
	Uploader        string
	DurationSeconds int
	Width           int
	Height          int
}

// Report carries one progress line from the fetch tool. The fields are the
// tool's own rendering; only the percent ever gets parsed downstream.
type Report struct {
	PercentRaw string
	Speed      string
	ETA        string
}

// ProgressFunc receives progress reports during a download. Called from the
// download goroutine; implementations must be safe for that.
type ProgressFunc func(Report)

// Request describes one download.
type Request struct {
	Locator    string
	Format     Format
	Dir        string // scratch directory the artifact lands in
	OnProgress ProgressFunc
}

// Fetcher probes and downloads media.
type Fetcher interface {
	Probe(ctx context.Context, locator string) (Metadata, error)
	Download(ctx context.Context, req Request) error
}

// Error wraps a fetch failure with a short cause suitable for showing to the
// person who asked for the download.
type Error struct {
	Stage string // "probe" or "download"
	Cause string
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Stage + ": " + e.Cause + ": " + e.Err.Error()
	}
	return e.Stage + ": " + e.Cause
}

func (e *Error) Unwrap() error { return e.Err }

// CauseOf extracts the human-facing cause from err, falling back to the raw
// error text.
func CauseOf(err error) string {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Cause
	}
	return err.Error()
}
