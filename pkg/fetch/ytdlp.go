package fetch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/grabbot/grabbot/pkg/config"
	"github.com/grabbot/grabbot/pkg/logger"
)

// progressTemplate makes yt-dlp emit one parseable line per progress update.
const progressTemplate = "download:%(progress._percent_str)s|%(progress._speed_str)s|%(progress._eta_str)s"

// CommandRunner executes an external command and returns stdout bytes.
type CommandRunner func(ctx context.Context, binary string, args ...string) ([]byte, error)

// LineRunner executes an external command and feeds each stdout line to fn.
type LineRunner func(ctx context.Context, fn func(string), binary string, args ...string) error

// YTDLP shells out to the yt-dlp CLI. Run and Stream are injectable for
// tests.
type YTDLP struct {
	Binary              string
	FFmpegLocation      string
	CookieFile          string
	Retries             int
	FragmentRetries     int
	ConcurrentFragments int
	ProbeTimeout        time.Duration

	Run    CommandRunner
	Stream LineRunner
}

// NewYTDLP builds a fetcher from the fetch section of the config.
func NewYTDLP(cfg config.FetchConfig) *YTDLP {
	binary := strings.TrimSpace(cfg.Binary)
	if binary == "" {
		binary = "yt-dlp"
	}
	timeout := time.Duration(cfg.ProbeTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &YTDLP{
		Binary:              binary,
		FFmpegLocation:      cfg.FFmpegLocation,
		CookieFile:          cfg.CookieFile,
		Retries:             cfg.Retries,
		FragmentRetries:     cfg.FragmentRetries,
		ConcurrentFragments: cfg.ConcurrentFragments,
		ProbeTimeout:        timeout,
		Run:                 defaultCommandRunner,
		Stream:              defaultLineRunner,
	}
}

// Probe fetches metadata for a locator without downloading anything.
func (y *YTDLP) Probe(ctx context.Context, locator string) (Metadata, error) {
	execCtx, cancel := context.WithTimeout(ctx, y.ProbeTimeout)
	defer cancel()

	args := []string{"--dump-single-json", "--no-warnings", "--no-playlist", "--skip-download"}
	if y.CookieFile != "" {
		args = append(args, "--cookies", y.CookieFile)
	}
	args = append(args, locator)

	out, err := y.Run(execCtx, y.Binary, args...)
	if err != nil {
		return Metadata{}, &Error{Stage: "probe", Cause: "could not read media info", Err: err}
	}

	var payload struct {
		Title    string  `json:"title"`
		Uploader string  `json:"uploader"`
		Duration float64 `json:"duration"`
		Width    int     `json:"width"`
		Height   int     `json:"height"`
	}
	if err := json.Unmarshal(out, &payload); err != nil {
		return Metadata{}, &Error{Stage: "probe", Cause: "media info was unreadable", Err: err}
	}

	return Metadata{
		Title:           payload.Title,
		Uploader:        payload.Uploader,
		DurationSeconds: int(payload.Duration),
		Width:           payload.Width,
		Height:          payload.Height,
	}, nil
}

// Download fetches the media into req.Dir, reporting progress as it goes.
func (y *YTDLP) Download(ctx context.Context, req Request) error {
	args := y.downloadArgs(req)

	logger.DebugCF("fetch", "Starting download", map[string]interface{}{
		"locator": req.Locator,
		"format":  string(req.Format),
	})

	err := y.Stream(ctx, func(line string) {
		rep, ok := parseProgressLine(line)
		if !ok {
			return
		}
		if req.OnProgress != nil {
			req.OnProgress(rep)
		}
	}, y.Binary, args...)
	if err != nil {
		if ctx.Err() != nil {
			return &Error{Stage: "download", Cause: "download was cancelled", Err: ctx.Err()}
		}
		return &Error{Stage: "download", Cause: "the download failed", Err: err}
	}
	return nil
}

func (y *YTDLP) downloadArgs(req Request) []string {
	args := []string{
		"--newline",
		"--no-playlist",
		"--progress-template", progressTemplate,
		"-o", req.Dir + "/%(title).100s.%(ext)s",
	}
	if y.Retries > 0 {
		args = append(args, "--retries", strconv.Itoa(y.Retries))
	}
	if y.FragmentRetries > 0 {
		args = append(args, "--fragment-retries", strconv.Itoa(y.FragmentRetries))
	}
	if y.ConcurrentFragments > 0 {
		args = append(args, "--concurrent-fragments", strconv.Itoa(y.ConcurrentFragments))
	}
	if y.FFmpegLocation != "" {
		args = append(args, "--ffmpeg-location", y.FFmpegLocation)
	}
	if y.CookieFile != "" {
		args = append(args, "--cookies", y.CookieFile)
	}

	switch req.Format {
	case FormatAudio:
		args = append(args,
			"-f", "bestaudio/best",
			"-x", "--audio-format", "mp3", "--audio-quality", "0",
		)
	default:
		args = append(args,
			"-f", "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best",
			"--merge-output-format", "mp4",
		)
	}

	return append(args, req.Locator)
}

// parseProgressLine decodes one template line. Anything that does not match
// the template is tool chatter and is skipped.
func parseProgressLine(line string) (Report, bool) {
	rest, found := strings.CutPrefix(strings.TrimSpace(line), "download:")
	if !found {
		return Report{}, false
	}
	parts := strings.SplitN(rest, "|", 3)
	if len(parts) != 3 {
		return Report{}, false
	}
	return Report{
		PercentRaw: strings.TrimSpace(parts[0]),
		Speed:      strings.TrimSpace(parts[1]),
		ETA:        strings.TrimSpace(parts[2]),
	}, true
}

func defaultCommandRunner(ctx context.Context, binary string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	return cmd.Output()
}

func defaultLineRunner(ctx context.Context, fn func(string), binary string, args ...string) error {
	cmd := exec.CommandContext(ctx, binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", binary, err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		fn(scanner.Text())
	}

	if err := cmd.Wait(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return scanner.Err()
}
