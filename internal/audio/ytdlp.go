package audio

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/sync/semaphore"
)

// Fetcher produces a short playable audio snippet for a track. Implementations
// own their retry strategy and cleanup of partial artifacts.
type Fetcher interface {
	// Fetch blocks until the snippet for trackID exists on disk or the
	// attempt failed. Cancelling the context aborts the download.
	Fetch(ctx context.Context, query, trackID string, durationSeconds int) error
	// Exists reports whether a finished snippet is already on disk.
	Exists(trackID string) bool
	// Path returns the on-disk location of the snippet for trackID.
	Path(trackID string) string
}

// partialExtensions are artifacts a failed or cancelled download may leave
// behind next to the target file.
var partialExtensions = []string{".mp3", ".part", ".tmp", ".webm", ".m4a", ".opus"}

// YTDLP fetches snippets by shelling out to yt-dlp with an FFmpeg audio
// postprocessor. Concurrent process spawns are bounded by a semaphore so a
// large preparation burst cannot fork dozens of downloaders at once.
type YTDLP struct {
	binary string
	dir    string
	sem    *semaphore.Weighted
}

func NewYTDLP(binary, dir string, maxConcurrent int64) (*YTDLP, error) {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audio dir %s: %w", dir, err)
	}
	return &YTDLP{
		binary: binary,
		dir:    dir,
		sem:    semaphore.NewWeighted(maxConcurrent),
	}, nil
}

func (y *YTDLP) Path(trackID string) string {
	return filepath.Join(y.dir, trackID+".mp3")
}

func (y *YTDLP) Exists(trackID string) bool {
	info, err := os.Stat(y.Path(trackID))
	// Anything under 1KB is a leftover from an interrupted run, not a snippet.
	return err == nil && info.Size() > 1024
}

func (y *YTDLP) Fetch(ctx context.Context, query, trackID string, durationSeconds int) error {
	if err := y.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer y.sem.Release(1)

	// Random start offset so the snippet is not always the intro.
	start := 20 + rand.Intn(50)

	outBase := filepath.Join(y.dir, trackID)
	args := []string{
		"--format", "bestaudio/best",
		"--extract-audio",
		"--audio-format", "mp3",
		"--audio-quality", "64K",
		"--postprocessor-args", fmt.Sprintf("-ss %d -t %d", start, durationSeconds),
		"--output", outBase + ".%(ext)s",
		"--default-search", "ytsearch1:",
		"--no-playlist",
		"--retries", "3",
		"--quiet",
		"--no-warnings",
		query,
	}

	cmd := exec.CommandContext(ctx, y.binary, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		y.cleanup(trackID)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("yt-dlp failed for %q: %w (%s)", query, err, firstLine(output))
	}

	if !y.Exists(trackID) {
		y.cleanup(trackID)
		return fmt.Errorf("yt-dlp produced no usable file for %q", query)
	}

	log.Printf("audio: snippet ready track=%s start=%ds duration=%ds", trackID, start, durationSeconds)
	return nil
}

// cleanup removes whatever a failed attempt left behind, whichever extension
// yt-dlp or FFmpeg got to before dying.
func (y *YTDLP) cleanup(trackID string) {
	base := filepath.Join(y.dir, trackID)
	for _, ext := range partialExtensions {
		path := base + ext
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("audio: failed to remove partial artifact %s: %v", path, err)
		}
	}
}

// SearchQuery builds the downloader search string for a track, stripping
// characters that confuse search.
func SearchQuery(artist, title string) string {
	return strings.TrimSpace(cleanQueryPart(artist) + " " + cleanQueryPart(title) + " audio")
}

func cleanQueryPart(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func firstLine(output []byte) string {
	s := strings.TrimSpace(string(output))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
