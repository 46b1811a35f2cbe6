// Package ytdlp shells out to the yt-dlp binary for platform downloads. It
// parses the tool's progress stream into telemetry events, maps its stderr
// chatter onto tagged errors, and supervises the process so cancellation
// and pause reach it as signals.
package ytdlp

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/cancel"
	"github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/download"
	apperrors "github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/errors"
)

const supervisePoll = 500 * time.Millisecond

// Config holds configuration for the yt-dlp wrapper.
type Config struct {
	// BinaryPath is the path to the yt-dlp binary (default: "yt-dlp").
	BinaryPath string
	// OutputDir is the fallback destination when a job specifies none.
	OutputDir string
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BinaryPath: "yt-dlp",
		OutputDir:  os.TempDir(),
	}
}

// Extractor runs yt-dlp as a child process. It implements
// download.Extractor.
type Extractor struct {
	cfg    *Config
	logger zerolog.Logger
}

// New creates the wrapper, verifying the binary is on PATH.
func New(cfg *Config) (*Extractor, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = "yt-dlp"
	}
	if _, err := exec.LookPath(cfg.BinaryPath); err != nil {
		return nil, fmt.Errorf("yt-dlp binary not found at %q: %w", cfg.BinaryPath, err)
	}
	return &Extractor{
		cfg:    cfg,
		logger: log.With().Str("component", "ytdlp").Logger(),
	}, nil
}

// Download probes the URL for metadata, then runs a yt-dlp download,
// streaming progress into the hook. URLs yt-dlp has no extractor for fail
// with download.ErrNoExtractor so the caller can fall back to a direct
// HTTP transfer.
func (e *Extractor) Download(ctx context.Context, sourceURL string, opts download.Options, hook download.ProgressHook, tok *cancel.Token) (*download.Result, error) {
	meta, err := e.Probe(ctx, sourceURL)
	if err != nil {
		return nil, err
	}

	outDir := opts.OutputDir
	if outDir == "" {
		outDir = e.cfg.OutputDir
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, apperrors.Internal("creating output directory").WithCause(err)
	}

	cctx, cancelProc := context.WithCancel(ctx)
	defer cancelProc()

	args := buildArgs(sourceURL, outDir, opts)
	cmd := exec.CommandContext(cctx, e.cfg.BinaryPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, apperrors.Internal("creating stdout pipe").WithCause(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, apperrors.Internal("creating stderr pipe").WithCause(err)
	}

	if err := cmd.Start(); err != nil {
		return nil, apperrors.Extraction("starting yt-dlp").WithCause(err)
	}

	var stderrBuf strings.Builder
	var stderrWG sync.WaitGroup
	stderrWG.Add(1)
	go func() {
		defer stderrWG.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			stderrBuf.WriteString(scanner.Text())
			stderrBuf.WriteString("\n")
		}
	}()

	var wg sync.WaitGroup

	superviseDone := make(chan struct{})
	var tokErr error
	var tokMu sync.Mutex
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := e.supervise(superviseDone, cmd, tok)
		tokMu.Lock()
		tokErr = err
		tokMu.Unlock()
		if err != nil {
			cancelProc()
		}
	}()

	dest := ""
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		if name, ok := destinationFromLine(line); ok {
			dest = name
			continue
		}
		ev, ok := parseProgressLine(line)
		if !ok {
			continue
		}
		ev.Title = meta.Title
		if hook != nil {
			hook(ev)
		}
	}

	// Pipe reads must complete before Wait, which closes the pipes; EOF
	// arrives when the process exits, so this cannot block indefinitely.
	stderrWG.Wait()
	waitErr := cmd.Wait()
	close(superviseDone)
	wg.Wait()

	tokMu.Lock()
	terminal := tokErr
	tokMu.Unlock()
	if terminal != nil {
		return nil, terminal
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if waitErr != nil {
		return nil, categorize(sourceURL, waitErr, stderrBuf.String())
	}

	if dest == "" {
		return nil, apperrors.Extraction("yt-dlp reported no output file")
	}
	if hook != nil {
		hook(download.ProgressEvent{Status: download.EventFinished, Filename: dest})
	}

	var size int64
	if fi, err := os.Stat(dest); err == nil {
		size = fi.Size()
	}
	e.logger.Info().Str("url", sourceURL).Str("file", dest).Msg("yt-dlp download finished")

	return &download.Result{
		Filename: filepath.Base(dest),
		Title:    meta.Title,
		Size:     size,
	}, nil
}

// supervise polls the token and relays its state to the child process:
// cancellation and pause timeout kill it, pause suspends it with SIGSTOP
// until resume. Returns the token's terminal error, if any.
func (e *Extractor) supervise(done <-chan struct{}, cmd *exec.Cmd, tok *cancel.Token) error {
	stopped := false
	for {
		select {
		case <-done:
			return nil
		case <-time.After(supervisePoll):
		}

		if err := tok.Err(); err != nil {
			if stopped {
				// A stopped process cannot die; wake it first.
				_ = cmd.Process.Signal(syscall.SIGCONT)
			}
			_ = cmd.Process.Kill()
			return err
		}

		paused := tok.Paused()
		if paused && !stopped {
			if err := cmd.Process.Signal(syscall.SIGSTOP); err == nil {
				stopped = true
			}
		} else if !paused && stopped {
			if err := cmd.Process.Signal(syscall.SIGCONT); err == nil {
				stopped = false
			}
		}
	}
}

// buildArgs maps job options onto the yt-dlp command line.
func buildArgs(sourceURL, outDir string, opts download.Options) []string {
	template := opts.OutputTemplate
	if template == "" {
		template = "%(title)s.%(ext)s"
	}

	args := []string{
		"--newline",
		"--progress",
		"--no-warnings",
		"--no-playlist",
		"--output", filepath.Join(outDir, template),
		"--format", formatSelector(opts.Format, opts.Quality),
	}
	if opts.Proxy != "" {
		args = append(args, "--proxy", opts.Proxy)
	}
	if opts.RateLimit != "" {
		args = append(args, "--limit-rate", opts.RateLimit)
	}
	if opts.CookiesFile != "" {
		args = append(args, "--cookies", opts.CookiesFile)
	}
	if opts.TimeRange != "" {
		args = append(args, "--download-sections", "*"+opts.TimeRange)
	}
	if opts.Subtitles {
		args = append(args, "--write-subs", "--write-auto-subs")
	}
	if opts.EmbedMetadata {
		args = append(args, "--embed-metadata")
	}
	return append(args, sourceURL)
}

// formatSelector builds the -f expression from a container preference and
// a quality ceiling like "1080p" or "720".
func formatSelector(format, quality string) string {
	height := strings.TrimSuffix(quality, "p")
	switch {
	case format == "audio" || format == "mp3" || format == "m4a":
		return "bestaudio/best"
	case height != "" && isDigits(height):
		return fmt.Sprintf("bestvideo[height<=%s]+bestaudio/best[height<=%s]", height, height)
	case format != "":
		return fmt.Sprintf("bestvideo[ext=%s]+bestaudio/best[ext=%s]", format, format)
	default:
		return "bestvideo+bestaudio/best"
	}
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
