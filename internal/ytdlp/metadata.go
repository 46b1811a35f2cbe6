package ytdlp

import (
	"context"
	"encoding/json"
	"os/exec"

	apperrors "github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/errors"
)

// Metadata describes a media resource as reported by yt-dlp.
type Metadata struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Uploader   string  `json:"uploader"`
	Duration   float64 `json:"duration"`
	WebpageURL string  `json:"webpage_url"`
	Filesize   int64   `json:"filesize_approx"`
	Extension  string  `json:"ext"`
}

// Probe fetches metadata for a URL without downloading anything. A URL
// yt-dlp has no extractor for fails with download.ErrNoExtractor.
func (e *Extractor) Probe(ctx context.Context, sourceURL string) (*Metadata, error) {
	args := []string{
		"--dump-json",
		"--no-download",
		"--no-warnings",
		"--no-playlist",
		sourceURL,
	}

	cmd := exec.CommandContext(ctx, e.cfg.BinaryPath, args...)
	output, err := cmd.Output()
	if err != nil {
		stderr := ""
		if exitErr, ok := err.(*exec.ExitError); ok {
			stderr = string(exitErr.Stderr)
		}
		return nil, categorize(sourceURL, err, stderr)
	}

	var meta Metadata
	if err := json.Unmarshal(output, &meta); err != nil {
		return nil, apperrors.Extraction("parsing yt-dlp metadata").WithCause(err)
	}
	return &meta, nil
}
