package ytdlp

import (
	"fmt"
	"strings"

	"github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/download"
	apperrors "github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/errors"
)

// categorize maps yt-dlp's stderr chatter onto tagged errors so the
// dispatcher can decide between retry, fallback, and terminal failure.
func categorize(sourceURL string, err error, stderr string) error {
	lower := strings.ToLower(stderr)

	switch {
	case strings.Contains(lower, "unsupported url"),
		strings.Contains(lower, "no suitable extractor"),
		strings.Contains(lower, "is not a valid url"):
		return fmt.Errorf("%w: %s", download.ErrNoExtractor, sourceURL)

	case strings.Contains(lower, "unable to download"),
		strings.Contains(lower, "connection"),
		strings.Contains(lower, "network"),
		strings.Contains(lower, "timed out"),
		strings.Contains(lower, "http error 5"),
		strings.Contains(lower, "http error 429"):
		return apperrors.Transient("yt-dlp network failure: " + firstLine(stderr)).WithCause(err)

	case strings.Contains(lower, "video unavailable"),
		strings.Contains(lower, "this video is unavailable"),
		strings.Contains(lower, "private video"),
		strings.Contains(lower, "is private"),
		strings.Contains(lower, "age-restricted"),
		strings.Contains(lower, "sign in to confirm your age"),
		strings.Contains(lower, "members-only"):
		return apperrors.Extraction("content not accessible: " + firstLine(stderr)).WithCause(err)

	default:
		msg := firstLine(stderr)
		if msg == "" {
			msg = err.Error()
		}
		return apperrors.Extraction("yt-dlp failed: " + msg).WithCause(err)
	}
}

// firstLine trims stderr down to its leading line for error messages.
func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
