package download

import (
	"context"
	"errors"

	"github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/cancel"
)

// Progress event status values shared with the extractor boundary.
const (
	EventDownloading = "downloading"
	EventFinished    = "finished"
)

// ErrNoExtractor is returned by an Extractor when no platform extractor
// handles the URL. The dispatcher then falls back to the direct HTTP
// engine path.
var ErrNoExtractor = errors.New("no suitable extractor for url")

// Options is the opaque bag of per-job settings handed to the extractor.
// Values are validated by the caller before submission and read once per
// job at submission time.
type Options struct {
	Format         string
	Quality        string
	OutputDir      string
	OutputTemplate string
	Proxy          string
	RateLimit      string
	CookiesFile    string
	TimeRange      string
	Subtitles      bool
	EmbedMetadata  bool
}

// ProgressEvent carries one progress update from the extractor or the
// direct engine path. TotalBytes is 0 when unknown, ETA is -1 when
// unknown.
type ProgressEvent struct {
	Status          string
	DownloadedBytes int64
	TotalBytes      int64
	Speed           float64 // bytes per second
	ETA             int64   // seconds
	Filename        string
	Title           string
}

// ProgressHook receives extraction progress events. It is invoked from the
// job's worker goroutine only.
type ProgressHook func(ProgressEvent)

// Result is the outcome of a successful extraction/download.
type Result struct {
	Filename string
	Title    string
	Size     int64
}

// Extractor is the consumed boundary to the platform extraction/download
// collaborator. Implementations must poll the token from their progress
// path and return a cancelled error when it fires.
type Extractor interface {
	Download(ctx context.Context, url string, opts Options, hook ProgressHook, tok *cancel.Token) (*Result, error)
}
