package ytdlp

import (
	"strconv"
	"strings"

	"github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/download"
)

// parseProgressLine extracts telemetry from a yt-dlp progress line:
//
//	[download]  45.2% of 5.00MiB at 1.00MiB/s ETA 00:03
//
// Totals may be prefixed with "~" for estimates; rate and ETA may read
// "Unknown". Lines that are not progress lines return ok=false.
func parseProgressLine(line string) (download.ProgressEvent, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "[download]") {
		return download.ProgressEvent{}, false
	}

	fields := strings.Fields(line)
	if len(fields) < 2 || !strings.HasSuffix(fields[1], "%") {
		return download.ProgressEvent{}, false
	}
	percent, err := strconv.ParseFloat(strings.TrimSuffix(fields[1], "%"), 64)
	if err != nil {
		return download.ProgressEvent{}, false
	}

	ev := download.ProgressEvent{
		Status: download.EventDownloading,
		ETA:    -1,
	}

	for i := 2; i+1 < len(fields); i++ {
		switch fields[i] {
		case "of":
			ev.TotalBytes = parseSize(strings.TrimPrefix(fields[i+1], "~"))
		case "at":
			ev.Speed = float64(parseSize(strings.TrimSuffix(fields[i+1], "/s")))
		case "ETA":
			ev.ETA = parseETA(fields[i+1])
		}
	}

	if ev.TotalBytes > 0 {
		ev.DownloadedBytes = int64(percent / 100 * float64(ev.TotalBytes))
	}
	return ev, true
}

// destinationFromLine recognizes the lines on which yt-dlp announces
// where it is writing output. The last one seen wins, which handles the
// merge and audio-extraction postprocessing steps.
func destinationFromLine(line string) (string, bool) {
	line = strings.TrimSpace(line)

	for _, prefix := range []string{
		"[download] Destination: ",
		"[ExtractAudio] Destination: ",
	} {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimPrefix(line, prefix), true
		}
	}

	if strings.HasPrefix(line, "[Merger] Merging formats into ") {
		rest := strings.TrimPrefix(line, "[Merger] Merging formats into ")
		return strings.Trim(rest, `"`), true
	}

	// Already-downloaded short circuit: [download] path has already been downloaded
	if strings.HasPrefix(line, "[download] ") && strings.HasSuffix(line, " has already been downloaded") {
		rest := strings.TrimPrefix(line, "[download] ")
		return strings.TrimSuffix(rest, " has already been downloaded"), true
	}

	return "", false
}

// parseSize converts a human size like "5.00MiB" or "1.21GiB" to bytes.
// Returns 0 for unparseable input, including "Unknown".
func parseSize(s string) int64 {
	units := []struct {
		suffix string
		factor float64
	}{
		{"TiB", 1 << 40},
		{"GiB", 1 << 30},
		{"MiB", 1 << 20},
		{"KiB", 1 << 10},
		{"TB", 1e12},
		{"GB", 1e9},
		{"MB", 1e6},
		{"KB", 1e3},
		{"B", 1},
	}
	for _, u := range units {
		if strings.HasSuffix(s, u.suffix) {
			n, err := strconv.ParseFloat(strings.TrimSuffix(s, u.suffix), 64)
			if err != nil {
				return 0
			}
			return int64(n * u.factor)
		}
	}
	return 0
}

// parseETA converts "SS", "MM:SS" or "HH:MM:SS" to seconds; -1 if unknown.
func parseETA(s string) int64 {
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return -1
	}
	var total int64
	for _, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return -1
		}
		total = total*60 + n
	}
	return total
}
