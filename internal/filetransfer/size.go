package filetransfer

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// FormatSize renders a byte count the way the UI's status line requires:
// a deterministic, spec-mandated format distinct from go-humanize's own
// rounding (see DESIGN.md). go-humanize itself is kept and used for
// throughput/log-line formatting in FormatThroughput below.
func FormatSize(n uint64) string {
	const (
		kb = 1 << 10
		mb = 1 << 20
		gb = 1 << 30
	)

	switch {
	case n < kb:
		return fmt.Sprintf("%d B", n)
	case n < mb:
		return fmt.Sprintf("%.1f KB", float64(n)/kb)
	case n < gb:
		return fmt.Sprintf("%.1f MB", float64(n)/mb)
	default:
		return fmt.Sprintf("%.2f GB", float64(n)/gb)
	}
}

// FormatThroughput renders a byte count for log lines using go-humanize's
// IEC formatting, which is adequate (if not spec-exact) for operator-facing
// diagnostics rather than the user-facing status bar.
func FormatThroughput(n uint64) string {
	return humanize.IBytes(n)
}
