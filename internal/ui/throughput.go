package ui

import (
	"fmt"
	"time"
)

// TransferStats accumulates what a storage copy moved
type TransferStats struct {
	startTime time.Time
	files     int64
	skipped   int64
	bytes     int64
}

// NewTransferStats starts a new accumulation
func NewTransferStats() *TransferStats {
	return &TransferStats{startTime: time.Now()}
}

// AddFile records one copied file of the given size
func (t *TransferStats) AddFile(bytes int64) {
	t.files++
	t.bytes += bytes
}

// AddSkipped records a file already present on the destination
func (t *TransferStats) AddSkipped() {
	t.skipped++
}

// Files returns the number of files copied
func (t *TransferStats) Files() int64 {
	return t.files
}

// Skipped returns the number of files that needed no copy
func (t *TransferStats) Skipped() int64 {
	return t.skipped
}

// Bytes returns the number of bytes copied
func (t *TransferStats) Bytes() int64 {
	return t.bytes
}

// BytesPerSecond returns the average copy rate since the stats were created
func (t *TransferStats) BytesPerSecond() float64 {
	elapsed := time.Since(t.startTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(t.bytes) / elapsed
}

// Summary returns a one-line description of the transfer
func (t *TransferStats) Summary() string {
	return fmt.Sprintf(
		"%d files (%s) in %s, %d already present | Avg: %s",
		t.files,
		FormatBytes(t.bytes),
		FormatDuration(time.Since(t.startTime)),
		t.skipped,
		FormatBytesPerSecond(t.BytesPerSecond()),
	)
}

// FormatBytesPerSecond formats bytes/sec rate as human-readable string
func FormatBytesPerSecond(bytesPerSec float64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	if bytesPerSec >= GB {
		return fmt.Sprintf("%.2f GB/sec", bytesPerSec/GB)
	} else if bytesPerSec >= MB {
		return fmt.Sprintf("%.2f MB/sec", bytesPerSec/MB)
	} else if bytesPerSec >= KB {
		return fmt.Sprintf("%.2f KB/sec", bytesPerSec/KB)
	}
	return fmt.Sprintf("%.0f B/sec", bytesPerSec)
}

// FormatBytes formats bytes as human-readable size
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
		TB = 1024 * GB
	)

	fbytes := float64(bytes)

	if bytes >= TB {
		return fmt.Sprintf("%.2f TB", fbytes/TB)
	} else if bytes >= GB {
		return fmt.Sprintf("%.2f GB", fbytes/GB)
	} else if bytes >= MB {
		return fmt.Sprintf("%.2f MB", fbytes/MB)
	} else if bytes >= KB {
		return fmt.Sprintf("%.2f KB", fbytes/KB)
	}
	return fmt.Sprintf("%d B", bytes)
}

// FormatDuration formats a duration as a human-readable string
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}

// FormatAge formats how long ago a timestamp was, coarsely
func FormatAge(t time.Time, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
