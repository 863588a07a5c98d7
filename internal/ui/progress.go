package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
)

// ProgressBar wraps the progressbar library to show the bytes of a single file copy
// with percentage, ETA and throughput
type ProgressBar struct {
	bar       *progressbar.ProgressBar
	total     int64
	current   int64
	startTime time.Time
}

// NewProgressBarWithWriter creates a progress bar that writes to a specific writer.
// io.Discard disables rendering entirely
func NewProgressBarWithWriter(total int64, description string, writer io.Writer) *ProgressBar {
	bar := progressbar.NewOptions64(
		total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(500*time.Millisecond),
		progressbar.OptionSetWriter(writer),
		progressbar.OptionSetRenderBlankState(writer != io.Discard),
		progressbar.OptionEnableColorCodes(false),
	)

	return &ProgressBar{
		bar:       bar,
		total:     total,
		startTime: time.Now(),
	}
}

// Add increments the progress bar by the given amount
func (p *ProgressBar) Add(amount int64) error {
	p.current += amount
	return p.bar.Add64(amount)
}

// Write lets the bar count bytes flowing through an io.TeeReader
func (p *ProgressBar) Write(b []byte) (int, error) {
	if err := p.Add(int64(len(b))); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Reader wraps r so every byte read advances the bar
func (p *ProgressBar) Reader(r io.Reader) io.Reader {
	return io.TeeReader(r, p)
}

// Finish completes the progress bar
func (p *ProgressBar) Finish() error {
	return p.bar.Finish()
}

// GetPercentage returns current completion percentage (0-100)
func (p *ProgressBar) GetPercentage() float64 {
	if p.total == 0 {
		return 0
	}
	return (float64(p.current) / float64(p.total)) * 100
}

// GetElapsedTime returns time elapsed since progress bar was created
func (p *ProgressBar) GetElapsedTime() time.Duration {
	return time.Since(p.startTime)
}

// Spinner provides visual feedback for operations with unknown duration,
// such as the pipeline itself
type Spinner struct {
	description string
	startTime   time.Time
	active      bool
	out         io.Writer
}

// NewSpinner creates a spinner writing to out
func NewSpinner(description string, out io.Writer) *Spinner {
	return &Spinner{
		description: description,
		startTime:   time.Now(),
		out:         out,
	}
}

// Start begins the spinner
func (s *Spinner) Start() {
	s.active = true
	s.startTime = time.Now()
	_, _ = fmt.Fprintf(s.out, "%s...\n", s.description)
}

// Stop ends the spinner
func (s *Spinner) Stop(success bool) {
	s.active = false
	elapsed := time.Since(s.startTime)

	if success {
		_, _ = fmt.Fprintf(s.out, "✓ %s (completed in %v)\n", s.description, elapsed.Round(time.Millisecond))
	} else {
		_, _ = fmt.Fprintf(s.out, "✗ %s (failed after %v)\n", s.description, elapsed.Round(time.Millisecond))
	}
}

// IsActive returns whether the spinner is currently running
func (s *Spinner) IsActive() bool {
	return s.active
}
