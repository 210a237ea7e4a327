package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"wallsync/pkg/catalog"
)

// ProgressDisplay is a one-line download progress readout. It satisfies the
// download engine's observer interface.
type ProgressDisplay struct {
	mu              sync.Mutex
	total           int
	downloadedCount int
	current         string
	startTime       time.Time
	bytesDownloaded int64
	errors          int
	verbose         bool
	now             func() time.Time
}

// NewProgressDisplay creates a display for total pending items. In verbose
// mode every item gets its own line instead of the rolling readout.
func NewProgressDisplay(total int, verbose bool) *ProgressDisplay {
	return &ProgressDisplay{
		total:     total,
		startTime: time.Now(),
		verbose:   verbose,
		now:       time.Now,
	}
}

// SetTotal sets how many items are pending
func (p *ProgressDisplay) SetTotal(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total = n
}

// ItemStarted marks the start of an item fetch
func (p *ProgressDisplay) ItemStarted(item catalog.Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = item.ItemID
	if !p.verbose {
		p.printProgress()
	}
}

// ItemDone marks an item as saved
func (p *ProgressDisplay) ItemDone(item catalog.Entry, size int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.downloadedCount++
	p.bytesDownloaded += size
	p.current = ""

	if p.verbose {
		if !IsQuietMode() {
			fmt.Fprintf(Out, "%s %s %s • %s\n",
				Green("✓"), item.DateKey(), item.ItemID, humanize.Bytes(uint64(size)))
		}
		return
	}
	p.printProgress()
}

// ItemFailed marks an item as failed
func (p *ProgressDisplay) ItemFailed(item catalog.Entry, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.errors++
	p.current = ""

	if p.verbose {
		if !IsQuietMode() {
			fmt.Fprintf(Out, "%s %s %s • %v\n", Red("✗"), item.DateKey(), item.ItemID, err)
		}
		return
	}
	p.printProgress()
}

// printProgress redraws the progress line
func (p *ProgressDisplay) printProgress() {
	if IsQuietMode() {
		return
	}

	line := fmt.Sprintf("[%s] %d/%d • %s • %s",
		Bar(p.downloadedCount+p.errors, p.total, barWidth),
		p.downloadedCount,
		p.total,
		humanize.Bytes(uint64(p.bytesDownloaded)),
		p.calculateETA(),
	)
	if p.current != "" {
		line += " • " + p.current
	}
	if p.errors > 0 {
		line += " • " + Red(fmt.Sprintf("%d errors", p.errors))
	}

	fmt.Fprintf(Out, "\r%s\r%s", strings.Repeat(" ", 100), line)
}

// Complete ends the progress line
func (p *ProgressDisplay) Complete() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if IsQuietMode() || p.verbose || p.downloadedCount+p.errors == 0 {
		return
	}
	fmt.Fprintln(Out)
}

// Downloaded returns the number of items saved so far
func (p *ProgressDisplay) Downloaded() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.downloadedCount
}

// calculateETA estimates time remaining
func (p *ProgressDisplay) calculateETA() string {
	processed := p.downloadedCount + p.errors
	if processed == 0 {
		return "calculating..."
	}

	elapsed := p.now().Sub(p.startTime)
	perItem := elapsed / time.Duration(processed)
	remaining := p.total - processed
	if remaining <= 0 {
		return "done"
	}
	return formatDuration(perItem * time.Duration(remaining))
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
