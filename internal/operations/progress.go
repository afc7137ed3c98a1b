package operations

import (
	"fmt"
	"sync"
	"time"
)

// ProgressTracker tracks progress for a batch
type ProgressTracker struct {
	Step      string
	Total     int
	Current   int
	Failed    int
	StartTime time.Time
	Message   string
	mu        sync.Mutex
}

// NewProgressTracker creates a new progress tracker
func NewProgressTracker(step string, total int) *ProgressTracker {
	return &ProgressTracker{
		Step:      step,
		Total:     total,
		StartTime: time.Now(),
	}
}

// Increment records one finished file.
func (p *ProgressTracker) Increment(failed bool, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Current++
	if failed {
		p.Failed++
	}
	p.Message = message
}

// GetProgress returns the current progress state
func (p *ProgressTracker) GetProgress() (current, total int, percentage float64, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	percentage = 0
	if p.Total > 0 {
		percentage = float64(p.Current) / float64(p.Total) * 100
	}

	return p.Current, p.Total, percentage, p.Message
}

// GetETA calculates the estimated time remaining
func (p *ProgressTracker) GetETA() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Current == 0 || p.Total == 0 {
		return "calculating..."
	}

	elapsed := time.Since(p.StartTime)
	rate := float64(p.Current) / elapsed.Seconds()

	if rate == 0 {
		return "calculating..."
	}

	remaining := float64(p.Total-p.Current) / rate

	if remaining < 60 {
		return fmt.Sprintf("%.0f seconds", remaining)
	} else if remaining < 3600 {
		return fmt.Sprintf("%.1f minutes", remaining/60)
	} else {
		return fmt.Sprintf("%.1f hours", remaining/3600)
	}
}

// IsComplete returns true if every file has finished
func (p *ProgressTracker) IsComplete() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.Current >= p.Total
}

// Snapshot renders the tracker as hub metadata.
func (p *ProgressTracker) Snapshot() map[string]interface{} {
	current, total, pct, msg := p.GetProgress()
	p.mu.Lock()
	failed := p.Failed
	p.mu.Unlock()
	return map[string]interface{}{
		"current":  current,
		"total":    total,
		"failed":   failed,
		"progress": int(pct),
		"message":  msg,
		"eta":      p.GetETA(),
	}
}
