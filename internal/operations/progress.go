package operations

import (
	"fmt"
	"sync"
	"time"
)

// ProgressTracker tracks progress for long-running steps and mirrors it
// into the Step state shown on the status endpoint
type ProgressTracker struct {
	Step      *StepState
	Total     int
	Current   int
	StartTime time.Time
	Message   string
	mu        sync.Mutex
	now       func() time.Time
}

// NewProgressTracker creates a new progress tracker
func NewProgressTracker(step *StepState, total int) *ProgressTracker {
	return &ProgressTracker{
		Step:      step,
		Total:     total,
		StartTime: time.Now(),
		now:       time.Now,
	}
}

// Update sets the current progress
func (p *ProgressTracker) Update(current int, message string) {
	p.mu.Lock()
	p.Current = current
	p.Message = message
	p.mu.Unlock()
	p.publish()
}

// Increment increments the current progress by 1
func (p *ProgressTracker) Increment(message string) {
	p.mu.Lock()
	p.Current++
	p.Message = message
	p.mu.Unlock()
	p.publish()
}

func (p *ProgressTracker) publish() {
	if p.Step == nil {
		return
	}
	_, _, pct, msg := p.GetProgress()
	p.Step.UpdateProgress(pct, fmt.Sprintf("%s (eta %s)", msg, p.GetETA()))
}

// GetProgress returns the current progress state
func (p *ProgressTracker) GetProgress() (current, total int, percentage float64, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

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
	if p.Current >= p.Total {
		return "done"
	}

	elapsed := p.now().Sub(p.StartTime)
	rate := float64(p.Current) / elapsed.Seconds()
	if rate == 0 {
		return "calculating..."
	}

	remaining := float64(p.Total-p.Current) / rate
	switch {
	case remaining < 60:
		return fmt.Sprintf("%.0f seconds", remaining)
	case remaining < 3600:
		return fmt.Sprintf("%.1f minutes", remaining/60)
	default:
		return fmt.Sprintf("%.1f hours", remaining/3600)
	}
}

// IsComplete returns true once every item has been processed
func (p *ProgressTracker) IsComplete() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Current >= p.Total
}
