package ui

import (
	"sync"
	"time"
)

// etaSmoothingFactor is the weight of a new ETA sample against the previous one.
const etaSmoothingFactor = 0.3

// speedInterval is the minimum time between throughput samples.
const speedInterval = 500 * time.Millisecond

// ProgressTracker holds the state the TUI renders. It is safe for concurrent use.
type ProgressTracker struct {
	mu         sync.Mutex
	stage      Stage
	current    uint64
	total      uint64
	status     string
	startTime  time.Time
	stageStart time.Time
	lastETA    time.Duration

	lastCurrent  uint64
	lastSample   time.Time
	currentSpeed float64
	avgSpeed     float64
	peakSpeed    float64
	samples      int
	sparkline    *Sparkline
}

// SpeedStats contains throughput in files per second.
type SpeedStats struct {
	Current float64
	Avg     float64
	Peak    float64
}

// ProgressStats is a snapshot of a ProgressTracker.
type ProgressStats struct {
	Stage    Stage
	Current  uint64
	Total    uint64
	Progress float64
	ETA      time.Duration
	Status   string
	Speed    SpeedStats
}

// NewProgressTracker creates a new progress tracker.
func NewProgressTracker() *ProgressTracker {
	now := time.Now()
	return &ProgressTracker{
		stage:      StageCounting,
		startTime:  now,
		stageStart: now,
		lastSample: now,
		sparkline:  NewSparkline(60),
	}
}

// SetStage moves to a new stage, resetting counts and speed.
func (p *ProgressTracker) SetStage(stage Stage, total uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	p.stage = stage
	p.total = total
	p.current = 0
	p.stageStart = now
	p.lastETA = 0
	p.lastCurrent = 0
	p.lastSample = now
	p.currentSpeed = 0
	p.avgSpeed = 0
	p.peakSpeed = 0
	p.samples = 0
	p.sparkline.Clear()
}

// Update records progress within the current stage. Updates may arrive out
// of order from concurrent workers; current never decreases.
func (p *ProgressTracker) Update(current, total uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if total > 0 {
		p.total = total
	}
	if current < p.current {
		return
	}
	p.current = current

	now := time.Now()
	elapsed := now.Sub(p.lastSample)
	if elapsed < speedInterval {
		return
	}
	if delta := current - p.lastCurrent; delta > 0 {
		speed := float64(delta) / elapsed.Seconds()
		p.currentSpeed = speed
		p.samples++
		if p.samples == 1 {
			p.avgSpeed = speed
		} else {
			p.avgSpeed = 0.2*speed + 0.8*p.avgSpeed
		}
		p.peakSpeed = max(p.peakSpeed, speed)
		p.sparkline.Add(speed)
	}
	p.lastCurrent = current
	p.lastSample = now
}

// SetStatus records the latest status line.
func (p *ProgressTracker) SetStatus(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = msg
}

// Stage returns the current stage.
func (p *ProgressTracker) Stage() Stage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stage
}

// Elapsed returns time since tracker creation.
func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Since(p.startTime)
}

// Stats returns a snapshot. It advances the ETA smoothing.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return ProgressStats{
		Stage:    p.stage,
		Current:  p.current,
		Total:    p.total,
		Progress: p.fraction(),
		ETA:      p.calculateETA(),
		Status:   p.status,
		Speed:    p.speed(),
	}
}

// SpeedStats returns current speed statistics.
func (p *ProgressTracker) SpeedStats() SpeedStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speed()
}

// RenderSparkline renders the throughput history at the given width.
func (p *ProgressTracker) RenderSparkline(width int) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sparkline.Render(width)
}

func (p *ProgressTracker) speed() SpeedStats {
	return SpeedStats{Current: p.currentSpeed, Avg: p.avgSpeed, Peak: p.peakSpeed}
}

func (p *ProgressTracker) fraction() float64 {
	if p.total == 0 {
		return 0
	}
	return min(float64(p.current)/float64(p.total), 1)
}

// calculateETA must be called with the lock held.
func (p *ProgressTracker) calculateETA() time.Duration {
	progress := p.fraction()
	if progress <= 0 || progress >= 1 {
		return 0
	}

	elapsed := time.Since(p.stageStart)
	remaining := time.Duration(float64(elapsed)/progress) - elapsed
	if remaining < 0 {
		return 0
	}
	if p.lastETA == 0 {
		p.lastETA = remaining
		return remaining
	}

	smoothed := time.Duration(etaSmoothingFactor*float64(remaining) + (1-etaSmoothingFactor)*float64(p.lastETA))
	p.lastETA = smoothed
	return smoothed
}
