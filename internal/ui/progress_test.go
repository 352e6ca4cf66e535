package ui

import (
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestProgressTracker_InitialState(t *testing.T) {
	// Given: a new tracker
	p := NewProgressTracker()

	// Then: it starts counting with no progress
	stats := p.Stats()
	assert.Equal(t, StageCounting, stats.Stage)
	assert.Zero(t, stats.Progress)
	assert.Zero(t, stats.ETA)
}

func TestProgressTracker_Progress(t *testing.T) {
	// Given: a tracker with a total
	p := NewProgressTracker()
	p.SetStage(StageIndexing, 200)

	// When: updating
	p.Update(50, 0)

	// Then: fraction is computed
	stats := p.Stats()
	assert.Equal(t, uint64(50), stats.Current)
	assert.Equal(t, uint64(200), stats.Total)
	assert.InDelta(t, 0.25, stats.Progress, 1e-9)
}

func TestProgressTracker_ProgressCappedAtOne(t *testing.T) {
	p := NewProgressTracker()
	p.SetStage(StageIndexing, 10)

	p.Update(12, 0)

	assert.Equal(t, 1.0, p.Stats().Progress)
}

func TestProgressTracker_IgnoresOutOfOrderUpdates(t *testing.T) {
	// Given: progress at 8
	p := NewProgressTracker()
	p.SetStage(StageIndexing, 10)
	p.Update(8, 10)

	// When: a late worker reports 6
	p.Update(6, 10)

	// Then: progress does not go backwards
	assert.Equal(t, uint64(8), p.Stats().Current)
}

func TestProgressTracker_TotalFromUpdate(t *testing.T) {
	p := NewProgressTracker()
	p.SetStage(StageIndexing, 0)

	p.Update(1, 40)

	assert.Equal(t, uint64(40), p.Stats().Total)
}

func TestProgressTracker_SetStageResets(t *testing.T) {
	// Given: progress and a status
	p := NewProgressTracker()
	p.SetStage(StageIndexing, 10)
	p.Update(5, 10)
	p.SetStatus("Indexing /srv")

	// When: moving to the next stage
	p.SetStage(StageOptimizing, 0)

	// Then: counts reset, the status is kept
	stats := p.Stats()
	assert.Equal(t, StageOptimizing, stats.Stage)
	assert.Zero(t, stats.Current)
	assert.Equal(t, "Indexing /srv", stats.Status)
}

func TestProgressTracker_ETA(t *testing.T) {
	// Given: half done after some time
	p := NewProgressTracker()
	p.SetStage(StageIndexing, 100)
	time.Sleep(20 * time.Millisecond)
	p.Update(50, 0)

	// Then: the ETA is positive
	assert.Positive(t, p.Stats().ETA)

	// And: it is zero once complete
	p.Update(100, 0)
	assert.Zero(t, p.Stats().ETA)
}

func TestProgressTracker_Speed(t *testing.T) {
	// Given: updates spaced beyond the sampling interval
	p := NewProgressTracker()
	p.SetStage(StageIndexing, 1000)
	time.Sleep(speedInterval + 50*time.Millisecond)

	// When: reporting progress
	p.Update(100, 0)

	// Then: a speed sample is taken
	speed := p.SpeedStats()
	assert.Positive(t, speed.Current)
	assert.Equal(t, speed.Current, speed.Avg)
	assert.Equal(t, speed.Current, speed.Peak)
}

func TestProgressTracker_ConcurrentUpdates(t *testing.T) {
	p := NewProgressTracker()
	p.SetStage(StageIndexing, 1000)

	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func(offset int) {
			defer wg.Done()
			for i := range 250 {
				p.Update(uint64(offset*250+i), 1000)
				_ = p.Stats()
			}
		}(w)
	}
	wg.Wait()

	assert.LessOrEqual(t, p.Stats().Current, uint64(1000))
}

func TestSparkline_Render(t *testing.T) {
	// Given: a sparkline with ascending samples
	s := NewSparkline(8)
	for i := range 8 {
		s.Add(float64(i + 1))
	}

	// When: rendering
	out := s.Render(8)

	// Then: bars rise to full height
	runes := []rune(out)
	assert.Len(t, runes, 8)
	assert.Equal(t, SparklineChars[len(SparklineChars)-1], runes[7])
	assert.Equal(t, SparklineChars[0], runes[0])
}

func TestSparkline_RightAlignsPartialData(t *testing.T) {
	s := NewSparkline(10)
	s.Add(5)
	s.Add(5)

	out := s.Render(6)

	assert.Equal(t, 6, utf8.RuneCountInString(out))
	assert.True(t, strings.HasPrefix(out, "    "))
}

func TestSparkline_WrapsAndShowsNewest(t *testing.T) {
	// Given: more samples than the ring holds
	s := NewSparkline(4)
	for _, v := range []float64{100, 100, 100, 1, 1, 1, 1} {
		s.Add(v)
	}

	// Then: only the newest samples remain
	assert.Equal(t, 4, s.Len())
	out := []rune(s.Render(0))
	assert.Len(t, out, 4)
	assert.Equal(t, SparklineChars[len(SparklineChars)-1], out[3])
}

func TestSparkline_Clear(t *testing.T) {
	s := NewSparkline(4)
	s.Add(3)

	s.Clear()

	assert.Zero(t, s.Len())
	assert.Equal(t, "    ", s.Render(4))
}
