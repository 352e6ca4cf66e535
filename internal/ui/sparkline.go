package ui

import "strings"

// SparklineChars are the eight bar heights, lowest first.
var SparklineChars = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Sparkline is a fixed-size ring of samples rendered as block characters,
// scaled to the largest sample currently held.
type Sparkline struct {
	samples []float64
	head    int
	count   int
}

// NewSparkline creates a sparkline holding up to size samples.
func NewSparkline(size int) *Sparkline {
	if size <= 0 {
		size = 60
	}
	return &Sparkline{samples: make([]float64, size)}
}

// Add appends a sample, overwriting the oldest when full.
func (s *Sparkline) Add(value float64) {
	s.samples[s.head] = value
	s.head = (s.head + 1) % len(s.samples)
	s.count++
}

// Len returns the number of samples held.
func (s *Sparkline) Len() int {
	return min(s.count, len(s.samples))
}

// Clear removes all samples.
func (s *Sparkline) Clear() {
	clear(s.samples)
	s.head = 0
	s.count = 0
}

// recent returns up to n samples, oldest first.
func (s *Sparkline) recent(n int) []float64 {
	n = min(n, s.Len())
	out := make([]float64, 0, n)
	start := s.head - n
	for i := range n {
		idx := (start + i + len(s.samples)) % len(s.samples)
		out = append(out, s.samples[idx])
	}
	return out
}

// Render draws the newest samples right-aligned in width columns. A
// non-positive width uses the ring size.
func (s *Sparkline) Render(width int) string {
	if width <= 0 {
		width = len(s.samples)
	}
	values := s.recent(width)

	peak := 1.0
	for _, v := range values {
		peak = max(peak, v)
	}

	var sb strings.Builder
	sb.Grow(width * 3)
	sb.WriteString(strings.Repeat(" ", width-len(values)))
	top := len(SparklineChars) - 1
	for _, v := range values {
		idx := min(max(int(v/peak*float64(top)), 0), top)
		sb.WriteRune(SparklineChars[idx])
	}
	return sb.String()
}
