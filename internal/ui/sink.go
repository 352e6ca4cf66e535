package ui

import "github.com/Aman-CERP/amanfind/internal/index"

// Sink forwards runner callbacks to a Renderer, tagging each with the stage
// derived from the runner's phase.
type Sink struct {
	renderer Renderer
	phase    func() index.Phase
}

var _ index.ProgressSink = (*Sink)(nil)

// NewSink creates a Sink. phase is usually Runner.Phase; nil treats every
// callback as indexing.
func NewSink(r Renderer, phase func() index.Phase) *Sink {
	if phase == nil {
		phase = func() index.Phase { return index.PhaseWalking }
	}
	return &Sink{renderer: r, phase: phase}
}

// OnProgress implements index.ProgressSink.
func (s *Sink) OnProgress(done, total uint64) {
	s.renderer.UpdateProgress(ProgressEvent{
		Stage:   StageForPhase(s.phase()),
		Current: done,
		Total:   total,
	})
}

// OnStatus implements index.ProgressSink.
func (s *Sink) OnStatus(msg string) {
	s.renderer.Message(StageForPhase(s.phase()), msg)
}
