package ui

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Aman-CERP/amanfind/internal/index"
)

func TestStage_StringAndIcon(t *testing.T) {
	tests := []struct {
		stage Stage
		name  string
		icon  string
	}{
		{StageCounting, "Counting", "COUNT"},
		{StageIndexing, "Indexing", "INDEX"},
		{StageOptimizing, "Optimizing", "OPT"},
		{StageComplete, "Complete", "DONE"},
		{Stage(99), "Unknown", "???"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.stage.String())
			assert.Equal(t, tt.icon, tt.stage.Icon())
		})
	}
}

func TestStageForPhase(t *testing.T) {
	assert.Equal(t, StageCounting, StageForPhase(index.PhaseIdle))
	assert.Equal(t, StageCounting, StageForPhase(index.PhaseCounting))
	assert.Equal(t, StageIndexing, StageForPhase(index.PhaseWalking))
	assert.Equal(t, StageOptimizing, StageForPhase(index.PhaseOptimizing))
	assert.Equal(t, StageComplete, StageForPhase(index.PhaseDone))
	assert.Equal(t, StageComplete, StageForPhase(index.PhaseCancelled))
}

func TestNewConfig_AppliesOptions(t *testing.T) {
	// Given: options
	buf := &bytes.Buffer{}

	// When: creating config
	cfg := NewConfig(buf, WithForcePlain(true), WithNoColor(true), WithTitle("/srv/docs"))

	// Then: options are applied
	assert.Same(t, buf, cfg.Output)
	assert.True(t, cfg.ForcePlain)
	assert.True(t, cfg.NoColor)
	assert.Equal(t, "/srv/docs", cfg.Title)
}

func TestNewRenderer_NonTTYIsPlain(t *testing.T) {
	// Given: a buffer output
	r := NewRenderer(NewConfig(&bytes.Buffer{}))

	// Then: plain renderer is used
	assert.IsType(t, &PlainRenderer{}, r)
}

func TestNewRenderer_ForcePlain(t *testing.T) {
	r := NewRenderer(NewConfig(os.Stdout, WithForcePlain(true)))

	assert.IsType(t, &PlainRenderer{}, r)
}

func TestIsTTY(t *testing.T) {
	assert.False(t, IsTTY(nil))
	assert.False(t, IsTTY(&bytes.Buffer{}))

	f, err := os.CreateTemp(t.TempDir(), "out")
	if assert.NoError(t, err) {
		defer f.Close()
		assert.False(t, IsTTY(f), "regular files are not terminals")
	}
}

func TestDetectCI(t *testing.T) {
	// Given: CI variable set
	t.Setenv("CI", "true")

	// Then: CI is detected
	assert.True(t, DetectCI())
}

func TestDetectNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")

	assert.True(t, DetectNoColor())
}

type recordingRenderer struct {
	PlainRenderer
	events   []ProgressEvent
	messages []string
	stages   []Stage
}

func (r *recordingRenderer) UpdateProgress(e ProgressEvent) { r.events = append(r.events, e) }
func (r *recordingRenderer) Message(s Stage, msg string) {
	r.stages = append(r.stages, s)
	r.messages = append(r.messages, msg)
}

func TestSink_TagsEventsWithPhase(t *testing.T) {
	// Given: a sink whose phase changes
	rec := &recordingRenderer{}
	phase := index.PhaseCounting
	sink := NewSink(rec, func() index.Phase { return phase })

	// When: callbacks arrive across phases
	sink.OnStatus("Counting files in 1 folder(s)")
	phase = index.PhaseWalking
	sink.OnProgress(3, 10)
	phase = index.PhaseOptimizing
	sink.OnStatus("Optimizing index")

	// Then: each is tagged with the matching stage
	assert.Equal(t, []Stage{StageCounting, StageOptimizing}, rec.stages)
	assert.Equal(t, []ProgressEvent{{Stage: StageIndexing, Current: 3, Total: 10}}, rec.events)
}

func TestSink_NilPhaseDefaultsToIndexing(t *testing.T) {
	rec := &recordingRenderer{}
	sink := NewSink(rec, nil)

	sink.OnProgress(1, 2)

	assert.Equal(t, StageIndexing, rec.events[0].Stage)
}
