package index

// ProgressSink receives progress from an indexing run. Methods are called
// synchronously from whichever goroutine does the work; implementations must
// be safe for concurrent use and marshal onto their own goroutine if needed.
type ProgressSink interface {
	// OnProgress reports files processed so far out of the counted total.
	OnProgress(done, total uint64)

	// OnStatus reports a human-readable status line.
	OnStatus(msg string)
}

// SinkFuncs adapts plain functions to ProgressSink. Nil fields are ignored.
type SinkFuncs struct {
	Progress func(done, total uint64)
	Status   func(msg string)
}

// OnProgress implements ProgressSink.
func (f SinkFuncs) OnProgress(done, total uint64) {
	if f.Progress != nil {
		f.Progress(done, total)
	}
}

// OnStatus implements ProgressSink.
func (f SinkFuncs) OnStatus(msg string) {
	if f.Status != nil {
		f.Status(msg)
	}
}

// EventKind distinguishes sink events.
type EventKind int

const (
	// EventProgress carries Done and Total.
	EventProgress EventKind = iota
	// EventStatus carries Message.
	EventStatus
)

// Event is one sink callback delivered through a channel.
type Event struct {
	Kind    EventKind
	Done    uint64
	Total   uint64
	Message string
}

// ChannelSink pushes events into a channel for a consumer on another
// goroutine. Progress events are dropped when the channel is full, since a
// later one supersedes them; status events block until delivered.
type ChannelSink struct {
	C chan Event
}

// NewChannelSink creates a ChannelSink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer < 1 {
		buffer = 1
	}
	return &ChannelSink{C: make(chan Event, buffer)}
}

// OnProgress implements ProgressSink.
func (s *ChannelSink) OnProgress(done, total uint64) {
	select {
	case s.C <- Event{Kind: EventProgress, Done: done, Total: total}:
	default:
	}
}

// OnStatus implements ProgressSink.
func (s *ChannelSink) OnStatus(msg string) {
	s.C <- Event{Kind: EventStatus, Message: msg}
}

// Close closes the event channel. Call it only after the run has returned.
func (s *ChannelSink) Close() {
	close(s.C)
}

type nopSink struct{}

func (nopSink) OnProgress(uint64, uint64) {}
func (nopSink) OnStatus(string)           {}
