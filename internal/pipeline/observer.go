package pipeline

import "time"

// State is a phase of a Driver run.
type State string

const (
	StateInit          State = "INIT"
	StateRestoring     State = "RESTORING"
	StateIterating     State = "ITERATING"
	StateCheckpointing State = "CHECKPOINTING"
	StateDone          State = "DONE"
	StateAborted       State = "ABORTED"
)

// Progress is emitted before every download.
type Progress struct {
	Index      int
	Total      int
	Elapsed    time.Duration
	URL        string
	Attribute  string
	Occupation string
	Country    string
}

// Checkpoint is emitted after a snapshot was written.
type Checkpoint struct {
	Index   int
	Path    string
	Rows    int
	Removed []string
	Final   bool
}

// Observer receives run events. Implementations must not block for long;
// they are called on the driver goroutine.
type Observer interface {
	OnState(from, to State)
	OnProgress(p Progress)
	OnCheckpoint(c Checkpoint)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) OnState(State, State)    {}
func (NopObserver) OnProgress(Progress)     {}
func (NopObserver) OnCheckpoint(Checkpoint) {}
