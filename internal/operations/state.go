package operations

import (
	"fmt"
	"time"
)

// FileState is the position of one file in a batch run.
type FileState string

const (
	FileStateReceived      FileState = "received"
	FileStateUnwrapped     FileState = "unwrapped"
	FileStateDecoded       FileState = "decoded"
	FileStateReconstructed FileState = "reconstructed"
	FileStateCached        FileState = "cached"
	FileStateDone          FileState = "done"
	FileStateFailed        FileState = "failed"
)

// next lists the forward transitions. failed is reachable from any
// non-terminal state and is handled separately.
var next = map[FileState]FileState{
	FileStateReceived:      FileStateUnwrapped,
	FileStateUnwrapped:     FileStateDecoded,
	FileStateDecoded:       FileStateReconstructed,
	FileStateReconstructed: FileStateCached,
	FileStateCached:        FileStateDone,
}

// IsTerminal reports whether no further transition is allowed.
func (s FileState) IsTerminal() bool {
	return s == FileStateDone || s == FileStateFailed
}

// FileRun tracks one file through the parse state machine.
type FileRun struct {
	Name      string
	State     FileState
	StartedAt time.Time
	History   []FileState
	Err       error
}

func newFileRun(name string) *FileRun {
	return &FileRun{
		Name:      name,
		State:     FileStateReceived,
		StartedAt: time.Now(),
		History:   []FileState{FileStateReceived},
	}
}

// Advance moves to to, which must be the single forward successor.
func (r *FileRun) Advance(to FileState) error {
	if r.State.IsTerminal() {
		return fmt.Errorf("file %s: cannot leave terminal state %s", r.Name, r.State)
	}
	if next[r.State] != to {
		return fmt.Errorf("file %s: invalid transition %s -> %s", r.Name, r.State, to)
	}
	r.State = to
	r.History = append(r.History, to)
	return nil
}

// Fail moves to failed from any non-terminal state. Failing twice keeps the
// first error.
func (r *FileRun) Fail(err error) {
	if r.State.IsTerminal() {
		return
	}
	r.State = FileStateFailed
	r.History = append(r.History, FileStateFailed)
	r.Err = err
}

// Duration is the time since the run started.
func (r *FileRun) Duration() time.Duration {
	return time.Since(r.StartedAt)
}
