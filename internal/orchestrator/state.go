package orchestrator

import (
	"fmt"
	"slices"
)

// Phase is the lifecycle position of a batch.
type Phase string

const (
	PhaseRunning   Phase = "running"
	PhaseCompleted Phase = "completed"
	PhaseStopped   Phase = "stopped"
	PhaseFailed    Phase = "failed"
)

// State is a snapshot of a running batch. Completed only ever grows; Preview
// belongs to the iteration in flight and is dropped when that iteration ends.
type State struct {
	// Iteration is the 1-based iteration in flight, or the last one run.
	Iteration  int
	BatchCount int

	Completed [][]byte
	Preview   []byte

	Progress    int
	ProgressMax int

	// Seeds maps seed override keys to the seed submitted in this iteration.
	Seeds map[string]uint64
	// BaseSeeds maps seed override keys to the batch's (possibly pinned)
	// base seed.
	BaseSeeds map[string]uint64

	Status string
	Phase  Phase
	Err    error
}

// Done reports whether the batch has finished.
func (s State) Done() bool { return s.Phase != "" && s.Phase != PhaseRunning }

func (s State) snapshot() State {
	c := s
	c.Completed = slices.Clone(s.Completed)
	return c
}

func (s *State) progressStatus() {
	s.Status = fmt.Sprintf("Batch %d/%d: Step %d/%d", s.Iteration, s.BatchCount, s.Progress, s.ProgressMax)
}

func (s *State) startingStatus() {
	s.Status = fmt.Sprintf("Batch %d/%d: Starting", s.Iteration, s.BatchCount)
}

func (s *State) iterationDoneStatus() {
	s.Status = fmt.Sprintf("Batch %d/%d complete", s.Iteration, s.BatchCount)
}

func (s *State) skippedStatus() {
	s.Status = fmt.Sprintf("Skipped batch %d/%d", s.Iteration, s.BatchCount)
}
