package orchestrator

import (
	"errors"
	"fmt"

	"github.com/timmy/outreach/internal/domain"
)

var (
	// ErrChunkNotFound is returned when a control operation names an unknown chunk.
	ErrChunkNotFound = errors.New("chunk not found")
	// ErrItemNotFound is returned when a phase result names an unknown item.
	ErrItemNotFound = errors.New("item not found")

	errNotDispatched = errors.New("item not dispatched")
)

// StateTransitionError reports a control operation invoked from a state
// that does not allow it. The chunk is left unchanged.
type StateTransitionError struct {
	ChunkID string
	Op      string
	From    domain.ChunkState
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("cannot %s chunk %s in state %s", e.Op, e.ChunkID, e.From)
}

// FaultError marks a chunk-wide failure, such as an unreachable collaborator,
// that forces the chunk into FAILED.
type FaultError struct {
	ChunkID string
	Cause   error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("chunk %s failed: %v", e.ChunkID, e.Cause)
}

func (e *FaultError) Unwrap() error {
	return e.Cause
}
