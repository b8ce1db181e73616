package domain

import (
	"fmt"
	"time"

	"github.com/timmy/outreach/internal/status"
)

// Phase identifies one of the three external processing steps of an item.
type Phase string

const (
	PhaseExtraction Phase = "extraction"
	PhaseGeneration Phase = "generation"
	PhaseSubmission Phase = "submission"
)

// Phases lists the phases in their logical order.
var Phases = []Phase{PhaseExtraction, PhaseGeneration, PhaseSubmission}

// ParsePhase converts a path or payload value into a Phase.
func ParsePhase(s string) (Phase, error) {
	for _, p := range Phases {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown phase %q", s)
}

// Item is one unit of work (one target site) inside a chunk.
// Raw phase statuses are stored as reported; the canonical status is derived.
type Item struct {
	ID               string    `gorm:"type:text;primaryKey" json:"id"`
	UploadID         string    `gorm:"type:text;not null;index" json:"upload_id"`
	ChunkID          string    `gorm:"type:text;not null;index:idx_items_chunk_position" json:"chunk_id"`
	Position         int       `gorm:"not null;index:idx_items_chunk_position" json:"position"`
	TargetURL        string    `gorm:"type:text;not null" json:"target_url"`
	ExtractionStatus string    `gorm:"type:text;default:pending" json:"extraction_status"`
	GenerationStatus string    `gorm:"type:text;default:pending" json:"generation_status"`
	SubmissionStatus string    `gorm:"type:text;default:pending" json:"submission_status"`
	ExtractionError  string    `gorm:"type:text" json:"extraction_error,omitempty"`
	GenerationError  string    `gorm:"type:text" json:"generation_error,omitempty"`
	SubmissionError  string    `gorm:"type:text" json:"submission_error,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName returns the database table name for Item.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (Item) TableName() string {
	return "items"
}

// CanonicalStatus derives the item's overall status from its three phases.
func (i *Item) CanonicalStatus() status.Canonical {
	return status.AggregateItem(i.ExtractionStatus, i.GenerationStatus, i.SubmissionStatus)
}

// PhaseStatus returns the raw status and error recorded for a phase.
func (i *Item) PhaseStatus(p Phase) (raw, errMsg string) {
	switch p {
	case PhaseExtraction:
		return i.ExtractionStatus, i.ExtractionError
	case PhaseGeneration:
		return i.GenerationStatus, i.GenerationError
	case PhaseSubmission:
		return i.SubmissionStatus, i.SubmissionError
	}
	return "", ""
}

// SetPhaseStatus records the raw status and error for a phase.
func (i *Item) SetPhaseStatus(p Phase, raw, errMsg string) {
	switch p {
	case PhaseExtraction:
		i.ExtractionStatus, i.ExtractionError = raw, errMsg
	case PhaseGeneration:
		i.GenerationStatus, i.GenerationError = raw, errMsg
	case PhaseSubmission:
		i.SubmissionStatus, i.SubmissionError = raw, errMsg
	}
}

// PhaseColumns returns the status and error column names backing a phase.
func PhaseColumns(p Phase) (statusColumn, errorColumn string) {
	return string(p) + "_status", string(p) + "_error"
}

// NextPhase returns the first phase still waiting to be dispatched.
// Earlier phases must have completed (fully or partially); a phase that is
// in flight at a collaborator or has failed blocks the rest of the pipeline.
func (i *Item) NextPhase() (Phase, bool) {
	for _, p := range Phases {
		raw, _ := i.PhaseStatus(p)
		switch status.Normalize(raw) {
		case status.Completed, status.PartiallyCompleted:
			continue
		case status.Pending:
			return p, true
		default:
			return "", false
		}
	}
	return "", false
}

// Failed reports whether any phase of the item normalized to Failed.
func (i *Item) Failed() bool {
	for _, p := range Phases {
		raw, _ := i.PhaseStatus(p)
		if status.Normalize(raw) == status.Failed {
			return true
		}
	}
	return false
}

// Settled reports whether the item has reached a terminal outcome: every
// phase finished, or a failed phase blocks the rest. Items waiting on a
// collaborator or on dispatch are not settled.
func (i *Item) Settled() bool {
	for _, p := range Phases {
		raw, _ := i.PhaseStatus(p)
		switch status.Normalize(raw) {
		case status.Completed, status.PartiallyCompleted:
			continue
		case status.Failed:
			return true
		default:
			return false
		}
	}
	return true
}
