package domain

import (
	"testing"

	"github.com/timmy/outreach/internal/status"
)

func TestItemNextPhase(t *testing.T) {
	tests := []struct {
		name      string
		item      Item
		wantPhase Phase
		wantOK    bool
	}{
		{"fresh item", Item{}, PhaseExtraction, true},
		{"after extraction", Item{ExtractionStatus: "completed"}, PhaseGeneration, true},
		{"partial extraction still advances", Item{ExtractionStatus: "completed_partial", GenerationStatus: "completed"}, PhaseSubmission, true},
		{"in flight blocks", Item{ExtractionStatus: "scraping"}, "", false},
		{"failure blocks", Item{ExtractionStatus: "completed", GenerationStatus: "ai_generation_failed"}, "", false},
		{"all done", Item{ExtractionStatus: "completed", GenerationStatus: "completed", SubmissionStatus: "completed"}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			phase, ok := tt.item.NextPhase()
			if phase != tt.wantPhase || ok != tt.wantOK {
				t.Errorf("NextPhase() = (%q, %v), want (%q, %v)", phase, ok, tt.wantPhase, tt.wantOK)
			}
		})
	}
}

func TestItemPhaseAccessors(t *testing.T) {
	var item Item
	item.SetPhaseStatus(PhaseGeneration, "AI_GENERATION_FAILED", "model timeout")

	raw, errMsg := item.PhaseStatus(PhaseGeneration)
	if raw != "AI_GENERATION_FAILED" || errMsg != "model timeout" {
		t.Errorf("PhaseStatus() = (%q, %q)", raw, errMsg)
	}
	if !item.Failed() {
		t.Error("expected item to report failure")
	}
	if got := item.CanonicalStatus(); got != status.PartiallyCompleted {
		t.Errorf("CanonicalStatus() = %s, want partially-completed", got)
	}

	statusCol, errCol := PhaseColumns(PhaseSubmission)
	if statusCol != "submission_status" || errCol != "submission_error" {
		t.Errorf("PhaseColumns() = (%q, %q)", statusCol, errCol)
	}

	if _, err := ParsePhase("delivery"); err == nil {
		t.Error("expected error for unknown phase")
	}
}

func TestChunkStateTerminal(t *testing.T) {
	for _, s := range []ChunkState{ChunkStateCompleted, ChunkStateFailed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []ChunkState{ChunkStatePending, ChunkStateProcessing, ChunkStatePaused} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestItemSettled(t *testing.T) {
	tests := []struct {
		name string
		item Item
		want bool
	}{
		{"fresh", Item{}, false},
		{"mid pipeline", Item{ExtractionStatus: "completed"}, false},
		{"awaiting collaborator", Item{ExtractionStatus: "completed", GenerationStatus: "processing"}, false},
		{"failure blocks rest", Item{ExtractionStatus: "SCRAPING_FAILED"}, true},
		{"all phases done", Item{ExtractionStatus: "completed", GenerationStatus: "completed", SubmissionStatus: "contact_form_submission_partial"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.item.Settled(); got != tt.want {
				t.Errorf("Settled() = %v, want %v", got, tt.want)
			}
		})
	}
}
