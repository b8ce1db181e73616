package status

import (
	"encoding/json"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		raw  string
		want Canonical
	}{
		{"", Pending},
		{"   ", Pending},
		{"pending", Pending},
		{"UPLOADED", Pending},
		{"queued_for_generation", Pending},
		{"processing", Processing},
		{"Uploading", Processing},
		{"scraping", Processing},
		{"IN_PROGRESS", Processing},
		{"completed", Completed},
		{"SCRAPING_COMPLETED", Completed},
		{"completed_partial", PartiallyCompleted},
		{"contact_form_submission_partial", PartiallyCompleted},
		{"some forms submitted", PartiallyCompleted},
		{"SCRAPING_FAILED", Failed},
		{"ai_generation_failed", Failed},
		{"contact_form_submission_failed", Failed},
		{"error", Failed},
		{"completed with failed sub-items", Failed},
		{"something unexpected", PartiallyCompleted},
		{"unrecognised", Pending},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := Normalize(tt.raw); got != tt.want {
				t.Errorf("Normalize(%q) = %s, want %s", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNormalizeIsTotal(t *testing.T) {
	inputs := []string{"", "x", "💥", "FAILED FAILED", "pending error", "\n\t", "completed"}
	for _, in := range inputs {
		if got := Normalize(in); !got.Valid() {
			t.Errorf("Normalize(%q) returned invalid value %d", in, got)
		}
	}
}

func TestAggregateItem(t *testing.T) {
	tests := []struct {
		name                               string
		extraction, generation, submission string
		want                               Canonical
	}{
		{"processing dominates", "COMPLETED", "PROCESSING", "PENDING", Processing},
		{"processing dominates failure", "FAILED", "scraping", "FAILED", Processing},
		{"all completed", "completed", "COMPLETED", "completed", Completed},
		{"one failure is partial", "FAILED", "COMPLETED", "COMPLETED", PartiallyCompleted},
		{"all failed still partial", "failed", "ai_generation_failed", "contact_form_submission_failed", PartiallyCompleted},
		{"untouched", "", "", "", Pending},
		{"waiting on later phases", "completed", "pending", "pending", Pending},
		{"partial submission without failure", "completed", "completed", "contact_form_submission_partial", Pending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AggregateItem(tt.extraction, tt.generation, tt.submission); got != tt.want {
				t.Errorf("AggregateItem() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestAggregateChunkAndUpload(t *testing.T) {
	tests := []struct {
		name     string
		children []Canonical
		want     Canonical
	}{
		{"empty", nil, Pending},
		{"processing dominates", []Canonical{Completed, Processing, Failed}, Processing},
		{"all completed", []Canonical{Completed, Completed}, Completed},
		{"failure makes partial", []Canonical{Completed, Failed}, PartiallyCompleted},
		{"partial child makes partial", []Canonical{Completed, PartiallyCompleted}, PartiallyCompleted},
		{"pending remains", []Canonical{Completed, Pending}, Pending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AggregateChunk(tt.children); got != tt.want {
				t.Errorf("AggregateChunk() = %s, want %s", got, tt.want)
			}
			if got := AggregateUpload(tt.children); got != tt.want {
				t.Errorf("AggregateUpload() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCanonicalJSON(t *testing.T) {
	payload, err := json.Marshal(map[string]Canonical{"status": PartiallyCompleted})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(payload) != `{"status":"partially-completed"}` {
		t.Errorf("unexpected payload %s", payload)
	}

	var decoded struct {
		Status Canonical `json:"status"`
	}
	if err := json.Unmarshal([]byte(`{"status":"failed"}`), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Status != Failed {
		t.Errorf("decoded %s, want failed", decoded.Status)
	}

	if err := json.Unmarshal([]byte(`{"status":"exploded"}`), &decoded); err == nil {
		t.Error("expected error for unknown status name")
	}
}

func TestPresentationCoversEveryStatus(t *testing.T) {
	for _, c := range All() {
		if c.Present().Label == "" {
			t.Errorf("status %s has no presentation", c)
		}
	}
	if Canonical(42).Present() != Pending.Present() {
		t.Error("unknown status should render as pending")
	}
}
