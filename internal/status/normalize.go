package status

import "strings"

// Marker sets, checked by substring against the lower-cased raw status.
var (
	queuedMarkers   = []string{"pending", "uploaded", "queued"}
	inFlightMarkers = []string{"processing", "uploading", "scraping", "in_progress"}
	terminalMarkers = []string{"completed", "partial", "fail", "error"}
	partialMarkers  = []string{"partial", "some", "contact_form_submission_partial"}
	failureMarkers  = []string{"failed", "error", "fail", "ai_generation_failed", "contact_form_submission_failed", "scraping_failed"}
)

// Normalize maps a free-form phase status reported by a collaborator onto
// the canonical taxonomy. It is total: unknown text degrades to Pending.
//
// Rules are evaluated in order and the first match wins. In-flight words
// such as "scraping" only count when the string carries no terminal
// marker, so "SCRAPING_FAILED" is a failure rather than work in progress.
func Normalize(raw string) Canonical {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return Pending
	}
	if containsAny(s, queuedMarkers) {
		return Pending
	}
	if containsAny(s, inFlightMarkers) && !containsAny(s, terminalMarkers) {
		return Processing
	}
	if strings.Contains(s, "completed") && !strings.Contains(s, "partial") && !strings.Contains(s, "failed") {
		return Completed
	}
	if containsAny(s, partialMarkers) {
		return PartiallyCompleted
	}
	if containsAny(s, failureMarkers) {
		return Failed
	}
	return Pending
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
