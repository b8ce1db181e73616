package orchestrator

import "math"

// ProgressPercent returns round(processed/total*100) clamped to [0,100].
// A zero total yields 0.
func ProgressPercent(processed, total int) int {
	if total <= 0 || processed <= 0 {
		return 0
	}
	pct := int(math.Round(float64(processed) / float64(total) * 100))
	if pct > 100 {
		return 100
	}
	return pct
}
