// Package progress carries topic-tagged progress events from the
// orchestrator to websocket subscribers, and provides the reconnecting
// client used to consume them.
package progress

import (
	"strings"
	"time"

	"github.com/timmy/outreach/internal/domain"
	"github.com/timmy/outreach/internal/status"
)

// Kind is the event type carried in the envelope.
type Kind string

const (
	KindFileUpload    Kind = "file_upload_progress"
	KindChunk         Kind = "chunk_progress"
	KindScraping      Kind = "scraping_job_update"
	KindGeneration    Kind = "message_generation_update"
	KindSubmission    Kind = "form_submission_update"
	KindSystemMetrics Kind = "system_metrics"
)

// entityKeys names the data field that identifies the entity of each
// non-broadcast kind.
var entityKeys = map[Kind]string{
	KindFileUpload: "uploadId",
	KindChunk:      "chunkId",
	KindScraping:   "jobId",
	KindGeneration: "jobId",
	KindSubmission: "jobId",
}

var phaseKinds = map[domain.Phase]Kind{
	domain.PhaseExtraction: KindScraping,
	domain.PhaseGeneration: KindGeneration,
	domain.PhaseSubmission: KindSubmission,
}

// Broadcast reports whether events of this kind go to every connection
// without a subscription.
func (k Kind) Broadcast() bool {
	return k == KindSystemMetrics
}

// Event is the wire envelope for every progress message.
type Event struct {
	Type Kind                   `json:"type"`
	Data map[string]interface{} `json:"data"`
}

// Topic returns the topic this event is routed on, or "" when the data
// does not carry the entity id its kind requires.
func (e Event) Topic() string {
	if e.Type.Broadcast() {
		return string(e.Type)
	}
	key, ok := entityKeys[e.Type]
	if !ok {
		return ""
	}
	id, _ := e.Data[key].(string)
	if id == "" {
		return ""
	}
	return Topic(e.Type, id)
}

// Topic builds the topic name for an entity.
func Topic(kind Kind, entityID string) string {
	return string(kind) + "_" + entityID
}

// SplitTopic reverses Topic for the known kinds.
func SplitTopic(topic string) (Kind, string, bool) {
	if topic == string(KindSystemMetrics) {
		return KindSystemMetrics, "", true
	}
	for kind := range entityKeys {
		prefix := string(kind) + "_"
		if strings.HasPrefix(topic, prefix) && len(topic) > len(prefix) {
			return kind, topic[len(prefix):], true
		}
	}
	return "", "", false
}

// PhaseKind returns the event kind used for per-phase job updates.
func PhaseKind(p domain.Phase) Kind {
	return phaseKinds[p]
}

// UploadProgress builds a file_upload_progress event.
func UploadProgress(uploadID string, current, total, percent int, overall status.Canonical) Event {
	return Event{
		Type: KindFileUpload,
		Data: map[string]interface{}{
			"uploadId": uploadID,
			"current":  current,
			"total":    total,
			"progress": percent,
			"status":   overall.String(),
		},
	}
}

// ChunkProgress builds a chunk_progress event from a chunk snapshot.
func ChunkProgress(c *domain.Chunk) Event {
	data := map[string]interface{}{
		"chunkId":        c.ID,
		"uploadId":       c.UploadID,
		"chunkNumber":    c.ChunkNumber,
		"state":          string(c.State),
		"status":         c.Status.String(),
		"processedCount": c.ProcessedCount,
		"failedCount":    c.FailedCount,
		"total":          c.ItemCount,
		"progress":       c.ProgressPercent,
	}
	if c.ErrorMessage != "" {
		data["error"] = c.ErrorMessage
	}
	return Event{Type: KindChunk, Data: data}
}

// PhaseUpdate builds the job update event for one phase of a chunk.
func PhaseUpdate(p domain.Phase, chunkID string, phaseStatus status.Canonical, processed, failed int) Event {
	return Event{
		Type: PhaseKind(p),
		Data: map[string]interface{}{
			"jobId":          chunkID,
			"phase":          string(p),
			"status":         phaseStatus.String(),
			"processedCount": processed,
			"failedCount":    failed,
		},
	}
}

// SystemMetrics builds a system_metrics broadcast event.
func SystemMetrics(values map[string]interface{}) Event {
	data := make(map[string]interface{}, len(values)+1)
	for k, v := range values {
		data[k] = v
	}
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return Event{Type: KindSystemMetrics, Data: data}
}

// Intent is a subscription request sent from a client to the hub.
type Intent struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
}

const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)
