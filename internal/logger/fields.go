package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// ============================================
// Tracing Fields (Context level)
// Propagated through the call chain via context
// ============================================

const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldComponent is the component/module name
	FieldComponent = "component"

	// FieldUploadID is the upload being processed
	FieldUploadID = "upload_id"

	// FieldChunkID is the chunk being processed
	FieldChunkID = "chunk_id"

	// FieldItemID is the item being dispatched
	FieldItemID = "item_id"

	// FieldPhase is the item phase (extraction, generation, submission)
	FieldPhase = "phase"

	// FieldClientID is the progress channel connection ID
	FieldClientID = "client_id"
)

// ============================================
// Metric Fields (Entry level)
// ============================================

const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field
	FieldCount = "count"

	// FieldAttempt is the 1-based attempt number of a retried operation
	FieldAttempt = "attempt"

	// FieldStatus is the operation status
	FieldStatus = "status"

	// FieldSize is the response body size in bytes
	FieldSize = "size"
)
