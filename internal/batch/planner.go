package batch

import "fmt"

// DefaultChunkSize is the chunk size used when an upload does not specify one.
const DefaultChunkSize = 10000

// StatePending is the lifecycle state every freshly planned chunk starts in.
const StatePending = "PENDING"

// Descriptor describes one planned chunk covering the half-open item range [Start, End).
type Descriptor struct {
	ChunkNumber int    `json:"chunk_number"`
	Start       int    `json:"start"`
	End         int    `json:"end"`
	Count       int    `json:"count"`
	State       string `json:"state"`
	Progress    int    `json:"progress"`
}

// ValidationError reports planning inputs that cannot describe a partition.
type ValidationError struct {
	Field string
	Value int
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %d", e.Field, e.Value)
}

// TotalChunks returns ceil(totalItems/chunkSize) for valid inputs.
func TotalChunks(totalItems, chunkSize int) int {
	if totalItems <= 0 || chunkSize <= 0 {
		return 0
	}
	return (totalItems + chunkSize - 1) / chunkSize
}

// Plan partitions [0, totalItems) into consecutive chunks of chunkSize items.
// The last chunk holds the remainder. The result is deterministic, so
// planning the same inputs twice yields identical descriptors.
// Parameters:
//   - totalItems: number of items in the upload, must be >= 0.
//   - chunkSize: items per chunk, must be > 0.
//
// Returns:
//   - []Descriptor: chunk descriptors ordered by ChunkNumber.
//   - error: *ValidationError when an input is out of range.
func Plan(totalItems, chunkSize int) ([]Descriptor, error) {
	if totalItems < 0 {
		return nil, &ValidationError{Field: "total_items", Value: totalItems}
	}
	if chunkSize <= 0 {
		return nil, &ValidationError{Field: "chunk_size", Value: chunkSize}
	}

	n := TotalChunks(totalItems, chunkSize)
	chunks := make([]Descriptor, 0, n)
	for i := 0; i < n; i++ {
		start := i * chunkSize
		end := min((i+1)*chunkSize, totalItems)
		chunks = append(chunks, Descriptor{
			ChunkNumber: i + 1,
			Start:       start,
			End:         end,
			Count:       end - start,
			State:       StatePending,
			Progress:    0,
		})
	}
	return chunks, nil
}
