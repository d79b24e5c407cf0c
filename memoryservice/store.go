package memoryservice

import "context"

// Store is the memory-chain persistence backend shared by the trigger and
// read paths. Implementations must enforce the "at most one processing
// record per conversation" invariant atomically inside InsertProcessing.
type Store interface {
	// LatestCompleted returns the highest-end_sequence completed record for
	// conversationID, or nil if none exists.
	LatestCompleted(ctx context.Context, conversationID string) (*Record, error)

	// HasProcessing reports whether conversationID currently has a
	// processing record.
	HasProcessing(ctx context.Context, conversationID string) (bool, error)

	// InsertProcessing atomically checks HasProcessing and, if clear,
	// inserts a new processing row. Returns chatmerr KindPermanent if a
	// processing row already exists (caller treats this as the trigger's
	// step-2 no-op).
	InsertProcessing(ctx context.Context, conversationID string, start, end int, baseMemoryID *int64) (int64, error)

	// CompleteMemory marks memoryID completed with the generated text and
	// generation latency.
	CompleteMemory(ctx context.Context, memoryID int64, text string, generationMs int) error

	// FailMemory marks memoryID failed.
	FailMemory(ctx context.Context, memoryID int64) error
}
