package history

import (
	"context"
	"time"
)

// Event records the final outcome of one spool entry.
type Event struct {
	Entry      string    `json:"entry"`   // spool file basename
	Outcome    string    `json:"outcome"` // sent, failed, dispatched
	Host       string    `json:"host,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Sink is a destination for dispatch outcome events (audit/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}
