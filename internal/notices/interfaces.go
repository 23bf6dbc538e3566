package notices

import (
	"context"
	"time"
)

// Fetcher retrieves the circulars page as delivered to a browser.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Document, error)
}

// Parser extracts notices from a fetched document in page order.
// Implementations skip rows they cannot interpret; the returned error covers
// document-level failures only.
type Parser interface {
	Parse(doc Document) ([]Notice, error)
}

// Translator renders notice text into English. It never fails outward: when
// every backend is unavailable it returns the input unchanged with
// Translated=false.
type Translator interface {
	Translate(ctx context.Context, text string) Translation
}

// DeliveryStore is the durable dedup ledger. MarkDelivered must be
// idempotent: recording an already-known ID succeeds without error.
// Connection lifecycle belongs to the concrete store, not this interface.
type DeliveryStore interface {
	IsKnown(ctx context.Context, externalID string) (bool, error)
	MarkDelivered(ctx context.Context, rec DeliveryRecord) error
	RecentDeliveries(ctx context.Context, limit int) ([]DeliveryRecord, error)
	DeliveredCount(ctx context.Context) (int64, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Dispatcher sends one notice to the messaging endpoint and acknowledges
// confirmed deliveries only.
type Dispatcher interface {
	Send(ctx context.Context, n Notice) (Ack, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces cycle IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
