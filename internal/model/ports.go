package model

import "context"

// ── Storage Port Interfaces ──
// These interfaces decouple the engine from concrete storage (Redis,
// SQL). Each implementation satisfies one or more of them.

// BarReader reads finalized bars of a series.
type BarReader interface {
	// ReadBars returns bars with fromTS <= TS <= tillTS in TS order.
	ReadBars(ctx context.Context, s Series, fromTS, tillTS int64) ([]Bar, error)
}

// BarWriter persists finalized bars of a series.
type BarWriter interface {
	WriteBars(ctx context.Context, s Series, bars []Bar) error
}

// EventPublisher fans detector events out to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, batch EventBatch) error
}

// SnapshotStore reads and writes detector snapshots as raw JSON.
// Using []byte avoids a model→extremum→model import cycle.
type SnapshotStore interface {
	// SaveSnapshotJSON persists a JSON-encoded detector snapshot.
	SaveSnapshotJSON(ctx context.Context, s Series, data []byte) error

	// ReadLatestSnapshotJSON loads the most recent snapshot as raw JSON.
	// Returns nil, nil if no snapshot exists.
	ReadLatestSnapshotJSON(ctx context.Context, s Series) ([]byte, error)
}
