package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ftmlabs/bknmu-notifier/internal/notices"
)

// DeliveryStore is the durable dedup ledger over delivered_notices.
type DeliveryStore struct {
	pool dbPool
}

// NewDeliveryStoreWithPool constructs a store over an existing pool
// (primarily for testing with pgxmock).
func NewDeliveryStoreWithPool(pool dbPool) (*DeliveryStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &DeliveryStore{pool: pool}, nil
}

// IsKnown reports whether externalID was recorded by any prior run.
func (s *DeliveryStore) IsKnown(ctx context.Context, externalID string) (bool, error) {
	if externalID == "" {
		return false, fmt.Errorf("external id is required")
	}
	const query = `SELECT EXISTS (SELECT 1 FROM delivered_notices WHERE external_id = $1)`
	var known bool
	if err := s.pool.QueryRow(ctx, query, externalID).Scan(&known); err != nil {
		return false, fmt.Errorf("check delivered notice: %w", err)
	}
	return known, nil
}

// MarkDelivered records one acknowledged delivery. Inserting an id that is
// already present succeeds without touching the existing row: the unique
// constraint absorbs duplicates, so concurrent markers cannot double-record.
func (s *DeliveryStore) MarkDelivered(ctx context.Context, rec notices.DeliveryRecord) error {
	if rec.ExternalID == "" {
		return fmt.Errorf("external id is required")
	}
	deliveredAt := rec.DeliveredAt
	if deliveredAt.IsZero() {
		deliveredAt = time.Now().UTC()
	}
	const query = `
INSERT INTO delivered_notices (
	external_id,
	title,
	title_translated,
	source_url,
	published_on,
	chat_id,
	message_id,
	delivered_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)
ON CONFLICT (external_id) DO NOTHING`

	args := []any{
		rec.ExternalID,
		rec.Title,
		rec.TitleTranslated,
		rec.URL,
		rec.Published,
		rec.ChatID,
		rec.MessageID,
		deliveredAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

// RecentDeliveries returns the newest records first.
func (s *DeliveryStore) RecentDeliveries(ctx context.Context, limit int) ([]notices.DeliveryRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	const query = `
SELECT external_id, title, title_translated, source_url, published_on, chat_id, message_id, delivered_at
FROM delivered_notices
ORDER BY delivered_at DESC
LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	var out []notices.DeliveryRecord
	for rows.Next() {
		var rec notices.DeliveryRecord
		if err := rows.Scan(
			&rec.ExternalID,
			&rec.Title,
			&rec.TitleTranslated,
			&rec.URL,
			&rec.Published,
			&rec.ChatID,
			&rec.MessageID,
			&rec.DeliveredAt,
		); err != nil {
			return nil, fmt.Errorf("scan delivery row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate delivery rows: %w", err)
	}
	return out, nil
}

// DeliveredCount returns the ledger size.
func (s *DeliveryStore) DeliveredCount(ctx context.Context) (int64, error) {
	const query = `SELECT COUNT(*) FROM delivered_notices`
	var count int64
	if err := s.pool.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count deliveries: %w", err)
	}
	return count, nil
}

// PurgeOlderThan deletes records delivered before cutoff and reports how
// many rows went away.
func (s *DeliveryStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM delivered_notices WHERE delivered_at < $1`
	tag, err := s.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge deliveries: %w", err)
	}
	return tag.RowsAffected(), nil
}
