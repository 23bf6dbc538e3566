// Package memory provides in-memory store implementations for development
// and testing. Delivery state does not survive a restart, so production runs
// use the postgres provider.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ftmlabs/bknmu-notifier/internal/notices"
)

// DeliveryStore keeps the dedup ledger in a mutex-guarded map.
type DeliveryStore struct {
	mu      sync.RWMutex
	records map[string]notices.DeliveryRecord
}

// NewDeliveryStore constructs an empty store.
func NewDeliveryStore() *DeliveryStore {
	return &DeliveryStore{records: make(map[string]notices.DeliveryRecord)}
}

// IsKnown reports whether externalID has been recorded in this process.
func (s *DeliveryStore) IsKnown(_ context.Context, externalID string) (bool, error) {
	if externalID == "" {
		return false, errors.New("external id is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[externalID]
	return ok, nil
}

// MarkDelivered records one delivery. Re-marking a known id keeps the first
// record and succeeds, mirroring the unique-constraint semantics of the
// Postgres store.
func (s *DeliveryStore) MarkDelivered(_ context.Context, rec notices.DeliveryRecord) error {
	if rec.ExternalID == "" {
		return errors.New("external id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ExternalID]; exists {
		return nil
	}
	if rec.DeliveredAt.IsZero() {
		rec.DeliveredAt = time.Now().UTC()
	}
	s.records[rec.ExternalID] = rec
	return nil
}

// RecentDeliveries returns the newest records first.
func (s *DeliveryStore) RecentDeliveries(_ context.Context, limit int) ([]notices.DeliveryRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	s.mu.RLock()
	out := make([]notices.DeliveryRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].DeliveredAt.After(out[j].DeliveredAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeliveredCount returns the ledger size.
func (s *DeliveryStore) DeliveredCount(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.records)), nil
}

// PurgeOlderThan drops records delivered before cutoff.
func (s *DeliveryStore) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id, rec := range s.records {
		if rec.DeliveredAt.Before(cutoff) {
			delete(s.records, id)
			removed++
		}
	}
	return removed, nil
}
