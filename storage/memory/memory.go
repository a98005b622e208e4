// Package memory provides an in-memory implementation of the subscription.Store
// interface. This implementation is primarily intended for testing and development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/pitchly/pitchly/pkg/subscription"
)

// Store implements subscription.Store using in-memory maps
type Store struct {
	mu      sync.RWMutex
	records map[string]*subscription.Record
	// customer ID -> user ID, maintained on Upsert for reverse lookups
	customers map[string]string
}

// New creates a new in-memory store
func New() *Store {
	return &Store{
		records:   make(map[string]*subscription.Record),
		customers: make(map[string]string),
	}
}

// Get implements subscription.Store
func (s *Store) Get(ctx context.Context, userID string) (*subscription.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[userID]
	if !ok {
		return nil, subscription.ErrRecordNotFound
	}

	// Return a copy to prevent external mutations
	recCopy := *rec
	return &recCopy, nil
}

// GetByCustomerID implements subscription.Store
func (s *Store) GetByCustomerID(ctx context.Context, customerID string) (*subscription.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userID, ok := s.customers[customerID]
	if !ok {
		return nil, subscription.ErrRecordNotFound
	}
	rec, ok := s.records[userID]
	if !ok {
		return nil, subscription.ErrRecordNotFound
	}

	recCopy := *rec
	return &recCopy, nil
}

// Upsert implements subscription.Store
func (s *Store) Upsert(ctx context.Context, rec *subscription.Record) error {
	if rec == nil || rec.UserID == "" {
		return subscription.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to prevent external mutations
	recCopy := *rec
	if recCopy.UpdatedAt.IsZero() {
		recCopy.UpdatedAt = time.Now().UTC()
	}
	s.records[rec.UserID] = &recCopy
	if recCopy.ExternalCustomerID != "" {
		s.customers[recCopy.ExternalCustomerID] = recCopy.UserID
	}
	return nil
}

// ConsumeProposal implements subscription.Store
func (s *Store) ConsumeProposal(ctx context.Context, userID string) (*subscription.Record, error) {
	if userID == "" {
		return nil, subscription.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[userID]
	if !ok {
		rec = subscription.NewFreeRecord(userID)
		s.records[userID] = rec
	}

	limit := rec.EffectiveLimit()
	if limit != subscription.UnlimitedProposals && rec.ProposalsUsed >= limit {
		return nil, subscription.ErrQuotaExceeded
	}

	rec.ProposalsUsed++
	rec.UpdatedAt = time.Now().UTC()

	recCopy := *rec
	return &recCopy, nil
}

// Clear removes all data (useful for testing)
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]*subscription.Record)
	s.customers = make(map[string]string)
}
