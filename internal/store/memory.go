package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/driftspace/tradepost/internal/models"
)

// MemoryBackend keeps listings and trades in process memory. It is the
// default backend for local development and the test double for everything
// above it. The mutex gives the same conditional-write semantics the real
// backends get from their stores.
type MemoryBackend struct {
	mu       sync.Mutex
	listings map[string]models.Listing
	trades   []models.Trade
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{listings: make(map[string]models.Listing)}
}

func (m *MemoryBackend) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	listing, ok := m.listings[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &listing, nil
}

func (m *MemoryBackend) PutListing(ctx context.Context, listing *models.Listing, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.listings[listing.ID]
	if expectedVersion < 0 {
		if exists {
			return fmt.Errorf("%w: listing %s already exists", ErrVersionMismatch, listing.ID)
		}
	} else {
		if !exists {
			return fmt.Errorf("%w: %s", ErrNotFound, listing.ID)
		}
		if current.Version != expectedVersion {
			return fmt.Errorf("%w: have %d, expected %d",
				ErrVersionMismatch, current.Version, expectedVersion)
		}
	}

	m.listings[listing.ID] = *listing
	return nil
}

func (m *MemoryBackend) ListListings(ctx context.Context) ([]models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Listing, 0, len(m.listings))
	for _, l := range m.listings {
		out = append(out, l)
	}
	return out, nil
}

func (m *MemoryBackend) AppendTrade(ctx context.Context, trade *models.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.trades = append(m.trades, *trade)
	return nil
}

func (m *MemoryBackend) ListTrades(ctx context.Context) ([]models.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Trade, len(m.trades))
	copy(out, m.trades)
	return out, nil
}
