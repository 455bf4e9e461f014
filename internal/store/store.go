package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/driftspace/tradepost/internal/models"
)

// Sentinel errors surfaced by Store operations. Callers classify with errors.Is.
var (
	ErrValidation           = errors.New("validation failed")
	ErrNotFound             = errors.New("listing not found")
	ErrForbidden            = errors.New("operation not permitted")
	ErrInvalidState         = errors.New("listing not in a valid state for this operation")
	ErrInsufficientQuantity = errors.New("insufficient quantity")
	ErrConflict             = errors.New("concurrent modification conflict")

	// ErrVersionMismatch is returned by backends when a conditional write loses
	// a race. The Store absorbs it inside its retry loop; it never escapes to
	// callers except wrapped as ErrConflict after the retry budget is spent.
	ErrVersionMismatch = errors.New("version mismatch")
)

// casAttempts bounds the read-modify-write retry loop for each mutating
// operation. Exhaustion surfaces as ErrConflict rather than blocking.
const casAttempts = 5

// Backend is the minimal contract the Store needs from a backing store.
// The backing store offers no multi-field transactions; the only coordination
// primitive is the conditional write keyed on a listing's version.
type Backend interface {
	// GetListing returns the listing or ErrNotFound.
	GetListing(ctx context.Context, id string) (*models.Listing, error)

	// PutListing writes the listing if the stored version still equals
	// expectedVersion. An expectedVersion of -1 means the listing must not
	// exist yet. Returns ErrVersionMismatch when the condition fails.
	PutListing(ctx context.Context, listing *models.Listing, expectedVersion int64) error

	// ListListings returns every listing regardless of status.
	ListListings(ctx context.Context) ([]models.Listing, error)

	// AppendTrade records a completed trade.
	AppendTrade(ctx context.Context, trade *models.Trade) error

	// ListTrades returns every recorded trade in append order.
	ListTrades(ctx context.Context) ([]models.Trade, error)
}

// HistoryFilter narrows trade_history results. Zero value means no filtering.
type HistoryFilter struct {
	PlayerID  string // matches buyer or seller
	ListingID string
}

// Store implements the marketplace operations on top of a Backend, using an
// optimistic compare-and-swap loop for every mutation.
type Store struct {
	backend Backend
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Store around the given backend.
func New(backend Backend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{backend: backend, logger: logger, now: time.Now}
}

// CreateListing validates input and writes a fresh Active listing at version 0.
func (s *Store) CreateListing(ctx context.Context, listing models.Listing) (*models.Listing, error) {
	if listing.SellerID == "" {
		return nil, fmt.Errorf("%w: seller_id is required", ErrValidation)
	}
	if listing.ItemType == "" {
		return nil, fmt.Errorf("%w: item_type is required", ErrValidation)
	}
	if listing.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	if listing.UnitPrice <= 0 {
		return nil, fmt.Errorf("%w: unit_price must be positive", ErrValidation)
	}
	if listing.ExpiresAt != nil && !listing.ExpiresAt.After(s.now()) {
		return nil, fmt.Errorf("%w: expires_at must be in the future", ErrValidation)
	}

	listing.ID = uuid.NewString()
	listing.Status = models.StatusActive
	listing.Version = 0
	listing.CreatedAt = s.now().UTC()

	if err := s.backend.PutListing(ctx, &listing, -1); err != nil {
		return nil, fmt.Errorf("create listing: %w", err)
	}

	s.logger.Info("listing created",
		"listing_id", listing.ID,
		"seller_id", listing.SellerID,
		"item_type", listing.ItemType,
		"quantity", listing.Quantity)
	return &listing, nil
}

// ListActive returns every Active, unexpired listing, newest first.
func (s *Store) ListActive(ctx context.Context) ([]models.Listing, error) {
	all, err := s.backend.ListListings(ctx)
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}

	now := s.now()
	active := make([]models.Listing, 0, len(all))
	for _, l := range all {
		if l.Status == models.StatusActive && !l.Expired(now) {
			active = append(active, l)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].CreatedAt.After(active[j].CreatedAt)
	})
	return active, nil
}

// Purchase buys quantity units from a listing on behalf of buyerID. It is
// atomic with respect to concurrent purchases of the same listing: the write
// is conditional on the version read at the start of each attempt, and a lost
// race triggers a full re-read and re-validation.
func (s *Store) Purchase(ctx context.Context, listingID, buyerID string, quantity int) (*models.Trade, error) {
	if buyerID == "" {
		return nil, fmt.Errorf("%w: buyer_id is required", ErrValidation)
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}

	for attempt := 0; attempt < casAttempts; attempt++ {
		listing, err := s.backend.GetListing(ctx, listingID)
		if err != nil {
			return nil, err
		}

		if listing.SellerID == buyerID {
			return nil, fmt.Errorf("%w: cannot buy your own listing", ErrValidation)
		}
		if expired, err := s.expireIfNeeded(ctx, listing); err != nil {
			return nil, err
		} else if expired {
			return nil, fmt.Errorf("%w: listing expired", ErrNotFound)
		}
		if listing.Status != models.StatusActive {
			return nil, fmt.Errorf("%w: listing is %s", ErrNotFound, listing.Status)
		}
		if quantity > listing.Quantity {
			return nil, fmt.Errorf("%w: requested %d, remaining %d",
				ErrInsufficientQuantity, quantity, listing.Quantity)
		}

		prevVersion := listing.Version
		listing.Quantity -= quantity
		listing.Version++
		if listing.Quantity == 0 {
			listing.Status = models.StatusSold
		}

		err = s.backend.PutListing(ctx, listing, prevVersion)
		if errors.Is(err, ErrVersionMismatch) {
			s.logger.Debug("purchase lost CAS race, retrying",
				"listing_id", listingID, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("purchase write: %w", err)
		}

		trade := &models.Trade{
			ID:         uuid.NewString(),
			ListingID:  listing.ID,
			BuyerID:    buyerID,
			SellerID:   listing.SellerID,
			ItemType:   listing.ItemType,
			Quantity:   quantity,
			UnitPrice:  listing.UnitPrice,
			ExecutedAt: s.now().UTC(),
		}
		if err := s.backend.AppendTrade(ctx, trade); err != nil {
			return nil, fmt.Errorf("record trade: %w", err)
		}

		s.logger.Info("purchase completed",
			"trade_id", trade.ID,
			"listing_id", listing.ID,
			"buyer_id", buyerID,
			"quantity", quantity)
		return trade, nil
	}

	return nil, fmt.Errorf("%w: purchase of %s exhausted %d attempts",
		ErrConflict, listingID, casAttempts)
}

// CancelListing sets an Active listing to Cancelled. Only the original seller
// may cancel, and the write follows the same version-check discipline as
// Purchase.
func (s *Store) CancelListing(ctx context.Context, listingID, sellerID string) (*models.Listing, error) {
	if sellerID == "" {
		return nil, fmt.Errorf("%w: seller_id is required", ErrValidation)
	}

	for attempt := 0; attempt < casAttempts; attempt++ {
		listing, err := s.backend.GetListing(ctx, listingID)
		if err != nil {
			return nil, err
		}

		if listing.SellerID != sellerID {
			return nil, fmt.Errorf("%w: only the seller may cancel", ErrForbidden)
		}
		if expired, err := s.expireIfNeeded(ctx, listing); err != nil {
			return nil, err
		} else if expired {
			return nil, fmt.Errorf("%w: listing expired", ErrInvalidState)
		}
		if listing.Status != models.StatusActive {
			return nil, fmt.Errorf("%w: listing is %s", ErrInvalidState, listing.Status)
		}

		prevVersion := listing.Version
		listing.Status = models.StatusCancelled
		listing.Version++

		err = s.backend.PutListing(ctx, listing, prevVersion)
		if errors.Is(err, ErrVersionMismatch) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("cancel write: %w", err)
		}

		s.logger.Info("listing cancelled", "listing_id", listing.ID, "seller_id", sellerID)
		return listing, nil
	}

	return nil, fmt.Errorf("%w: cancel of %s exhausted %d attempts",
		ErrConflict, listingID, casAttempts)
}

// TradeHistory returns recorded trades matching the filter, oldest first.
func (s *Store) TradeHistory(ctx context.Context, filter HistoryFilter) ([]models.Trade, error) {
	all, err := s.backend.ListTrades(ctx)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}

	matched := make([]models.Trade, 0, len(all))
	for _, t := range all {
		if filter.PlayerID != "" && t.BuyerID != filter.PlayerID && t.SellerID != filter.PlayerID {
			continue
		}
		if filter.ListingID != "" && t.ListingID != filter.ListingID {
			continue
		}
		matched = append(matched, t)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].ExecutedAt.Before(matched[j].ExecutedAt)
	})
	return matched, nil
}

// expireIfNeeded lazily transitions an Active listing past its expiry to
// Expired. A lost write race here is ignored: the caller re-reads anyway, and
// whoever won the race either expired it too or mutated it legitimately first.
func (s *Store) expireIfNeeded(ctx context.Context, listing *models.Listing) (bool, error) {
	if listing.Status != models.StatusActive || !listing.Expired(s.now()) {
		return false, nil
	}

	prevVersion := listing.Version
	listing.Status = models.StatusExpired
	listing.Version++

	err := s.backend.PutListing(ctx, listing, prevVersion)
	if err != nil && !errors.Is(err, ErrVersionMismatch) {
		return false, fmt.Errorf("expire write: %w", err)
	}
	s.logger.Info("listing expired", "listing_id", listing.ID)
	return true, nil
}
