package models

import "time"

// ListingStatus is the lifecycle state of a listing.
type ListingStatus string

const (
	StatusActive    ListingStatus = "active"
	StatusSold      ListingStatus = "sold"
	StatusCancelled ListingStatus = "cancelled"
	StatusExpired   ListingStatus = "expired"
)

// Listing represents a seller's open offer of a quantity of an item at a unit price.
// Version is the optimistic concurrency token: it increments exactly once per
// successful mutation, and every conditional write is keyed on it.
type Listing struct {
	ID          string        `json:"listing_id"`
	SellerID    string        `json:"seller_id"`
	ItemType    string        `json:"item_type"`
	ItemName    string        `json:"item_name,omitempty"`
	Description string        `json:"description,omitempty"`
	Quantity    int           `json:"quantity"`
	UnitPrice   float64       `json:"unit_price"`
	Status      ListingStatus `json:"status"`
	Version     int64         `json:"version"`
	CreatedAt   time.Time     `json:"created_at"`
	ExpiresAt   *time.Time    `json:"expires_at,omitempty"`
}

// Expired reports whether the listing's expiry time has passed.
func (l *Listing) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && !l.ExpiresAt.After(now)
}

// Trade is an immutable record of a completed purchase against a listing.
type Trade struct {
	ID         string    `json:"trade_id"`
	ListingID  string    `json:"listing_id"`
	BuyerID    string    `json:"buyer_id"`
	SellerID   string    `json:"seller_id"`
	ItemType   string    `json:"item_type"`
	Quantity   int       `json:"quantity"`
	UnitPrice  float64   `json:"unit_price"`
	ExecutedAt time.Time `json:"executed_at"`
}
