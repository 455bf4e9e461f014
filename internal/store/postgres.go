package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/driftspace/tradepost/internal/models"
)

// PostgresBackend stores listings and trades in PostgreSQL. Conditional writes
// are expressed as UPDATE ... WHERE version = $n; a zero row count means the
// version moved underneath us.
type PostgresBackend struct {
	Pool *pgxpool.Pool
}

// NewPostgresBackend initializes a connection pool against connString.
func NewPostgresBackend(ctx context.Context, connString string) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return &PostgresBackend{Pool: pool}, nil
}

// Close closes the connection pool.
func (p *PostgresBackend) Close() {
	p.Pool.Close()
}

func (p *PostgresBackend) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	listing := &models.Listing{}
	err := p.Pool.QueryRow(ctx,
		`SELECT id, seller_id, item_type, item_name, description, quantity, unit_price,
		        status, version, created_at, expires_at
		 FROM listings WHERE id = $1`, id).Scan(
		&listing.ID, &listing.SellerID, &listing.ItemType, &listing.ItemName,
		&listing.Description, &listing.Quantity, &listing.UnitPrice,
		&listing.Status, &listing.Version, &listing.CreatedAt, &listing.ExpiresAt)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}
	return listing, nil
}

func (p *PostgresBackend) PutListing(ctx context.Context, listing *models.Listing, expectedVersion int64) error {
	if expectedVersion < 0 {
		tag, err := p.Pool.Exec(ctx,
			`INSERT INTO listings (id, seller_id, item_type, item_name, description,
			                       quantity, unit_price, status, version, created_at, expires_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			 ON CONFLICT (id) DO NOTHING`,
			listing.ID, listing.SellerID, listing.ItemType, listing.ItemName,
			listing.Description, listing.Quantity, listing.UnitPrice,
			listing.Status, listing.Version, listing.CreatedAt, listing.ExpiresAt)
		if err != nil {
			return fmt.Errorf("failed to insert listing: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: listing %s already exists", ErrVersionMismatch, listing.ID)
		}
		return nil
	}

	tag, err := p.Pool.Exec(ctx,
		`UPDATE listings
		 SET quantity = $1, unit_price = $2, status = $3, version = $4, expires_at = $5
		 WHERE id = $6 AND version = $7`,
		listing.Quantity, listing.UnitPrice, listing.Status, listing.Version,
		listing.ExpiresAt, listing.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update listing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: listing %s at version %d", ErrVersionMismatch, listing.ID, expectedVersion)
	}
	return nil
}

func (p *PostgresBackend) ListListings(ctx context.Context) ([]models.Listing, error) {
	rows, err := p.Pool.Query(ctx,
		`SELECT id, seller_id, item_type, item_name, description, quantity, unit_price,
		        status, version, created_at, expires_at
		 FROM listings`)
	if err != nil {
		return nil, fmt.Errorf("failed to list listings: %w", err)
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		var l models.Listing
		if err := rows.Scan(&l.ID, &l.SellerID, &l.ItemType, &l.ItemName, &l.Description,
			&l.Quantity, &l.UnitPrice, &l.Status, &l.Version, &l.CreatedAt, &l.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan listing: %w", err)
		}
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return listings, nil
}

func (p *PostgresBackend) AppendTrade(ctx context.Context, trade *models.Trade) error {
	_, err := p.Pool.Exec(ctx,
		`INSERT INTO trades (id, listing_id, buyer_id, seller_id, item_type, quantity, unit_price, executed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		trade.ID, trade.ListingID, trade.BuyerID, trade.SellerID,
		trade.ItemType, trade.Quantity, trade.UnitPrice, trade.ExecutedAt)
	if err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}
	return nil
}

func (p *PostgresBackend) ListTrades(ctx context.Context) ([]models.Trade, error) {
	rows, err := p.Pool.Query(ctx,
		`SELECT id, listing_id, buyer_id, seller_id, item_type, quantity, unit_price, executed_at
		 FROM trades ORDER BY executed_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var t models.Trade
		if err := rows.Scan(&t.ID, &t.ListingID, &t.BuyerID, &t.SellerID,
			&t.ItemType, &t.Quantity, &t.UnitPrice, &t.ExecutedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return trades, nil
}
