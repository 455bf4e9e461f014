package client

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftspace/tradepost/internal/api"
	"github.com/driftspace/tradepost/internal/models"
	"github.com/driftspace/tradepost/internal/store"
)

// startBackend serves the real dispatcher over a memory-backed store so the
// client is exercised against the same routing and status mapping production
// uses.
func startBackend(t *testing.T) *Client {
	t.Helper()

	st := store.New(store.NewMemoryBackend(), nil)
	srv := httptest.NewServer(api.NewHandler(st, nil).Routes())
	t.Cleanup(srv.Close)

	return NewClient(srv.URL,
		WithTimeout(5*time.Second),
		WithRetries(5, time.Millisecond),
	)
}

func TestEndToEnd_MarketplaceFlow(t *testing.T) {
	c := startBackend(t)
	ctx := context.Background()

	listing, err := c.CreateListing(ctx, CreateListingRequest{
		SellerID:  "s1",
		ItemType:  "ore",
		Quantity:  5,
		UnitPrice: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, listing.Status)

	page, err := c.FetchListings(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, 5, page.Listings[0].Quantity)

	trade, err := c.Purchase(ctx, listing.ID, "b1", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, trade.Quantity)

	page, err = c.FetchListings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, page.Total, "sold listing must leave the active view")

	history, err := c.TradeHistory(ctx, "b1")
	require.NoError(t, err)
	require.Equal(t, 1, history.Total)
	assert.Equal(t, listing.ID, history.Trades[0].ListingID)
}

func TestEndToEnd_CancelFlow(t *testing.T) {
	c := startBackend(t)
	ctx := context.Background()

	listing, err := c.CreateListing(ctx, CreateListingRequest{
		SellerID:  "s1",
		ItemType:  "ore",
		Quantity:  3,
		UnitPrice: 4,
	})
	require.NoError(t, err)

	_, err = c.Cancel(ctx, listing.ID, "intruder")
	require.Error(t, err)
	assert.True(t, IsTerminal(err))

	cancelled, err := c.Cancel(ctx, listing.ID, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)

	_, err = c.Purchase(ctx, listing.ID, "b1", 1)
	require.Error(t, err)
}

func TestEndToEnd_ConcurrentBuyersNoOversell(t *testing.T) {
	c := startBackend(t)
	ctx := context.Background()

	const available = 8
	const buyers = 20

	listing, err := c.CreateListing(ctx, CreateListingRequest{
		SellerID:  "s1",
		ItemType:  "ore",
		Quantity:  available,
		UnitPrice: 10,
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	trades := make(chan *models.Trade, buyers)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if trade, err := c.Purchase(ctx, listing.ID, "buyer", 1); err == nil {
				trades <- trade
			}
		}()
	}
	wg.Wait()
	close(trades)

	sold := 0
	for trade := range trades {
		sold += trade.Quantity
	}
	assert.LessOrEqual(t, sold, available)

	history, err := c.TradeHistory(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, sold, history.Total)

	page, err := c.FetchListings(ctx)
	require.NoError(t, err)
	if sold == available {
		assert.Equal(t, 0, page.Total)
	} else {
		require.Equal(t, 1, page.Total)
		assert.Equal(t, available-sold, page.Listings[0].Quantity)
	}
}
