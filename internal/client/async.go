package client

import (
	"context"
	"net/http"

	"github.com/driftspace/tradepost/internal/models"
)

// Result delivers the outcome of an asynchronous call. RequestID echoes the
// caller-supplied identifier so a caller that stopped waiting can recognize
// and discard a late result; cancellation is client-local and the server-side
// operation may still have run to completion.
type Result struct {
	RequestID string
	Trade     *models.Trade
	Listing   *models.Listing
	Listings  *ListingsPage
	Err       error
}

// PurchaseAsync issues a purchase without blocking the caller. The returned
// channel is buffered and receives exactly one Result.
func (c *Client) PurchaseAsync(ctx context.Context, requestID, listingID, buyerID string, quantity int) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		body := map[string]interface{}{"buyer_id": buyerID, "quantity": quantity}
		trade := &models.Trade{}
		err := c.do(ctx, requestID, http.MethodPost, "/listings/"+listingID+"/purchase", body, trade)
		if err != nil {
			ch <- Result{RequestID: requestID, Err: err}
			return
		}
		ch <- Result{RequestID: requestID, Trade: trade}
	}()
	return ch
}

// FetchListingsAsync refreshes the marketplace view without blocking the
// caller.
func (c *Client) FetchListingsAsync(ctx context.Context, requestID string) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		page := &ListingsPage{}
		err := c.do(ctx, requestID, http.MethodGet, "/listings", nil, page)
		if err != nil {
			ch <- Result{RequestID: requestID, Err: err}
			return
		}
		ch <- Result{RequestID: requestID, Listings: page}
	}()
	return ch
}

// CancelAsync withdraws a listing without blocking the caller.
func (c *Client) CancelAsync(ctx context.Context, requestID, listingID, sellerID string) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		body := map[string]interface{}{"seller_id": sellerID}
		listing := &models.Listing{}
		err := c.do(ctx, requestID, http.MethodPost, "/listings/"+listingID+"/cancel", body, listing)
		if err != nil {
			ch <- Result{RequestID: requestID, Err: err}
			return
		}
		ch <- Result{RequestID: requestID, Listing: listing}
	}()
	return ch
}
