package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftspace/tradepost/internal/models"
)

func newTestClient(url string) *Client {
	return NewClient(url,
		WithTimeout(2*time.Second),
		WithRetries(3, time.Millisecond),
	)
}

func TestClient_FetchListings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/listings", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"listings": []models.Listing{{ID: "l1", Quantity: 5}},
			"total":    1,
		})
	}))
	defer srv.Close()

	page, err := newTestClient(srv.URL).FetchListings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Listings, 1)
	assert.Equal(t, "l1", page.Listings[0].ID)
}

func TestClient_ConflictIsRetried(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&requests, 1)
		if n < 3 {
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(map[string]string{"error": "conflict"})
			return
		}
		json.NewEncoder(w).Encode(models.Trade{ID: "t1", Quantity: 1})
	}))
	defer srv.Close()

	trade, err := newTestClient(srv.URL).Purchase(context.Background(), "l1", "b1", 1)
	require.NoError(t, err)
	assert.Equal(t, "t1", trade.ID)
	assert.Equal(t, int32(3), atomic.LoadInt32(&requests))
}

func TestClient_ConflictExhaustsRetryBudget(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "conflict"})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Purchase(context.Background(), "l1", "b1", 1)
	require.Error(t, err)

	// 1 initial attempt + 3 retries.
	assert.Equal(t, int32(4), atomic.LoadInt32(&requests))
	assert.True(t, IsExhausted(err))
	assert.False(t, IsTerminal(err))
	assert.Equal(t, http.StatusConflict, StatusCode(err))

	var ce *CallError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 4, ce.Attempts)
	assert.NotEmpty(t, ce.RequestID)
	assert.Greater(t, ce.Elapsed, time.Duration(0))
}

func TestClient_ForbiddenIsTerminal(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{"error": "only the seller may cancel"})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Cancel(context.Background(), "l1", "not-seller")
	require.Error(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&requests), "4xx other than 409 must not be retried")
	assert.True(t, IsTerminal(err))
	assert.Equal(t, http.StatusForbidden, StatusCode(err))
}

func TestClient_ServerErrorIsRetried(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"listings": []models.Listing{}, "total": 0})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchListings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&requests))
}

func TestClient_TimeoutIsRetried(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(srv.URL,
		WithTimeout(20*time.Millisecond),
		WithRetries(1, time.Millisecond),
	)
	_, err := c.FetchListings(context.Background())
	require.Error(t, err)
	assert.True(t, IsExhausted(err))
	assert.Equal(t, int32(2), atomic.LoadInt32(&requests))
}

func TestClient_MalformedResponseIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{truncated"))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchListings(context.Background())
	require.Error(t, err)
	assert.True(t, IsTerminal(err))
}

func TestClient_CancelledContextStopsRetrying(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(srv.URL, WithRetries(5, time.Second))
	start := time.Now()
	_, err := c.FetchListings(ctx)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second, "cancelled context must not sit out the backoff")
}

func TestClient_PurchaseAsync(t *testing.T) {
	var gotRequestID atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRequestID.Store(r.Header.Get("X-Request-ID"))
		json.NewEncoder(w).Encode(models.Trade{ID: "t1", ListingID: "l1", Quantity: 2})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	ch := c.PurchaseAsync(context.Background(), "req-42", "l1", "b1", 2)

	select {
	case res := <-ch:
		require.NoError(t, res.Err)
		assert.Equal(t, "req-42", res.RequestID, "result must be correlatable by the caller's ID")
		require.NotNil(t, res.Trade)
		assert.Equal(t, "t1", res.Trade.ID)
		assert.Equal(t, "req-42", gotRequestID.Load())
	case <-time.After(5 * time.Second):
		t.Fatal("async purchase never completed")
	}
}

func TestClient_AsyncFailureCarriesRequestID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "listing not found"})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	res := <-c.PurchaseAsync(context.Background(), "req-7", "missing", "b1", 1)
	require.Error(t, res.Err)
	assert.Equal(t, "req-7", res.RequestID)
	assert.True(t, IsTerminal(res.Err))
}

func TestClient_FixedBackoff(t *testing.T) {
	c := NewClient("http://unused", WithRetries(3, 10*time.Millisecond), WithBackoffPolicy(false))

	start := time.Now()
	require.NoError(t, c.wait(context.Background(), 3))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 10*time.Millisecond)
	assert.Less(t, elapsed, 40*time.Millisecond, "fixed policy must not scale with the attempt number")
}

func TestClient_ExponentialBackoff(t *testing.T) {
	c := NewClient("http://unused", WithRetries(3, 10*time.Millisecond), WithBackoffPolicy(true))

	start := time.Now()
	require.NoError(t, c.wait(context.Background(), 3))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond, "third retry should wait 4x the base delay")
}
