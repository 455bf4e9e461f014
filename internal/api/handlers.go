package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/driftspace/tradepost/internal/models"
	"github.com/driftspace/tradepost/internal/store"
)

// Handler contains dependencies for HTTP handlers. It keeps no state between
// requests: every call re-derives its answer from the Store's committed state.
type Handler struct {
	Store  *store.Store
	Logger *slog.Logger
}

// NewHandler creates a new handler.
func NewHandler(st *store.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Store: st, Logger: logger}
}

// Routes mounts every marketplace endpoint on a fresh router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/health", h.Health)
	r.Get("/listings", h.GetListings)
	r.Post("/listings", h.CreateListing)
	r.Post("/listings/{id}/purchase", h.PurchaseListing)
	r.Post("/listings/{id}/cancel", h.CancelListing)
	r.Delete("/listings/{id}/cancel", h.CancelListing)
	r.Get("/trades/history", h.GetTradeHistory)
	return r
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetListings returns all active listings, newest first.
func (h *Handler) GetListings(w http.ResponseWriter, r *http.Request) {
	listings, err := h.Store.ListActive(r.Context())
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"listings": listings,
		"total":    len(listings),
	})
}

// CreateListing validates the request body and opens a new listing.
func (h *Handler) CreateListing(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SellerID    string  `json:"seller_id"`
		ItemType    string  `json:"item_type"`
		ItemName    string  `json:"item_name"`
		Description string  `json:"description"`
		Quantity    int     `json:"quantity"`
		UnitPrice   float64 `json:"unit_price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	if req.SellerID == "" || req.ItemType == "" {
		http.Error(w, `{"error": "seller_id and item_type required"}`, http.StatusBadRequest)
		return
	}
	if req.Quantity <= 0 || req.UnitPrice <= 0 {
		http.Error(w, `{"error": "quantity and unit_price must be positive"}`, http.StatusBadRequest)
		return
	}

	listing, err := h.Store.CreateListing(r.Context(), models.Listing{
		SellerID:    req.SellerID,
		ItemType:    req.ItemType,
		ItemName:    req.ItemName,
		Description: req.Description,
		Quantity:    req.Quantity,
		UnitPrice:   req.UnitPrice,
	})
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, listing)
}

// PurchaseListing buys from a listing on behalf of the request's buyer.
func (h *Handler) PurchaseListing(w http.ResponseWriter, r *http.Request) {
	listingID := chi.URLParam(r, "id")

	var req struct {
		BuyerID  string `json:"buyer_id"`
		Quantity int    `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.BuyerID == "" {
		http.Error(w, `{"error": "buyer_id required"}`, http.StatusBadRequest)
		return
	}
	if req.Quantity <= 0 {
		http.Error(w, `{"error": "quantity must be positive"}`, http.StatusBadRequest)
		return
	}

	trade, err := h.Store.Purchase(r.Context(), listingID, req.BuyerID, req.Quantity)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, trade)
}

// CancelListing cancels an active listing on behalf of its seller.
func (h *Handler) CancelListing(w http.ResponseWriter, r *http.Request) {
	listingID := chi.URLParam(r, "id")

	var req struct {
		SellerID string `json:"seller_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.SellerID == "" {
		http.Error(w, `{"error": "seller_id required"}`, http.StatusBadRequest)
		return
	}

	listing, err := h.Store.CancelListing(r.Context(), listingID, req.SellerID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, listing)
}

// GetTradeHistory returns completed trades, oldest first. Optional query
// params player_id and listing_id narrow the result.
func (h *Handler) GetTradeHistory(w http.ResponseWriter, r *http.Request) {
	filter := store.HistoryFilter{
		PlayerID:  r.URL.Query().Get("player_id"),
		ListingID: r.URL.Query().Get("listing_id"),
	}

	trades, err := h.Store.TradeHistory(r.Context(), filter)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"trades": trades,
		"total":  len(trades),
	})
}

// writeStoreError maps Store errors onto HTTP status codes. Unknown errors
// become 500; they are never translated into a success status.
func (h *Handler) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, store.ErrForbidden):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, store.ErrInvalidState),
		errors.Is(err, store.ErrInsufficientQuantity),
		errors.Is(err, store.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		h.Logger.Error("store operation failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
