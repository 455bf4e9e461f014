package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/driftspace/tradepost/internal/models"
)

const (
	listingsKey = "tradepost:listings"
	tradesKey   = "tradepost:trades"
)

// putListingScript performs the conditional write server-side so that the
// version check and the overwrite are a single atomic step. Returns 1 on
// success, 0 when the version condition fails.
var putListingScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if ARGV[2] == '-1' then
	if cur then
		return 0
	end
	redis.call('HSET', KEYS[1], ARGV[1], ARGV[3])
	return 1
end
if not cur then
	return -1
end
local obj = cjson.decode(cur)
if tostring(obj['version']) ~= ARGV[2] then
	return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[3])
return 1
`)

// RedisBackend stores listings in a hash and trades in a list, with the
// compare-and-swap expressed as a Lua script.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend wraps an existing Redis client.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (r *RedisBackend) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	data, err := r.client.HGet(ctx, listingsKey, id).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}

	listing := &models.Listing{}
	if err := json.Unmarshal(data, listing); err != nil {
		return nil, fmt.Errorf("failed to decode listing: %w", err)
	}
	return listing, nil
}

func (r *RedisBackend) PutListing(ctx context.Context, listing *models.Listing, expectedVersion int64) error {
	data, err := json.Marshal(listing)
	if err != nil {
		return fmt.Errorf("failed to encode listing: %w", err)
	}

	result, err := putListingScript.Run(ctx, r.client,
		[]string{listingsKey},
		listing.ID, strconv.FormatInt(expectedVersion, 10), string(data)).Int()
	if err != nil {
		return fmt.Errorf("failed to put listing: %w", err)
	}
	switch result {
	case 1:
		return nil
	case -1:
		return fmt.Errorf("%w: %s", ErrNotFound, listing.ID)
	default:
		return fmt.Errorf("%w: listing %s at version %d", ErrVersionMismatch, listing.ID, expectedVersion)
	}
}

func (r *RedisBackend) ListListings(ctx context.Context) ([]models.Listing, error) {
	entries, err := r.client.HGetAll(ctx, listingsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list listings: %w", err)
	}

	listings := make([]models.Listing, 0, len(entries))
	for _, raw := range entries {
		var l models.Listing
		if err := json.Unmarshal([]byte(raw), &l); err != nil {
			return nil, fmt.Errorf("failed to decode listing: %w", err)
		}
		listings = append(listings, l)
	}
	return listings, nil
}

func (r *RedisBackend) AppendTrade(ctx context.Context, trade *models.Trade) error {
	data, err := json.Marshal(trade)
	if err != nil {
		return fmt.Errorf("failed to encode trade: %w", err)
	}
	if err := r.client.RPush(ctx, tradesKey, data).Err(); err != nil {
		return fmt.Errorf("failed to append trade: %w", err)
	}
	return nil
}

func (r *RedisBackend) ListTrades(ctx context.Context) ([]models.Trade, error) {
	raws, err := r.client.LRange(ctx, tradesKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}

	trades := make([]models.Trade, 0, len(raws))
	for _, raw := range raws {
		var t models.Trade
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, fmt.Errorf("failed to decode trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, nil
}
