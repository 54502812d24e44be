package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/rwavault/internal/domain"
)

// Compile-time interface check.
var _ domain.PositionCache = (*PositionCache)(nil)

// PositionCache implements domain.PositionCache. Each position is one JSON
// string under {ns}:position:{account}:{asset} with a TTL; decimals marshal
// as strings so nothing is lost in the round trip.
type PositionCache struct {
	c *Client
}

// NewPositionCache creates a PositionCache backed by c.
func NewPositionCache(c *Client) *PositionCache {
	return &PositionCache{c: c}
}

func (pc *PositionCache) positionKey(account, assetID string) string {
	return pc.c.key("position", strings.ToLower(account), assetID)
}

// Set stores pos for ttl.
func (pc *PositionCache) Set(ctx context.Context, pos domain.AssetPosition, ttl time.Duration) error {
	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("redis: marshal position %s: %w", pos.AssetID, err)
	}
	if err := pc.c.rdb.Set(ctx, pc.positionKey(pos.Account, pos.AssetID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set position %s: %w", pos.AssetID, err)
	}
	return nil
}

// Get returns the cached position or domain.ErrNotFound.
func (pc *PositionCache) Get(ctx context.Context, account, assetID string) (domain.AssetPosition, error) {
	data, err := pc.c.rdb.Get(ctx, pc.positionKey(account, assetID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.AssetPosition{}, domain.ErrNotFound
		}
		return domain.AssetPosition{}, fmt.Errorf("redis: get position %s: %w", assetID, err)
	}

	var pos domain.AssetPosition
	if err := json.Unmarshal(data, &pos); err != nil {
		return domain.AssetPosition{}, fmt.Errorf("redis: unmarshal position %s: %w", assetID, err)
	}
	return pos, nil
}

// Invalidate drops the cached position.
func (pc *PositionCache) Invalidate(ctx context.Context, account, assetID string) error {
	if err := pc.c.rdb.Del(ctx, pc.positionKey(account, assetID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate position %s: %w", assetID, err)
	}
	return nil
}
