package domain

import (
	"context"
	"time"
)

// PositionCache is a shared cache of assembled positions, keyed by account
// and asset.
type PositionCache interface {
	Set(ctx context.Context, pos AssetPosition, ttl time.Duration) error
	Get(ctx context.Context, account, assetID string) (AssetPosition, error)
	Invalidate(ctx context.Context, account, assetID string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// EventBus provides pub/sub fan-out of ledger events.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// ChannelTransactions carries TxEvent JSON payloads.
const ChannelTransactions = "rwavault:transactions"
