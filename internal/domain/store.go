package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TransactionFilter narrows a transaction listing.
type TransactionFilter struct {
	Account string
	AssetID string // empty means every asset
	Type    ActionType
	Status  TxStatus
}

// TransactionStore persists the append-only transaction history.
type TransactionStore interface {
	Append(ctx context.Context, tx Transaction) error
	// Finalize moves a PENDING transaction to its terminal status. It returns
	// ErrAlreadyFinal if the transaction has already settled.
	Finalize(ctx context.Context, id string, f TxFinalization) (Transaction, error)
	GetByID(ctx context.Context, id string) (Transaction, error)
	// List returns matching transactions newest first.
	List(ctx context.Context, filter TransactionFilter, opts ListOpts) ([]Transaction, error)
}

// KycStore persists per-account verification state.
type KycStore interface {
	Get(ctx context.Context, account string) (KycRecord, error)
	Upsert(ctx context.Context, rec KycRecord) error
}

// AuditEntry is one recorded ledger decision.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only log of ledger decisions.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	// List returns entries newest first.
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
