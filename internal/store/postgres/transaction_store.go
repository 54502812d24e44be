package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/rwavault/internal/domain"
)

// Compile-time check that TransactionStore implements domain.TransactionStore.
var _ domain.TransactionStore = (*TransactionStore)(nil)

// TransactionStore implements domain.TransactionStore using PostgreSQL.
// Amounts are NUMERIC in the database and cross the driver as text so no
// precision is lost.
type TransactionStore struct {
	pool *pgxpool.Pool
}

// NewTransactionStore creates a new TransactionStore backed by the given pool.
func NewTransactionStore(pool *pgxpool.Pool) *TransactionStore {
	return &TransactionStore{pool: pool}
}

const txSelectCols = `id::text, asset_id, account, tx_type, amount_in::text, amount_out::text,
	status, tx_hash, approval_tx_hash, failure_kind, failure_reason, created_at, updated_at`

// Append inserts a new transaction.
func (s *TransactionStore) Append(ctx context.Context, tx domain.Transaction) error {
	const query = `
		INSERT INTO transactions (
			id, asset_id, account, tx_type, amount_in, amount_out, status,
			tx_hash, approval_tx_hash, failure_kind, failure_reason, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING`

	updated := tx.UpdatedAt
	if updated.IsZero() {
		updated = tx.Timestamp
	}
	tag, err := s.pool.Exec(ctx, query,
		tx.ID, tx.AssetID, tx.Account, string(tx.Type),
		tx.AmountIn.String(), tx.AmountOut.String(), string(tx.Status),
		tx.TxHash, tx.ApprovalTxHash, string(tx.FailureKind), tx.FailureReason,
		tx.Timestamp, updated,
	)
	if err != nil {
		return fmt.Errorf("postgres: append transaction %s: %w", tx.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

// Finalize settles a PENDING transaction. The status guard in the WHERE
// clause makes a second finalization a no-op that reports ErrAlreadyFinal.
func (s *TransactionStore) Finalize(ctx context.Context, id string, f domain.TxFinalization) (domain.Transaction, error) {
	query := `
		UPDATE transactions SET
			status = $2, amount_out = $3::numeric, tx_hash = $4, approval_tx_hash = $5,
			failure_kind = $6, failure_reason = $7, updated_at = $8
		WHERE id = $1 AND status = 'PENDING'
		RETURNING ` + txSelectCols

	row := s.pool.QueryRow(ctx, query,
		id, string(f.Status), f.AmountOut.String(), f.TxHash, f.ApprovalTxHash,
		string(f.FailureKind), f.FailureReason, f.At,
	)
	tx, err := scanTransaction(row)
	if err == nil {
		return tx, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Transaction{}, fmt.Errorf("postgres: finalize transaction %s: %w", id, err)
	}

	existing, getErr := s.GetByID(ctx, id)
	if getErr != nil {
		return domain.Transaction{}, getErr
	}
	return existing, domain.ErrAlreadyFinal
}

// GetByID returns one transaction.
func (s *TransactionStore) GetByID(ctx context.Context, id string) (domain.Transaction, error) {
	query := `SELECT ` + txSelectCols + ` FROM transactions WHERE id = $1`
	tx, err := scanTransaction(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Transaction{}, err
		}
		return domain.Transaction{}, fmt.Errorf("postgres: get transaction %s: %w", id, err)
	}
	return tx, nil
}

// List returns matching transactions newest first.
func (s *TransactionStore) List(ctx context.Context, filter domain.TransactionFilter, opts domain.ListOpts) ([]domain.Transaction, error) {
	query := `SELECT ` + txSelectCols + ` FROM transactions WHERE 1=1`
	args := []any{}
	add := func(clause string, v any) {
		args = append(args, v)
		query += fmt.Sprintf(clause, len(args))
	}

	if filter.Account != "" {
		add(" AND account = $%d", filter.Account)
	}
	if filter.AssetID != "" {
		add(" AND asset_id = $%d", filter.AssetID)
	}
	if filter.Type != "" {
		add(" AND tx_type = $%d", string(filter.Type))
	}
	if filter.Status != "" {
		add(" AND status = $%d", string(filter.Status))
	}
	if opts.Since != nil {
		add(" AND created_at >= $%d", *opts.Since)
	}
	if opts.Until != nil {
		add(" AND created_at < $%d", *opts.Until)
	}

	query += " ORDER BY created_at DESC, seq DESC"

	if opts.Limit > 0 {
		add(" LIMIT $%d", opts.Limit)
	}
	if opts.Offset > 0 {
		add(" OFFSET $%d", opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list transactions rows: %w", err)
	}
	return out, nil
}

func scanTransaction(row pgx.Row) (domain.Transaction, error) {
	var (
		tx                   domain.Transaction
		txType, status, kind string
		amountIn, amountOut  string
	)
	err := row.Scan(
		&tx.ID, &tx.AssetID, &tx.Account, &txType, &amountIn, &amountOut,
		&status, &tx.TxHash, &tx.ApprovalTxHash, &kind, &tx.FailureReason,
		&tx.Timestamp, &tx.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Transaction{}, domain.ErrNotFound
		}
		return domain.Transaction{}, err
	}

	tx.Type = domain.ActionType(txType)
	tx.Status = domain.TxStatus(status)
	tx.FailureKind = domain.FailureKind(kind)
	if tx.AmountIn, err = decimal.NewFromString(amountIn); err != nil {
		return domain.Transaction{}, fmt.Errorf("amount_in %q: %w", amountIn, err)
	}
	if tx.AmountOut, err = decimal.NewFromString(amountOut); err != nil {
		return domain.Transaction{}, fmt.Errorf("amount_out %q: %w", amountOut, err)
	}
	tx.Timestamp = tx.Timestamp.UTC()
	tx.UpdatedAt = tx.UpdatedAt.UTC()
	return tx, nil
}
