package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/rwavault/internal/domain"
)

// Compile-time check that KycStore implements domain.KycStore.
var _ domain.KycStore = (*KycStore)(nil)

// KycStore implements domain.KycStore using PostgreSQL. Accounts are stored
// lower-cased so checksummed and plain hex addresses match.
type KycStore struct {
	pool *pgxpool.Pool
}

// NewKycStore creates a new KycStore backed by the given pool.
func NewKycStore(pool *pgxpool.Pool) *KycStore {
	return &KycStore{pool: pool}
}

func (s *KycStore) Get(ctx context.Context, account string) (domain.KycRecord, error) {
	const query = `SELECT account, status, reason, updated_at FROM kyc_status WHERE account = $1`

	var rec domain.KycRecord
	var status string
	err := s.pool.QueryRow(ctx, query, strings.ToLower(account)).Scan(&rec.Account, &status, &rec.Reason, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.KycRecord{}, domain.ErrNotFound
		}
		return domain.KycRecord{}, fmt.Errorf("postgres: get kyc %s: %w", account, err)
	}
	rec.Status = domain.KycStatus(status)
	return rec, nil
}

func (s *KycStore) Upsert(ctx context.Context, rec domain.KycRecord) error {
	if !rec.Status.Valid() {
		return fmt.Errorf("postgres: upsert kyc %s: invalid status %q", rec.Account, rec.Status)
	}
	const query = `
		INSERT INTO kyc_status (account, status, reason, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (account) DO UPDATE SET
			status = EXCLUDED.status, reason = EXCLUDED.reason, updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, strings.ToLower(rec.Account), string(rec.Status), rec.Reason); err != nil {
		return fmt.Errorf("postgres: upsert kyc %s: %w", rec.Account, err)
	}
	return nil
}
