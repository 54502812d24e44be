// Package memory provides in-process implementations of the domain stores,
// used in simulate mode and in tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/alanyoungcy/rwavault/internal/domain"
)

// Compile-time check that TransactionStore implements domain.TransactionStore.
var _ domain.TransactionStore = (*TransactionStore)(nil)

// TransactionStore is an in-memory implementation of domain.TransactionStore.
type TransactionStore struct {
	mu    sync.RWMutex
	data  map[string]domain.Transaction
	order []string // insertion order, used to break timestamp ties
}

// NewTransactionStore creates an empty store.
func NewTransactionStore() *TransactionStore {
	return &TransactionStore{data: make(map[string]domain.Transaction)}
}

// Append records a new transaction. Returns ErrAlreadyExists if the id is taken.
func (s *TransactionStore) Append(_ context.Context, tx domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[tx.ID]; exists {
		return domain.ErrAlreadyExists
	}
	s.data[tx.ID] = tx
	s.order = append(s.order, tx.ID)
	return nil
}

// Finalize settles a PENDING transaction.
func (s *TransactionStore) Finalize(_ context.Context, id string, f domain.TxFinalization) (domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, exists := s.data[id]
	if !exists {
		return domain.Transaction{}, domain.ErrNotFound
	}
	if tx.IsFinal() {
		return tx, domain.ErrAlreadyFinal
	}
	tx = f.Apply(tx)
	s.data[id] = tx
	return tx, nil
}

// GetByID returns one transaction.
func (s *TransactionStore) GetByID(_ context.Context, id string) (domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, exists := s.data[id]
	if !exists {
		return domain.Transaction{}, domain.ErrNotFound
	}
	return tx, nil
}

// List returns matching transactions newest first.
func (s *TransactionStore) List(_ context.Context, filter domain.TransactionFilter, opts domain.ListOpts) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seq := make(map[string]int, len(s.order))
	for i, id := range s.order {
		seq[id] = i
	}

	var result []domain.Transaction
	for _, id := range s.order {
		tx := s.data[id]
		if !matches(tx, filter, opts) {
			continue
		}
		result = append(result, tx)
	}

	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].Timestamp.After(result[j].Timestamp)
		}
		return seq[result[i].ID] > seq[result[j].ID]
	})

	return page(result, opts), nil
}

func matches(tx domain.Transaction, f domain.TransactionFilter, opts domain.ListOpts) bool {
	if f.Account != "" && tx.Account != f.Account {
		return false
	}
	if f.AssetID != "" && tx.AssetID != f.AssetID {
		return false
	}
	if f.Type != "" && tx.Type != f.Type {
		return false
	}
	if f.Status != "" && tx.Status != f.Status {
		return false
	}
	if opts.Since != nil && tx.Timestamp.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && !tx.Timestamp.Before(*opts.Until) {
		return false
	}
	return true
}

func page(in []domain.Transaction, opts domain.ListOpts) []domain.Transaction {
	if opts.Offset > 0 {
		if opts.Offset >= len(in) {
			return nil
		}
		in = in[opts.Offset:]
	}
	if opts.Limit > 0 && len(in) > opts.Limit {
		in = in[:opts.Limit]
	}
	return in
}
