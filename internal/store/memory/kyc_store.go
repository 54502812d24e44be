package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/alanyoungcy/rwavault/internal/domain"
)

// Compile-time check that KycStore implements domain.KycStore.
var _ domain.KycStore = (*KycStore)(nil)

// KycStore keeps verification records in memory, keyed by lower-cased account.
type KycStore struct {
	mu   sync.RWMutex
	data map[string]domain.KycRecord
}

// NewKycStore creates an empty store.
func NewKycStore() *KycStore {
	return &KycStore{data: make(map[string]domain.KycRecord)}
}

func (s *KycStore) Get(_ context.Context, account string) (domain.KycRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.data[strings.ToLower(account)]
	if !ok {
		return domain.KycRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (s *KycStore) Upsert(_ context.Context, rec domain.KycRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[strings.ToLower(rec.Account)] = rec
	return nil
}
