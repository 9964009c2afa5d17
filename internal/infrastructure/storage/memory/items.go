package memory

import (
	"context"
	"sort"
	"sync"

	"bondstock/internal/core/apperror"
	"bondstock/internal/core/entity"
	"bondstock/internal/domain/items"
)

// ItemStore implements items.Repository.
type ItemStore struct {
	mu    sync.RWMutex
	items map[entity.ItemKey]entity.Item
}

// NewItemStore creates a store holding the given items.
func NewItemStore(seed ...entity.Item) *ItemStore {
	s := &ItemStore{items: make(map[entity.ItemKey]entity.Item, len(seed))}
	for _, it := range seed {
		s.items[it.ItemKey] = it
	}
	return s
}

var _ items.Repository = (*ItemStore)(nil)

func (s *ItemStore) GetItem(_ context.Context, key entity.ItemKey) (*entity.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.items[key]
	if !ok {
		return nil, apperror.NewItemNotFound(key.CompanyCode, key.ItemCode)
	}
	return &it, nil
}

func (s *ItemStore) Upsert(_ context.Context, item entity.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[item.ItemKey] = item
	return nil
}

func (s *ItemStore) ListByCompany(_ context.Context, companyCode string) ([]entity.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []entity.Item
	for _, it := range s.items {
		if it.CompanyCode == companyCode {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemCode < out[j].ItemCode })
	return out, nil
}
