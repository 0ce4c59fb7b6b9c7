package permissions

import (
	"context"
	"log/slog"

	"github.com/kartikbazzad/bunbase/bundata/access"
)

// CRUDStore is a Store whose records can also be mutated.
type CRUDStore interface {
	Store
	Create(ctx context.Context, p access.Permission) (access.Permission, error)
	Update(ctx context.Context, p access.Permission) error
	Delete(ctx context.Context, id string) error
}

// Service is the permission CRUD surface. Every mutation republishes the
// cache snapshot before returning, so a permission change is effective for
// the next compile that starts after the call completes.
type Service struct {
	store CRUDStore
	cache *Cache
}

// NewService wires a mutable store to the snapshot cache.
func NewService(store CRUDStore, cache *Cache) *Service {
	return &Service{store: store, cache: cache}
}

func (s *Service) Create(ctx context.Context, p access.Permission) (access.Permission, error) {
	created, err := s.store.Create(ctx, p)
	if err != nil {
		return access.Permission{}, err
	}
	if err := s.cache.Reload(ctx); err != nil {
		slog.Error("permission created but snapshot reload failed", "id", created.ID, "error", err)
		return access.Permission{}, err
	}
	return created, nil
}

func (s *Service) Update(ctx context.Context, p access.Permission) error {
	if err := s.store.Update(ctx, p); err != nil {
		return err
	}
	return s.cache.Reload(ctx)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	return s.cache.Reload(ctx)
}
