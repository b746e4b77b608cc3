package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/shopadmin/pkg/cache"
	"github.com/platinummonkey/shopadmin/pkg/storage/storagetest"
)

func newTestStore(t *testing.T, c cache.Cache) *Store {
	t.Helper()
	db := storagetest.OpenSQLite(t, storagetest.Component{Name: "catalog", Migrations: Migrations()})
	return NewStore(db, c, time.Minute, nil, nil)
}

func strPtr(s string) *string { return &s }

func mustCreateBrand(t *testing.T, s *Store, name string) *Brand {
	t.Helper()
	b, err := s.CreateBrand(context.Background(), Brand{Name: name, IsActive: true})
	require.NoError(t, err)
	return b
}

func mustCreateCategory(t *testing.T, s *Store, name string, parentID *string) *Category {
	t.Helper()
	c, err := s.CreateCategory(context.Background(), Category{Name: name, ParentID: parentID, IsActive: true})
	require.NoError(t, err)
	return c
}

func mustCreateProduct(t *testing.T, s *Store, code string, categoryID, brandID *string) *Product {
	t.Helper()
	p, err := s.CreateProduct(context.Background(), Product{
		Code:       code,
		Name:       "Product " + code,
		CategoryID: categoryID,
		BrandID:    brandID,
		Price:      19.99,
		IsActive:   true,
	})
	require.NoError(t, err)
	return p
}

func mustRate(t *testing.T, s *Store, productID string, stars int) *Rating {
	t.Helper()
	r, err := s.CreateRating(context.Background(), productID, Rating{Stars: stars}, "")
	require.NoError(t, err)
	return r
}
