package repository

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/workledger/pkg/db/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type widget struct {
	ID       int64  `gorm:"primaryKey"`
	TenantID int64  `gorm:"not null;index"`
	Code     string `gorm:"type:varchar(32);not null"`
	Primary  bool   `gorm:"not null;default:false"`
}

func TestStoreFindAndFindOne(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file:repository_store?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&widget{}))

	ctx := context.Background()
	repo := ProvideStore[widget](conn)
	require.NoError(t, repo.Create(ctx, &widget{ID: 1, TenantID: 10, Code: "a"}))
	require.NoError(t, repo.Create(ctx, &widget{ID: 2, TenantID: 10, Code: "b", Primary: true}))
	require.NoError(t, repo.Create(ctx, &widget{ID: 3, TenantID: 20, Code: "a"}))

	found, err := repo.FindOne(ctx, &widget{TenantID: 20, Code: "a"})
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, int64(3), found.ID)

	missing, err := repo.FindOne(ctx, &widget{TenantID: 30})
	require.NoError(t, err)
	assert.Nil(t, missing)

	primary, err := repo.FindOne(ctx, &widget{TenantID: 10, Primary: true})
	require.NoError(t, err)
	require.NotNil(t, primary)
	assert.Equal(t, "b", primary.Code)

	list, err := repo.Find(ctx, &widget{TenantID: 10}, option.WithOrder("id DESC"), option.WithLimit(1))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(2), list[0].ID)

	count, err := repo.Count(ctx, &widget{TenantID: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}
