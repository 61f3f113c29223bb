//go:build integration

package projection

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore_SetIfNewer(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		url = "redis://localhost:6380"
	}
	ctx := context.Background()
	store, err := NewRedisStore(ctx, url)
	require.NoError(t, err)
	defer store.Close()

	accountID := uuid.NewString()
	defer InvalidateBalance(ctx, store, accountID)

	ok, err := UpdateBalance(ctx, store, BalanceProjection{AccountID: accountID, Balance: 90, Version: 20})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = UpdateBalance(ctx, store, BalanceProjection{AccountID: accountID, Balance: 100, Version: 10})
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := GetBalance(ctx, store, accountID)
	require.NoError(t, err)
	assert.Equal(t, int64(90), got.Balance)

	_, err = GetBalance(ctx, store, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
}
