//go:build integration

package payments

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/pumpreels-bot/internal/common"
	"serotonyl.ru/pumpreels-bot/internal/db/postgres/pgtest"
	"serotonyl.ru/pumpreels-bot/internal/features/ledger"
)

func TestRepositoryConfirmExactlyOnce(t *testing.T) {
	pool := pgtest.NewPool(t)
	ctx := context.Background()
	repo := NewRepository(pool, 5)
	ledgerRepo := ledger.NewRepository(pool, 5)
	s := NewService(repo, nil)

	require.NoError(t, s.HandleEvent(ctx, intentEvent("sess-1", "g42", "5000", "0xabc")))
	require.NoError(t, s.HandleEvent(ctx, intentEvent("sess-1", "g42", "5000", "0xabc")))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.HandleEvent(ctx, confirmEvent("0xabc", "")))
		}()
	}
	wg.Wait()

	g, err := ledgerRepo.GetGroup(ctx, "g42")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), g.Credits)

	tx, err := repo.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, tx.Status)
	assert.NotNil(t, tx.ConfirmedAt)

	t.Run("session fallback attaches hash", func(t *testing.T) {
		_, err := s.RecordIntent(ctx, []byte(`{"checkout_session_id":"sess-2","metadata":[{"key":"group_id","value":"g42"},{"key":"credits","value":"100"}]}`))
		require.NoError(t, err)

		_, err = s.ConfirmByHash(ctx, "0xdef", "sess-2")
		require.NoError(t, err)

		_, err = s.ConfirmByHash(ctx, "0xdef", "")
		assert.ErrorIs(t, err, common.ErrAlreadyConfirmed)

		g, err := ledgerRepo.GetGroup(ctx, "g42")
		require.NoError(t, err)
		assert.Equal(t, int64(5100), g.Credits)
	})
}
