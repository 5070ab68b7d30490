package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/pumpreels-bot/internal/common"
)

func seeded(t *testing.T, groupID string, credits int64) *MemoryStore {
	t.Helper()
	m := NewMemoryStore()
	_, err := m.RegisterGroup(context.Background(), Group{GroupID: groupID, Title: "test"})
	require.NoError(t, err)
	if credits > 0 {
		_, err = m.Increment(context.Background(), groupID, credits)
		require.NoError(t, err)
	}
	return m
}

func TestDecrementWithinBalance(t *testing.T) {
	ctx := context.Background()
	cases := []struct{ balance, amount int64 }{
		{100, 1}, {100, 50}, {100, 100}, {2500, 50},
	}
	for _, tc := range cases {
		m := seeded(t, "g", tc.balance)
		got, err := m.Decrement(ctx, "g", tc.amount)
		require.NoError(t, err)
		assert.Equal(t, tc.balance-tc.amount, got)

		g, err := m.GetGroup(ctx, "g")
		require.NoError(t, err)
		assert.Equal(t, tc.balance-tc.amount, g.Credits)
	}
}

func TestDecrementInsufficientLeavesBalance(t *testing.T) {
	ctx := context.Background()
	for _, balance := range []int64{0, 1, 49, 99} {
		m := seeded(t, "g", balance)
		_, err := m.Decrement(ctx, "g", balance+1)
		assert.ErrorIs(t, err, common.ErrInsufficientCredits)

		g, err := m.GetGroup(ctx, "g")
		require.NoError(t, err)
		assert.Equal(t, balance, g.Credits)
	}
}

func TestDecrementUnknownGroup(t *testing.T) {
	m := NewMemoryStore()
	_, err := m.Decrement(context.Background(), "missing", 10)
	assert.ErrorIs(t, err, common.ErrGroupNotFound)
}

func TestNonPositiveAmounts(t *testing.T) {
	ctx := context.Background()
	m := seeded(t, "g", 10)

	_, err := m.Decrement(ctx, "g", 0)
	assert.ErrorIs(t, err, common.ErrInvalidAmount)
	_, err = m.Increment(ctx, "g", -5)
	assert.ErrorIs(t, err, common.ErrInvalidAmount)

	g, _ := m.GetGroup(ctx, "g")
	assert.Equal(t, int64(10), g.Credits)
}

func TestIncrementCreatesGroup(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	got, err := m.Increment(ctx, "new", 5000)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), got)

	g, err := m.GetGroup(ctx, "new")
	require.NoError(t, err)
	assert.Nil(t, g.CreatorID)
}

func TestIncrementDecrementRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := seeded(t, "g", 75)

	_, err := m.Increment(ctx, "g", 300)
	require.NoError(t, err)
	got, err := m.Decrement(ctx, "g", 300)
	require.NoError(t, err)
	assert.Equal(t, int64(75), got)
}

func TestRegisterKeepsBalance(t *testing.T) {
	ctx := context.Background()
	m := seeded(t, "g", 500)
	creator := int64(7)

	g, err := m.RegisterGroup(ctx, Group{GroupID: "g", Title: "renamed", CreatorID: &creator})
	require.NoError(t, err)
	assert.Equal(t, int64(500), g.Credits)
	assert.Equal(t, "renamed", g.Title)
	require.NotNil(t, g.CreatorID)
	assert.Equal(t, creator, *g.CreatorID)

	other := int64(8)
	g, err = m.RegisterGroup(ctx, Group{GroupID: "g", Title: "renamed", CreatorID: &other})
	require.NoError(t, err)
	assert.Equal(t, creator, *g.CreatorID, "creator is set once")

	groups, err := m.GroupsByCreator(ctx, creator)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "g", groups[0].GroupID)
}

func TestConcurrentDecrementsLastCredits(t *testing.T) {
	ctx := context.Background()
	m := seeded(t, "g1", 150)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Decrement(ctx, "g1", 100)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case assert.ErrorIs(t, err, common.ErrInsufficientCredits):
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, rejected)
	g, _ := m.GetGroup(ctx, "g1")
	assert.Equal(t, int64(50), g.Credits)
}

func TestConcurrentMixedOperationsNeverNegative(t *testing.T) {
	ctx := context.Background()
	m := seeded(t, "g", 1000)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var spent int64
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Decrement(ctx, "g", 30); err == nil {
				mu.Lock()
				spent += 30
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	g, _ := m.GetGroup(ctx, "g")
	assert.GreaterOrEqual(t, g.Credits, int64(0))
	assert.Equal(t, int64(1000)-spent, g.Credits)
	assert.Equal(t, int64(990), spent, "33 decrements of 30 fit into 1000")
}
