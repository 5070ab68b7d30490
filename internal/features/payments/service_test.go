package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/pumpreels-bot/internal/common"
	"serotonyl.ru/pumpreels-bot/internal/features/ledger"
)

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (n *recordingNotifier) CreditsAdded(_ context.Context, groupID string, credits, balance int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, fmt.Sprintf("%s:+%d=%d", groupID, credits, balance))
	return n.err
}

func intentEvent(session, groupID, credits, hash string) []byte {
	tx := "null"
	if hash != "" {
		tx = fmt.Sprintf(`{"hash":%q,"network":"ethereum","amount":"140.00"}`, hash)
	}
	return []byte(fmt.Sprintf(`{
		"eventType": "managedPayment",
		"eventData": {
			"checkout_session_id": %q,
			"metadata": [{"key":"group_id","value":%q},{"key":"credits","value":%s}],
			"transaction": %s
		}
	}`, session, groupID, credits, tx))
}

func confirmEvent(hash, session string) []byte {
	return []byte(fmt.Sprintf(`{
		"eventType": "paymentConfirmed",
		"eventData": {"transaction_hash": %q, "checkout_session_id": %q}
	}`, hash, session))
}

func newTestService() (*Service, *ledger.MemoryStore, *recordingNotifier) {
	l := ledger.NewMemoryStore()
	n := &recordingNotifier{}
	return NewService(NewMemoryStore(l), n), l, n
}

func balance(t *testing.T, l ledger.Store, groupID string) int64 {
	t.Helper()
	g, err := l.GetGroup(context.Background(), groupID)
	if errors.Is(err, common.ErrGroupNotFound) {
		return 0
	}
	require.NoError(t, err)
	return g.Credits
}

func TestDuplicateConfirmationCreditsOnce(t *testing.T) {
	ctx := context.Background()
	s, l, n := newTestService()

	require.NoError(t, s.HandleEvent(ctx, intentEvent("sess-1", "g42", `"5000"`, "0xabc")))
	assert.Equal(t, int64(0), balance(t, l, "g42"))

	require.NoError(t, s.HandleEvent(ctx, confirmEvent("0xabc", "")))
	assert.Equal(t, int64(5000), balance(t, l, "g42"))

	// Повтор доставки
	require.NoError(t, s.HandleEvent(ctx, confirmEvent("0xabc", "")))
	assert.Equal(t, int64(5000), balance(t, l, "g42"))

	_, err := s.ConfirmByHash(ctx, "0xabc", "")
	assert.ErrorIs(t, err, common.ErrAlreadyConfirmed)
	assert.Equal(t, int64(5000), balance(t, l, "g42"))

	assert.Equal(t, []string{"g42:+5000=5000"}, n.calls)
}

func TestConcurrentDuplicateConfirmations(t *testing.T) {
	ctx := context.Background()
	s, l, _ := newTestService()
	require.NoError(t, s.HandleEvent(ctx, intentEvent("sess-1", "g42", "5000", "0xabc")))

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.ConfirmByHash(ctx, "0xabc", "")
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, common.ErrAlreadyConfirmed)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, int64(5000), balance(t, l, "g42"))
}

func TestConfirmFallsBackToSessionKey(t *testing.T) {
	ctx := context.Background()
	s, l, _ := newTestService()

	key, err := s.RecordIntent(ctx, []byte(`{
		"checkout_session_id": "sess-2",
		"metadata": [{"key":"group_id","value":"-100"},{"key":"credits","value":2500}]
	}`))
	require.NoError(t, err)
	assert.Equal(t, "sess-2", key)

	_, err = s.ConfirmByHash(ctx, "0xdef", "")
	assert.ErrorIs(t, err, common.ErrTransactionNotFound)

	groupID, err := s.ConfirmByHash(ctx, "0xdef", "sess-2")
	require.NoError(t, err)
	assert.Equal(t, "-100", groupID)
	assert.Equal(t, int64(2500), balance(t, l, "-100"))

	// Хеш прикреплён, следующее подтверждение находит транзакцию по нему
	_, err = s.ConfirmByHash(ctx, "0xdef", "")
	assert.ErrorIs(t, err, common.ErrAlreadyConfirmed)
}

func TestConfirmRejectsForeignHashForSession(t *testing.T) {
	ctx := context.Background()
	s, l, _ := newTestService()
	require.NoError(t, s.HandleEvent(ctx, intentEvent("sess-3", "g1", "100", "0x111")))

	_, err := s.ConfirmByHash(ctx, "0x222", "sess-3")
	assert.ErrorIs(t, err, common.ErrTransactionNotFound)
	assert.Equal(t, int64(0), balance(t, l, "g1"))
}

func TestRecordIntentIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestService()

	require.NoError(t, s.HandleEvent(ctx, intentEvent("sess-1", "g1", "100", "")))
	require.NoError(t, s.HandleEvent(ctx, intentEvent("sess-1", "g1", "100", "")))
	require.NoError(t, s.HandleEvent(ctx, intentEvent("sess-1", "g2", "999", "")))

	tx, err := s.store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "g1", tx.GroupID)
	assert.Equal(t, int64(100), tx.Credits)
	assert.Equal(t, StatusPending, tx.Status)
}

func TestMalformedEvents(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestService()

	cases := map[string][]byte{
		"not json":         []byte(`{`),
		"no event type":    []byte(`{"eventData":{}}`),
		"no session":       []byte(`{"eventType":"managedPayment","eventData":{"metadata":[{"key":"group_id","value":"g"},{"key":"credits","value":"1"}]}}`),
		"no group":         intentEvent("s", "", "10", ""),
		"zero credits":     intentEvent("s", "g", "0", ""),
		"negative credits": intentEvent("s", "g", "-5", ""),
		"text credits":     intentEvent("s", "g", `"lots"`, ""),
		"no hash":          []byte(`{"eventType":"paymentConfirmed","eventData":{}}`),
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, s.HandleEvent(ctx, raw), common.ErrMalformedEvent)
		})
	}
}

func TestUnknownEventIgnored(t *testing.T) {
	s, _, _ := newTestService()
	assert.NoError(t, s.HandleEvent(context.Background(), []byte(`{"eventType":"subscriptionCreated","eventData":{}}`)))
}

func TestConfirmUnknownHash(t *testing.T) {
	s, _, n := newTestService()
	err := s.HandleEvent(context.Background(), confirmEvent("0xnope", ""))
	assert.ErrorIs(t, err, common.ErrTransactionNotFound)
	assert.Empty(t, n.calls)
}

func TestNotifierFailureDoesNotFailConfirmation(t *testing.T) {
	ctx := context.Background()
	s, l, n := newTestService()
	n.err = errors.New("telegram down")

	require.NoError(t, s.HandleEvent(ctx, intentEvent("sess", "g", "10", "0x1")))
	_, err := s.ConfirmByHash(ctx, "0x1", "")
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance(t, l, "g"))
}
