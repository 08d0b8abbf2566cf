package devserver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartparking/internal/models"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(clock *fakeClock) *Store {
	lots := []models.Lot{{ID: "lot-1", Name: "One", Capacity: 1, Available: 1}}
	return NewStore(60000, "RWF", clock.now, lots)
}

func TestStoreAccruesWhileActive(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
	store := newTestStore(clock)
	user := store.UserFor("+250788000001")

	session, err := store.Start(user, "lot-1", " rab123c ")
	require.NoError(t, err)
	assert.Equal(t, "RAB123C", session.Plate)
	assert.Equal(t, int64(0), session.Payment.AmountCents)

	clock.advance(30 * time.Minute)
	got, err := store.Get(user, session.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(30000), got.Payment.AmountCents)

	amount, active, err := store.Amount(session.ID)
	require.NoError(t, err)
	assert.True(t, active)
	assert.Equal(t, int64(30000), amount)
}

func TestStoreExitFreezesAmount(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
	store := newTestStore(clock)
	user := store.UserFor("+250788000001")
	session, err := store.Start(user, "lot-1", "RAB123C")
	require.NoError(t, err)

	clock.advance(time.Hour)
	done, err := store.Exit(user, session.ID)
	require.NoError(t, err)
	assert.True(t, done.Completed())
	assert.Equal(t, int64(60000), done.Payment.AmountCents)
	require.NotNil(t, done.AmountCents)

	clock.advance(time.Hour)
	again, err := store.Exit(user, session.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(60000), again.Payment.AmountCents, "exit twice does not re-bill")

	_, active, err := store.Amount(session.ID)
	require.NoError(t, err)
	assert.False(t, active)
	assert.Equal(t, 1, store.Lots()[0].Available)
}

func TestStoreStartConflicts(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	store := newTestStore(clock)
	user := store.UserFor("+250788000001")

	_, err := store.Start(user, "missing", "A")
	assert.ErrorIs(t, err, ErrLotNotFound)

	_, err = store.Start(user, "lot-1", "A")
	require.NoError(t, err)
	_, err = store.Start(user, "lot-1", "B")
	assert.ErrorIs(t, err, ErrLotFull)
}

func TestStorePlateBusy(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	store := NewStore(100, "RWF", clock.now, nil)
	user := store.UserFor("+250788000001")

	_, err := store.Start(user, "lot-cbd", "RAB1")
	require.NoError(t, err)
	_, err = store.Start(user, "lot-kimihurura", "rab1")
	assert.ErrorIs(t, err, ErrPlateBusy)
}

func TestStoreSessionsAreScopedToUser(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	store := newTestStore(clock)
	alice := store.UserFor("+250788000001")
	bob := store.UserFor("+250788000002")
	assert.Equal(t, alice, store.UserFor("+250788000001"))

	session, err := store.Start(alice, "lot-1", "A")
	require.NoError(t, err)

	_, err = store.Get(bob, session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.False(t, store.Owns(bob, session.ID))
	assert.True(t, store.Owns(alice, session.ID))
	assert.Empty(t, store.History(bob, 10))

	active, err := store.Active(bob, "A")
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestStorePaymentFlow(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	store := newTestStore(clock)
	user := store.UserFor("+250788000001")
	session, err := store.Start(user, "lot-1", "A")
	require.NoError(t, err)

	_, err = store.PaymentReference(user, session.ID)
	assert.ErrorIs(t, err, ErrNotCompleted)
	_, err = store.SettlePayment(session.ID, models.PaymentStatusPaid)
	assert.ErrorIs(t, err, ErrNotCompleted)

	require.NoError(t, store.Close(session.ID))
	ref, err := store.PaymentReference(user, session.ID)
	require.NoError(t, err)
	again, err := store.PaymentReference(user, session.ID)
	require.NoError(t, err)
	assert.Equal(t, ref, again)

	paid, err := store.SettlePayment(session.ID, models.PaymentStatusPaid)
	require.NoError(t, err)
	assert.True(t, paid.Paid())
}

func TestStoreHistoryNewestFirst(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	store := NewStore(100, "RWF", clock.now, nil)
	user := store.UserFor("+250788000001")

	var ids []string
	for _, plate := range []string{"A", "B", "C"} {
		s, err := store.Start(user, "lot-cbd", plate)
		require.NoError(t, err)
		ids = append(ids, s.ID)
		clock.advance(time.Minute)
	}

	history := store.History(user, 2)
	require.Len(t, history, 2)
	assert.Equal(t, ids[2], history[0].ID)
	assert.Equal(t, ids[1], history[1].ID)
}
