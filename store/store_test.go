package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"channel-sub-bot/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var dbSeq atomic.Int64

func newTestStore(t *testing.T) *Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1))

	s, err := Open(dsn, WithTimeout(5*time.Second))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenSeedsSettings(t *testing.T) {
	s := newTestStore(t)

	settings, err := s.Settings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.DefaultSettings, settings)
}

func TestPutSettingOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutSetting(ctx, model.SettingReferralReward, "3"))
	v, err := s.Setting(ctx, model.SettingReferralReward)
	require.NoError(t, err)
	assert.Equal(t, "3", v)

	_, err = s.Setting(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEnsureUserKeepsFirstReferrer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ref1, ref2 := int64(7), int64(8)

	created, err := s.EnsureUser(ctx, 100, "alice", &ref1)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.EnsureUser(ctx, 100, "alice2", &ref2)
	require.NoError(t, err)
	assert.False(t, created)

	u, err := s.User(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, "alice2", u.Username)
	require.NotNil(t, u.ReferrerID)
	assert.Equal(t, ref1, *u.ReferrerID)
	assert.True(t, u.ReferralBalance.IsZero())
	assert.False(t, u.SubscriptionActive)

	_, err = s.User(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUserIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []int64{3, 1, 2} {
		_, err := s.EnsureUser(ctx, id, "", nil)
		require.NoError(t, err)
	}

	ids, err := s.UserIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2, 3}, ids)
}

func TestPaymentMethodCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m, err := s.CreatePaymentMethod(ctx, "Sham Cash", "SC-1")
	require.NoError(t, err)
	assert.NotZero(t, m.ID)

	require.NoError(t, s.UpdatePaymentMethod(ctx, m.ID, "Sham", "SC-2"))
	got, err := s.PaymentMethod(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "Sham", got.Name)
	assert.Equal(t, "SC-2", got.Destination)

	require.NoError(t, s.DeletePaymentMethod(ctx, m.ID))
	assert.ErrorIs(t, s.DeletePaymentMethod(ctx, m.ID), ErrNotFound)
	assert.ErrorIs(t, s.UpdatePaymentMethod(ctx, m.ID, "x", "y"), ErrNotFound)

	methods, err := s.PaymentMethods(ctx)
	require.NoError(t, err)
	assert.Empty(t, methods)
}

func TestAddChannelLinksSkipsDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.AddChannelLinks(ctx, []string{"https://t.me/+a", "https://t.me/+b"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.AddChannelLinks(ctx, []string{"https://t.me/+b", "https://t.me/+c"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	links, err := s.ChannelLinks(ctx)
	require.NoError(t, err)
	require.Len(t, links, 3)

	require.NoError(t, s.DeleteChannelLink(ctx, links[0].ID))
	assert.ErrorIs(t, s.DeleteChannelLink(ctx, links[0].ID), ErrNotFound)
}

func TestTakeInviteLink(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddChannelLinks(ctx, []string{"L1", "L2"})
	require.NoError(t, err)

	var taken []string
	for range 2 {
		require.NoError(t, s.Transact(ctx, func(tx *Tx) error {
			l, err := tx.TakeInviteLink()
			if err != nil {
				return err
			}
			taken = append(taken, l.Link)
			return nil
		}))
	}
	assert.Equal(t, []string{"L1", "L2"}, taken)

	err = s.Transact(ctx, func(tx *Tx) error {
		_, err := tx.TakeInviteLink()
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRolledBackTransactionKeepsLink(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.AddChannelLinks(ctx, []string{"L1"})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.Transact(ctx, func(tx *Tx) error {
		if _, err := tx.TakeInviteLink(); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	links, err := s.ChannelLinks(ctx)
	require.NoError(t, err)
	assert.Len(t, links, 1)
}

func TestTransitionPaymentIsGuarded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &model.Payment{UserID: 1, Amount: decimal.NewFromInt(5), Proof: "file", Status: model.PaymentPending}
	require.NoError(t, s.Transact(ctx, func(tx *Tx) error { return tx.CreatePayment(p) }))
	require.NotZero(t, p.ID)

	ref := "TXN1"
	var first, second bool
	require.NoError(t, s.Transact(ctx, func(tx *Tx) error {
		var err error
		first, err = tx.TransitionPayment(p.ID, model.PaymentPending, model.PaymentApproved, &ref)
		return err
	}))
	require.NoError(t, s.Transact(ctx, func(tx *Tx) error {
		var err error
		second, err = tx.TransitionPayment(p.ID, model.PaymentPending, model.PaymentRejected, nil)
		return err
	}))
	assert.True(t, first)
	assert.False(t, second)

	got, err := s.Payment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentApproved, got.Status)
	require.NotNil(t, got.TransactionID)
	assert.Equal(t, "TXN1", *got.TransactionID)
}

func TestCreditAndZeroBalance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.EnsureUser(ctx, 5, "r", nil)
	require.NoError(t, err)

	require.NoError(t, s.Transact(ctx, func(tx *Tx) error {
		if err := tx.CreditBalance(5, decimal.RequireFromString("0.1")); err != nil {
			return err
		}
		return tx.CreditBalance(5, decimal.RequireFromString("0.2"))
	}))

	u, err := s.User(ctx, 5)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.3").Equal(u.ReferralBalance), "balance %s", u.ReferralBalance)

	require.NoError(t, s.Transact(ctx, func(tx *Tx) error { return tx.ZeroBalance(5) }))
	u, err = s.User(ctx, 5)
	require.NoError(t, err)
	assert.True(t, u.ReferralBalance.IsZero())

	err = s.Transact(ctx, func(tx *Tx) error { return tx.CreditBalance(404, decimal.NewFromInt(1)) })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOnePendingWithdrawalPerUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	newWithdrawal := func() *model.Withdrawal {
		return &model.Withdrawal{
			UserID:      9,
			Amount:      decimal.NewFromInt(12),
			Destination: "SC999001",
			Method:      model.MethodShamCash,
			Status:      model.WithdrawalPending,
		}
	}

	w := newWithdrawal()
	require.NoError(t, s.Transact(ctx, func(tx *Tx) error { return tx.CreateWithdrawal(w) }))

	pending, err := s.HasPendingWithdrawal(ctx, 9)
	require.NoError(t, err)
	assert.True(t, pending)

	err = s.Transact(ctx, func(tx *Tx) error { return tx.CreateWithdrawal(newWithdrawal()) })
	assert.ErrorIs(t, err, ErrDuplicate)

	require.NoError(t, s.Transact(ctx, func(tx *Tx) error {
		_, err := tx.TransitionWithdrawal(w.ID, model.WithdrawalPending, model.WithdrawalCancelled, nil)
		return err
	}))
	require.NoError(t, s.Transact(ctx, func(tx *Tx) error { return tx.CreateWithdrawal(newWithdrawal()) }))

	list, err := s.PendingWithdrawals(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestExpireSubscriptions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2027, 1, 2, 0, 0, 0, 0, time.UTC)

	for _, id := range []int64{1, 2} {
		_, err := s.EnsureUser(ctx, id, "", nil)
		require.NoError(t, err)
	}
	require.NoError(t, s.Transact(ctx, func(tx *Tx) error {
		if err := tx.ActivateSubscription(1, now.AddDate(0, 0, -1)); err != nil {
			return err
		}
		return tx.ActivateSubscription(2, now.AddDate(0, 0, 30))
	}))

	var n int64
	require.NoError(t, s.Transact(ctx, func(tx *Tx) error {
		var err error
		n, err = tx.ExpireSubscriptions(now)
		return err
	}))
	assert.Equal(t, int64(1), n)

	u1, err := s.User(ctx, 1)
	require.NoError(t, err)
	assert.False(t, u1.SubscriptionActive)
	u2, err := s.User(ctx, 2)
	require.NoError(t, err)
	assert.True(t, u2.SubscriptionActive)
}

func TestReconnectKeepsServing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.EnsureUser(ctx, 1, "u", nil)
	require.NoError(t, err)

	require.NoError(t, s.reconnect(ctx))

	u, err := s.User(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "u", u.Username)
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}
