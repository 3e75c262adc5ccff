// Package lifecycle owns every transition of payments and withdrawals and is
// the only writer of user balances and subscription fields.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"channel-sub-bot/clock"
	"channel-sub-bot/logger"
	"channel-sub-bot/metrics"
	"channel-sub-bot/model"
	"channel-sub-bot/store"

	"github.com/shopspring/decimal"
)

type Engine struct {
	store   *store.Store
	clock   clock.Clock
	metrics *metrics.Metrics

	subscriptionEnd  time.Time
	subscriptionDays int
}

type Option func(*Engine)

func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithSubscriptionEnd sets the fixed date every approved subscription runs until.
func WithSubscriptionEnd(t time.Time) Option {
	return func(e *Engine) { e.subscriptionEnd = t }
}

// WithSubscriptionDays makes subscriptions run for n days from approval
// instead of until the fixed end date.
func WithSubscriptionDays(n int) Option {
	return func(e *Engine) { e.subscriptionDays = n }
}

func New(s *store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:           s,
		clock:           clock.RealClock{},
		subscriptionEnd: time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) subscriptionEndFrom(now time.Time) time.Time {
	if e.subscriptionDays > 0 {
		return now.AddDate(0, 0, e.subscriptionDays)
	}
	return e.subscriptionEnd
}

// ExpireSubscriptions switches off every subscription whose end date has passed.
func (e *Engine) ExpireSubscriptions(ctx context.Context) (int64, error) {
	var n int64
	err := e.store.Transact(ctx, func(tx *store.Tx) error {
		var err error
		n, err = tx.ExpireSubscriptions(e.clock.Now())
		return err
	})
	if err != nil {
		logger.Log.Error("subscription expiry sweep failed", logger.Error(err))
		return 0, err
	}

	e.metrics.ObserveExpired(n)
	if n > 0 {
		logger.Log.Info("subscriptions expired", logger.Int64("count", n))
	}
	return n, nil
}

// UpdateSetting validates an admin-entered value and stores it in
// normalized form. Every setting is a non-negative amount.
func (e *Engine) UpdateSetting(ctx context.Context, key, value string) (string, error) {
	normalized, err := ParseSettingValue(key, value)
	if err != nil {
		return "", err
	}
	if err := e.store.PutSetting(ctx, key, normalized); err != nil {
		return "", err
	}

	logger.Log.Info("setting updated", logger.String("key", key), logger.String("value", normalized))
	return normalized, nil
}

func ParseSettingValue(key, value string) (string, error) {
	if !slices.Contains(model.SettingKeys, key) {
		return "", fmt.Errorf("%w: unknown key %q", ErrInvalidSetting, key)
	}
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return "", fmt.Errorf("%w: %q is not a number", ErrInvalidSetting, value)
	}
	if d.IsNegative() {
		return "", fmt.Errorf("%w: %q is negative", ErrInvalidSetting, value)
	}
	return d.String(), nil
}

func notFound(err, as error) error {
	if errors.Is(err, store.ErrNotFound) {
		return as
	}
	return err
}
