package store

import (
	"errors"
	"fmt"
	"time"

	"channel-sub-bot/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Tx exposes the guarded writes that must share one transaction. Only the
// lifecycle engine opens one.
type Tx struct {
	db *gorm.DB
}

func (t *Tx) Setting(key string) (string, error) {
	var s model.Setting
	if err := t.db.First(&s, "key = ?", key).Error; err != nil {
		return "", fmt.Errorf("setting %s: %w", key, translate(err))
	}
	return s.Value, nil
}

// Decimal reads a setting and parses it as an amount.
func (t *Tx) Decimal(key string) (decimal.Decimal, error) {
	v, err := t.Setting(key)
	if err != nil {
		return decimal.Zero, err
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("setting %s=%q is not a number: %w", key, v, err)
	}
	return d, nil
}

func (t *Tx) User(id int64) (*model.User, error) {
	var u model.User
	if err := t.db.First(&u, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (t *Tx) Payment(id uint) (*model.Payment, error) {
	var p model.Payment
	if err := t.db.First(&p, id).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (t *Tx) Withdrawal(id uint) (*model.Withdrawal, error) {
	var w model.Withdrawal
	if err := t.db.First(&w, id).Error; err != nil {
		return nil, translate(err)
	}
	return &w, nil
}

// CreatePayment inserts p and fills in its generated ID.
func (t *Tx) CreatePayment(p *model.Payment) error {
	return translate(t.db.Create(p).Error)
}

// TransitionPayment moves a payment from one status to another only if it is
// still in the from status. It reports whether the row was changed.
func (t *Tx) TransitionPayment(id uint, from, to model.PaymentStatus, ref *string) (bool, error) {
	values := map[string]any{"status": to}
	if ref != nil {
		values["transaction_id"] = *ref
	}
	res := t.db.Model(&model.Payment{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (t *Tx) ActivateSubscription(userID int64, end time.Time) error {
	res := t.db.Model(&model.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{"subscription_active": true, "subscription_end": end})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// TakeInviteLink removes one link from the pool and returns it. A link that
// a concurrent transaction deleted first is skipped. ErrNotFound means the
// pool is empty.
func (t *Tx) TakeInviteLink() (*model.ChannelLink, error) {
	for {
		var link model.ChannelLink
		if err := t.db.Order("id").First(&link).Error; err != nil {
			return nil, translate(err)
		}

		res := t.db.Where("id = ?", link.ID).Delete(&model.ChannelLink{})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			return &link, nil
		}
	}
}

func (t *Tx) CreditBalance(userID int64, amount decimal.Decimal) error {
	res := t.db.Model(&model.User{}).
		Where("id = ?", userID).
		UpdateColumn("referral_balance", gorm.Expr("ROUND(referral_balance + ?, 2)", amount.StringFixed(2)))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *Tx) ZeroBalance(userID int64) error {
	res := t.db.Model(&model.User{}).
		Where("id = ?", userID).
		UpdateColumn("referral_balance", decimal.Zero)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *Tx) HasPendingWithdrawal(userID int64) (bool, error) {
	return hasPendingWithdrawal(t.db, userID)
}

// CreateWithdrawal inserts w and fills in its generated ID. A second pending
// withdrawal for the same user fails with ErrDuplicate.
func (t *Tx) CreateWithdrawal(w *model.Withdrawal) error {
	return translate(t.db.Create(w).Error)
}

func (t *Tx) TransitionWithdrawal(id uint, from, to model.WithdrawalStatus, ref *string) (bool, error) {
	values := map[string]any{"status": to}
	if ref != nil {
		values["transaction_id"] = *ref
	}
	res := t.db.Model(&model.Withdrawal{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ExpireSubscriptions deactivates every subscription that ended before now.
func (t *Tx) ExpireSubscriptions(now time.Time) (int64, error) {
	res := t.db.Model(&model.User{}).
		Where("subscription_active = ? AND subscription_end IS NOT NULL AND subscription_end < ?", true, now).
		Update("subscription_active", false)
	return res.RowsAffected, res.Error
}

func hasPendingWithdrawal(db *gorm.DB, userID int64) (bool, error) {
	var w model.Withdrawal
	err := db.Select("id").
		Where("user_id = ? AND status = ?", userID, model.WithdrawalPending).
		Take(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *Tx) PaymentMethod(id uint) (*model.PaymentMethod, error) {
	var m model.PaymentMethod
	if err := t.db.First(&m, id).Error; err != nil {
		return nil, translate(err)
	}
	return &m, nil
}
