package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentApproved PaymentStatus = "APPROVED"
	PaymentRejected PaymentStatus = "REJECTED"
)

type WithdrawalStatus string

const (
	WithdrawalPending   WithdrawalStatus = "PENDING"
	WithdrawalPaid      WithdrawalStatus = "PAID"
	WithdrawalCancelled WithdrawalStatus = "CANCELLED"
)

// WithdrawalMethod is the payout channel a user picked.
type WithdrawalMethod string

const (
	MethodShamCash WithdrawalMethod = "sham"
	MethodUSDT     WithdrawalMethod = "usdt"
)

func (m WithdrawalMethod) Valid() bool {
	return m == MethodShamCash || m == MethodUSDT
}

func (m WithdrawalMethod) Label() string {
	switch m {
	case MethodShamCash:
		return "Sham Cash"
	case MethodUSDT:
		return "USDT (BEP20)"
	}
	return string(m)
}

const (
	SettingSubscriptionPrice = "subscription_price"
	SettingReferralReward    = "referral_reward"
	SettingMinWithdraw       = "min_withdraw"
)

// SettingKeys lists the editable settings in display order.
var SettingKeys = []string{SettingSubscriptionPrice, SettingReferralReward, SettingMinWithdraw}

var DefaultSettings = map[string]string{
	SettingSubscriptionPrice: "5",
	SettingReferralReward:    "1",
	SettingMinWithdraw:       "2",
}

type User struct {
	ID                 int64 `gorm:"primaryKey;autoIncrement:false"` // Telegram User ID
	Username           string
	ReferrerID         *int64          `gorm:"index"`
	ReferralBalance    decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0"`
	SubscriptionActive bool            `gorm:"not null;default:false"`
	SubscriptionEnd    *time.Time
	CreatedAt          time.Time
}

type Setting struct {
	Key   string `gorm:"primaryKey"`
	Value string `gorm:"not null"`
}

// PaymentMethod is a place users send the subscription fee to.
type PaymentMethod struct {
	ID          uint   `gorm:"primaryKey"`
	Name        string `gorm:"not null"`
	Destination string `gorm:"not null"`
}

type Payment struct {
	ID              uint            `gorm:"primaryKey"`
	UserID          int64           `gorm:"index;not null"`
	Amount          decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	Proof           string          `gorm:"not null"` // file handle of the receipt photo
	Status          PaymentStatus   `gorm:"type:varchar(16);index;not null;default:PENDING"`
	PaymentMethodID uint            // may outlive the method it points to
	TransactionID   *string
	CreatedAt       time.Time
}

type Withdrawal struct {
	ID            uint             `gorm:"primaryKey"`
	UserID        int64            `gorm:"not null;index:idx_withdrawals_one_pending,unique,where:status = 'PENDING'"`
	Amount        decimal.Decimal  `gorm:"type:decimal(10,2);not null"`
	Destination   string           `gorm:"not null"`
	Method        WithdrawalMethod `gorm:"type:varchar(16);not null"`
	Status        WithdrawalStatus `gorm:"type:varchar(16);index;not null;default:PENDING"`
	TransactionID *string
	CreatedAt     time.Time
}

// ChannelLink is a single-use invite link to the gated channel.
type ChannelLink struct {
	ID   uint   `gorm:"primaryKey"`
	Link string `gorm:"uniqueIndex;not null"`
}

// All returns every persisted model, in migration order.
func All() []any {
	return []any{&User{}, &Setting{}, &PaymentMethod{}, &Payment{}, &Withdrawal{}, &ChannelLink{}}
}
