package lifecycle

import (
	"context"
	"errors"
	"strings"
	"time"

	"channel-sub-bot/logger"
	"channel-sub-bot/model"
	"channel-sub-bot/store"

	"github.com/shopspring/decimal"
)

// Approval is the committed outcome of approving a payment.
type Approval struct {
	Payment         model.Payment
	Link            string
	SubscriptionEnd time.Time

	// ReferrerID and Reward are set only when a referral credit was applied.
	ReferrerID *int64
	Reward     decimal.Decimal
}

// SubmitPayment records a pending payment priced at the subscription price
// in effect right now. The method is not looked up: a receipt for a method
// deleted after it was chosen is still recorded.
func (e *Engine) SubmitPayment(ctx context.Context, userID int64, methodID uint, proof string) (*model.Payment, error) {
	var p model.Payment
	err := e.store.Transact(ctx, func(tx *store.Tx) error {
		price, err := tx.Decimal(model.SettingSubscriptionPrice)
		if err != nil {
			return err
		}

		p = model.Payment{
			UserID:          userID,
			Amount:          price,
			Proof:           proof,
			Status:          model.PaymentPending,
			PaymentMethodID: methodID,
			CreatedAt:       e.clock.Now(),
		}
		return tx.CreatePayment(&p)
	})
	e.metrics.ObserveTransition("payment", "submit", err)
	if err != nil {
		return nil, err
	}

	logger.Log.Info("payment submitted",
		logger.Uint("payment_id", p.ID),
		logger.Int64("user_id", userID),
		logger.String("amount", p.Amount.String()),
	)
	return &p, nil
}

// ApprovePayment approves a pending payment. Stamping the reference,
// activating the subscription, consuming an invite link and crediting the
// referrer happen in one transaction; if any of them fails none is applied.
func (e *Engine) ApprovePayment(ctx context.Context, paymentID uint, reference string) (*Approval, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, ErrInvalidReference
	}

	var a Approval
	err := e.store.Transact(ctx, func(tx *store.Tx) error {
		a = Approval{}

		p, err := tx.Payment(paymentID)
		if err != nil {
			return notFound(err, ErrPaymentNotFound)
		}
		if p.Status != model.PaymentPending {
			return ErrAlreadyProcessed
		}

		ok, err := tx.TransitionPayment(paymentID, model.PaymentPending, model.PaymentApproved, &reference)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAlreadyProcessed
		}
		p.Status = model.PaymentApproved
		p.TransactionID = &reference

		end := e.subscriptionEndFrom(e.clock.Now())
		if err := tx.ActivateSubscription(p.UserID, end); err != nil {
			return notFound(err, ErrUserNotFound)
		}

		link, err := tx.TakeInviteLink()
		if err != nil {
			return notFound(err, ErrNoInviteLinks)
		}

		// evaluated after activation, inside the same transaction
		referrerID, reward, err := e.creditReferrer(tx, p.UserID)
		if err != nil {
			return err
		}

		a = Approval{
			Payment:         *p,
			Link:            link.Link,
			SubscriptionEnd: end,
			ReferrerID:      referrerID,
			Reward:          reward,
		}
		return nil
	})
	e.metrics.ObserveTransition("payment", "approve", err)
	if err != nil {
		return nil, err
	}

	fields := []logger.Field{
		logger.Uint("payment_id", paymentID),
		logger.Int64("user_id", a.Payment.UserID),
	}
	if a.ReferrerID != nil {
		fields = append(fields, logger.Int64("referrer_id", *a.ReferrerID), logger.String("reward", a.Reward.String()))
	}
	logger.Log.Info("payment approved", fields...)
	return &a, nil
}

func (e *Engine) creditReferrer(tx *store.Tx, payerID int64) (*int64, decimal.Decimal, error) {
	payer, err := tx.User(payerID)
	if err != nil {
		return nil, decimal.Zero, notFound(err, ErrUserNotFound)
	}
	if payer.ReferrerID == nil || *payer.ReferrerID == payerID {
		return nil, decimal.Zero, nil
	}

	referrer, err := tx.User(*payer.ReferrerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, decimal.Zero, nil
	}
	if err != nil {
		return nil, decimal.Zero, err
	}
	if !referrer.SubscriptionActive {
		return nil, decimal.Zero, nil
	}

	reward, err := tx.Decimal(model.SettingReferralReward)
	if err != nil {
		return nil, decimal.Zero, err
	}
	if !reward.IsPositive() {
		return nil, decimal.Zero, nil
	}
	if err := tx.CreditBalance(referrer.ID, reward); err != nil {
		return nil, decimal.Zero, err
	}
	return &referrer.ID, reward, nil
}

func (e *Engine) RejectPayment(ctx context.Context, paymentID uint) (*model.Payment, error) {
	var p *model.Payment
	err := e.store.Transact(ctx, func(tx *store.Tx) error {
		var err error
		p, err = tx.Payment(paymentID)
		if err != nil {
			return notFound(err, ErrPaymentNotFound)
		}
		if p.Status != model.PaymentPending {
			return ErrAlreadyProcessed
		}

		ok, err := tx.TransitionPayment(paymentID, model.PaymentPending, model.PaymentRejected, nil)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAlreadyProcessed
		}
		p.Status = model.PaymentRejected
		return nil
	})
	e.metrics.ObserveTransition("payment", "reject", err)
	if err != nil {
		return nil, err
	}

	logger.Log.Info("payment rejected", logger.Uint("payment_id", paymentID), logger.Int64("user_id", p.UserID))
	return p, nil
}
