package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"channel-sub-bot/logger"
	"channel-sub-bot/model"
	"channel-sub-bot/store"

	"github.com/shopspring/decimal"
)

// Quote is the balance snapshot a withdrawal flow starts from.
type Quote struct {
	Balance decimal.Decimal
	Minimum decimal.Decimal
}

type WithdrawalRequest struct {
	UserID      int64
	Method      model.WithdrawalMethod
	Destination string
	// Amount is the balance snapshot taken when the flow started.
	Amount decimal.Decimal
}

// WithdrawalQuote checks that userID may start a withdrawal and returns the
// amount it would be for. The quote is returned alongside ErrBelowMinimum so
// callers can show both numbers.
func (e *Engine) WithdrawalQuote(ctx context.Context, userID int64) (Quote, error) {
	var q Quote
	err := e.store.Transact(ctx, func(tx *store.Tx) error {
		pending, err := tx.HasPendingWithdrawal(userID)
		if err != nil {
			return err
		}
		if pending {
			return ErrPendingWithdrawalExists
		}

		u, err := tx.User(userID)
		if err != nil {
			return notFound(err, ErrUserNotFound)
		}
		minimum, err := tx.Decimal(model.SettingMinWithdraw)
		if err != nil {
			return err
		}
		q = Quote{Balance: u.ReferralBalance, Minimum: minimum}
		return nil
	})
	if err != nil {
		return Quote{}, err
	}
	if q.Balance.LessThan(q.Minimum) {
		return q, ErrBelowMinimum
	}
	return q, nil
}

// RequestWithdrawal creates a pending withdrawal. The balance is re-read
// inside the transaction and the request is refused if it no longer matches
// the snapshot the user confirmed.
func (e *Engine) RequestWithdrawal(ctx context.Context, req WithdrawalRequest) (*model.Withdrawal, error) {
	dest, err := ValidateDestination(req.Method, req.Destination)
	if err != nil {
		return nil, err
	}

	var w model.Withdrawal
	err = e.store.Transact(ctx, func(tx *store.Tx) error {
		pending, err := tx.HasPendingWithdrawal(req.UserID)
		if err != nil {
			return err
		}
		if pending {
			return ErrPendingWithdrawalExists
		}

		minimum, err := tx.Decimal(model.SettingMinWithdraw)
		if err != nil {
			return err
		}
		if req.Amount.LessThan(minimum) {
			return ErrBelowMinimum
		}

		u, err := tx.User(req.UserID)
		if err != nil {
			return notFound(err, ErrUserNotFound)
		}
		if !u.ReferralBalance.Equal(req.Amount) {
			return fmt.Errorf("%w: requested %s, balance is %s", ErrBalanceChanged, req.Amount, u.ReferralBalance)
		}

		w = model.Withdrawal{
			UserID:      req.UserID,
			Amount:      req.Amount,
			Destination: dest,
			Method:      req.Method,
			Status:      model.WithdrawalPending,
			CreatedAt:   e.clock.Now(),
		}
		err = tx.CreateWithdrawal(&w)
		if errors.Is(err, store.ErrDuplicate) {
			return ErrPendingWithdrawalExists
		}
		return err
	})
	e.metrics.ObserveTransition("withdrawal", "request", err)
	if err != nil {
		return nil, err
	}

	logger.Log.Info("withdrawal requested",
		logger.Uint("withdrawal_id", w.ID),
		logger.Int64("user_id", w.UserID),
		logger.String("amount", w.Amount.String()),
		logger.String("method", string(w.Method)),
	)
	return &w, nil
}

// Payout marks a pending withdrawal paid and sets the owner's balance to
// zero, whatever it has drifted to since the request.
func (e *Engine) Payout(ctx context.Context, withdrawalID uint, reference string) (*model.Withdrawal, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, ErrInvalidReference
	}

	w, err := e.transitionWithdrawal(ctx, withdrawalID, model.WithdrawalPaid, &reference)
	e.metrics.ObserveTransition("withdrawal", "payout", err)
	if err != nil {
		return nil, err
	}

	logger.Log.Info("withdrawal paid", logger.Uint("withdrawal_id", w.ID), logger.Int64("user_id", w.UserID))
	return w, nil
}

// CancelWithdrawal leaves the balance untouched.
func (e *Engine) CancelWithdrawal(ctx context.Context, withdrawalID uint) (*model.Withdrawal, error) {
	w, err := e.transitionWithdrawal(ctx, withdrawalID, model.WithdrawalCancelled, nil)
	e.metrics.ObserveTransition("withdrawal", "cancel", err)
	if err != nil {
		return nil, err
	}

	logger.Log.Info("withdrawal cancelled", logger.Uint("withdrawal_id", w.ID), logger.Int64("user_id", w.UserID))
	return w, nil
}

func (e *Engine) transitionWithdrawal(ctx context.Context, id uint, to model.WithdrawalStatus, ref *string) (*model.Withdrawal, error) {
	var w *model.Withdrawal
	err := e.store.Transact(ctx, func(tx *store.Tx) error {
		var err error
		w, err = tx.Withdrawal(id)
		if err != nil {
			return notFound(err, ErrWithdrawalNotFound)
		}
		if w.Status != model.WithdrawalPending {
			return ErrAlreadyProcessed
		}

		ok, err := tx.TransitionWithdrawal(id, model.WithdrawalPending, to, ref)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAlreadyProcessed
		}
		w.Status = to
		w.TransactionID = ref

		if to == model.WithdrawalPaid {
			return tx.ZeroBalance(w.UserID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}
