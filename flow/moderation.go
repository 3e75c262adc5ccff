package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"channel-sub-bot/lifecycle"
	"channel-sub-bot/model"
	"channel-sub-bot/notify"
	"channel-sub-bot/session"
	"channel-sub-bot/store"
)

func (f *Flow) registerModeration() {
	m := f.machine

	m.Action(actAdmPayments, f.adminOnly(f.pendingPayments))
	m.Action(actApprove, f.adminOnly(f.approve))
	adminStep(f, session.KindText, f.receiveApprovalReference)
	m.Action(actReject, f.adminOnly(f.reject))
	m.Action(actRejectOK, f.adminOnly(f.rejectConfirmed))

	m.Action(actAdmWithdrawals, f.adminOnly(f.pendingWithdrawals))
	m.Action(actPay, f.adminOnly(f.pay))
	adminStep(f, session.KindText, f.receivePayoutReference)
	m.Action(actCancelW, f.adminOnly(f.cancelWithdrawal))
	m.Action(actCancelWOK, f.adminOnly(f.cancelWithdrawalConfirmed))
	m.Action(actInquiry, f.adminOnly(f.inquiry))
}

func (f *Flow) paymentCaption(ctx context.Context, p *model.Payment) string {
	who := fmt.Sprintf("%d", p.UserID)
	if u, err := f.store.User(ctx, p.UserID); err == nil {
		who = displayUser(u)
	}
	method := fmt.Sprintf("#%d (deleted)", p.PaymentMethodID)
	if pm, err := f.store.PaymentMethod(ctx, p.PaymentMethodID); err == nil {
		method = pm.Name
	}
	return fmt.Sprintf("🧾 Payment #%d\nUser: %s\nAmount: %s\nMethod: %s\nDate: %s",
		p.ID, who, money(p.Amount), method, p.CreatedAt.Format("2006-01-02 15:04"))
}

func (f *Flow) withdrawalText(ctx context.Context, w *model.Withdrawal) string {
	who, current := fmt.Sprintf("%d", w.UserID), "unknown"
	if u, err := f.store.User(ctx, w.UserID); err == nil {
		who, current = displayUser(u), money(u.ReferralBalance)
	}
	return fmt.Sprintf("💸 Withdrawal #%d\nUser: %s\nAmount: %s\nCurrent balance: %s\nMethod: %s\nDestination: %s\nDate: %s",
		w.ID, who, money(w.Amount), current, w.Method.Label(), w.Destination, w.CreatedAt.Format("2006-01-02 15:04"))
}

func (f *Flow) pendingPayments(ctx context.Context, ev session.Event, _ session.Step) error {
	payments, err := f.store.PendingPayments(ctx)
	if err != nil {
		return f.internalError(ctx, ev, "list pending payments", err)
	}
	if len(payments) == 0 {
		f.say(ctx, ev.SenderID, "No pending payments.", nil)
		return nil
	}
	for _, p := range payments {
		_ = f.notifier.NotifyUser(ctx, ev.SenderID, notify.Photo(p.Proof, f.paymentCaption(ctx, &p), paymentModerationMenu(p.ID)))
	}
	return nil
}

// pendingPayment loads a payment for moderation and tells the admin when it
// cannot be acted on.
func (f *Flow) pendingPayment(ctx context.Context, ev session.Event) (*model.Payment, bool) {
	id, ok := parseID(ev.Data)
	if !ok {
		return nil, false
	}
	p, err := f.store.Payment(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		f.say(ctx, ev.SenderID, fmt.Sprintf("Payment #%d does not exist.", id), nil)
		return nil, false
	}
	if err != nil {
		_ = f.internalError(ctx, ev, "get payment", err)
		return nil, false
	}
	if p.Status != model.PaymentPending {
		f.say(ctx, ev.SenderID, fmt.Sprintf("Payment #%d was already processed (%s).", p.ID, p.Status), nil)
		return nil, false
	}
	return p, true
}

func (f *Flow) approve(ctx context.Context, ev session.Event, _ session.Step) error {
	p, ok := f.pendingPayment(ctx, ev)
	if !ok {
		return nil
	}
	f.sessions.Set(ev.SenderID, session.ApprovalReference{PaymentID: p.ID})
	f.say(ctx, ev.SenderID, fmt.Sprintf("Send the transaction reference for payment #%d:", p.ID), cancelOnly())
	return nil
}

func (f *Flow) receiveApprovalReference(ctx context.Context, ev session.Event, step session.ApprovalReference) error {
	a, err := f.engine.ApprovePayment(ctx, step.PaymentID, ev.Text)
	switch {
	case errors.Is(err, lifecycle.ErrInvalidReference):
		f.say(ctx, ev.SenderID, "The reference cannot be empty. Send it again:", cancelOnly())
		return nil
	case errors.Is(err, lifecycle.ErrNoInviteLinks):
		f.sessions.Reset(ev.SenderID)
		f.say(ctx, ev.SenderID, fmt.Sprintf("No invite links left. Payment #%d is still pending; add links and approve it again.", step.PaymentID),
			notify.Keyboard{notify.Row(btn("➕ Add links", actLinksAdd))})
		return nil
	case errors.Is(err, lifecycle.ErrAlreadyProcessed), errors.Is(err, lifecycle.ErrPaymentNotFound):
		f.sessions.Reset(ev.SenderID)
		f.say(ctx, ev.SenderID, fmt.Sprintf("Payment #%d was already processed.", step.PaymentID), nil)
		return nil
	case err != nil:
		f.sessions.Reset(ev.SenderID)
		return f.internalError(ctx, ev, "approve payment", err)
	}
	f.sessions.Reset(ev.SenderID)

	f.say(ctx, ev.SenderID, fmt.Sprintf("✅ Payment #%d approved.", a.Payment.ID), adminMenu())
	f.say(ctx, a.Payment.UserID, fmt.Sprintf("✅ Your payment was approved! Your subscription is active until %s.\n\nJoin the channel: %s",
		a.SubscriptionEnd.Format("2006-01-02"), a.Link), nil)
	if a.ReferrerID != nil {
		f.say(ctx, *a.ReferrerID, fmt.Sprintf("🎉 A friend you invited subscribed. You earned %s.", money(a.Reward)), nil)
	}
	return nil
}

func (f *Flow) reject(ctx context.Context, ev session.Event, _ session.Step) error {
	p, ok := f.pendingPayment(ctx, ev)
	if !ok {
		return nil
	}
	f.say(ctx, ev.SenderID, fmt.Sprintf("Reject payment #%d?", p.ID), confirmMenu(actRejectOK, p.ID))
	return nil
}

func (f *Flow) rejectConfirmed(ctx context.Context, ev session.Event, _ session.Step) error {
	id, ok := parseID(ev.Data)
	if !ok {
		return nil
	}
	p, err := f.engine.RejectPayment(ctx, id)
	switch {
	case errors.Is(err, lifecycle.ErrAlreadyProcessed), errors.Is(err, lifecycle.ErrPaymentNotFound):
		f.say(ctx, ev.SenderID, fmt.Sprintf("Payment #%d was already processed.", id), nil)
		return nil
	case err != nil:
		return f.internalError(ctx, ev, "reject payment", err)
	}

	f.say(ctx, ev.SenderID, fmt.Sprintf("❌ Payment #%d rejected.", id), adminMenu())
	f.say(ctx, p.UserID, fmt.Sprintf("❌ Your payment #%d was rejected. Contact support if you think this is a mistake.", id), nil)
	return nil
}

func (f *Flow) pendingWithdrawals(ctx context.Context, ev session.Event, _ session.Step) error {
	list, err := f.store.PendingWithdrawals(ctx)
	if err != nil {
		return f.internalError(ctx, ev, "list pending withdrawals", err)
	}
	if len(list) == 0 {
		f.say(ctx, ev.SenderID, "No pending withdrawals.", nil)
		return nil
	}
	for _, w := range list {
		f.say(ctx, ev.SenderID, f.withdrawalText(ctx, &w), withdrawalModerationMenu(w))
	}
	return nil
}

func (f *Flow) pendingWithdrawal(ctx context.Context, ev session.Event) (*model.Withdrawal, bool) {
	id, ok := parseID(ev.Data)
	if !ok {
		return nil, false
	}
	w, err := f.store.Withdrawal(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		f.say(ctx, ev.SenderID, fmt.Sprintf("Withdrawal #%d does not exist.", id), nil)
		return nil, false
	}
	if err != nil {
		_ = f.internalError(ctx, ev, "get withdrawal", err)
		return nil, false
	}
	if w.Status != model.WithdrawalPending {
		f.say(ctx, ev.SenderID, fmt.Sprintf("Withdrawal #%d was already processed (%s).", w.ID, w.Status), nil)
		return nil, false
	}
	return w, true
}

func (f *Flow) pay(ctx context.Context, ev session.Event, _ session.Step) error {
	w, ok := f.pendingWithdrawal(ctx, ev)
	if !ok {
		return nil
	}
	f.sessions.Set(ev.SenderID, session.PayoutReference{WithdrawalID: w.ID})
	f.say(ctx, ev.SenderID, fmt.Sprintf("Send the transaction reference for withdrawal #%d (%s to %s):",
		w.ID, money(w.Amount), w.Destination), cancelOnly())
	return nil
}

func (f *Flow) receivePayoutReference(ctx context.Context, ev session.Event, step session.PayoutReference) error {
	w, err := f.engine.Payout(ctx, step.WithdrawalID, ev.Text)
	switch {
	case errors.Is(err, lifecycle.ErrInvalidReference):
		f.say(ctx, ev.SenderID, "The reference cannot be empty. Send it again:", cancelOnly())
		return nil
	case errors.Is(err, lifecycle.ErrAlreadyProcessed), errors.Is(err, lifecycle.ErrWithdrawalNotFound):
		f.sessions.Reset(ev.SenderID)
		f.say(ctx, ev.SenderID, fmt.Sprintf("Withdrawal #%d was already processed.", step.WithdrawalID), nil)
		return nil
	case err != nil:
		f.sessions.Reset(ev.SenderID)
		return f.internalError(ctx, ev, "payout", err)
	}
	f.sessions.Reset(ev.SenderID)

	f.say(ctx, ev.SenderID, fmt.Sprintf("✅ Withdrawal #%d marked as paid.", w.ID), adminMenu())
	f.say(ctx, w.UserID, fmt.Sprintf("✅ Your withdrawal was paid.\n\nAmount: %s\nMethod: %s\nDestination: %s\nReference: %s",
		money(w.Amount), w.Method.Label(), w.Destination, strings.TrimSpace(ev.Text)), nil)
	return nil
}

func (f *Flow) cancelWithdrawal(ctx context.Context, ev session.Event, _ session.Step) error {
	w, ok := f.pendingWithdrawal(ctx, ev)
	if !ok {
		return nil
	}
	f.say(ctx, ev.SenderID, fmt.Sprintf("Cancel withdrawal #%d?", w.ID), confirmMenu(actCancelWOK, w.ID))
	return nil
}

func (f *Flow) cancelWithdrawalConfirmed(ctx context.Context, ev session.Event, _ session.Step) error {
	id, ok := parseID(ev.Data)
	if !ok {
		return nil
	}
	w, err := f.engine.CancelWithdrawal(ctx, id)
	switch {
	case errors.Is(err, lifecycle.ErrAlreadyProcessed), errors.Is(err, lifecycle.ErrWithdrawalNotFound):
		f.say(ctx, ev.SenderID, fmt.Sprintf("Withdrawal #%d was already processed.", id), nil)
		return nil
	case err != nil:
		return f.internalError(ctx, ev, "cancel withdrawal", err)
	}

	f.say(ctx, ev.SenderID, fmt.Sprintf("Withdrawal #%d cancelled.", id), adminMenu())
	f.say(ctx, w.UserID, fmt.Sprintf("Your withdrawal request #%d was cancelled. Your balance is still available.", id), nil)
	return nil
}

func (f *Flow) inquiry(ctx context.Context, ev session.Event, _ session.Step) error {
	var userID int64
	if _, err := fmt.Sscan(ev.Data, &userID); err != nil {
		return nil
	}
	u, err := f.store.User(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		f.say(ctx, ev.SenderID, fmt.Sprintf("User %d is unknown.", userID), nil)
		return nil
	}
	if err != nil {
		return f.internalError(ctx, ev, "inquiry", err)
	}

	status, end := "inactive", "-"
	if u.SubscriptionActive {
		status = "active"
	}
	if u.SubscriptionEnd != nil {
		end = u.SubscriptionEnd.Format("2006-01-02")
	}
	referrer := "-"
	if u.ReferrerID != nil {
		referrer = fmt.Sprintf("%d", *u.ReferrerID)
	}
	f.say(ctx, ev.SenderID, fmt.Sprintf("🔎 User %s\nBalance: %s\nSubscription: %s (until %s)\nReferred by: %s\nJoined: %s",
		displayUser(u), money(u.ReferralBalance), status, end, referrer, u.CreatedAt.Format("2006-01-02")), nil)
	return nil
}
