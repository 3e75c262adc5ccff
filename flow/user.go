package flow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"channel-sub-bot/lifecycle"
	"channel-sub-bot/model"
	"channel-sub-bot/notify"
	"channel-sub-bot/session"
	"channel-sub-bot/store"
)

func (f *Flow) registerUser() {
	m := f.machine

	m.Command("/start", f.start)
	m.Command("/cancel", f.cancel)
	m.Action(actCancel, f.cancel)

	m.Action(actSubscribe, f.subscribe)
	m.Action(actPayMethod, f.choosePaymentMethod)
	session.Handle(m, session.KindPhoto, f.receiveProof)
	session.Handle(m, session.KindText, f.proofNotPhoto)

	m.Action(actReferral, f.referral)
	m.Action(actBalance, f.balance)

	m.Action(actWithdraw, f.withdraw)
	m.Action(actWdMethod, f.chooseWithdrawMethod)
	session.Handle(m, session.KindText, f.methodNotChosen)
	session.Handle(m, session.KindText, f.receiveDestination)
	m.Action(actWdConfirm, f.confirmWithdrawal)
	m.Action(actWdEdit, f.editWithdrawal)
	session.Handle(m, session.KindText, f.withdrawalNotConfirmed)

	m.Action(actSupport, f.support)
	session.Handle(m, session.KindText, f.receiveSupportText)
}

func (f *Flow) start(ctx context.Context, ev session.Event, _ session.Step) error {
	var referrer *int64
	if len(ev.Args) > 0 {
		if id, err := strconv.ParseInt(ev.Args[0], 10, 64); err == nil && id != ev.SenderID {
			referrer = &id
		}
	}

	if _, err := f.store.EnsureUser(ctx, ev.SenderID, ev.Username, referrer); err != nil {
		return f.internalError(ctx, ev, "register user", err)
	}
	f.sessions.Reset(ev.SenderID)

	f.say(ctx, ev.SenderID, "Welcome! Subscribe to get access to the channel, "+
		"invite friends to earn rewards, and withdraw your balance at any time.", mainMenu(f.isAdmin(ev.SenderID)))
	return nil
}

func (f *Flow) subscribe(ctx context.Context, ev session.Event, _ session.Step) error {
	methods, err := f.store.PaymentMethods(ctx)
	if err != nil {
		return f.internalError(ctx, ev, "list payment methods", err)
	}
	if len(methods) == 0 {
		f.say(ctx, ev.SenderID, "No payment methods are available right now. Please try again later.", nil)
		return nil
	}

	price, err := f.store.Setting(ctx, model.SettingSubscriptionPrice)
	if err != nil {
		return f.internalError(ctx, ev, "read price", err)
	}
	f.say(ctx, ev.SenderID, fmt.Sprintf("The subscription costs %s. Choose how you want to pay:", price), paymentMethodsMenu(methods))
	return nil
}

func (f *Flow) choosePaymentMethod(ctx context.Context, ev session.Event, _ session.Step) error {
	id, ok := parseID(ev.Data)
	if !ok {
		return nil
	}

	method, err := f.store.PaymentMethod(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		f.say(ctx, ev.SenderID, "This payment method is no longer available.", nil)
		return nil
	}
	if err != nil {
		return f.internalError(ctx, ev, "get payment method", err)
	}

	price, err := f.store.Setting(ctx, model.SettingSubscriptionPrice)
	if err != nil {
		return f.internalError(ctx, ev, "read price", err)
	}

	f.sessions.Set(ev.SenderID, session.ProofImage{MethodID: method.ID})
	f.say(ctx, ev.SenderID, fmt.Sprintf("Send %s via %s to:\n\n%s\n\nThen send a photo of the receipt here.",
		price, method.Name, method.Destination), cancelOnly())
	return nil
}

func (f *Flow) proofNotPhoto(ctx context.Context, ev session.Event, _ session.ProofImage) error {
	f.say(ctx, ev.SenderID, "Please send the receipt as a photo.", cancelOnly())
	return nil
}

func (f *Flow) receiveProof(ctx context.Context, ev session.Event, step session.ProofImage) error {
	p, err := f.engine.SubmitPayment(ctx, ev.SenderID, step.MethodID, ev.FileRef)
	if err != nil {
		return f.internalError(ctx, ev, "submit payment", err)
	}
	f.sessions.Reset(ev.SenderID)

	f.say(ctx, ev.SenderID, fmt.Sprintf("Receipt received (payment #%d). An admin will review it shortly.", p.ID), mainMenu(f.isAdmin(ev.SenderID)))
	f.notifier.NotifyAdmins(ctx, notify.Photo(p.Proof, f.paymentCaption(ctx, p), paymentModerationMenu(p.ID)))
	return nil
}

func (f *Flow) referral(ctx context.Context, ev session.Event, _ session.Step) error {
	u, err := f.store.User(ctx, ev.SenderID)
	if errors.Is(err, store.ErrNotFound) {
		f.say(ctx, ev.SenderID, "Please send /start first.", nil)
		return nil
	}
	if err != nil {
		return f.internalError(ctx, ev, "get user", err)
	}
	if !u.SubscriptionActive {
		f.say(ctx, ev.SenderID, "Your referral link becomes available once your subscription is active.", nil)
		return nil
	}

	reward, err := f.store.Setting(ctx, model.SettingReferralReward)
	if err != nil {
		return f.internalError(ctx, ev, "read reward", err)
	}
	f.say(ctx, ev.SenderID, fmt.Sprintf("Your referral link:\nhttps://t.me/%s?start=%d\n\nYou earn %s for every friend who subscribes.",
		f.botUsername, u.ID, reward), nil)
	return nil
}

func (f *Flow) balance(ctx context.Context, ev session.Event, _ session.Step) error {
	u, err := f.store.User(ctx, ev.SenderID)
	if errors.Is(err, store.ErrNotFound) {
		f.say(ctx, ev.SenderID, "Please send /start first.", nil)
		return nil
	}
	if err != nil {
		return f.internalError(ctx, ev, "get user", err)
	}
	f.say(ctx, ev.SenderID, "Your balance: "+money(u.ReferralBalance), nil)
	return nil
}

func (f *Flow) withdraw(ctx context.Context, ev session.Event, _ session.Step) error {
	q, err := f.engine.WithdrawalQuote(ctx, ev.SenderID)
	switch {
	case errors.Is(err, lifecycle.ErrPendingWithdrawalExists):
		f.say(ctx, ev.SenderID, "You already have a pending withdrawal request. Please wait until it is processed.", nil)
		return nil
	case errors.Is(err, lifecycle.ErrBelowMinimum):
		f.say(ctx, ev.SenderID, fmt.Sprintf("Your balance is %s. The minimum withdrawal is %s.", money(q.Balance), money(q.Minimum)), nil)
		return nil
	case errors.Is(err, lifecycle.ErrUserNotFound):
		f.say(ctx, ev.SenderID, "Please send /start first.", nil)
		return nil
	case err != nil:
		return f.internalError(ctx, ev, "withdrawal quote", err)
	}

	f.sessions.Set(ev.SenderID, session.WithdrawMethod{Amount: q.Balance})
	f.say(ctx, ev.SenderID, fmt.Sprintf("You can withdraw %s. Choose a payout method:", money(q.Balance)), withdrawMethodsMenu())
	return nil
}

func (f *Flow) chooseWithdrawMethod(ctx context.Context, ev session.Event, step session.Step) error {
	st, ok := step.(session.WithdrawMethod)
	if !ok {
		f.say(ctx, ev.SenderID, "This request has expired. Please start the withdrawal again.", nil)
		return nil
	}
	method := model.WithdrawalMethod(ev.Data)
	if !method.Valid() {
		return nil
	}

	f.sessions.Set(ev.SenderID, session.Destination{Method: method, Amount: st.Amount})
	f.say(ctx, ev.SenderID, destinationPrompt(method), cancelOnly())
	return nil
}

func (f *Flow) methodNotChosen(ctx context.Context, ev session.Event, _ session.WithdrawMethod) error {
	f.say(ctx, ev.SenderID, "Please choose a payout method with the buttons above.", withdrawMethodsMenu())
	return nil
}

func (f *Flow) withdrawalNotConfirmed(ctx context.Context, ev session.Event, _ session.Confirmation) error {
	f.say(ctx, ev.SenderID, "Please confirm, edit or cancel the request with the buttons.", withdrawConfirmMenu())
	return nil
}

func destinationPrompt(method model.WithdrawalMethod) string {
	if method == model.MethodUSDT {
		return "Send your USDT (BEP20) wallet address. It starts with 0x."
	}
	return "Send your Sham Cash code."
}

func (f *Flow) receiveDestination(ctx context.Context, ev session.Event, step session.Destination) error {
	dest, err := lifecycle.ValidateDestination(step.Method, ev.Text)
	if err != nil {
		f.say(ctx, ev.SenderID, invalidDestinationText(step.Method), cancelOnly())
		return nil
	}

	f.sessions.Set(ev.SenderID, session.Confirmation{Method: step.Method, Amount: step.Amount, Destination: dest})
	f.say(ctx, ev.SenderID, fmt.Sprintf("Please confirm your withdrawal:\n\nAmount: %s\nMethod: %s\nDestination: %s",
		money(step.Amount), step.Method.Label(), dest), withdrawConfirmMenu())
	return nil
}

func invalidDestinationText(method model.WithdrawalMethod) string {
	if method == model.MethodUSDT {
		return "That does not look like a BEP20 address. It must start with 0x and be at least 10 characters. Try again:"
	}
	return "That does not look like a Sham Cash code. It must be at least 5 characters, without spaces or links. Try again:"
}

func (f *Flow) editWithdrawal(ctx context.Context, ev session.Event, step session.Step) error {
	st, ok := step.(session.Confirmation)
	if !ok {
		return nil
	}
	f.sessions.Set(ev.SenderID, st.Edit())
	f.say(ctx, ev.SenderID, destinationPrompt(st.Method), cancelOnly())
	return nil
}

func (f *Flow) confirmWithdrawal(ctx context.Context, ev session.Event, step session.Step) error {
	st, ok := step.(session.Confirmation)
	if !ok {
		f.say(ctx, ev.SenderID, "This request has expired. Please start the withdrawal again.", nil)
		return nil
	}
	f.sessions.Reset(ev.SenderID)

	w, err := f.engine.RequestWithdrawal(ctx, lifecycle.WithdrawalRequest{
		UserID:      ev.SenderID,
		Method:      st.Method,
		Destination: st.Destination,
		Amount:      st.Amount,
	})
	switch {
	case errors.Is(err, lifecycle.ErrPendingWithdrawalExists):
		f.say(ctx, ev.SenderID, "You already have a pending withdrawal request.", nil)
		return nil
	case errors.Is(err, lifecycle.ErrBelowMinimum):
		f.say(ctx, ev.SenderID, "Your balance is below the minimum withdrawal.", nil)
		return nil
	case errors.Is(err, lifecycle.ErrBalanceChanged):
		f.say(ctx, ev.SenderID, "Your balance changed while you were filling in the request. Please start the withdrawal again.", nil)
		return nil
	case errors.Is(err, lifecycle.ErrInvalidDestination), errors.Is(err, lifecycle.ErrUnknownMethod):
		f.say(ctx, ev.SenderID, "The destination is not valid. Please start the withdrawal again.", nil)
		return nil
	case err != nil:
		return f.internalError(ctx, ev, "request withdrawal", err)
	}

	f.say(ctx, ev.SenderID, fmt.Sprintf("Withdrawal request #%d for %s submitted. You will be notified once it is paid.",
		w.ID, money(w.Amount)), mainMenu(f.isAdmin(ev.SenderID)))
	f.notifier.NotifyAdmins(ctx, notify.Text(f.withdrawalText(ctx, w), withdrawalModerationMenu(*w)))
	return nil
}

func (f *Flow) support(ctx context.Context, ev session.Event, _ session.Step) error {
	f.sessions.Set(ev.SenderID, session.SupportText{})
	f.say(ctx, ev.SenderID, "Type your message for support:", cancelOnly())
	return nil
}

func (f *Flow) receiveSupportText(ctx context.Context, ev session.Event, _ session.SupportText) error {
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return nil
	}
	f.sessions.Reset(ev.SenderID)

	from := fmt.Sprintf("%d", ev.SenderID)
	if ev.Username != "" {
		from = fmt.Sprintf("@%s (%d)", ev.Username, ev.SenderID)
	}
	f.notifier.NotifyAdmins(ctx, notify.Text(fmt.Sprintf("🆘 Support message from %s:\n\n%s", from, text),
		notify.Keyboard{notify.Row(btn("↩️ Reply", actReplyTo, ev.SenderID))}))
	f.say(ctx, ev.SenderID, "Your message was sent to support.", mainMenu(f.isAdmin(ev.SenderID)))
	return nil
}
