package flow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"channel-sub-bot/clock"
	"channel-sub-bot/lifecycle"
	"channel-sub-bot/model"
	"channel-sub-bot/notify"
	"channel-sub-bot/session"
	"channel-sub-bot/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adminID = 900

type outMsg struct {
	to    int64
	text  string
	photo string
	kb    notify.Keyboard
}

type fakeSender struct {
	mu   sync.Mutex
	out  []outMsg
	fail map[int64]error
}

func (f *fakeSender) SendText(_ context.Context, to int64, text string, kb notify.Keyboard) error {
	return f.record(outMsg{to: to, text: text, kb: kb})
}

func (f *fakeSender) SendPhoto(_ context.Context, to int64, fileRef, caption string, kb notify.Keyboard) error {
	return f.record(outMsg{to: to, text: caption, photo: fileRef, kb: kb})
}

func (f *fakeSender) record(m outMsg) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[m.to]; err != nil {
		return err
	}
	f.out = append(f.out, m)
	return nil
}

// last returns the most recent message delivered to id.
func (f *fakeSender) last(t *testing.T, id int64) outMsg {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.out) - 1; i >= 0; i-- {
		if f.out[i].to == id {
			return f.out[i]
		}
	}
	t.Fatalf("nothing sent to %d", id)
	return outMsg{}
}

func (f *fakeSender) count(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.out {
		if m.to == id {
			n++
		}
	}
	return n
}

func hasAction(kb notify.Keyboard, action string) bool {
	for _, row := range kb {
		for _, b := range row {
			if b.Action == action {
				return true
			}
		}
	}
	return false
}

type harness struct {
	t      *testing.T
	flow   *Flow
	store  *store.Store
	sender *fakeSender
}

var dbSeq atomic.Int64

func newHarness(t *testing.T) *harness {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	s, err := store.Open(fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	sender := &fakeSender{fail: map[int64]error{}}
	engine := lifecycle.New(s,
		lifecycle.WithClock(clock.Fixed(time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC))),
		lifecycle.WithSubscriptionEnd(time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)),
	)
	f := New(Deps{
		Store:       s,
		Engine:      engine,
		Notifier:    notify.New(sender, []int64{adminID}, notify.WithBatchSize(2)),
		Admins:      []int64{adminID},
		BotUsername: "subbot",
	})
	return &harness{t: t, flow: f, store: s, sender: sender}
}

func (h *harness) send(ev session.Event) {
	h.t.Helper()
	require.NoError(h.t, h.flow.Dispatch(context.Background(), ev))
}

func (h *harness) command(from int64, cmd string, args ...string) {
	h.t.Helper()
	h.send(session.Event{SenderID: from, Kind: session.KindCommand, Command: cmd, Args: args})
}

func (h *harness) text(from int64, text string) {
	h.t.Helper()
	h.send(session.Event{SenderID: from, Kind: session.KindText, Text: text})
}

func (h *harness) press(from int64, action string, data any) {
	h.t.Helper()
	h.send(session.Event{SenderID: from, Kind: session.KindButton, Action: action, Data: fmt.Sprint(data)})
}

func (h *harness) state(id int64) session.State {
	return h.flow.sessions.State(id)
}

func TestEveryStepAcceptsText(t *testing.T) {
	h := newHarness(t)
	for _, s := range session.States()[1:] {
		assert.True(t, h.flow.Machine().Handles(s, session.KindText), "no text handler for %s", s)
	}
	assert.True(t, h.flow.Machine().Handles(session.AwaitingProofImage, session.KindPhoto))
}

func TestSubscriptionFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	method, err := h.store.CreatePaymentMethod(ctx, "Sham Cash", "SC-PAY-HERE")
	require.NoError(t, err)
	_, err = h.store.AddChannelLinks(ctx, []string{"https://t.me/+invite1"})
	require.NoError(t, err)

	h.command(1, "/start")
	assert.True(t, hasAction(h.sender.last(t, 1).kb, actSubscribe))

	h.press(1, actSubscribe, "")
	assert.True(t, hasAction(h.sender.last(t, 1).kb, actPayMethod))

	h.press(1, actPayMethod, method.ID)
	assert.Equal(t, session.AwaitingProofImage, h.state(1))
	assert.Contains(t, h.sender.last(t, 1).text, "SC-PAY-HERE")

	h.text(1, "I paid")
	assert.Equal(t, session.AwaitingProofImage, h.state(1))
	assert.Contains(t, h.sender.last(t, 1).text, "photo")

	h.send(session.Event{SenderID: 1, Kind: session.KindPhoto, FileRef: "receipt-file"})
	assert.Equal(t, session.Idle, h.state(1))

	alert := h.sender.last(t, adminID)
	assert.Equal(t, "receipt-file", alert.photo)
	assert.True(t, hasAction(alert.kb, actApprove))

	pending, err := h.store.PendingPayments(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	p := pending[0]

	// non-admins cannot moderate
	before := h.sender.count(1)
	h.press(1, actApprove, p.ID)
	assert.Equal(t, before, h.sender.count(1))
	assert.Equal(t, session.Idle, h.state(1))

	h.press(adminID, actApprove, p.ID)
	assert.Equal(t, session.AwaitingApprovalReference, h.state(adminID))

	h.text(adminID, "TXN1")
	assert.Equal(t, session.Idle, h.state(adminID))
	assert.Contains(t, h.sender.last(t, 1).text, "https://t.me/+invite1")

	got, err := h.store.Payment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentApproved, got.Status)

	// a second admin acting on the same payment is told it is done
	h.press(adminID, actApprove, p.ID)
	assert.Contains(t, h.sender.last(t, adminID).text, "already processed")
	assert.Equal(t, session.Idle, h.state(adminID))
}

func TestApprovalWithEmptyPoolKeepsPaymentPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	method, err := h.store.CreatePaymentMethod(ctx, "M", "D")
	require.NoError(t, err)

	h.command(1, "/start")
	h.press(1, actPayMethod, method.ID)
	h.send(session.Event{SenderID: 1, Kind: session.KindPhoto, FileRef: "r"})

	pending, err := h.store.PendingPayments(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	h.press(adminID, actApprove, pending[0].ID)
	h.text(adminID, "TXN1")
	assert.Contains(t, h.sender.last(t, adminID).text, "No invite links left")

	got, err := h.store.Payment(ctx, pending[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPending, got.Status)
}

func TestReceiptKeptWhenMethodDeletedMidFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	method, err := h.store.CreatePaymentMethod(ctx, "M", "D")
	require.NoError(t, err)

	h.command(1, "/start")
	h.press(1, actPayMethod, method.ID)
	require.NoError(t, h.store.DeletePaymentMethod(ctx, method.ID))
	h.send(session.Event{SenderID: 1, Kind: session.KindPhoto, FileRef: "r"})

	assert.Equal(t, session.Idle, h.state(1))
	assert.Contains(t, h.sender.last(t, 1).text, "Receipt received")

	pending, err := h.store.PendingPayments(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, method.ID, pending[0].PaymentMethodID)
	assert.Contains(t, h.sender.last(t, adminID).text, fmt.Sprintf("#%d (deleted)", method.ID))
}

func TestWithdrawalFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.PutSetting(ctx, model.SettingMinWithdraw, "5"))

	h.command(2, "/start")
	require.NoError(t, h.store.Transact(ctx, func(tx *store.Tx) error {
		return tx.CreditBalance(2, decimal.NewFromInt(12))
	}))

	h.press(2, actWithdraw, "")
	assert.Equal(t, session.AwaitingWithdrawMethod, h.state(2))

	h.press(2, actWdMethod, model.MethodShamCash)
	assert.Equal(t, session.AwaitingDestination, h.state(2))

	h.text(2, "SC 1")
	assert.Equal(t, session.AwaitingDestination, h.state(2))

	h.text(2, "SC999001")
	assert.Equal(t, session.AwaitingConfirmation, h.state(2))
	assert.Contains(t, h.sender.last(t, 2).text, "12.00")

	h.press(2, actWdEdit, "")
	step, ok := h.flow.sessions.Get(2).(session.Destination)
	require.True(t, ok)
	assert.Equal(t, model.MethodShamCash, step.Method)
	assert.True(t, decimal.NewFromInt(12).Equal(step.Amount))

	h.text(2, "SC999002")
	h.press(2, actWdConfirm, "")
	assert.Equal(t, session.Idle, h.state(2))

	list, err := h.store.PendingWithdrawals(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	w := list[0]
	assert.Equal(t, "SC999002", w.Destination)
	assert.True(t, hasAction(h.sender.last(t, adminID).kb, actPay))

	h.press(2, actWithdraw, "")
	assert.Contains(t, h.sender.last(t, 2).text, "pending withdrawal")
	assert.Equal(t, session.Idle, h.state(2))

	h.press(adminID, actPay, w.ID)
	assert.Equal(t, session.AwaitingPayoutReference, h.state(adminID))
	h.text(adminID, "PAY-1")

	u, err := h.store.User(ctx, 2)
	require.NoError(t, err)
	assert.True(t, u.ReferralBalance.IsZero())
	assert.Contains(t, h.sender.last(t, 2).text, "PAY-1")
}

func TestBalanceDriftBeforeConfirm(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	credit := func(n int64) {
		require.NoError(t, h.store.Transact(ctx, func(tx *store.Tx) error {
			return tx.CreditBalance(3, decimal.NewFromInt(n))
		}))
	}

	h.command(3, "/start")
	credit(10)
	h.press(3, actWithdraw, "")
	h.press(3, actWdMethod, model.MethodUSDT)
	h.text(3, "0x1234567890")
	credit(1)
	h.press(3, actWdConfirm, "")

	assert.Contains(t, h.sender.last(t, 3).text, "balance changed")
	pending, err := h.store.HasPendingWithdrawal(ctx, 3)
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestCancelResetsAnyFlow(t *testing.T) {
	h := newHarness(t)
	h.command(4, "/start")

	h.press(4, actSupport, "")
	assert.Equal(t, session.AwaitingSupportText, h.state(4))
	h.press(4, actCancel, "")
	assert.Equal(t, session.Idle, h.state(4))

	h.press(adminID, actAdmBroadcast, "")
	assert.Equal(t, session.AwaitingBroadcastText, h.state(adminID))
	h.command(adminID, "/cancel")
	assert.Equal(t, session.Idle, h.state(adminID))
}

func TestSupportReachesAdmins(t *testing.T) {
	h := newHarness(t)
	h.command(5, "/start")
	h.press(5, actSupport, "")
	h.send(session.Event{SenderID: 5, Username: "bob", Kind: session.KindText, Text: "where is my link?"})

	msg := h.sender.last(t, adminID)
	assert.Contains(t, msg.text, "@bob")
	assert.Contains(t, msg.text, "where is my link?")
	assert.True(t, hasAction(msg.kb, actReplyTo))
}

func TestReferralLinkNeedsActiveSubscription(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.command(6, "/start", "6")
	u, err := h.store.User(ctx, 6)
	require.NoError(t, err)
	assert.Nil(t, u.ReferrerID)

	h.press(6, actReferral, "")
	assert.NotContains(t, h.sender.last(t, 6).text, "t.me/subbot")

	require.NoError(t, h.store.Transact(ctx, func(tx *store.Tx) error {
		return tx.ActivateSubscription(6, time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC))
	}))
	h.press(6, actReferral, "")
	assert.Contains(t, h.sender.last(t, 6).text, "https://t.me/subbot?start=6")
}

func TestAdminSettingsAndLinks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.command(7, "/admin")
	assert.Zero(t, h.sender.count(7))

	h.press(adminID, actSetEdit, model.SettingReferralReward)
	h.text(adminID, "abc")
	assert.Equal(t, session.AwaitingSettingValue, h.state(adminID))
	h.text(adminID, "3")
	assert.Equal(t, session.Idle, h.state(adminID))

	v, err := h.store.Setting(ctx, model.SettingReferralReward)
	require.NoError(t, err)
	assert.Equal(t, "3", v)

	h.press(adminID, actLinksAdd, "")
	h.text(adminID, "https://t.me/+a\nnot a link\nhttps://t.me/+b\nhttps://t.me/+a")
	assert.Contains(t, h.sender.last(t, adminID).text, "Added 2 links, skipped 1")

	links, err := h.store.ChannelLinks(ctx)
	require.NoError(t, err)
	assert.Len(t, links, 2)
}

func TestAdminPaymentMethodCRUD(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.press(adminID, actPmAdd, "")
	h.text(adminID, "USDT")
	h.text(adminID, "0xfeed")
	assert.Equal(t, session.AwaitingMethodConfirmation, h.state(adminID))
	h.press(adminID, actPmSave, "")

	methods, err := h.store.PaymentMethods(ctx)
	require.NoError(t, err)
	require.Len(t, methods, 1)
	assert.Equal(t, "0xfeed", methods[0].Destination)

	h.press(adminID, actPmEdit, methods[0].ID)
	h.text(adminID, "USDT BEP20")
	h.text(adminID, "0xbeef")
	h.press(adminID, actPmSave, "")

	m, err := h.store.PaymentMethod(ctx, methods[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "USDT BEP20", m.Name)

	h.press(adminID, actPmDelOK, m.ID)
	methods, err = h.store.PaymentMethods(ctx)
	require.NoError(t, err)
	assert.Empty(t, methods)
}

func TestBroadcastAndDirectMessage(t *testing.T) {
	h := newHarness(t)
	for _, id := range []int64{11, 12, 13} {
		h.command(id, "/start")
	}
	h.sender.fail[13] = notify.ErrBlocked

	h.press(adminID, actAdmBroadcast, "")
	before := h.sender.count(11)
	h.text(adminID, "   ")
	assert.Equal(t, session.AwaitingBroadcastText, h.state(adminID))
	assert.Contains(t, h.sender.last(t, adminID).text, "cannot be empty")
	assert.Equal(t, before, h.sender.count(11))
	h.text(adminID, "Big news")
	assert.Equal(t, "Big news", h.sender.last(t, 11).text)
	assert.Contains(t, h.sender.last(t, adminID).text, "Delivered to 2 of 3")

	h.press(adminID, actAdmMessage, "")
	h.text(adminID, "not-a-number")
	assert.Equal(t, session.AwaitingTargetID, h.state(adminID))
	h.text(adminID, "13")
	h.text(adminID, " \n ")
	assert.Equal(t, session.AwaitingTargetText, h.state(adminID))
	assert.Contains(t, h.sender.last(t, adminID).text, "cannot be empty")
	h.text(adminID, "hello")
	assert.Contains(t, h.sender.last(t, adminID).text, "blocked")

	h.press(adminID, actReplyTo, 12)
	h.text(adminID, "we fixed it")
	assert.Contains(t, h.sender.last(t, 12).text, "we fixed it")
}
