// Package flow implements every conversation step of the bot on top of the
// session machine. It talks to users only through notify and never touches
// the transport directly.
package flow

import (
	"context"
	"fmt"
	"slices"

	"channel-sub-bot/lifecycle"
	"channel-sub-bot/logger"
	"channel-sub-bot/model"
	"channel-sub-bot/notify"
	"channel-sub-bot/session"
	"channel-sub-bot/store"

	"github.com/shopspring/decimal"
)

const msgInternalError = "Something went wrong on our side. Please try again in a moment."

type Deps struct {
	Store    *store.Store
	Engine   *lifecycle.Engine
	Notifier *notify.Notifier
	Sessions *session.Store
	Admins   []int64

	// BotUsername is used to build referral links.
	BotUsername string
}

type Flow struct {
	store       *store.Store
	engine      *lifecycle.Engine
	notifier    *notify.Notifier
	sessions    *session.Store
	machine     *session.Machine
	admins      []int64
	botUsername string
}

func New(d Deps) *Flow {
	sessions := d.Sessions
	if sessions == nil {
		sessions = session.NewStore()
	}

	f := &Flow{
		store:       d.Store,
		engine:      d.Engine,
		notifier:    d.Notifier,
		sessions:    sessions,
		machine:     session.NewMachine(sessions),
		admins:      d.Admins,
		botUsername: d.BotUsername,
	}
	f.registerUser()
	f.registerAdmin()
	return f
}

func (f *Flow) Machine() *session.Machine {
	return f.machine
}

func (f *Flow) Dispatch(ctx context.Context, ev session.Event) error {
	return f.machine.Dispatch(ctx, ev)
}

func (f *Flow) isAdmin(id int64) bool {
	return slices.Contains(f.admins, id)
}

// adminOnly drops events from anyone outside the admin list.
func (f *Flow) adminOnly(h session.Handler) session.Handler {
	return func(ctx context.Context, ev session.Event, step session.Step) error {
		if !f.isAdmin(ev.SenderID) {
			return nil
		}
		return h(ctx, ev, step)
	}
}

func adminStep[T session.Step](f *Flow, kind session.Kind, fn func(ctx context.Context, ev session.Event, step T) error) {
	session.Handle(f.machine, kind, func(ctx context.Context, ev session.Event, step T) error {
		if !f.isAdmin(ev.SenderID) {
			return nil
		}
		return fn(ctx, ev, step)
	})
}

func (f *Flow) say(ctx context.Context, to int64, text string, kb notify.Keyboard) {
	_ = f.notifier.NotifyUser(ctx, to, notify.Text(text, kb))
}

// internalError logs err and tells the user something failed without
// showing them the error itself.
func (f *Flow) internalError(ctx context.Context, ev session.Event, op string, err error) error {
	logger.Log.Error("handler failed",
		logger.String("op", op),
		logger.Int64("user_id", ev.SenderID),
		logger.Error(err),
	)
	f.say(ctx, ev.SenderID, msgInternalError, nil)
	return nil
}

func (f *Flow) cancel(ctx context.Context, ev session.Event, _ session.Step) error {
	f.sessions.Reset(ev.SenderID)
	f.say(ctx, ev.SenderID, "Cancelled.", mainMenu(f.isAdmin(ev.SenderID)))
	return nil
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func displayUser(u *model.User) string {
	if u == nil {
		return ""
	}
	if u.Username != "" {
		return fmt.Sprintf("@%s (%d)", u.Username, u.ID)
	}
	return fmt.Sprintf("%d", u.ID)
}
