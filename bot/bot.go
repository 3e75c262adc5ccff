package bot

import (
	"context"
	"errors"
	"net/http"
	"time"

	"channel-sub-bot/logger"
	"channel-sub-bot/notify"
	"channel-sub-bot/session"

	"gopkg.in/telebot.v3"
)

// Dispatcher receives every inbound update as a transport-neutral event.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev session.Event) error
}

// Bot is the Telegram side of the service: it turns updates into session
// events and implements notify.Sender.
type Bot struct {
	B *telebot.Bot

	dispatcher Dispatcher
	base       context.Context
}

// NewBot connects to the Bot API. Updates are processed one at a time in
// arrival order.
func NewBot(token string, pollTimeout, sendTimeout time.Duration) (*Bot, error) {
	bot := &Bot{base: context.Background()}

	pref := telebot.Settings{
		Token:       token,
		Poller:      &telebot.LongPoller{Timeout: pollTimeout},
		Synchronous: true,
		Client:      &http.Client{Timeout: pollTimeout + sendTimeout},
		OnError:     bot.onError,
	}

	b, err := telebot.NewBot(pref)
	if err != nil {
		return nil, err
	}
	bot.B = b
	return bot, nil
}

func (bot *Bot) Username() string {
	if bot.B.Me == nil {
		return ""
	}
	return bot.B.Me.Username
}

// Register routes the given commands and button actions, plus every text
// and photo message, to d.
func (bot *Bot) Register(d Dispatcher, commands, actions []string) {
	bot.dispatcher = d

	for _, cmd := range commands {
		bot.B.Handle(cmd, bot.handleCommand)
	}
	for _, action := range actions {
		bot.B.Handle(&telebot.Btn{Unique: action}, bot.handleButton)
	}

	bot.B.Handle(telebot.OnText, bot.handleText)
	bot.B.Handle(telebot.OnPhoto, bot.handlePhoto)

	// Buttons from old keyboards whose action no longer exists
	bot.B.Handle(telebot.OnCallback, func(c telebot.Context) error { return c.Respond() })
}

// Start polls until ctx is cancelled.
func (bot *Bot) Start(ctx context.Context) {
	bot.base = ctx
	go func() {
		<-ctx.Done()
		bot.B.Stop()
	}()
	bot.B.Start()
}

func (bot *Bot) onError(err error, c telebot.Context) {
	var userID int64
	if c != nil && c.Sender() != nil {
		userID = c.Sender().ID
	}
	logger.Log.Error("update handler failed", logger.Int64("user_id", userID), logger.Error(err))
}

// --- Inbound ---

func private(c telebot.Context) bool {
	return c.Sender() != nil && (c.Chat() == nil || c.Chat().Type == telebot.ChatPrivate)
}

func newEvent(c telebot.Context, kind session.Kind) session.Event {
	return session.Event{
		SenderID: c.Sender().ID,
		Username: c.Sender().Username,
		Kind:     kind,
	}
}

func (bot *Bot) dispatch(ev session.Event) error {
	return bot.dispatcher.Dispatch(bot.base, ev)
}

func (bot *Bot) handleCommand(c telebot.Context) error {
	if !private(c) {
		return nil
	}
	ev := newEvent(c, session.KindCommand)
	ev.Command = commandName(c.Text())
	ev.Args = c.Args()
	return bot.dispatch(ev)
}

// commandName strips arguments and the @botname suffix.
func commandName(text string) string {
	for i, r := range text {
		if r == ' ' || r == '@' || r == '\n' {
			return text[:i]
		}
	}
	return text
}

func (bot *Bot) handleText(c telebot.Context) error {
	if !private(c) {
		return nil
	}
	ev := newEvent(c, session.KindText)
	ev.Text = c.Text()
	return bot.dispatch(ev)
}

func (bot *Bot) handlePhoto(c telebot.Context) error {
	if !private(c) || c.Message().Photo == nil {
		return nil
	}
	ev := newEvent(c, session.KindPhoto)
	ev.FileRef = c.Message().Photo.FileID
	ev.Text = c.Message().Caption
	return bot.dispatch(ev)
}

func (bot *Bot) handleButton(c telebot.Context) error {
	// answer first so the client stops its spinner even if the handler is slow
	if err := c.Respond(); err != nil {
		logger.Log.Warn("callback respond failed", logger.Error(err))
	}
	if !private(c) {
		return nil
	}
	ev := newEvent(c, session.KindButton)
	ev.Action = c.Callback().Unique
	ev.Data = c.Callback().Data
	return bot.dispatch(ev)
}

// --- Outbound ---

func (bot *Bot) SendText(ctx context.Context, to int64, text string, kb notify.Keyboard) error {
	return bot.send(ctx, to, text, kb)
}

func (bot *Bot) SendPhoto(ctx context.Context, to int64, fileRef, caption string, kb notify.Keyboard) error {
	return bot.send(ctx, to, &telebot.Photo{File: telebot.File{FileID: fileRef}, Caption: caption}, kb)
}

// send gives up when ctx expires. The request itself is bounded by the
// client timeout.
func (bot *Bot) send(ctx context.Context, to int64, what interface{}, kb notify.Keyboard) error {
	opts := []interface{}{telebot.NoPreview}
	if m := markup(kb); m != nil {
		opts = append(opts, m)
	}

	done := make(chan error, 1)
	go func() {
		_, err := bot.B.Send(telebot.ChatID(to), what, opts...)
		done <- err
	}()

	select {
	case err := <-done:
		return translate(err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, telebot.ErrBlockedByUser),
		errors.Is(err, telebot.ErrUserIsDeactivated),
		errors.Is(err, telebot.ErrNotStartedByUser):
		return errors.Join(notify.ErrBlocked, err)
	case errors.Is(err, telebot.ErrChatNotFound):
		return errors.Join(notify.ErrUnknownRecipient, err)
	}
	return err
}

func markup(kb notify.Keyboard) *telebot.ReplyMarkup {
	if len(kb) == 0 {
		return nil
	}

	menu := &telebot.ReplyMarkup{}
	rows := make([]telebot.Row, 0, len(kb))
	for _, r := range kb {
		btns := make([]telebot.Btn, 0, len(r))
		for _, b := range r {
			if b.URL != "" {
				btns = append(btns, menu.URL(b.Text, b.URL))
				continue
			}
			btns = append(btns, menu.Data(b.Text, b.Action, b.Data))
		}
		rows = append(rows, menu.Row(btns...))
	}
	menu.Inline(rows...)
	return menu
}
