package notify

import (
	"context"
	"errors"
)

var (
	// ErrBlocked means the recipient has blocked the bot.
	ErrBlocked = errors.New("recipient blocked the bot")
	// ErrUnknownRecipient means the transport has no chat with the recipient.
	ErrUnknownRecipient = errors.New("recipient not found")
)

// Button is an inline button. Pressing it produces a button event carrying
// Action and Data. A button with a URL opens the link instead.
type Button struct {
	Text   string
	Action string
	Data   string
	URL    string
}

// Keyboard is rows of inline buttons.
type Keyboard [][]Button

// Row is a convenience for building keyboards.
func Row(buttons ...Button) []Button {
	return buttons
}

// Sender is the outbound side of the chat transport.
type Sender interface {
	SendText(ctx context.Context, to int64, text string, kb Keyboard) error
	SendPhoto(ctx context.Context, to int64, fileRef, caption string, kb Keyboard) error
}

// Message is what gets delivered: a text, or a photo with Text as caption.
type Message struct {
	Text     string
	Photo    string
	Keyboard Keyboard
}

func Text(text string, kb Keyboard) Message {
	return Message{Text: text, Keyboard: kb}
}

func Photo(fileRef, caption string, kb Keyboard) Message {
	return Message{Photo: fileRef, Text: caption, Keyboard: kb}
}
