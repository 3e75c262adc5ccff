package session

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"channel-sub-bot/logger"
)

type Kind int

const (
	KindCommand Kind = iota
	KindText
	KindPhoto
	KindButton
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindText:
		return "text"
	case KindPhoto:
		return "photo"
	case KindButton:
		return "button"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Event is one inbound update, already stripped of transport details.
type Event struct {
	SenderID int64
	Username string
	Kind     Kind

	// KindCommand
	Command string
	Args    []string

	// KindText, or the caption of KindPhoto
	Text string

	// KindPhoto
	FileRef string

	// KindButton
	Action string
	Data   string
}

type Handler func(ctx context.Context, ev Event, step Step) error

type key struct {
	state State
	kind  Kind
}

// Machine routes events. Text and photos go to the handler registered for
// the sender's current state; commands and buttons are stateless.
type Machine struct {
	sessions    *Store
	transitions map[key]Handler
	commands    map[string]Handler
	actions     map[string]Handler
}

func NewMachine(sessions *Store) *Machine {
	return &Machine{
		sessions:    sessions,
		transitions: make(map[key]Handler),
		commands:    make(map[string]Handler),
		actions:     make(map[string]Handler),
	}
}

// On registers the handler for text or photo input while in state.
// Registering the same pair twice panics.
func (m *Machine) On(state State, kind Kind, h Handler) {
	if kind != KindText && kind != KindPhoto {
		panic(fmt.Sprintf("session: %s events are not routed by state", kind))
	}
	k := key{state, kind}
	if _, dup := m.transitions[k]; dup {
		panic(fmt.Sprintf("session: duplicate handler for %s/%s", state, kind))
	}
	m.transitions[k] = h
}

// Handle registers fn for the state that T belongs to and hands it the step
// already typed.
func Handle[T Step](m *Machine, kind Kind, fn func(ctx context.Context, ev Event, step T) error) {
	var zero T
	m.On(zero.State(), kind, func(ctx context.Context, ev Event, step Step) error {
		typed, ok := step.(T)
		if !ok {
			return fmt.Errorf("session: %s holds %T", zero.State(), step)
		}
		return fn(ctx, ev, typed)
	})
}

func (m *Machine) Command(name string, h Handler) {
	if _, dup := m.commands[name]; dup {
		panic("session: duplicate command " + name)
	}
	m.commands[name] = h
}

func (m *Machine) Action(name string, h Handler) {
	if _, dup := m.actions[name]; dup {
		panic("session: duplicate action " + name)
	}
	m.actions[name] = h
}

// Commands lists the registered command names, sorted.
func (m *Machine) Commands() []string {
	return slices.Sorted(maps.Keys(m.commands))
}

// Actions lists the registered button actions, sorted.
func (m *Machine) Actions() []string {
	return slices.Sorted(maps.Keys(m.actions))
}

// Handles reports whether input of kind is accepted while in state.
func (m *Machine) Handles(state State, kind Kind) bool {
	_, ok := m.transitions[key{state, kind}]
	return ok
}

// Dispatch runs the one handler the event maps to. Events with no handler
// are dropped.
func (m *Machine) Dispatch(ctx context.Context, ev Event) error {
	step := m.sessions.Get(ev.SenderID)

	var h Handler
	switch ev.Kind {
	case KindCommand:
		h = m.commands[ev.Command]
	case KindButton:
		h = m.actions[ev.Action]
	case KindText, KindPhoto:
		state := Idle
		if step != nil {
			state = step.State()
		}
		h = m.transitions[key{state, ev.Kind}]
	}

	if h == nil {
		logger.Log.Debug("event ignored",
			logger.Int64("user_id", ev.SenderID),
			logger.String("kind", ev.Kind.String()),
			logger.String("state", m.sessions.State(ev.SenderID).String()),
		)
		return nil
	}
	return h(ctx, ev, step)
}
