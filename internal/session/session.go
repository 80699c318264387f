// Package session holds the assistant's single state machine and fans its
// changes out to observers.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"
)

type State int

const (
	Idle State = iota
	Listening
	Speaking
	Suspended
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Speaking:
		return "speaking"
	case Suspended:
		return "suspended"
	default:
		return "unknown"
	}
}

// Level classifies observer messages.
type Level int

const (
	LevelStatus Level = iota
	LevelError
	LevelUser
	LevelAssistant
)

func (l Level) String() string {
	switch l {
	case LevelStatus:
		return "status"
	case LevelError:
		return "error"
	case LevelUser:
		return "user"
	case LevelAssistant:
		return "assistant"
	default:
		return "unknown"
	}
}

// Message is a status, error or chat line for observers.
type Message struct {
	Level Level
	Text  string
	Time  time.Time
}

// Observer receives state changes and messages. Calls come from a single
// dispatcher goroutine, never from the goroutine that made the change.
type Observer interface {
	StateChanged(State)
	Message(Message)
}

type notification struct {
	state *State
	msg   *Message
}

const defaultBuffer = 64

// Controller is the only place the session state changes.
type Controller struct {
	mu        sync.Mutex
	state     State
	observers []Observer
	onSuspend []func()

	events chan notification
	logger *slog.Logger
}

// NewController returns a controller in Idle. buffer bounds the number of
// undelivered notifications; beyond it notifications are dropped.
func NewController(buffer int, logger *slog.Logger) *Controller {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		events: make(chan notification, buffer),
		logger: logger,
	}
}

// Subscribe adds an observer. Subscribe before Run to see every change.
func (c *Controller) Subscribe(o Observer) {
	c.mu.Lock()
	c.observers = append(c.observers, o)
	c.mu.Unlock()
}

// Unsubscribe removes o. Observers are compared by identity, so subscribe
// pointers; an observer of a non-comparable type can never be removed.
func (c *Controller) Unsubscribe(o Observer) {
	if o == nil {
		return
	}
	if !reflect.TypeOf(o).Comparable() {
		c.logger.Warn("cannot unsubscribe non-comparable observer", "type", fmt.Sprintf("%T", o))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, obs := range c.observers {
		if obs == o {
			c.observers = append(c.observers[:i:i], c.observers[i+1:]...)
			return
		}
	}
}

// OnSuspend registers a hook run synchronously by Suspend after the state
// has changed.
func (c *Controller) OnSuspend(fn func()) {
	c.mu.Lock()
	c.onSuspend = append(c.onSuspend, fn)
	c.mu.Unlock()
}

// Run delivers notifications until ctx is done.
func (c *Controller) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-c.events:
			c.mu.Lock()
			obs := append([]Observer(nil), c.observers...)
			c.mu.Unlock()
			for _, o := range obs {
				if n.state != nil {
					o.StateChanged(*n.state)
				}
				if n.msg != nil {
					o.Message(*n.msg)
				}
			}
		}
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Suspended() bool { return c.State() == Suspended }

// Listening moves to Listening unless suspended. It reports whether the
// state changed.
func (c *Controller) Listening() bool { return c.set(Listening, false) }

func (c *Controller) Speaking() bool { return c.set(Speaking, false) }

func (c *Controller) Idle() bool { return c.set(Idle, false) }

// Suspend moves to Suspended from any state and runs the suspend hooks.
func (c *Controller) Suspend() {
	changed := c.set(Suspended, true)
	if !changed {
		return
	}
	c.mu.Lock()
	hooks := append([]func(){}, c.onSuspend...)
	c.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

// Resume leaves Suspended for Idle. It is a no-op in any other state.
func (c *Controller) Resume() bool {
	c.mu.Lock()
	if c.state != Suspended {
		c.mu.Unlock()
		return false
	}
	c.state = Idle
	c.publishLocked(notification{state: stateRef(Idle)})
	c.mu.Unlock()
	return true
}

// Post sends a message to observers.
func (c *Controller) Post(level Level, text string) {
	msg := Message{Level: level, Text: text, Time: time.Now()}
	c.mu.Lock()
	c.publishLocked(notification{msg: &msg})
	c.mu.Unlock()
}

func (c *Controller) set(to State, force bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == to {
		return false
	}
	if c.state == Suspended && !force {
		return false
	}
	c.state = to
	c.publishLocked(notification{state: stateRef(to)})
	return true
}

func (c *Controller) publishLocked(n notification) {
	if len(c.observers) == 0 {
		return
	}
	select {
	case c.events <- n:
	default:
		c.logger.Debug("session notification dropped", "buffer", cap(c.events))
	}
}

func stateRef(s State) *State { return &s }
