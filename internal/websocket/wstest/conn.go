// Package wstest provides an in-memory interfaces.Connection for tests of
// the packages layered on the websocket registry.
package wstest

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"schoolhub/pkg/types"
)

var ErrClosed = errors.New("wstest: connection closed")

// Conn records every frame sent to it.
type Conn struct {
	id       string
	identity types.Identity

	mu      sync.Mutex
	frames  [][]byte
	closed  bool
	sendErr error
	panics  bool
	onSend  func(frame []byte)
}

var seq struct {
	sync.Mutex
	n int
}

// NewConn returns an open connection for userID with role.
func NewConn(userID string, role types.Role) *Conn {
	seq.Lock()
	seq.n++
	id := fmt.Sprintf("test-%d", seq.n)
	seq.Unlock()
	return &Conn{id: id, identity: types.Identity{UserID: userID, Role: role}}
}

func (c *Conn) ID() string               { return c.id }
func (c *Conn) Identity() types.Identity { return c.identity }

// Send records frame, or fails as configured by FailSends/PanicOnSend.
func (c *Conn) Send(frame []byte) error {
	c.mu.Lock()
	hook := c.onSend
	c.mu.Unlock()
	if hook != nil {
		hook(frame)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.panics {
		panic("wstest: send panic")
	}
	if c.closed {
		return ErrClosed
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.frames = append(c.frames, frame)
	return nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// FailSends makes every later Send return err.
func (c *Conn) FailSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// OnSend runs fn with every frame before it is recorded. fn may block to
// hold the sender inside Send.
func (c *Conn) OnSend(fn func(frame []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSend = fn
}

// PanicOnSend makes every later Send panic.
func (c *Conn) PanicOnSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.panics = true
}

// Envelopes decodes the recorded frames.
func (c *Conn) Envelopes() []types.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]types.Envelope, 0, len(c.frames))
	for _, frame := range c.frames {
		var env types.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			panic(fmt.Sprintf("wstest: undecodable frame %s: %v", frame, err))
		}
		out = append(out, env)
	}
	return out
}

// Events returns the event names received, in order.
func (c *Conn) Events() []string {
	envs := c.Envelopes()
	names := make([]string, len(envs))
	for i, env := range envs {
		names[i] = env.Event
	}
	return names
}

// Count returns how many frames named event were received.
func (c *Conn) Count(event string) int {
	n := 0
	for _, name := range c.Events() {
		if name == event {
			n++
		}
	}
	return n
}

// Last decodes the data of the most recent frame named event into v and
// reports whether one was found.
func (c *Conn) Last(event string, v any) bool {
	envs := c.Envelopes()
	for i := len(envs) - 1; i >= 0; i-- {
		if envs[i].Event == event {
			if v != nil {
				if err := json.Unmarshal(envs[i].Data, v); err != nil {
					panic(fmt.Sprintf("wstest: cannot decode %s data: %v", event, err))
				}
			}
			return true
		}
	}
	return false
}

// Reset forgets recorded frames.
func (c *Conn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}
