package hub

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/isqad/melody"

	"github.com/rankland/broadcast-hub/internal/core"
)

const (
	connSessionKey   = "conn"
	rejectSessionKey = "reject"
)

// Conn is one authenticated signaling connection. Role and identity
// are resolved once at connect time and never change afterwards.
type Conn struct {
	ID     string
	Role   core.Role
	Alias  string
	UserID string
	// ShotID is set only for shot-channel producing connections.
	ShotID string

	session *melody.Session

	mu     sync.Mutex
	groups map[string]struct{}
}

func newConn(id string, role core.Role) *Conn {
	return &Conn{
		ID:     id,
		Role:   role,
		groups: make(map[string]struct{}),
	}
}

// attach binds the connection to its websocket session. Runs in the
// session's connect handler, before any message is dispatched.
func (c *Conn) attach(session *melody.Session) {
	c.session = session
}

// Join subscribes the connection to a notification group.
func (c *Conn) Join(group string) {
	c.mu.Lock()
	c.groups[group] = struct{}{}
	c.mu.Unlock()
}

// Leave unsubscribes the connection from a notification group.
func (c *Conn) Leave(group string) {
	c.mu.Lock()
	delete(c.groups, group)
	c.mu.Unlock()
}

// InGroup reports whether the connection subscribed to group.
func (c *Conn) InGroup(group string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.groups[group]
	return ok
}

func (c *Conn) write(v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.session.Write(payload)
}

// connFromSession extracts the Conn stored at connect time.
func connFromSession(s *melody.Session) (*Conn, error) {
	raw, ok := s.Keys[connSessionKey]
	if !ok {
		return nil, fmt.Errorf("no conn for given session: %+v", s)
	}
	conn, ok := raw.(*Conn)
	if !ok {
		return nil, fmt.Errorf("can't convert conn: %+v", raw)
	}
	return conn, nil
}
