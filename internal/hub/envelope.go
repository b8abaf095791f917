package hub

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/rankland/broadcast-hub/internal/core"
)

// eventServerAck is the client's answer to a server-initiated request.
const eventServerAck = "serverAck"

// clientMessage is a request coming over a signaling channel. Seq is
// echoed back so the client can correlate the acknowledgment.
type clientMessage struct {
	Event string          `json:"event"`
	Seq   uint64          `json:"seq"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// envelope is the single-shot acknowledgment every request receives.
// Failed operations carry a stable code and a message from the fixed
// code table, never a transport-level error.
type envelope struct {
	Event   string       `json:"event"`
	Seq     uint64       `json:"seq"`
	Success bool         `json:"success"`
	Code    core.ErrCode `json:"code"`
	Data    interface{}  `json:"data,omitempty"`
	Msg     string       `json:"msg,omitempty"`
}

// pushMessage is a server-initiated notification without a reply.
type pushMessage struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// serverRequest is a server-initiated request the client must answer
// with a serverAck carrying the same seq.
type serverRequest struct {
	Event string      `json:"event"`
	Seq   uint64      `json:"seq"`
	Data  interface{} `json:"data,omitempty"`
}

func okEnvelope(event string, seq uint64, data interface{}) envelope {
	return envelope{
		Event:   event,
		Seq:     seq,
		Success: true,
		Code:    core.CodeOK,
		Data:    data,
	}
}

func errEnvelope(event string, seq uint64, err error) envelope {
	code := core.SystemError

	var logicErr *core.LogicError
	if errors.As(err, &logicErr) {
		code = logicErr.Code
	}

	return envelope{
		Event:   event,
		Seq:     seq,
		Success: false,
		Code:    code,
		Msg:     core.Message(code),
	}
}

// ackTable holds continuations for in-flight server-to-client
// requests, resolved by the client's serverAck. Each entry remembers
// the group the request was sent to; only a recipient can resolve it.
type ackTable struct {
	mu      sync.Mutex
	nextSeq uint64
	pending map[uint64]pendingAck
}

type pendingAck struct {
	group string
	done  func()
}

func newAckTable() *ackTable {
	return &ackTable{pending: make(map[uint64]pendingAck)}
}

// Add registers a continuation for a request sent to group and
// returns the seq to send with it.
func (t *ackTable) Add(group string, done func()) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextSeq++
	seq := t.nextSeq
	t.pending[seq] = pendingAck{group: group, done: done}
	return seq
}

// Resolve runs and removes the continuation for seq. Acks from a
// connection outside the request's group are discarded, and unknown
// or already-resolved seqs are ignored.
func (t *ackTable) Resolve(conn *Conn, seq uint64) {
	t.mu.Lock()
	entry, ok := t.pending[seq]
	if ok && !conn.InGroup(entry.group) {
		t.mu.Unlock()
		return
	}
	delete(t.pending, seq)
	t.mu.Unlock()

	if ok {
		entry.done()
	}
}
