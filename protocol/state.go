package protocol

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/moyoez/assetlink/asset"
	"github.com/moyoez/assetlink/auth"
)

// State is the current phase of one transfer session.
type State uint8

const (
	StateInit State = iota
	StateAwaitingSize
	StateStreaming
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateAwaitingSize:
		return "AwaitingSize"
	case StateStreaming:
		return "Streaming"
	case StateDone:
		return "Done"
	case StateAborted:
		return "Aborted"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateAborted
}

var (
	ErrProtocolViolation = errors.New("protocol violation")
	ErrSizeMismatch      = errors.New("size mismatch")
	ErrIdleTimeout       = errors.New("idle timeout")
)

// PeerClosedError reports that the channel ended before the transfer completed.
// Code is zero when the transport failed without a close frame.
type PeerClosedError struct {
	Code   int
	Reason string
}

func (e *PeerClosedError) Error() string {
	if e.Code == 0 {
		return "connection lost"
	}
	if e.Reason == "" {
		return fmt.Sprintf("peer closed connection (%d)", e.Code)
	}
	return fmt.Sprintf("peer closed connection: %s (%d)", e.Reason, e.Code)
}

// CloseCodeFor maps an error to the close code reported to the peer.
func CloseCodeFor(err error) int {
	var peer *PeerClosedError
	switch {
	case err == nil:
		return CloseNormal
	case errors.Is(err, auth.ErrTooManyAttempts):
		return CloseTooManyAttempts
	case errors.Is(err, auth.ErrIncorrectSecret):
		return CloseAuthFailed
	case errors.Is(err, asset.ErrAssetNotFound):
		return CloseNotFound
	case errors.Is(err, asset.ErrUnknownPlatform), errors.Is(err, asset.ErrInvalidName):
		return CloseBadRequest
	case errors.Is(err, ErrProtocolViolation), errors.Is(err, ErrSizeMismatch):
		return CloseProtocolError
	case errors.Is(err, ErrIdleTimeout):
		return CloseIdleTimeout
	case errors.As(err, &peer):
		return peer.Code
	default:
		return CloseInternalError
	}
}

// Machine is the transition function of one side of a transfer. Start is called once,
// then Handle for every inbound message until State is terminal. Calls must be serialized.
type Machine interface {
	Start() []Effect
	Handle(msg Message) []Effect
	// Abort moves the machine to Aborted from outside the message flow
	// (idle timeout, cancellation) and releases its resources.
	Abort(err error)
	State() State
	Err() error
}

// Progress receives byte accounting from a machine. Implementations must tolerate
// concurrent readers; all writes happen on the message-handling goroutine.
type Progress interface {
	SetTotal(n int64)
	Add(n int64)
	Arm()
	Disarm()
}

type nopProgress struct{}

func (nopProgress) SetTotal(int64) {}
func (nopProgress) Add(int64)      {}
func (nopProgress) Arm()           {}
func (nopProgress) Disarm()        {}

// base holds the bookkeeping shared by all four machines.
type base struct {
	state    State
	err      error
	progress Progress
	release  func()
	received int64
	total    int64
}

func newBase(p Progress) base {
	if p == nil {
		p = nopProgress{}
	}
	return base{state: StateInit, progress: p, total: -1}
}

func (b *base) State() State { return b.state }

func (b *base) Err() error { return b.err }

func (b *base) Abort(err error) {
	if b.state.Terminal() {
		return
	}
	b.state = StateAborted
	b.err = err
	b.progress.Disarm()
	if b.release != nil {
		b.release()
		b.release = nil
	}
}

// finish moves to Done. The release hook is dropped because the resource was handed off.
func (b *base) finish() {
	b.state = StateDone
	b.release = nil
	b.progress.Disarm()
}

func (b *base) fail(code int, err error) []Effect {
	b.Abort(err)
	return []Effect{closeWith(code, err.Error())}
}

func (b *base) violation(msg Message) []Effect {
	err := fmt.Errorf("%w: unexpected %s in %s", ErrProtocolViolation, msg.describe(), b.state)
	return b.fail(CloseProtocolError, err)
}

func (b *base) peerClosed(msg Message) []Effect {
	b.Abort(&PeerClosedError{Code: msg.Code, Reason: msg.Reason})
	return nil
}

// acceptSize parses a decimal size token and records it as the transfer total.
func (b *base) acceptSize(msg Message) ([]Effect, bool) {
	if msg.Kind != MessageText {
		return b.violation(msg), false
	}
	n, err := strconv.ParseUint(msg.Text, 10, 63)
	if err != nil {
		return b.violation(msg), false
	}
	b.total = int64(n)
	b.progress.SetTotal(b.total)
	b.progress.Arm()
	return nil, true
}

// accept records an inbound chunk, rejecting anything past the negotiated size.
func (b *base) accept(n int) error {
	if b.received+int64(n) > b.total {
		return fmt.Errorf("%w: received %d bytes, expected %d", ErrSizeMismatch, b.received+int64(n), b.total)
	}
	b.received += int64(n)
	b.progress.Add(int64(n))
	return nil
}

func (b *base) complete() error {
	if b.received != b.total {
		return fmt.Errorf("%w: received %d bytes, expected %d", ErrSizeMismatch, b.received, b.total)
	}
	return nil
}
