package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/moyoez/assetlink/protocol"
	"github.com/moyoez/assetlink/tool"
)

// maxCloseReason is the largest reason that fits a close control frame.
const maxCloseReason = 123

const closeWriteWait = 5 * time.Second

// Conn is the subset of *websocket.Conn the driver needs.
type Conn interface {
	NextReader() (messageType int, r io.Reader, err error)
	NextWriter(messageType int) (io.WriteCloser, error)
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

var _ Conn = (*websocket.Conn)(nil)

type RunOptions struct {
	// IdleTimeout is the longest the connection may go without progress in either
	// direction. Each received or sent slice of a message restarts it; zero waits forever.
	IdleTimeout time.Duration
	// OnState is called on the driving goroutine after every state change.
	OnState func(protocol.State)
	Logger  *log.Logger
}

// Run drives m over conn until it reaches a terminal state. Messages are read and
// handled one at a time on the calling goroutine. Cancelling ctx closes conn and
// aborts the machine. The returned error is the machine's.
func Run(ctx context.Context, conn Conn, m protocol.Machine, opts RunOptions) error {
	logger := opts.Logger
	if logger == nil {
		logger = tool.DefaultLogger
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	last := m.State()
	observe := func() {
		if s := m.State(); s != last {
			logger.Debugf("[Session] %s -> %s", last, s)
			last = s
			if opts.OnState != nil {
				opts.OnState(s)
			}
		}
	}
	defer observe()

	if err := apply(conn, m.Start(), opts.IdleTimeout); err != nil {
		m.Abort(fmt.Errorf("failed to send: %w", err))
		return m.Err()
	}
	observe()

	for !m.State().Terminal() {
		mt, data, err := readMessage(conn, opts.IdleTimeout)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				m.Abort(fmt.Errorf("transfer cancelled: %w", ctx.Err()))
			case isTimeout(err):
				m.Abort(protocol.ErrIdleTimeout)
				writeClose(conn, protocol.CloseIdleTimeout, protocol.ErrIdleTimeout.Error())
			default:
				logger.Debugf("[Session] read ended: %v", err)
				_ = apply(conn, m.Handle(closedMessage(err)), opts.IdleTimeout)
			}
			return m.Err()
		}

		var msg protocol.Message
		switch mt {
		case websocket.TextMessage:
			msg = protocol.Text(string(data))
		case websocket.BinaryMessage:
			msg = protocol.Binary(data)
		default:
			continue
		}
		if err := apply(conn, m.Handle(msg), opts.IdleTimeout); err != nil {
			m.Abort(fmt.Errorf("failed to send: %w", err))
		}
		observe()
	}
	return m.Err()
}

func apply(conn Conn, effects []protocol.Effect, idle time.Duration) error {
	for _, e := range effects {
		var err error
		switch e.Kind {
		case protocol.EffectSendText:
			err = writeMessage(conn, websocket.TextMessage, []byte(e.Text), idle)
		case protocol.EffectSendBinary:
			err = writeMessage(conn, websocket.BinaryMessage, e.Data, idle)
		case protocol.EffectClose:
			writeClose(conn, e.Code, e.Reason)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Reject closes conn with code and reason without running a machine.
func Reject(conn Conn, code int, reason string) {
	writeClose(conn, code, reason)
}

func writeClose(conn Conn, code int, reason string) {
	payload := websocket.FormatCloseMessage(code, truncateReason(reason))
	_ = conn.WriteControl(websocket.CloseMessage, payload, time.Now().Add(closeWriteWait))
}

// truncateReason makes reason fit a close frame. Peers reject close frames whose
// reason is not valid UTF-8, so invalid bytes are replaced first.
func truncateReason(reason string) string {
	reason = strings.ToValidUTF8(reason, "?")
	if len(reason) <= maxCloseReason {
		return reason
	}
	cut := reason[:maxCloseReason]
	for !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return strings.TrimSpace(cut)
}

func closedMessage(err error) protocol.Message {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return protocol.Closed(ce.Code, ce.Text)
	}
	return protocol.Closed(0, "")
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
