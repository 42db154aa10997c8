// Package protocol implements the poll-driven chunk transfer protocol as a set of
// transition machines. A machine consumes inbound messages and returns the effects
// (sends and closes) the transport has to perform; it never touches the connection itself.
package protocol

import "strconv"

// Control tokens exchanged as text messages. Matching is case-sensitive.
const (
	TokenReady = "ready"
	TokenSize  = "size"
	TokenPoll  = "poll"
	TokenDone  = "done"
)

// Close codes sent in the websocket close frame. 1000-1011 are the RFC 6455 codes,
// the 44xx codes live in the private-use range.
const (
	CloseNormal          = 1000
	CloseProtocolError   = 1002
	CloseInternalError   = 1011
	CloseBadRequest      = 4400
	CloseAuthFailed      = 4401
	CloseNotFound        = 4404
	CloseIdleTimeout     = 4408
	CloseBusy            = 4409
	CloseTooManyAttempts = 4429
)

type MessageKind uint8

const (
	MessageText MessageKind = iota
	MessageBinary
	// MessageClosed signals end of stream: the peer closed or the transport failed.
	MessageClosed
)

func (k MessageKind) String() string {
	switch k {
	case MessageText:
		return "text"
	case MessageBinary:
		return "binary"
	case MessageClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Message is one inbound event delivered by the transport.
type Message struct {
	Kind MessageKind
	Text string
	Data []byte
	// Code and Reason are set for MessageClosed when the peer sent a close frame.
	Code   int
	Reason string
}

func Text(s string) Message { return Message{Kind: MessageText, Text: s} }

func Binary(b []byte) Message { return Message{Kind: MessageBinary, Data: b} }

func Closed(code int, reason string) Message {
	return Message{Kind: MessageClosed, Code: code, Reason: reason}
}

// describe renders a message for protocol violation reasons without dumping payloads.
func (m Message) describe() string {
	switch m.Kind {
	case MessageText:
		if len(m.Text) > 32 {
			return strconv.Quote(m.Text[:32] + "...")
		}
		return strconv.Quote(m.Text)
	case MessageBinary:
		return "binary chunk (" + strconv.Itoa(len(m.Data)) + " bytes)"
	default:
		return m.Kind.String()
	}
}

type EffectKind uint8

const (
	EffectSendText EffectKind = iota
	EffectSendBinary
	EffectClose
)

// Effect is one outbound action requested by a machine. Effects must be applied in order.
type Effect struct {
	Kind   EffectKind
	Text   string
	Data   []byte
	Code   int
	Reason string
}

func sendText(s string) Effect { return Effect{Kind: EffectSendText, Text: s} }

func sendBinary(b []byte) Effect { return Effect{Kind: EffectSendBinary, Data: b} }

func closeWith(code int, reason string) Effect {
	return Effect{Kind: EffectClose, Code: code, Reason: reason}
}
