package protocol

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/moyoez/assetlink/asset"
)

// UploadSender pushes a local file to a server running UploadReceiver. After sending
// done it waits for the server's close frame so that a failed commit is reported.
type UploadSender struct {
	base
	src      asset.ChunkSource
	sentDone bool
}

var _ Machine = (*UploadSender)(nil)

func NewUploadSender(src asset.ChunkSource, p Progress) *UploadSender {
	s := &UploadSender{base: newBase(p), src: src}
	s.release = func() { _ = src.Close() }
	return s
}

func (s *UploadSender) Start() []Effect {
	if s.state != StateInit {
		return nil
	}
	s.total = s.src.Size()
	s.progress.SetTotal(s.total)
	s.progress.Arm()
	return nil
}

func (s *UploadSender) Handle(msg Message) []Effect {
	if s.state.Terminal() {
		return nil
	}
	if msg.Kind == MessageClosed {
		if s.sentDone && msg.Code == CloseNormal {
			_ = s.src.Close()
			s.finish()
			return nil
		}
		return s.peerClosed(msg)
	}
	if s.sentDone {
		return s.violation(msg)
	}
	switch s.state {
	case StateInit:
		if msg.Kind == MessageText && msg.Text == TokenSize {
			s.state = StateStreaming
			return []Effect{sendText(strconv.FormatInt(s.total, 10))}
		}
	case StateStreaming:
		if msg.Kind == MessageText && msg.Text == TokenPoll {
			return s.poll()
		}
	}
	return s.violation(msg)
}

func (s *UploadSender) poll() []Effect {
	chunk, err := s.src.Next()
	if len(chunk) > 0 {
		s.received += int64(len(chunk))
		s.progress.Add(int64(len(chunk)))
		return []Effect{sendBinary(chunk)}
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return s.fail(CloseInternalError, fmt.Errorf("failed to read chunk: %w", err))
	}
	s.sentDone = true
	s.progress.Disarm()
	return []Effect{sendText(TokenDone)}
}

// Sent returns the number of chunk bytes handed to the transport so far.
func (s *UploadSender) Sent() int64 { return s.received }

// DownloadReceiver pulls one asset from a server running DownloadSender.
type DownloadReceiver struct {
	base
	sink asset.ChunkSink
}

var _ Machine = (*DownloadReceiver)(nil)

func NewDownloadReceiver(sink asset.ChunkSink, p Progress) *DownloadReceiver {
	r := &DownloadReceiver{base: newBase(p), sink: sink}
	r.release = func() { _ = sink.Abort() }
	return r
}

// Start is a no-op: the server speaks first with ready.
func (r *DownloadReceiver) Start() []Effect { return nil }

func (r *DownloadReceiver) Handle(msg Message) []Effect {
	if r.state.Terminal() {
		return nil
	}
	if msg.Kind == MessageClosed {
		return r.peerClosed(msg)
	}
	switch r.state {
	case StateInit:
		if msg.Kind == MessageText && msg.Text == TokenReady {
			r.state = StateAwaitingSize
			return []Effect{sendText(TokenSize)}
		}
	case StateAwaitingSize:
		effects, ok := r.acceptSize(msg)
		if !ok {
			return effects
		}
		r.state = StateStreaming
		return []Effect{sendText(TokenPoll)}
	case StateStreaming:
		if msg.Kind == MessageBinary {
			if err := r.accept(len(msg.Data)); err != nil {
				return r.fail(CloseProtocolError, err)
			}
			if err := r.sink.WriteChunk(msg.Data); err != nil {
				return r.fail(CloseInternalError, fmt.Errorf("failed to write chunk: %w", err))
			}
			return []Effect{sendText(TokenPoll)}
		}
		if msg.Kind == MessageText && msg.Text == TokenDone {
			if err := r.complete(); err != nil {
				return r.fail(CloseProtocolError, err)
			}
			if err := r.sink.Commit(); err != nil {
				return r.fail(CloseInternalError, fmt.Errorf("failed to finalize download: %w", err))
			}
			r.finish()
			return []Effect{closeWith(CloseNormal, "transfer complete")}
		}
	}
	return r.violation(msg)
}

// Received returns the number of chunk bytes written so far.
func (r *DownloadReceiver) Received() int64 { return r.received }
