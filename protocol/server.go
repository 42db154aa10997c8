package protocol

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/moyoez/assetlink/asset"
)

// AssetOpener resolves a platform/name pair to a readable asset.
type AssetOpener interface {
	Open(platform, name string) (asset.ChunkSource, error)
}

// AssetCreator resolves a platform/name pair to a staged destination.
type AssetCreator interface {
	Create(platform, name string) (asset.ChunkSink, error)
}

// Verifier checks an upload secret. A nil error means the secret matched.
type Verifier interface {
	Verify(secret string) error
}

// DownloadSender serves one asset to a polling receiver.
type DownloadSender struct {
	base
	assets   AssetOpener
	platform string
	name     string
	src      asset.ChunkSource
}

var _ Machine = (*DownloadSender)(nil)

func NewDownloadSender(assets AssetOpener, platform, name string, p Progress) *DownloadSender {
	return &DownloadSender{
		base:     newBase(p),
		assets:   assets,
		platform: platform,
		name:     name,
	}
}

func (d *DownloadSender) Start() []Effect {
	if d.state != StateInit {
		return nil
	}
	src, err := d.assets.Open(d.platform, d.name)
	if err != nil {
		return d.fail(CloseCodeFor(err), err)
	}
	d.src = src
	d.release = func() { _ = src.Close() }
	d.total = src.Size()
	d.progress.SetTotal(d.total)
	d.progress.Arm()
	d.state = StateAwaitingSize
	return []Effect{sendText(TokenReady)}
}

func (d *DownloadSender) Handle(msg Message) []Effect {
	if d.state.Terminal() {
		return nil
	}
	if msg.Kind == MessageClosed {
		return d.peerClosed(msg)
	}
	switch d.state {
	case StateAwaitingSize:
		if msg.Kind == MessageText && msg.Text == TokenSize {
			d.state = StateStreaming
			return []Effect{sendText(strconv.FormatInt(d.total, 10))}
		}
	case StateStreaming:
		if msg.Kind == MessageText && msg.Text == TokenPoll {
			return d.poll()
		}
	}
	return d.violation(msg)
}

func (d *DownloadSender) poll() []Effect {
	chunk, err := d.src.Next()
	if len(chunk) > 0 {
		d.received += int64(len(chunk))
		d.progress.Add(int64(len(chunk)))
		return []Effect{sendBinary(chunk)}
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return d.fail(CloseInternalError, fmt.Errorf("failed to read chunk: %w", err))
	}
	src := d.src
	d.finish()
	if err := src.Close(); err != nil {
		d.err = fmt.Errorf("failed to close source: %w", err)
	}
	return []Effect{sendText(TokenDone), closeWith(CloseNormal, "transfer complete")}
}

// Sent returns the number of chunk bytes handed to the transport so far.
func (d *DownloadSender) Sent() int64 { return d.received }

// UploadRequest carries the negotiation parameters of an upload connection.
type UploadRequest struct {
	Platform string
	Name     string
	Secret   string
}

// UploadReceiver stores one asset pushed by a client, pulling every chunk with poll.
type UploadReceiver struct {
	base
	gate   Verifier
	assets AssetCreator
	req    UploadRequest
	sink   asset.ChunkSink
}

var _ Machine = (*UploadReceiver)(nil)

func NewUploadReceiver(gate Verifier, assets AssetCreator, req UploadRequest, p Progress) *UploadReceiver {
	return &UploadReceiver{
		base:   newBase(p),
		gate:   gate,
		assets: assets,
		req:    req,
	}
}

func (u *UploadReceiver) Start() []Effect {
	if u.state != StateInit {
		return nil
	}
	if err := u.gate.Verify(u.req.Secret); err != nil {
		return u.fail(CloseCodeFor(err), err)
	}
	sink, err := u.assets.Create(u.req.Platform, u.req.Name)
	if err != nil {
		return u.fail(CloseCodeFor(err), err)
	}
	u.sink = sink
	u.release = func() { _ = sink.Abort() }
	u.state = StateAwaitingSize
	return []Effect{sendText(TokenSize)}
}

func (u *UploadReceiver) Handle(msg Message) []Effect {
	if u.state.Terminal() {
		return nil
	}
	if msg.Kind == MessageClosed {
		return u.peerClosed(msg)
	}
	switch u.state {
	case StateAwaitingSize:
		effects, ok := u.acceptSize(msg)
		if !ok {
			return effects
		}
		u.state = StateStreaming
		return []Effect{sendText(TokenPoll)}
	case StateStreaming:
		if msg.Kind == MessageBinary {
			return u.write(msg.Data)
		}
		if msg.Kind == MessageText && msg.Text == TokenDone {
			return u.commit()
		}
	}
	return u.violation(msg)
}

func (u *UploadReceiver) write(chunk []byte) []Effect {
	if err := u.accept(len(chunk)); err != nil {
		return u.fail(CloseProtocolError, err)
	}
	if err := u.sink.WriteChunk(chunk); err != nil {
		return u.fail(CloseInternalError, fmt.Errorf("failed to write chunk: %w", err))
	}
	return []Effect{sendText(TokenPoll)}
}

func (u *UploadReceiver) commit() []Effect {
	if err := u.complete(); err != nil {
		return u.fail(CloseProtocolError, err)
	}
	if err := u.sink.Commit(); err != nil {
		return u.fail(CloseInternalError, fmt.Errorf("failed to finalize upload: %w", err))
	}
	u.finish()
	return []Effect{closeWith(CloseNormal, fmt.Sprintf("uploaded %s/%s", u.req.Platform, u.req.Name))}
}

// Received returns the number of chunk bytes written so far.
func (u *UploadReceiver) Received() int64 { return u.received }
