package transfer

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moyoez/assetlink/asset"
	"github.com/moyoez/assetlink/auth"
	"github.com/moyoez/assetlink/protocol"
)

type frame struct {
	mt   int
	data []byte
}

type fakeConn struct {
	mu       sync.Mutex
	inbound  []frame
	endErr   error // returned once inbound is drained; nil blocks until Close
	written  []frame
	controls []frame

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn(endErr error, inbound ...frame) *fakeConn {
	return &fakeConn{inbound: inbound, endErr: endErr, closed: make(chan struct{})}
}

func text(s string) frame { return frame{websocket.TextMessage, []byte(s)} }

func (c *fakeConn) NextReader() (int, io.Reader, error) {
	c.mu.Lock()
	if len(c.inbound) > 0 {
		f := c.inbound[0]
		c.inbound = c.inbound[1:]
		c.mu.Unlock()
		return f.mt, bytes.NewReader(f.data), nil
	}
	endErr := c.endErr
	c.mu.Unlock()
	if endErr != nil {
		return 0, nil, endErr
	}
	<-c.closed
	return 0, nil, net.ErrClosed
}

func (c *fakeConn) NextWriter(mt int) (io.WriteCloser, error) {
	return &frameWriter{conn: c, mt: mt}, nil
}

type frameWriter struct {
	conn *fakeConn
	mt   int
	buf  bytes.Buffer
}

func (w *frameWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *frameWriter) Close() error {
	w.conn.mu.Lock()
	defer w.conn.mu.Unlock()
	w.conn.written = append(w.conn.written, frame{w.mt, w.buf.Bytes()})
	return nil
}

func (c *fakeConn) WriteControl(mt int, data []byte, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controls = append(c.controls, frame{mt, append([]byte(nil), data...)})
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, f := range c.written {
		if f.mt == websocket.TextMessage {
			out = append(out, string(f.data))
		}
	}
	return out
}

// lastClose decodes the most recent close frame.
func (c *fakeConn) lastClose(t *testing.T) (int, string) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.controls)
	f := c.controls[len(c.controls)-1]
	require.Equal(t, websocket.CloseMessage, f.mt)
	require.GreaterOrEqual(t, len(f.data), 2)
	return int(binary.BigEndian.Uint16(f.data[:2])), string(f.data[2:])
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

type staticVerifier string

func (v staticVerifier) Verify(secret string) error {
	if secret != string(v) {
		return auth.ErrIncorrectSecret
	}
	return nil
}

func newStore(t *testing.T) (*asset.Store, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "linux"), 0o755))
	return asset.NewStore(root, 4), root
}

func TestRunUploadReceiver(t *testing.T) {
	store, root := newStore(t)
	conn := newFakeConn(nil,
		text("5"),
		frame{websocket.BinaryMessage, []byte("hel")},
		frame{websocket.BinaryMessage, []byte("lo")},
		text("done"),
	)
	m := protocol.NewUploadReceiver(staticVerifier("pw"), store,
		protocol.UploadRequest{Platform: "linux", Name: "a.txt", Secret: "pw"}, nil)

	var states []protocol.State
	err := Run(context.Background(), conn, m, RunOptions{
		IdleTimeout: time.Second,
		OnState:     func(s protocol.State) { states = append(states, s) },
	})
	require.NoError(t, err)
	assert.Equal(t, protocol.StateDone, m.State())
	assert.Equal(t, []protocol.State{protocol.StateAwaitingSize, protocol.StateStreaming, protocol.StateDone}, states)
	assert.Equal(t, []string{"size", "poll", "poll", "poll"}, conn.texts())

	code, reason := conn.lastClose(t)
	assert.Equal(t, protocol.CloseNormal, code)
	assert.Equal(t, "uploaded linux/a.txt", reason)

	got, err := os.ReadFile(filepath.Join(root, "linux", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestRunIdleTimeout(t *testing.T) {
	store, root := newStore(t)
	conn := newFakeConn(timeoutErr{}, text("100"), frame{websocket.BinaryMessage, []byte("par")})
	m := protocol.NewUploadReceiver(staticVerifier("pw"), store,
		protocol.UploadRequest{Platform: "linux", Name: "big.bin", Secret: "pw"}, nil)

	err := Run(context.Background(), conn, m, RunOptions{IdleTimeout: 10 * time.Millisecond})
	assert.ErrorIs(t, err, protocol.ErrIdleTimeout)
	assert.Equal(t, protocol.StateAborted, m.State())

	code, reason := conn.lastClose(t)
	assert.Equal(t, protocol.CloseIdleTimeout, code)
	assert.Equal(t, "idle timeout", reason)

	entries, err := os.ReadDir(filepath.Join(root, "linux"))
	require.NoError(t, err)
	assert.Empty(t, entries, "partial upload is discarded")
}

func TestRunPeerClose(t *testing.T) {
	src := asset.NewSource(strings.NewReader("hello"), 5, 2)
	m := protocol.NewUploadSender(src, nil)
	conn := newFakeConn(&websocket.CloseError{Code: protocol.CloseAuthFailed, Text: "incorrect password"})

	err := Run(context.Background(), conn, m, RunOptions{})
	var peer *protocol.PeerClosedError
	require.ErrorAs(t, err, &peer)
	assert.Equal(t, protocol.CloseAuthFailed, peer.Code)
	assert.Equal(t, "incorrect password", peer.Reason)
}

func TestRunConnectionLost(t *testing.T) {
	sink, err := asset.CreateSink(filepath.Join(t.TempDir(), "out.bin"))
	require.NoError(t, err)
	m := protocol.NewDownloadReceiver(sink, nil)
	conn := newFakeConn(net.ErrClosed, text("ready"))

	err = Run(context.Background(), conn, m, RunOptions{})
	assert.EqualError(t, err, "connection lost")
	assert.Equal(t, []string{"size"}, conn.texts())
}

func TestRunCancelled(t *testing.T) {
	store, root := newStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "linux", "a.bin"), []byte("abc"), 0o644))
	conn := newFakeConn(nil)
	m := protocol.NewDownloadSender(store, "linux", "a.bin", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, conn, m, RunOptions{}) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, protocol.StateAborted, m.State())
}

func TestRejectTruncatesReason(t *testing.T) {
	conn := newFakeConn(nil)
	Reject(conn, protocol.CloseBadRequest, strings.Repeat("x", 300))
	code, reason := conn.lastClose(t)
	assert.Equal(t, protocol.CloseBadRequest, code)
	assert.Len(t, reason, maxCloseReason)
}

func TestTruncateReason(t *testing.T) {
	assert.Equal(t, "short", truncateReason("short"))

	long := strings.Repeat("é", 100) // 200 bytes
	cut := truncateReason(long)
	assert.LessOrEqual(t, len(cut), maxCloseReason)
	assert.True(t, utf8.ValidString(cut))
}

func TestTruncateReasonInvalidUTF8(t *testing.T) {
	got := truncateReason("asset not found: \xff\xfe.bin")
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "asset not found: ??.bin", got)
}

// throttledConn trickles every write out in small pieces.
type throttledConn struct {
	net.Conn
	piece int
	pause time.Duration
}

func (c *throttledConn) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		if written > 0 {
			time.Sleep(c.pause)
		}
		end := min(written+c.piece, len(p))
		n, err := c.Conn.Write(p[written:end])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

func TestRunSlowChunkOutlivesIdleTimeout(t *testing.T) {
	const chunk = 64 * 1024
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "linux"), 0o755))
	store := asset.NewStore(root, chunk)

	result := make(chan error, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			result <- err
			return
		}
		defer conn.Close()
		m := protocol.NewUploadReceiver(staticVerifier("pw"), store,
			protocol.UploadRequest{Platform: "linux", Name: "slow.bin", Secret: "pw"}, nil)
		result <- Run(context.Background(), conn, m, RunOptions{IdleTimeout: 300 * time.Millisecond})
	}))
	defer srv.Close()

	dialer := websocket.Dialer{
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			var d net.Dialer
			c, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			return &throttledConn{Conn: c, piece: 1024, pause: 20 * time.Millisecond}, nil
		},
	}
	client, _, err := dialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer client.Close()

	expect := func(want string) {
		t.Helper()
		mt, data, err := client.ReadMessage()
		require.NoError(t, err)
		require.Equal(t, websocket.TextMessage, mt)
		require.Equal(t, want, string(data))
	}

	payload := bytes.Repeat([]byte{0xab}, chunk)
	expect("size")
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("65536")))
	expect("poll")
	// 64 pieces at 20ms each keep the chunk in flight well past the idle timeout.
	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, payload))
	expect("poll")
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("done")))

	_, _, err = client.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)

	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not finish")
	}
	got, err := os.ReadFile(filepath.Join(root, "linux", "slow.bin"))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}
