package transfer

import (
	"io"
	"time"
)

// writeSlice is how much of an outbound message is written per write deadline.
const writeSlice = 64 * 1024

// idleReader pushes the read deadline forward after every read that made progress.
type idleReader struct {
	r     io.Reader
	touch func()
}

func (ir *idleReader) Read(p []byte) (int, error) {
	n, err := ir.r.Read(p)
	if n > 0 {
		ir.touch()
	}
	return n, err
}

// readMessage reads one whole message. With idle > 0 the read fails only when no
// byte arrived for idle, however long the message takes in total.
func readMessage(conn Conn, idle time.Duration) (int, []byte, error) {
	touch := func() {
		if idle > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(idle))
		}
	}
	touch()
	mt, r, err := conn.NextReader()
	if err != nil {
		return mt, nil, err
	}
	data, err := io.ReadAll(&idleReader{r: r, touch: touch})
	if err != nil {
		return mt, nil, err
	}
	return mt, data, nil
}

// writeMessage writes data as one message in slices, renewing the write deadline
// before each slice.
func writeMessage(conn Conn, messageType int, data []byte, idle time.Duration) error {
	touch := func() {
		if idle > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(idle))
		}
	}
	touch()
	w, err := conn.NextWriter(messageType)
	if err != nil {
		return err
	}
	for len(data) > 0 {
		n := min(len(data), writeSlice)
		touch()
		if _, err := w.Write(data[:n]); err != nil {
			_ = w.Close()
			return err
		}
		data = data[n:]
	}
	touch()
	return w.Close()
}
