package tool

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var DefaultTimeout = 30 * time.Second

// NewDialer creates a websocket dialer, skipping self-signed certificate verification for wss.
func NewDialer() *websocket.Dialer {
	dialer := &net.Dialer{
		Timeout:   DefaultTimeout,
		KeepAlive: 30 * time.Second,
	}
	return &websocket.Dialer{
		NetDialContext:   dialer.DialContext,
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: DefaultTimeout,
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: true},
	}
}
