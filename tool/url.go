package tool

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

const DefaultPort = "3000"

// NormalizeHost appends the default port when addr has none.
func NormalizeHost(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	addr = strings.TrimPrefix(strings.TrimPrefix(addr, "ws://"), "wss://")
	addr = strings.TrimSuffix(addr, "/")
	if addr == "" {
		return "", fmt.Errorf("empty server address")
	}
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr, nil
	}
	return net.JoinHostPort(strings.Trim(addr, "[]"), DefaultPort), nil
}

func buildTransferURL(host string, secure bool, path string, query url.Values) (string, error) {
	hostPort, err := NormalizeHost(host)
	if err != nil {
		return "", err
	}
	scheme := "ws"
	if secure {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: hostPort, Path: path, RawQuery: query.Encode()}
	return u.String(), nil
}

// BuildUploadURL builds the /upload websocket URL with platform, name and pw query parameters.
func BuildUploadURL(host string, secure bool, platform, name, pw string) (string, error) {
	q := url.Values{}
	q.Set("platform", platform)
	q.Set("name", name)
	q.Set("pw", pw)
	return buildTransferURL(host, secure, "/upload", q)
}

// BuildDownloadURL builds the /download websocket URL with platform and name query parameters.
func BuildDownloadURL(host string, secure bool, platform, name string) (string, error) {
	q := url.Values{}
	q.Set("platform", platform)
	q.Set("name", name)
	return buildTransferURL(host, secure, "/download", q)
}
