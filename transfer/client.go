package transfer

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/moyoez/assetlink/asset"
	"github.com/moyoez/assetlink/protocol"
	"github.com/moyoez/assetlink/tool"
)

// controlReadLimit bounds inbound messages on the upload client, which only receives tokens.
const controlReadLimit = 4096

// UploadOptions describes one client upload.
type UploadOptions struct {
	ServerAddr  string
	Secure      bool
	Platform    string
	Name        string
	Password    string
	File        string
	ChunkSize   int
	IdleTimeout time.Duration
	Progress    protocol.Progress
}

// DownloadOptions describes one client download.
type DownloadOptions struct {
	ServerAddr  string
	Secure      bool
	Platform    string
	Name        string
	Dest        string
	IdleTimeout time.Duration
	Progress    protocol.Progress
}

// Upload sends opts.File to the server as opts.Platform/opts.Name.
func Upload(ctx context.Context, opts UploadOptions) error {
	if err := tool.RequireFlags("platform", opts.Platform, "uploadName", opts.Name, "uploadFile", opts.File); err != nil {
		return err
	}
	src, err := asset.OpenSource(opts.File, opts.ChunkSize)
	if err != nil {
		return fmt.Errorf("upload file %s: %w", opts.File, err)
	}
	url, err := tool.BuildUploadURL(opts.ServerAddr, opts.Secure, opts.Platform, opts.Name, opts.Password)
	if err != nil {
		_ = src.Close()
		return err
	}

	tool.DefaultLogger.Infof("[Upload] connecting to %s", opts.ServerAddr)
	conn, err := dial(ctx, url)
	if err != nil {
		_ = src.Close()
		return err
	}
	defer conn.Close()
	conn.SetReadLimit(controlReadLimit)

	m := protocol.NewUploadSender(src, opts.Progress)
	if err := Run(ctx, conn, m, RunOptions{IdleTimeout: opts.IdleTimeout}); err != nil {
		return err
	}
	if m.State() != protocol.StateDone {
		return fmt.Errorf("upload ended in state %s", m.State())
	}
	tool.DefaultLogger.Infof("[Upload] %s -> %s/%s (%d bytes)", opts.File, opts.Platform, opts.Name, m.Sent())
	return nil
}

// Download fetches opts.Platform/opts.Name into opts.Dest. Dest is replaced only
// when the whole asset arrived.
func Download(ctx context.Context, opts DownloadOptions) error {
	if err := tool.RequireFlags("platform", opts.Platform, "downloadName", opts.Name, "downloadDest", opts.Dest); err != nil {
		return err
	}
	url, err := tool.BuildDownloadURL(opts.ServerAddr, opts.Secure, opts.Platform, opts.Name)
	if err != nil {
		return err
	}
	sink, err := asset.CreateSink(opts.Dest)
	if err != nil {
		return err
	}

	tool.DefaultLogger.Infof("[Download] connecting to %s", opts.ServerAddr)
	conn, err := dial(ctx, url)
	if err != nil {
		_ = sink.Abort()
		return err
	}
	defer conn.Close()
	conn.SetReadLimit(asset.MaxChunkSize + controlReadLimit)

	m := protocol.NewDownloadReceiver(sink, opts.Progress)
	if err := Run(ctx, conn, m, RunOptions{IdleTimeout: opts.IdleTimeout}); err != nil {
		return err
	}
	if m.State() != protocol.StateDone {
		return fmt.Errorf("download ended in state %s", m.State())
	}
	tool.DefaultLogger.Infof("[Download] %s/%s -> %s (%d bytes)", opts.Platform, opts.Name, opts.Dest, m.Received())
	return nil
}

func dial(ctx context.Context, url string) (*websocket.Conn, error) {
	conn, resp, err := tool.NewDialer().DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusSwitchingProtocols {
				return nil, fmt.Errorf("failed to connect: server answered %s", resp.Status)
			}
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return conn, nil
}
