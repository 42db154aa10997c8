package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/moyoez/assetlink/api/models"
	"github.com/moyoez/assetlink/asset"
	"github.com/moyoez/assetlink/progress"
	"github.com/moyoez/assetlink/protocol"
	"github.com/moyoez/assetlink/tool"
	"github.com/moyoez/assetlink/transfer"
	"github.com/moyoez/assetlink/types"
)

// transferReadLimit bounds one inbound message: the largest chunk plus slack for tokens.
const transferReadLimit = asset.MaxChunkSize + 4096

var transferUpgrader = websocket.Upgrader{
	// Command line clients send no Origin; browsers are not a target.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Notifier receives transfer lifecycle events.
type Notifier interface {
	Broadcast(notification *types.Notification)
}

type TransferController struct {
	store            *asset.Store
	gate             protocol.Verifier
	slot             *models.UploadSlot
	sessions         *models.SessionRegistry
	notifier         Notifier
	idleTimeout      time.Duration
	progressInterval time.Duration
}

func NewTransferController(store *asset.Store, gate protocol.Verifier, slot *models.UploadSlot,
	sessions *models.SessionRegistry, notifier Notifier, idleTimeout, progressInterval time.Duration) *TransferController {
	return &TransferController{
		store:            store,
		gate:             gate,
		slot:             slot,
		sessions:         sessions,
		notifier:         notifier,
		idleTimeout:      idleTimeout,
		progressInterval: progressInterval,
	}
}

// HandleUpload runs one upload session over a websocket.
// GET /upload?platform=xxx&name=xxx&pw=xxx
func (ctrl *TransferController) HandleUpload(c *gin.Context) {
	remoteAddr := c.ClientIP()
	tool.DefaultLogger.Infof("[Upload] upload request from %s", remoteAddr)

	conn, err := transferUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		tool.DefaultLogger.Errorf("[Upload] websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	req, err := parseUploadRequest(c)
	if err != nil {
		tool.DefaultLogger.Errorf("[Upload] %v", err)
		transfer.Reject(conn, protocol.CloseBadRequest, err.Error())
		return
	}
	if !ctrl.slot.TryAcquire() {
		tool.DefaultLogger.Warnf("[Upload] rejected %s/%s from %s: an upload is already in progress", req.Platform, req.Name, remoteAddr)
		transfer.Reject(conn, protocol.CloseBusy, "an upload is already in progress")
		return
	}
	defer ctrl.slot.Release()
	conn.SetReadLimit(transferReadLimit)

	tracker, sess := ctrl.begin(types.RoleUpload, req.Platform, req.Name, remoteAddr)
	m := protocol.NewUploadReceiver(ctrl.gate, ctrl.store, req, tracker)
	runErr := transfer.Run(c.Request.Context(), conn, m, transfer.RunOptions{
		IdleTimeout: ctrl.idleTimeout,
		OnState:     sess.SetState,
		Logger:      tool.DefaultLogger.With("session", sess.ID()),
	})

	var sum string
	if m.State() == protocol.StateDone {
		if dest, err := ctrl.store.Path(req.Platform, req.Name); err == nil {
			if sum, err = tool.FileSHA256(dest); err != nil {
				tool.DefaultLogger.Warnf("[Upload] %v", err)
			}
			tool.DefaultLogger.Infof("[Upload] uploaded %s (%d bytes, sha256 %s)", dest, m.Received(), sum)
		}
	}
	ctrl.finish(sess, m.State(), runErr, sum)
}

// HandleDownload runs one download session over a websocket.
// GET /download?platform=xxx&name=xxx
func (ctrl *TransferController) HandleDownload(c *gin.Context) {
	remoteAddr := c.ClientIP()
	tool.DefaultLogger.Infof("[Download] download request from %s", remoteAddr)

	conn, err := transferUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		tool.DefaultLogger.Errorf("[Download] websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	platform, name, err := parseDownloadRequest(c)
	if err != nil {
		tool.DefaultLogger.Errorf("[Download] %v", err)
		transfer.Reject(conn, protocol.CloseBadRequest, err.Error())
		return
	}
	// Download receivers only send tokens.
	conn.SetReadLimit(4096)

	tracker, sess := ctrl.begin(types.RoleDownload, platform, name, remoteAddr)
	m := protocol.NewDownloadSender(ctrl.store, platform, name, tracker)
	runErr := transfer.Run(c.Request.Context(), conn, m, transfer.RunOptions{
		IdleTimeout: ctrl.idleTimeout,
		OnState:     sess.SetState,
		Logger:      tool.DefaultLogger.With("session", sess.ID()),
	})
	if m.State() == protocol.StateDone {
		tool.DefaultLogger.Infof("[Download] served %s/%s (%d bytes)", platform, name, m.Sent())
	}
	ctrl.finish(sess, m.State(), runErr, "")
}

func (ctrl *TransferController) begin(role types.Role, platform, name, remoteAddr string) (*progress.Tracker, *models.ActiveSession) {
	tracker := progress.NewTracker(ctrl.progressInterval, func(line string) {
		tool.DefaultLogger.Debugf("[Progress] %s %s/%s: %s", role, platform, name, line)
	})
	sess := ctrl.sessions.Begin(role, platform, name, remoteAddr, tracker)
	ctrl.notify(types.NotifyTypeTransferStart, "Transfer started", sess.Snapshot())
	return tracker, sess
}

func (ctrl *TransferController) finish(sess *models.ActiveSession, state protocol.State, runErr error, sum string) {
	info := ctrl.sessions.Finish(sess, runErr, sum)
	if state == protocol.StateDone && runErr == nil {
		ctrl.notify(types.NotifyTypeTransferEnd, "Transfer complete", info)
		return
	}
	var peer *protocol.PeerClosedError
	if errors.As(runErr, &peer) {
		tool.DefaultLogger.Warnf("[Session] %s %s/%s aborted by peer: %v", info.Role, info.Platform, info.Name, runErr)
	} else {
		tool.DefaultLogger.Errorf("[Session] %s %s/%s failed: %v", info.Role, info.Platform, info.Name, runErr)
	}
	ctrl.notify(types.NotifyTypeTransferAborted, "Transfer aborted", info)
}

func (ctrl *TransferController) notify(kind, title string, info types.SessionInfo) {
	if ctrl.notifier == nil {
		return
	}
	data := map[string]any{
		"id":          info.ID,
		"role":        info.Role,
		"platform":    info.Platform,
		"name":        info.Name,
		"remoteAddr":  info.RemoteAddr,
		"transferred": info.Transferred,
		"total":       info.Total,
	}
	if info.Error != "" {
		data["error"] = info.Error
	}
	if info.SHA256 != "" {
		data["sha256"] = info.SHA256
	}
	ctrl.notifier.Broadcast(&types.Notification{
		Type:    kind,
		Title:   title,
		Message: fmt.Sprintf("%s %s/%s", info.Role, info.Platform, info.Name),
		Data:    data,
	})
}

func parseUploadRequest(c *gin.Context) (protocol.UploadRequest, error) {
	req := protocol.UploadRequest{
		Secret:   c.Query("pw"),
		Platform: c.Query("platform"),
		Name:     c.Query("name"),
	}
	switch {
	case req.Secret == "":
		return req, errors.New("password not provided")
	case req.Platform == "":
		return req, errors.New("no platform specified")
	case req.Name == "":
		return req, errors.New("no name provided")
	}
	return req, nil
}

func parseDownloadRequest(c *gin.Context) (string, string, error) {
	platform := c.Query("platform")
	if platform == "" {
		return "", "", errors.New("no platform specified")
	}
	name := c.Query("name")
	if name == "" {
		return "", "", errors.New("no file specified")
	}
	return platform, name, nil
}
