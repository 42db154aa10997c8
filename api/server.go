package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/moyoez/assetlink/api/controllers"
	"github.com/moyoez/assetlink/api/middlewares"
	"github.com/moyoez/assetlink/api/models"
	"github.com/moyoez/assetlink/api/notifyhub"
	"github.com/moyoez/assetlink/asset"
	"github.com/moyoez/assetlink/protocol"
	"github.com/moyoez/assetlink/tool"
	"github.com/moyoez/assetlink/types"
)

// Server represents the asset server: websocket transfer endpoints plus the local self API.
type Server struct {
	cfg      types.AppConfig
	store    *asset.Store
	gate     protocol.Verifier
	slot     *models.UploadSlot
	sessions *models.SessionRegistry
	hub      *notifyhub.Hub

	mu     sync.RWMutex
	engine *gin.Engine
	server *http.Server

	// ctx is the base context of every request; Shutdown cancels it so live transfers abort.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer wires the server collaborators. The upload slot is shared by all upload
// connections of this server.
func NewServer(cfg types.AppConfig, store *asset.Store, gate protocol.Verifier, slot *models.UploadSlot) *Server {
	if slot == nil {
		slot = models.NewUploadSlot()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		store:    store,
		gate:     gate,
		slot:     slot,
		sessions: models.NewSessionRegistry(cfg.HistoryTTL),
		hub:      notifyhub.New(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *Server) Sessions() *models.SessionRegistry { return s.sessions }

func (s *Server) Hub() *notifyhub.Hub { return s.hub }

func (s *Server) setupRoutes() *gin.Engine {
	if tool.DefaultLogger.GetLevel() == log.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	// Only a proxy on this host may speak for the client, so forwarded headers
	// from remote peers cannot pass OnlyAllowLocal.
	_ = engine.SetTrustedProxies([]string{"127.0.0.1", "::1"})
	engine.Use(gin.Recovery())

	transferCtrl := controllers.NewTransferController(s.store, s.gate, s.slot, s.sessions, s.hub,
		s.cfg.IdleTimeout, s.cfg.ProgressInterval)
	statusCtrl := controllers.NewStatusController(s.store, s.slot, s.sessions, true)
	qrCtrl := controllers.NewQRCodeController(s.cfg.Protocol == "https")

	engine.GET("/upload", transferCtrl.HandleUpload)
	engine.GET("/download", transferCtrl.HandleDownload)

	self := engine.Group("/api/self/v1", middlewares.OnlyAllowLocal)
	{
		self.GET("/status", statusCtrl.UserStatus)              // Active and recent sessions
		self.GET("/sessions/:id", statusCtrl.UserSession)       // One session, live or recent
		self.GET("/notify-ws", notifyhub.HandleNotifyWS(s.hub)) // Transfer lifecycle events
		self.GET("/qrcode", qrCtrl.DownloadQRCode)              // QR code PNG of a download url
	}

	engine.NoRoute(func(c *gin.Context) {
		c.String(http.StatusNotFound, "invalid url")
	})
	return engine
}

// Handler returns the routed engine, building it on first use.
func (s *Server) Handler() http.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == nil {
		s.engine = s.setupRoutes()
	}
	return s.engine
}

// Start starts the HTTP server and blocks until it stops. http.ErrServerClosed is
// returned as nil.
func (s *Server) Start() error {
	handler := s.Handler()

	s.mu.Lock()
	s.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", s.cfg.Port),
		Handler:     handler,
		BaseContext: func(net.Listener) context.Context { return s.ctx },
	}
	srv := s.server
	s.mu.Unlock()

	tool.DefaultLogger.Infof("Starting asset server on %s://0.0.0.0:%d (assets in %s)", s.cfg.Protocol, s.cfg.Port, s.store.Root())

	var err error
	if s.cfg.Protocol == "https" {
		cert, fingerprint, generated, certErr := tool.GetOrCreateTLSCertificate(&s.cfg)
		if certErr != nil {
			return fmt.Errorf("failed to get TLS certificate: %v", certErr)
		}
		if generated {
			tool.PersistConfig(s.cfg)
		}
		tool.DefaultLogger.Infof("TLS certificate configured for wss, sha256 fingerprint %s", fingerprint)
		srv.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
		err = srv.ListenAndServeTLS("", "")
	} else {
		err = srv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and aborts live transfers. Hijacked websocket
// connections are not tracked by http.Server, so cancelling the base context is what
// ends them.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	s.mu.RLock()
	srv := s.server
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
