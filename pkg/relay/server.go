// Package relay is the HTTP surface of the signaling relay: the websocket hub,
// ICE configuration and session lookup.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"

	"github.com/tomaslejdung/superdesk/pkg/peer"
	"github.com/tomaslejdung/superdesk/pkg/signal"
)

const shutdownTimeout = 5 * time.Second

// Server routes HTTP requests to the relay hub.
type Server struct {
	cfg    *Config
	hub    *signal.Server
	store  signal.Store
	router *gin.Engine
	logger *slog.Logger
	now    func() time.Time
}

// New builds a relay server. store may be nil for an in-memory registry.
func New(cfg *Config, store signal.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		store = signal.NewMemoryStore()
	}
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:    cfg,
		store:  store,
		logger: logger.With("component", "relay"),
		now:    time.Now,
	}
	s.hub = signal.NewServer(signal.ServerOptions{
		Store:       store,
		Logger:      logger,
		CheckOrigin: originChecker(cfg.AllowedOrigins),
	})
	s.router = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/health", s.handleHealth)

	api := router.Group("/api")
	{
		api.GET("/webrtc-config", s.handleWebRTCConfig)
		api.GET("/sessions/:code", s.handleGetSession)
	}

	ws := []gin.HandlerFunc{s.handleWebSocket}
	if s.cfg.AuthRequired() {
		ws = append([]gin.HandlerFunc{JWTAuth(s.cfg.JWTSecret)}, ws...)
	}
	router.GET("/ws", ws...)
	return router
}

// Handler returns the router wrapped with CORS handling.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})
	return c.Handler(s.router)
}

// Hub returns the websocket hub.
func (s *Server) Hub() *signal.Server { return s.hub }

// Run serves on the configured port until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("relay listening", "addr", srv.Addr, "environment", s.cfg.Environment)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"sessions": s.hub.SessionCount(),
	})
}

// handleWebRTCConfig serves the configured ICE servers, plus minted TURN
// credentials when a shared secret is set. An empty list makes clients use
// their built-in fallback.
func (s *Server) handleWebRTCConfig(c *gin.Context) {
	servers := make([]peer.ServerConfig, 0, len(s.cfg.ICEServers)+1)
	servers = append(servers, s.cfg.ICEServers...)

	if s.cfg.TURN.Enabled() {
		label := c.GetString(userIDKey)
		if label == "" {
			label = "superdesk"
		}
		username, credential := TURNCredentials(s.cfg.TURN.Secret, label, s.cfg.TURN.TTL, s.now())
		servers = append(servers, peer.ServerConfig{
			URLs:       peer.URLList(s.cfg.TURN.URLs),
			Username:   username,
			Credential: credential,
		})
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, peer.ConfigResponse{ICEServers: servers})
}

func (s *Server) handleGetSession(c *gin.Context) {
	code := signal.NormalizeSessionCode(c.Param("code"))
	if !signal.ValidateSessionCode(code) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid session code"})
		return
	}

	rec, err := s.store.Get(c.Request.Context(), code)
	if errors.Is(err, signal.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}
	if err != nil {
		s.logger.Error("session lookup failed", "session", code, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":      rec.Code,
		"tag":       rec.Tag,
		"hasGuest":  rec.GuestID != "",
		"createdAt": rec.CreatedAt,
	})
}

func (s *Server) handleWebSocket(c *gin.Context) {
	r := c.Request
	if owner := c.GetString(userIDKey); owner != "" {
		r = r.WithContext(signal.WithOwner(r.Context(), owner))
	}
	s.hub.HandleWebSocket(c.Writer, r)
}

// originChecker allows requests without an Origin header (native clients) and
// those whose origin is listed. "*" allows everything.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

// Serve opens the configured session store and runs a relay until ctx is
// cancelled.
func Serve(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	var store signal.Store
	if cfg.Redis.Host != "" {
		client, err := Connect(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer client.Close()
		store = NewRedisStore(client, cfg.SessionTTL)
		logger.Info("redis session store", "addr", cfg.Redis.Addr())
	}

	return New(cfg, store, logger).Run(ctx)
}
