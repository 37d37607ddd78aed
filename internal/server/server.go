// Package server exposes the control plane: a REST API for strategy run
// lifecycle, a metrics endpoint and a websocket feed of portfolio snapshots.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"portfolio_trader/internal/core"
	"portfolio_trader/internal/manager"
	apperrors "portfolio_trader/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The control plane is expected to sit behind a trusted proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server is the HTTP control plane.
type Server struct {
	manager *manager.Manager
	hub     *Hub
	logger  core.ILogger
	router  *gin.Engine
	httpSrv *http.Server
}

// New builds the server and its routes.
func New(mgr *manager.Manager, hub *Hub, logger core.ILogger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		manager: mgr,
		hub:     hub,
		logger:  logger.WithField("component", "server"),
		router:  router,
	}
	s.registerRoutes()
	return s
}

// Router exposes the gin engine, used directly by tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/ws", s.handleWebsocket)

	api := s.router.Group("/api/v1")
	{
		api.POST("/strategies", s.handleCreate)
		api.GET("/strategies", s.handleList)
		api.GET("/strategies/:id", s.handleGet)
		api.POST("/strategies/:id/pause", s.lifecycle(s.manager.Pause))
		api.POST("/strategies/:id/resume", s.lifecycle(s.manager.Resume))
		api.POST("/strategies/:id/stop", s.lifecycle(s.manager.Stop))
		api.GET("/strategies/:id/snapshots", s.handleSnapshots)
	}
}

// createRequest is the POST /strategies body.
type createRequest struct {
	Name                     string                 `json:"name" binding:"required"`
	Strategy                 string                 `json:"strategy" binding:"required"`
	AllocationUSD            float64                `json:"allocation_usd" binding:"required,gt=0"`
	RebalanceIntervalSeconds int                    `json:"rebalance_interval_seconds" binding:"required,gt=0"`
	Paper                    bool                   `json:"paper"`
	Parameters               map[string]interface{} `json:"parameters"`
}

func (s *Server) handleCreate(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	info, err := s.manager.Create(c.Request.Context(), manager.RunSpec{
		Name:              req.Name,
		Strategy:          req.Strategy,
		Parameters:        req.Parameters,
		AllocationUSD:     decimal.NewFromFloat(req.AllocationUSD),
		RebalanceInterval: time.Duration(req.RebalanceIntervalSeconds) * time.Second,
		Paper:             req.Paper,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, apperrors.ErrUnknownStrategy) || errors.Is(err, apperrors.ErrInvalidOrderParameter) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, info)
}

func (s *Server) handleList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"strategies": s.manager.List()})
}

func (s *Server) handleGet(c *gin.Context) {
	info, err := s.manager.Get(c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// lifecycle adapts a manager command into a handler.
func (s *Server) lifecycle(cmd func(string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := cmd(c.Param("id")); err != nil {
			s.renderError(c, err)
			return
		}
		info, err := s.manager.Get(c.Param("id"))
		if err != nil {
			s.renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, info)
	}
}

func (s *Server) handleSnapshots(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	snaps, err := s.manager.Snapshots(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snaps})
}

func (s *Server) renderError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, apperrors.ErrRunnerNotFound) {
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) handleWebsocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}

	client := newWSClient()
	s.hub.register(client)

	// Reader: only used to detect disconnects.
	go func() {
		defer s.hub.unregister(client)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Writer: drains the client's queue until it closes.
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteJSON(msg); err != nil {
				s.hub.unregister(client)
				return
			}
		}
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}()
}

// Run serves until ctx is cancelled, then drains connections.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Control server listening", "addr", addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.hub.Shutdown(shutdownCtx)
	return s.httpSrv.Shutdown(shutdownCtx)
}
