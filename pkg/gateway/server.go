package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/entrhq/capture/pkg/logging"
	"github.com/entrhq/capture/pkg/metrics"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	shutdownGrace  = 5 * time.Second
)

// inbound is one command frame from a WebSocket client.
type inbound struct {
	ID      json.RawMessage `json:"id,omitempty"`
	Command string          `json:"command"`
	Args    json.RawMessage `json:"args,omitempty"`
}

// Server exposes a Gateway over HTTP and WebSocket.
type Server struct {
	gw       *Gateway
	hub      *hub
	router   *gin.Engine
	upgrader websocket.Upgrader
	log      *logging.Logger
	metrics  *metrics.Collector
}

// NewServer builds the router and starts forwarding the controller's events
// to WebSocket clients. Forwarding ends when the controller is closed.
func NewServer(gw *Gateway, log *logging.Logger, m *metrics.Collector) *Server {
	if log == nil {
		log = logging.NewNopLogger()
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		gw:      gw,
		hub:     newHub(log),
		router:  gin.New(),
		log:     log,
		metrics: m,
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.originAllowed}

	s.router.Use(gin.Recovery(), s.requestLog(), s.requireOrigin())
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/ws", s.handleWS)
	s.router.GET("/v1/commands", s.handleList)
	s.router.POST("/v1/commands/:name", requireJSON(), s.handleCommand)
	if m != nil {
		s.router.GET("/metrics", gin.WrapH(m.Handler()))
	}

	go s.hub.run(gw.Controller().Events())
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Done is closed once event forwarding has stopped.
func (s *Server) Done() <-chan struct{} { return s.hub.done }

// Run serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("gateway listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debugf("%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// originAllowed accepts requests without an Origin header and those from a
// configured origin. Loopback alone does not keep pages in the user's browser
// from connecting.
func (s *Server) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.gw.cfg.AllowedOrigins {
		if strings.EqualFold(strings.TrimSuffix(allowed, "/"), origin) {
			return true
		}
	}
	return false
}

func (s *Server) requireOrigin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.originAllowed(c.Request) {
			s.log.Warnf("refused %s %s from origin %q", c.Request.Method, c.Request.URL.Path, c.GetHeader("Origin"))
			c.AbortWithStatusJSON(http.StatusForbidden, Fail("origin not allowed"))
			return
		}
		c.Next()
	}
}

// requireJSON refuses bodies browsers can send cross-origin without a
// preflight (text/plain, form encodings).
func requireJSON() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.ContentType() != "application/json" {
			c.AbortWithStatusJSON(http.StatusUnsupportedMediaType, Fail("Content-Type must be application/json"))
			return
		}
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"session": s.gw.Controller().IsCreated(),
		"clients": s.hub.count(),
	})
}

func (s *Server) handleList(c *gin.Context) {
	c.JSON(http.StatusOK, OK(s.gw.Commands()))
}

func (s *Server) handleCommand(c *gin.Context) {
	name := c.Param("name")
	if _, ok := s.gw.lookup(name); !ok {
		c.JSON(http.StatusNotFound, Fail(ErrUnknownCommand.Error()+": "+name))
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxMessageSize))
	if err != nil {
		c.JSON(http.StatusBadRequest, Fail("failed to read request body"))
		return
	}
	if len(body) > 0 && !json.Valid(body) {
		c.JSON(http.StatusBadRequest, Fail("request body is not valid JSON"))
		return
	}

	// Envelope failures are results, not transport errors.
	c.JSON(http.StatusOK, s.gw.Dispatch(c.Request.Context(), name, body))
}

func (s *Server) handleWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warnf("websocket upgrade failed: %v", err)
		return
	}

	cl, ok := s.hub.register()
	if !ok {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	s.metrics.WSConnected(1)
	s.log.Infof("websocket client connected from %s", c.Request.RemoteAddr)

	done := make(chan struct{})
	go s.writePump(conn, cl, done)
	s.readPump(c.Request.Context(), conn, cl)

	s.hub.unregister(cl)
	<-done
	s.metrics.WSConnected(-1)
	s.log.Infof("websocket client %s disconnected", c.Request.RemoteAddr)
}

// readPump dispatches command frames in arrival order until the connection
// fails.
func (s *Server) readPump(ctx context.Context, conn *websocket.Conn, cl *client) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warnf("websocket read error: %v", err)
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			resp := Fail("malformed frame: " + err.Error())
			if !s.hub.reply(cl, frame{Response: &resp}) {
				return
			}
			continue
		}

		resp := s.gw.Dispatch(ctx, msg.Command, msg.Args)
		if !s.hub.reply(cl, frame{ID: msg.ID, Response: &resp}) {
			return
		}
	}
}

// writePump is the only writer of conn. It closes conn when the client's
// queue is closed.
func (s *Server) writePump(conn *websocket.Conn, cl *client, done chan<- struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
		close(done)
	}()

	for {
		select {
		case f, ok := <-cl.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				if cl.evicted {
					msg = websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "event queue overflow; resync with state")
				}
				_ = conn.WriteMessage(websocket.CloseMessage, msg)
				return
			}
			if err := conn.WriteJSON(f); err != nil {
				s.log.Debugf("websocket write failed: %v", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
