package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func init() {
	gin.SetMode(gin.ReleaseMode)
}

// loggerMiddleware logs each HTTP request at debug level
func loggerMiddleware(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("http request")
	}
}

// newHTTPHandler builds the router for one HTTP listener. The metrics listener
// serves /metrics, the WebSocket listener serves /ws, and both serve /healthz.
// Nothing here touches the registry: handlers read only prometheus collectors
// and atomics published by the event loop.
func (s *Server) newHTTPHandler(withMetrics, withWebSocket bool) http.Handler {
	router := gin.New()
	router.Use(gin.Recovery(), loggerMiddleware(s.log))

	router.GET("/healthz", s.handleHealth)
	if withMetrics {
		router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
	if withWebSocket {
		router.GET("/ws", s.handleWebSocket)
	}

	return router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"server":         s.config.ServerName,
		"clients":        s.liveClients.Load(),
		"channels":       s.liveChannels.Load(),
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	})
}

// handleWebSocket upgrades the request and hands the connection to the event
// loop like any accepted TCP connection.
func (s *Server) handleWebSocket(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", c.Request.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	conn := newWSConn(ws)
	if !s.poller.post(event{kind: eventAccept, conn: conn, transport: transportWebSocket}) {
		conn.Close()
	}
}
