package relay

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"callsync/internal/domain"
	"callsync/internal/stream"
	apperrors "callsync/pkg/errors"
	"callsync/pkg/logger"
	"callsync/pkg/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Server exposes the relay over HTTP: the websocket endpoint plus the
// notification REST API the clients sync against.
type Server struct {
	hub   *Hub
	store *NotificationStore
}

func NewServer(hub *Hub, store *NotificationStore) *Server {
	return &Server{hub: hub, store: store}
}

// requestMetrics records request counts and latency per route
func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RelayHTTPRequestsTotal.WithLabelValues(
			c.Request.Method, path, statusClass(c.Writer.Status())).Inc()
		metrics.RelayHTTPRequestDuration.WithLabelValues(
			c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	}
	return strconv.Itoa(code)
}

// Router builds the gin engine with all relay routes
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestMetrics())

	r.GET("/ws", s.handleWS)
	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		api.GET("/notifications", s.listNotifications)
		api.GET("/notifications/:id", s.getNotification)
		api.POST("/notifications", s.createNotification)
		api.POST("/notifications/read", s.markNotificationsRead)
	}
	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleWS upgrades the connection and waits for the hello frame that
// identifies the user before registering with the hub
func (s *Server) handleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return
	}
	conn.SetReadDeadline(time.Time{})

	var f stream.Frame
	if err := json.Unmarshal(raw, &f); err != nil || f.Op != stream.OpHello {
		logger.Warn("client did not say hello")
		conn.Close()
		return
	}
	var hello struct {
		UserID uuid.UUID `json:"user_id"`
	}
	if err := json.Unmarshal(f.Data, &hello); err != nil || hello.UserID == uuid.Nil {
		logger.Warn("malformed hello frame")
		conn.Close()
		return
	}

	client := newClient(s.hub, hello.UserID, conn)
	s.hub.register <- client
	go client.writePump()
	go client.readPump()
}

func (s *Server) userID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.GetHeader("X-User-ID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid X-User-ID header"})
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) listNotifications(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}

	since := time.Time{}
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		since = parsed
	}

	c.JSON(http.StatusOK, gin.H{
		"notifications": s.store.ListSince(userID, since),
	})
}

func (s *Server) getNotification(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification id"})
		return
	}

	n, err := s.store.Get(userID, id)
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeNotificationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, n)
}

// createNotification lets backend services inject a notification for a
// user; it is stored and pushed live over their subscription
func (s *Server) createNotification(c *gin.Context) {
	var req struct {
		UserID       uuid.UUID           `json:"user_id" binding:"required"`
		Notification domain.Notification `json:"notification" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	stored := s.hub.PushNotification(req.UserID, req.Notification)
	c.JSON(http.StatusCreated, stored)
}

func (s *Server) markNotificationsRead(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}

	var req struct {
		NotificationIDs []uuid.UUID `json:"notification_ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	readAt := time.Now()
	flipped := s.store.MarkRead(userID, req.NotificationIDs, readAt)
	if len(flipped) > 0 {
		s.hub.PushReadReceipt(userID, domain.ReadReceiptEvent{
			NotificationIDs: flipped,
			ReadAt:          readAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"marked_read": len(flipped)})
}
