package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Context keys handlers may set for the request log line.
const (
	CtxSessionStatus = "session_status"
	CtxTurnState     = "turn_state"
)

// probe endpoints are logged at debug so they do not drown session traffic
var quietPaths = map[string]bool{"/healthz": true, "/metrics": true}

func RequestLogger(l *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		reqID := c.GetHeader("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header("X-Request-Id", reqID)
		c.Set("request_id", reqID)

		upgrade := c.IsWebsocket()

		c.Next()

		status := c.Writer.Status()
		userID, _ := c.Get("user_id")

		fields := logrus.Fields{
			"request_id": reqID,
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     status,
			"latency_ms": time.Since(start).Milliseconds(),
			"ip":         c.ClientIP(),
			"user_id":    userID,
		}
		if id := c.Param("id"); id != "" {
			fields["session_id"] = id
		}
		if v, ok := c.Get(CtxSessionStatus); ok {
			fields[CtxSessionStatus] = v
		}
		if v, ok := c.Get(CtxTurnState); ok {
			fields[CtxTurnState] = v
		}
		if upgrade {
			// the handler returns when the socket closes
			fields["websocket"] = true
		}
		entry := l.WithFields(fields)

		if len(c.Errors) > 0 {
			entry = entry.WithField("errors", c.Errors.String())
		}

		switch {
		case status >= 500:
			entry.Error("request")
		case status >= 400:
			entry.Warn("request")
		case quietPaths[c.FullPath()] && status == http.StatusOK:
			entry.Debug("request")
		default:
			entry.Info("request")
		}
	}
}
