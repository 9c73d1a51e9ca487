package handlers

import (
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/yoointerview/internal/api/middleware"
	"github.com/yoockh/yoointerview/internal/models"
	"github.com/yoockh/yoointerview/internal/services"
	"github.com/yoockh/yoointerview/internal/turn"
	"github.com/yoockh/yoointerview/internal/utils"
)

type APIError struct {
	Code    utils.Code `json:"code"`
	Message string     `json:"message"`
}

func writeError(c *gin.Context, err error) {
	status := utils.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}

	var ae *utils.AppError
	if errors.As(err, &ae) {
		c.JSON(status, APIError{
			Code:    ae.Code,
			Message: ae.Message,
		})
		return
	}

	c.JSON(status, APIError{
		Code:    utils.CodeInternal,
		Message: http.StatusText(status),
	})
}

func requireUserID(c *gin.Context) (string, bool) {
	if v, ok := c.Get("user_id"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s, true
		}
	}

	writeError(c, utils.E(utils.CodeUnauthorized, "Auth", "unauthorized", nil))
	return "", false
}

// ownedSession loads the session and checks it belongs to the caller.
func ownedSession(c *gin.Context, svc services.SessionService, op string) (*models.Session, bool) {
	userID, ok := requireUserID(c)
	if !ok {
		return nil, false
	}
	sess, err := svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	if sess.UserID != userID {
		writeError(c, utils.E(utils.CodeForbidden, op, "forbidden", nil))
		return nil, false
	}
	c.Set(middleware.CtxSessionStatus, string(sess.Status))
	return sess, true
}

// Live tracks the turn runner of every connected user so HTTP commands can
// reach a session that a WebSocket is driving.
type Live struct {
	mu      sync.Mutex
	runners map[string]*turn.Runner
}

func NewLive() *Live {
	return &Live{runners: map[string]*turn.Runner{}}
}

func (l *Live) Runner(userID string) *turn.Runner {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.runners[userID]
	if !ok {
		r = turn.NewRunner()
		l.runners[userID] = r
	}
	return r
}

// Controller returns the running controller of sessionID, or nil.
func (l *Live) Controller(userID, sessionID string) *turn.Controller {
	l.mu.Lock()
	r, ok := l.runners[userID]
	l.mu.Unlock()
	if !ok {
		return nil
	}
	if c := r.Active(); c != nil && c.SessionID() == sessionID {
		return c
	}
	return nil
}
