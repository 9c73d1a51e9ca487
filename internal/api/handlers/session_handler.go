package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/yoointerview/internal/api/middleware"
	"github.com/yoockh/yoointerview/internal/models"
	"github.com/yoockh/yoointerview/internal/services"
	"github.com/yoockh/yoointerview/internal/storage"
	"github.com/yoockh/yoointerview/internal/utils"
)

type SessionHandler struct {
	svc    services.SessionService
	live   *Live
	signer storage.Signer // optional
	urlTTL time.Duration
}

func NewSessionHandler(svc services.SessionService, live *Live, signer storage.Signer, urlTTL time.Duration) *SessionHandler {
	if live == nil {
		live = NewLive()
	}
	if urlTTL <= 0 {
		urlTTL = 15 * time.Minute
	}
	return &SessionHandler{svc: svc, live: live, signer: signer, urlTTL: urlTTL}
}

type CreateSessionRequest struct {
	JobID      string `json:"job_id"`
	Difficulty string `json:"difficulty"`
	Language   string `json:"language"`
	Persona    string `json:"persona"`
}

type CompleteSessionRequest struct {
	Responses []models.Response `json:"responses"`
}

func (h *SessionHandler) Create(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req CreateSessionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, utils.E(utils.CodeInvalidArgument, "SessionHandler.Create", "invalid request body", err))
			return
		}
	}

	sess, err := h.svc.Create(c.Request.Context(), services.CreateSessionInput{
		UserID:     userID,
		JobID:      req.JobID,
		Difficulty: req.Difficulty,
		Language:   req.Language,
		Persona:    req.Persona,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (h *SessionHandler) Get(c *gin.Context) {
	sess, ok := ownedSession(c, h.svc, "SessionHandler.Get")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *SessionHandler) Start(c *gin.Context) {
	sess, ok := ownedSession(c, h.svc, "SessionHandler.Start")
	if !ok {
		return
	}
	started, err := h.svc.Start(c.Request.Context(), sess.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, started)
}

// Cancel goes through the live controller when one is driving the session
// so its microphone and timers are released too.
func (h *SessionHandler) Cancel(c *gin.Context) {
	sess, ok := ownedSession(c, h.svc, "SessionHandler.Cancel")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if ctrl := h.live.Controller(sess.UserID, sess.ID); ctrl != nil {
		c.Set(middleware.CtxTurnState, string(ctrl.State()))
		if err := ctrl.Cancel(ctx); err != nil {
			writeError(c, err)
			return
		}
		cancelled, err := h.svc.Get(ctx, sess.ID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, cancelled)
		return
	}

	cancelled, err := h.svc.Cancel(ctx, sess.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cancelled)
}

func (h *SessionHandler) Complete(c *gin.Context) {
	const op = "SessionHandler.Complete"

	sess, ok := ownedSession(c, h.svc, op)
	if !ok {
		return
	}
	if h.live.Controller(sess.UserID, sess.ID) != nil {
		writeError(c, utils.E(utils.CodeConflict, op, "session is being driven live", nil))
		return
	}

	var req CompleteSessionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, utils.E(utils.CodeInvalidArgument, op, "invalid request body", err))
			return
		}
	}

	res, err := h.svc.Complete(c.Request.Context(), sess.ID, req.Responses)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *SessionHandler) Result(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	res, err := h.svc.Result(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if res.UserID != userID {
		writeError(c, utils.E(utils.CodeForbidden, "SessionHandler.Result", "forbidden", nil))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *SessionHandler) ListResults(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	h.listResults(c, userID)
}

// ListAllResults serves the global index; admin only.
func (h *SessionHandler) ListAllResults(c *gin.Context) {
	h.listResults(c, "")
}

func (h *SessionHandler) listResults(c *gin.Context, userID string) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	out, err := h.svc.ListResults(c.Request.Context(), userID, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": out})
}

// ResponseAudio returns a short-lived URL for a recorded answer.
func (h *SessionHandler) ResponseAudio(c *gin.Context) {
	const op = "SessionHandler.ResponseAudio"

	sess, ok := ownedSession(c, h.svc, op)
	if !ok {
		return
	}
	if h.signer == nil {
		writeError(c, utils.E(utils.CodeUnavailable, op, "audio storage is not configured", nil))
		return
	}

	idx, err := strconv.Atoi(c.Param("index"))
	if err != nil || idx < 0 || idx >= len(sess.Responses) {
		writeError(c, utils.E(utils.CodeNotFound, op, "response not found", nil))
		return
	}
	ref := sess.Responses[idx].AudioRef
	if ref == "" {
		writeError(c, utils.E(utils.CodeNotFound, op, "response has no recording", nil))
		return
	}

	url, err := h.signer.SignedGetURL(c.Request.Context(), ref, h.urlTTL)
	if err != nil {
		writeError(c, utils.E(utils.CodeUnavailable, op, "failed to sign url", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url, "expires_in_seconds": int(h.urlTTL.Seconds())})
}
