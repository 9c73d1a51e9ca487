package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/yoointerview/internal/api/middleware"
	"github.com/yoockh/yoointerview/internal/models"
	"github.com/yoockh/yoointerview/internal/providers/stt"
	"github.com/yoockh/yoointerview/internal/services"
	"github.com/yoockh/yoointerview/internal/storage"
	"github.com/yoockh/yoointerview/internal/turn"
	"github.com/yoockh/yoointerview/internal/utils"
)

// maxRecordingBytes caps one recorded answer.
const maxRecordingBytes = 20 << 20

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

type WSDeps struct {
	Sessions services.SessionService
	Live     *Live
	STT      stt.Provider     // optional
	Uploader storage.Uploader // optional
	Fanout   turn.Sink        // optional, ex: realtime.Publisher
	Options  turn.Options
	Origins  []string
	Logger   *logrus.Logger

	PingInterval time.Duration // default 54s, must stay below the 60s read deadline
}

type WSHandler struct {
	d        WSDeps
	upgrader websocket.Upgrader
}

func NewWSHandler(d WSDeps) *WSHandler {
	if d.Live == nil {
		d.Live = NewLive()
	}
	if d.Logger == nil {
		d.Logger = logrus.New()
	}
	if d.PingInterval <= 0 || d.PingInterval >= pongWait {
		d.PingInterval = pingPeriod
	}
	allowed := map[string]bool{}
	for _, o := range d.Origins {
		allowed[o] = true
	}
	return &WSHandler{
		d: d,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || len(allowed) == 0 || allowed[origin] || allowed["*"]
			},
		},
	}
}

type wsClientMsg struct {
	Type        string  `json:"type"`
	Text        string  `json:"text"`
	Final       bool    `json:"final"`
	AudioBase64 string  `json:"audio_base64"`
	Level       float64 `json:"level"`
}

type wsServerMsg struct {
	Type     string           `json:"type"` // update/present/error/closed
	Update   *turn.Update     `json:"update,omitempty"`
	Question *models.Question `json:"question,omitempty"`
	Notice   string           `json:"notice,omitempty"`
	Code     utils.Code       `json:"code,omitempty"`
	Message  string           `json:"message,omitempty"`
}

type wsConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func (w *wsConn) writeJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.c.SetWriteDeadline(time.Now().Add(writeWait))
	return w.c.WriteJSON(v)
}

func (w *wsConn) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.c.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (w *wsConn) writeError(err error) {
	msg := wsServerMsg{Type: "error", Code: utils.CodeOf(err), Message: err.Error()}
	var ae *utils.AppError
	if errors.As(err, &ae) && ae.Message != "" {
		msg.Message = ae.Message
	}
	_ = w.writeJSON(msg)
}

// SessionWS drives one interview session over a WebSocket. The client plays
// the avatar clips and captures the microphone; the controller owns the
// turn state. A disconnect leaves the session resumable.
func (h *WSHandler) SessionWS(c *gin.Context) {
	const op = "WSHandler.SessionWS"

	sess, ok := ownedSession(c, h.d.Sessions, op)
	if !ok {
		return
	}
	runner := h.d.Live.Runner(sess.UserID)
	if active := runner.Active(); active != nil {
		writeError(c, utils.E(utils.CodeConflict, op, "another session is running", nil))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	wc := &wsConn{c: conn}
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	log := h.d.Logger.WithField("session_id", sess.ID)
	mic := &wsMicrophone{}
	out := turn.NewChanSink(256)
	sink := turn.MultiSink{out, h.d.Fanout}

	ctrl := turn.New(sess.ID, turn.Deps{
		Sessions:  h.d.Sessions,
		Presenter: &wsPresenter{conn: wc},
		Mic:       mic,
		STT:       h.d.STT,
		Uploader:  h.d.Uploader,
		Sink:      sink,
		Log:       h.d.Logger,
	}, h.d.Options)

	// writer: controller updates and keepalive pings -> WS
	go func() {
		ticker := time.NewTicker(h.d.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := wc.ping(); err != nil {
					cancel()
					return
				}
			case u := <-out.C:
				if err := wc.writeJSON(wsServerMsg{Type: "update", Update: &u}); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	// reader: WS -> controller
	go func() {
		defer cancel()
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})

		for {
			_, data, rerr := conn.ReadMessage()
			if rerr != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))

			var msg wsClientMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				wc.writeError(utils.E(utils.CodeInvalidArgument, op, "invalid json", err))
				continue
			}
			if err := h.dispatch(ctx, ctrl, mic, msg); err != nil {
				if errors.Is(err, turn.ErrStopped) {
					return
				}
				wc.writeError(err)
			}
		}
	}()

	res, err := runner.Run(ctx, ctrl)
	c.Set(middleware.CtxTurnState, string(ctrl.State()))
	switch {
	case err == nil && res != nil:
		log.WithField("overall_score", res.OverallScore).Info("ws session completed")
	case err == nil:
		log.Info("ws session cancelled")
	case errors.Is(err, context.Canceled):
		log.Info("ws client disconnected, session left resumable")
		return
	default:
		log.WithError(err).Warn("ws session ended with error")
		wc.writeError(err)
	}

	// flush what the controller reported last
	for len(out.C) > 0 {
		u := <-out.C
		_ = wc.writeJSON(wsServerMsg{Type: "update", Update: &u})
	}
	_ = wc.writeJSON(wsServerMsg{Type: "closed"})
}

func (h *WSHandler) dispatch(ctx context.Context, ctrl *turn.Controller, mic *wsMicrophone, msg wsClientMsg) error {
	const op = "WSHandler.dispatch"

	switch msg.Type {
	case "playback_started":
		return ctrl.Signal(turn.Event{Kind: turn.PlaybackStarted})
	case "playback_ended":
		return ctrl.Signal(turn.Event{Kind: turn.PlaybackEnded})
	case "recognition_result":
		return ctrl.Signal(turn.Event{Kind: turn.RecognitionResult, Text: msg.Text, Final: msg.Final})
	case "start_recording":
		return ctrl.StartRecording(ctx)
	case "audio_chunk":
		raw := msg.AudioBase64
		if i := strings.Index(raw, ","); i >= 0 {
			raw = raw[i+1:] // strip data:...;base64,
		}
		var chunk []byte
		if raw != "" {
			b, err := base64.StdEncoding.DecodeString(raw)
			if err != nil {
				return utils.E(utils.CodeInvalidArgument, op, "invalid audio_base64", err)
			}
			chunk = b
		}
		return mic.feed(chunk, msg.Level)
	case "stop_recording":
		return ctrl.StopRecording(ctx)
	case "cancel":
		return ctrl.Cancel(ctx)
	default:
		return utils.E(utils.CodeInvalidArgument, op, "unknown message type", nil)
	}
}

// wsPresenter asks the client to play a clip or show a notice.
type wsPresenter struct {
	conn *wsConn
}

func (p *wsPresenter) PresentQuestion(_ context.Context, q models.Question) error {
	return p.conn.writeJSON(wsServerMsg{Type: "present", Question: &q})
}

func (p *wsPresenter) PresentNotice(_ context.Context, text string) error {
	return p.conn.writeJSON(wsServerMsg{Type: "present", Notice: text})
}

// wsMicrophone collects audio_chunk frames into the open capture.
type wsMicrophone struct {
	mu      sync.Mutex
	current *wsCapture
}

func (m *wsMicrophone) Open(context.Context) (turn.Capture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil && !m.current.isClosed() {
		return nil, errors.New("capture already open")
	}
	m.current = &wsCapture{}
	return m.current, nil
}

func (m *wsMicrophone) feed(chunk []byte, level float64) error {
	m.mu.Lock()
	cp := m.current
	m.mu.Unlock()
	if cp == nil {
		return utils.E(utils.CodeConflict, "WSHandler.dispatch", "not recording", nil)
	}
	return cp.write(chunk, level)
}

type wsCapture struct {
	mu     sync.Mutex
	buf    []byte
	level  float64
	closed bool
}

func (c *wsCapture) write(chunk []byte, level float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return utils.E(utils.CodeConflict, "WSHandler.dispatch", "not recording", nil)
	}
	if len(c.buf)+len(chunk) > maxRecordingBytes {
		return utils.E(utils.CodeInvalidArgument, "WSHandler.dispatch", "recording too large", nil)
	}
	c.buf = append(c.buf, chunk...)
	if level >= 0 && level <= 1 {
		c.level = level
	}
	return nil
}

func (c *wsCapture) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *wsCapture) Level() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

func (c *wsCapture) Stop() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	out := c.buf
	c.buf = nil
	return out, nil
}

func (c *wsCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.buf = nil
	return nil
}
