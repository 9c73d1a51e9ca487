package handlers

import (
	"context"
	"encoding/base64"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoockh/yoointerview/internal/cache"
	"github.com/yoockh/yoointerview/internal/models"
	"github.com/yoockh/yoointerview/internal/services"
	"github.com/yoockh/yoointerview/internal/store"
	"github.com/yoockh/yoointerview/internal/turn"
)

func newWSServer(t *testing.T, opts ...func(*WSDeps)) (*httptest.Server, services.SessionService) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logrus.New()
	log.SetOutput(io.Discard)

	kv := store.NewKV(cache.NewMemoryCache(), 0)
	svc := services.NewSessionService(services.SessionDeps{
		Sessions:   kv,
		Results:    kv,
		Pool:       services.NewQuestionPoolService(kv, nil, log),
		Media:      services.NewMediaService(nil, services.MediaOptions{}, log),
		Aggregator: services.NewResultAggregator(rand.NewSource(1)),
	}, services.SessionConfig{}, log)

	deps := WSDeps{
		Sessions: svc,
		Live:     NewLive(),
		Options:  turn.Options{AdvanceFallback: time.Hour},
		Logger:   log,
	}
	for _, o := range opts {
		o(&deps)
	}
	h := NewWSHandler(deps)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("user_id", c.GetHeader("X-Test-User"))
		c.Next()
	})
	r.GET("/ws/interviews/:id", h.SessionWS)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, svc
}

func dial(t *testing.T, srv *httptest.Server, sessionID, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/interviews/" + sessionID
	conn, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"X-Test-User": {user}})
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

// next reads frames until match accepts one.
func next(t *testing.T, conn *websocket.Conn, match func(wsServerMsg) bool) wsServerMsg {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg wsServerMsg
		require.NoError(t, conn.ReadJSON(&msg))
		if match(msg) {
			return msg
		}
	}
}

func stateIs(s turn.State) func(wsServerMsg) bool {
	return func(m wsServerMsg) bool {
		return m.Type == "update" && m.Update != nil && m.Update.Type == turn.UpdateState && m.Update.State == s
	}
}

func TestWSHandler_TurnOverSocket(t *testing.T) {
	srv, svc := newWSServer(t)
	ctx := context.Background()
	sess, err := svc.Create(ctx, services.CreateSessionInput{UserID: "u1"})
	require.NoError(t, err)

	conn := dial(t, srv, sess.ID, "u1")

	present := next(t, conn, func(m wsServerMsg) bool { return m.Type == "present" && m.Question != nil })
	assert.Equal(t, "general_1", present.Question.ID)

	require.NoError(t, conn.WriteJSON(wsClientMsg{Type: "start_recording"}))
	next(t, conn, stateIs(turn.StateRecording))

	audio := base64.StdEncoding.EncodeToString([]byte("opus"))
	require.NoError(t, conn.WriteJSON(wsClientMsg{Type: "audio_chunk", AudioBase64: "data:audio/webm;base64," + audio, Level: 0.3}))
	require.NoError(t, conn.WriteJSON(wsClientMsg{Type: "recognition_result", Text: "I build payment systems", Final: true}))
	require.NoError(t, conn.WriteJSON(wsClientMsg{Type: "stop_recording"}))

	resp := next(t, conn, func(m wsServerMsg) bool {
		return m.Type == "update" && m.Update != nil && m.Update.Type == turn.UpdateResponse
	})
	assert.Equal(t, "I build payment systems", resp.Update.Response.Transcript)
	assert.Equal(t, models.SourceLive, resp.Update.Response.Source)

	require.NoError(t, conn.WriteJSON(wsClientMsg{Type: "bogus"}))
	errMsg := next(t, conn, func(m wsServerMsg) bool { return m.Type == "error" })
	assert.Equal(t, "unknown message type", errMsg.Message)

	require.NoError(t, conn.WriteJSON(wsClientMsg{Type: "cancel"}))
	next(t, conn, func(m wsServerMsg) bool { return m.Type == "closed" })

	got, err := svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	require.Len(t, got.Responses, 1)
}

func TestWSHandler_RejectsOtherUser(t *testing.T) {
	srv, svc := newWSServer(t)
	sess, err := svc.Create(context.Background(), services.CreateSessionInput{UserID: "u1"})
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/interviews/" + sess.ID
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"X-Test-User": {"u2"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWSHandler_SendsKeepalivePings(t *testing.T) {
	srv, svc := newWSServer(t, func(d *WSDeps) { d.PingInterval = 20 * time.Millisecond })
	sess, err := svc.Create(context.Background(), services.CreateSessionInput{UserID: "u1"})
	require.NoError(t, err)

	conn := dial(t, srv, sess.ID, "u1")
	pings := make(chan struct{}, 8)
	conn.SetPingHandler(func(data string) error {
		select {
		case pings <- struct{}{}:
		default:
		}
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-pings:
		case <-time.After(2 * time.Second):
			t.Fatal("no ping from server")
		}
	}
}

func TestNewWSHandler_PingIntervalBelowReadDeadline(t *testing.T) {
	tests := []struct {
		name string
		in   time.Duration
		want time.Duration
	}{
		{"unset", 0, pingPeriod},
		{"custom", 15 * time.Second, 15 * time.Second},
		{"past deadline", 2 * time.Minute, pingPeriod},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewWSHandler(WSDeps{PingInterval: tt.in})
			assert.Equal(t, tt.want, h.d.PingInterval)
			assert.Less(t, h.d.PingInterval, pongWait)
		})
	}
}
