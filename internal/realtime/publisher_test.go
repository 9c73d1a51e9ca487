package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoockh/yoointerview/internal/turn"
)

type published struct {
	channel string
	payload []byte
}

type fakeRedis struct {
	mu   sync.Mutex
	got  []published
	fail bool
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		cmd.SetErr(errors.New("connection refused"))
		return cmd
	}
	f.got = append(f.got, published{channel, message.([]byte)})
	cmd.SetVal(1)
	return cmd
}

func quiet() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestPublisher_SkipsVolumeAndDrainsOnClose(t *testing.T) {
	rdb := &fakeRedis{}
	p := NewPublisher(rdb, quiet(), 8)

	p.Publish(turn.Update{Type: turn.UpdateState, SessionID: "s1", State: turn.StatePresenting})
	p.Publish(turn.Update{Type: turn.UpdateVolume, SessionID: "s1", Volume: 0.4})
	p.Publish(turn.Update{Type: turn.UpdateState, SessionID: "s1", State: turn.StateRecording})
	p.Close()

	require.Len(t, rdb.got, 2)
	for _, g := range rdb.got {
		assert.Equal(t, "session:s1:status", g.channel)
	}
	var last turn.Update
	require.NoError(t, json.Unmarshal(rdb.got[1].payload, &last))
	assert.Equal(t, turn.StateRecording, last.State)
}

func TestPublisher_ErrorsAreNotFatal(t *testing.T) {
	rdb := &fakeRedis{fail: true}
	p := NewPublisher(rdb, quiet(), 1)
	p.Publish(turn.Update{Type: turn.UpdateState, SessionID: "s1"})
	p.Close()
	assert.Empty(t, rdb.got)
}

func TestPublisher_PublishAfterCloseIsDropped(t *testing.T) {
	rdb := &fakeRedis{}
	p := NewPublisher(rdb, quiet(), 4)
	p.Publish(turn.Update{Type: turn.UpdateState, SessionID: "s1", State: turn.StatePresenting})
	p.Close()

	assert.NotPanics(t, func() {
		p.Publish(turn.Update{Type: turn.UpdateState, SessionID: "s1", State: turn.StateCompleted})
		p.Close()
	})
	assert.Len(t, rdb.got, 1)
}

func TestPublisher_ConcurrentPublishAndClose(t *testing.T) {
	p := NewPublisher(&fakeRedis{}, quiet(), 2)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				p.Publish(turn.Update{Type: turn.UpdateState, SessionID: "s1"})
			}
		}()
	}
	p.Close()
	wg.Wait()
}
