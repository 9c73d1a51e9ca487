package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/yoointerview/internal/turn"
)

// StatusChannel is the pub/sub channel carrying a session's turn updates.
func StatusChannel(sessionID string) string {
	return "session:" + sessionID + ":status"
}

// Publisher fans controller updates out over Redis pub/sub so any API
// instance can relay them. Publishing happens on a background goroutine;
// updates are dropped when the queue is full.
type channelPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

type Publisher struct {
	rdb   channelPublisher
	log   *logrus.Logger
	queue chan turn.Update
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewPublisher(rdb channelPublisher, log *logrus.Logger, buffer int) *Publisher {
	if buffer <= 0 {
		buffer = 256
	}
	p := &Publisher{
		rdb:   rdb,
		log:   log,
		queue: make(chan turn.Update, buffer),
		done:  make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish drops u once the publisher is closed.
func (p *Publisher) Publish(u turn.Update) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- u:
	default:
		p.log.WithField("session_id", u.SessionID).Debug("status queue full, update dropped")
	}
}

// Close stops the background goroutine after draining queued updates.
// It is safe to call more than once.
func (p *Publisher) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	<-p.done
}

func (p *Publisher) run() {
	defer close(p.done)
	for u := range p.queue {
		// volume ticks are only useful to the connection that owns the mic
		if u.Type == turn.UpdateVolume {
			continue
		}
		payload, err := json.Marshal(u)
		if err != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := p.rdb.Publish(ctx, StatusChannel(u.SessionID), payload).Err(); err != nil {
			p.log.WithError(err).WithField("session_id", u.SessionID).Warn("publish status failed")
		}
		cancel()
	}
}

// Subscribe relays a session's published updates to fn until ctx ends.
func Subscribe(ctx context.Context, rdb *redis.Client, sessionID string, fn func(turn.Update)) error {
	sub := rdb.Subscribe(ctx, StatusChannel(sessionID))
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var u turn.Update
			if err := json.Unmarshal([]byte(msg.Payload), &u); err != nil {
				continue
			}
			fn(u)
		}
	}
}
