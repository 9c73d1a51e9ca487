package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/yoointerview/internal/events"
	"github.com/yoockh/yoointerview/internal/models"
)

const (
	DefaultArchiveStream = "interview:archive"
	DefaultArchiveGroup  = "archive-workers"
)

type streamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// ArchiveQueue hands finished sessions to the archive workers through a
// Redis stream. It satisfies services.Archiver.
type ArchiveQueue struct {
	rdb    streamAdder
	stream string
}

func NewArchiveQueue(rdb streamAdder, stream string) *ArchiveQueue {
	if stream == "" {
		stream = DefaultArchiveStream
	}
	return &ArchiveQueue{rdb: rdb, stream: stream}
}

func (q *ArchiveQueue) Archive(ctx context.Context, s *models.Session, result *models.Result) error {
	sessionJSON, err := json.Marshal(s)
	if err != nil {
		return err
	}
	values := map[string]any{
		"session_id": s.ID,
		"session":    string(sessionJSON),
	}
	if result != nil {
		resultJSON, err := json.Marshal(result)
		if err != nil {
			return err
		}
		values["result"] = string(resultJSON)
	}
	return q.rdb.XAdd(ctx, &redis.XAddArgs{Stream: q.stream, Values: values}).Err()
}

type SessionArchive interface {
	Upsert(ctx context.Context, s *models.Session) error
}

type ResultArchive interface {
	Upsert(ctx context.Context, rec *models.ResultRecord) error
}

// ArchiveWorkerPool consumes the archive stream and persists every finished
// session to MongoDB, its result to PostgreSQL, and announces it on the
// event bus. Sessions and Results may be nil when that store is not
// configured.
type ArchiveWorkerPool struct {
	Redis      *redis.Client
	Sessions   SessionArchive
	Results    ResultArchive
	Events     events.Publisher
	NumWorkers int

	Logger *logrus.Logger

	Stream         string
	Group          string
	ConsumerPrefix string
	MaxAttempts    int
}

func (p *ArchiveWorkerPool) Start(ctx context.Context) error {
	if p.Redis == nil {
		return errors.New("ArchiveWorkerPool missing dependency: Redis must be set")
	}
	p.defaults()

	_ = p.Redis.XGroupCreateMkStream(ctx, p.Stream, p.Group, "0").Err() // ignore BUSYGROUP

	for i := 0; i < p.NumWorkers; i++ {
		consumer := p.ConsumerPrefix + "-" + strconv.Itoa(i+1)
		go p.runConsumer(ctx, consumer)
	}
	p.Logger.WithFields(logrus.Fields{"stream": p.Stream, "workers": p.NumWorkers}).Info("archive workers started")
	return nil
}

func (p *ArchiveWorkerPool) defaults() {
	if p.Stream == "" {
		p.Stream = DefaultArchiveStream
	}
	if p.Group == "" {
		p.Group = DefaultArchiveGroup
	}
	if p.ConsumerPrefix == "" {
		p.ConsumerPrefix = "c"
	}
	if p.NumWorkers <= 0 {
		p.NumWorkers = 2
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.Logger == nil {
		p.Logger = logrus.New()
	}
}

func (p *ArchiveWorkerPool) runConsumer(ctx context.Context, consumer string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := p.Redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    p.Group,
			Consumer: consumer,
			Streams:  []string{p.Stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()

		if err != nil {
			if err == redis.Nil {
				continue
			}
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				p.handleMsg(ctx, msg)
				_ = p.Redis.XAck(ctx, p.Stream, p.Group, msg.ID).Err()
			}
		}
	}
}

func (p *ArchiveWorkerPool) handleMsg(ctx context.Context, msg redis.XMessage) {
	getStr := func(k string) string {
		v, ok := msg.Values[k]
		if !ok || v == nil {
			return ""
		}
		s, _ := v.(string)
		return s
	}

	log := p.Logger.WithFields(logrus.Fields{
		"redis_id":   msg.ID,
		"session_id": getStr("session_id"),
	})

	var s models.Session
	if err := json.Unmarshal([]byte(getStr("session")), &s); err != nil || s.ID == "" {
		log.WithError(err).Warn("archive message has no usable session, dropped")
		return
	}
	var result *models.Result
	if raw := getStr("result"); raw != "" {
		result = &models.Result{}
		if err := json.Unmarshal([]byte(raw), result); err != nil {
			log.WithError(err).Warn("archive message has a corrupt result, archiving session only")
			result = nil
		}
	}

	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err = p.archive(ctx, &s, result); err == nil {
			break
		}
		log.WithError(err).WithField("attempt", attempt).Warn("archive attempt failed")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
		}
	}
	if err != nil {
		log.WithError(err).Error("archive failed, giving up")
		return
	}
	log.WithField("status", s.Status).Info("session archived")
}

func (p *ArchiveWorkerPool) archive(ctx context.Context, s *models.Session, result *models.Result) error {
	if p.Sessions != nil {
		if err := p.Sessions.Upsert(ctx, s); err != nil {
			return fmt.Errorf("session archive: %w", err)
		}
	}
	if p.Results != nil && result != nil {
		rec, err := models.NewResultRecord(s, result)
		if err != nil {
			return err
		}
		if err := p.Results.Upsert(ctx, rec); err != nil {
			return fmt.Errorf("result archive: %w", err)
		}
	}
	if p.Events != nil {
		if err := p.Events.Publish(ctx, events.NewInterviewEvent(s, result)); err != nil {
			return fmt.Errorf("event publish: %w", err)
		}
	}
	return nil
}
