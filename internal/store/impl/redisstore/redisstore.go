// Package redisstore keeps the last known position of every device in redis.
package redisstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/phuslu/log"
	"github.com/redis/go-redis/v9"
	"nuha.dev/trackfeed/internal/feed/dispatch"
	"nuha.dev/trackfeed/internal/metrics"
)

const KEY_PREFIX = "trackfeed:last:"

// Client is the subset of redis commands the store uses.
type Client interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

type StoreConfig struct {
	TTL       time.Duration
	QueueSize int
}

// Store writes from its own goroutine, Put only queues. A full queue drops the position.
type Store struct {
	rdb    Client
	config *StoreConfig
	log    log.Logger
	queue  chan dispatch.PositionEvent
	done   chan struct{}
}

func Connect(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return rdb, nil
}

func NewStore(rdb Client, config *StoreConfig) *Store {
	st := &Store{rdb: rdb, config: config}
	st.log = log.DefaultLogger
	st.log.Context = log.NewContext(nil).Str("module", "redisstore").Value()
	size := config.QueueSize
	if size <= 0 {
		size = 256
	}
	st.queue = make(chan dispatch.PositionEvent, size)
	st.done = make(chan struct{})
	return st
}

func (st *Store) Run() {
	go func() {
		defer close(st.done)
		for ev := range st.queue {
			if err := st.save(context.Background(), ev); err != nil {
				metrics.SinkErrors.WithLabelValues("redisstore").Inc()
				st.log.Error().Err(err).Str("device", ev.DeviceID).Msg("redis SET failed")
			}
		}
	}()
}

func (st *Store) Put(ev dispatch.PositionEvent) {
	select {
	case st.queue <- ev:
	default:
		metrics.SinkErrors.WithLabelValues("redisstore").Inc()
		st.log.Warn().Str("device", ev.DeviceID).Msg("queue full, position dropped")
	}
}

func (st *Store) save(ctx context.Context, ev dispatch.PositionEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return st.rdb.Set(ctx, KEY_PREFIX+ev.DeviceID, b, st.config.TTL).Err()
}

// Last returns the last stored position of device. ok is false when none is stored.
func (st *Store) Last(ctx context.Context, device string) (ev dispatch.PositionEvent, ok bool, err error) {
	val, err := st.rdb.Get(ctx, KEY_PREFIX+device).Bytes()
	if err == redis.Nil {
		return ev, false, nil
	}
	if err != nil {
		return ev, false, err
	}
	if err := json.Unmarshal(val, &ev); err != nil {
		return ev, false, err
	}
	return ev, true, nil
}

// Close drains the queue. Put must not be called afterwards.
func (st *Store) Close() {
	close(st.queue)
	<-st.done
}
