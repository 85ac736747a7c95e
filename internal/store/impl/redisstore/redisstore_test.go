package redisstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nuha.dev/trackfeed/internal/feed/dispatch"
)

type fakeRedis struct {
	mu   sync.Mutex
	kv   map[string]string
	ttl  map[string]time.Duration
	fail error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{kv: map[string]string{}, ttl: map[string]time.Duration{}}
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return redis.NewStatusResult("", f.fail)
	}
	f.kv[key] = string(value.([]byte))
	f.ttl[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.kv[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func TestPutKeepsLastPosition(t *testing.T) {
	rdb := newFakeRedis()
	st := NewStore(rdb, &StoreConfig{TTL: time.Hour})
	st.Run()
	st.Put(dispatch.PositionEvent{Type: "marker", DeviceID: "123", Lat: 1, Lng: 2})
	st.Put(dispatch.PositionEvent{Type: "marker", DeviceID: "123", Lat: 3, Lng: 4})
	st.Close()

	ev, ok, err := st.Last(context.Background(), "123")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3.0, ev.Lat)
	assert.Equal(t, 4.0, ev.Lng)
	assert.Equal(t, time.Hour, rdb.ttl[KEY_PREFIX+"123"])
}

func TestLastUnknownDevice(t *testing.T) {
	st := NewStore(newFakeRedis(), &StoreConfig{})
	_, ok, err := st.Last(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetErrorIsContained(t *testing.T) {
	rdb := newFakeRedis()
	rdb.fail = errors.New("connection refused")
	st := NewStore(rdb, &StoreConfig{})
	st.Run()
	assert.NotPanics(t, func() {
		st.Put(dispatch.PositionEvent{DeviceID: "1"})
	})
	st.Close()
	assert.Empty(t, rdb.kv)
}

func TestFullQueueDrops(t *testing.T) {
	st := NewStore(newFakeRedis(), &StoreConfig{QueueSize: 1})
	st.Put(dispatch.PositionEvent{DeviceID: "1"})
	st.Put(dispatch.PositionEvent{DeviceID: "2"})
	assert.Len(t, st.queue, 1)
}
