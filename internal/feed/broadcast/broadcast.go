// Package broadcast is the publish/subscribe surface between the ingestion pipeline and
// whoever wants position updates. Delivery is synchronous, in publish order, to the
// handlers registered at publish time. Nothing is retained for later subscribers.
package broadcast

import (
	"context"
	"errors"
	"regexp"
	"sync"

	"github.com/mustafaturan/bus/v3"
	"github.com/mustafaturan/monoton/v2"
	"github.com/mustafaturan/monoton/v2/sequencer"
	"github.com/phuslu/log"
)

const (
	TOPIC_MARKER  string = "position.marker"
	TOPIC_MESSAGE string = "map.message"
)

var ErrClosed = errors.New("broadcast channel closed")

// Publisher is what producers get handed, they never see the subscriber side.
type Publisher interface {
	Publish(ctx context.Context, topic string, v interface{}) error
}

type HandlerFunc func(ctx context.Context, topic string, v interface{})

type Channel struct {
	mu     sync.RWMutex
	b      *bus.Bus
	log    log.Logger
	closed bool
}

// 2020-01-01 UTC, ids are relative to it
const idEpoch uint64 = 1577836800000

func NewChannel(node uint64) (*Channel, error) {
	m, err := monoton.New(sequencer.NewMillisecond(), node, idEpoch)
	if err != nil {
		return nil, err
	}
	var idGenerator bus.Next = m.Next
	b, err := bus.NewBus(idGenerator)
	if err != nil {
		return nil, err
	}
	b.RegisterTopics(TOPIC_MARKER, TOPIC_MESSAGE)
	ch := &Channel{b: b}
	ch.log = log.DefaultLogger
	ch.log.Context = log.NewContext(nil).Str("module", "broadcast").Value()
	return ch, nil
}

func (ch *Channel) Publish(ctx context.Context, topic string, v interface{}) error {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	if ch.closed {
		return ErrClosed
	}
	return ch.b.Emit(ctx, topic, v)
}

// Subscribe registers fn under key for one topic. Registering an existing key replaces
// the previous handler.
func (ch *Channel) Subscribe(key, topic string, fn HandlerFunc) {
	h := bus.Handler{
		Handle: func(ctx context.Context, e bus.Event) {
			fn(ctx, e.Topic, e.Data)
		},
		Matcher: "^" + regexp.QuoteMeta(topic) + "$",
	}
	ch.b.RegisterHandler(key, h)
	ch.log.Debug().Str("key", key).Str("topic", topic).Msg("subscribed")
}

func (ch *Channel) Unsubscribe(key string) {
	ch.b.DeregisterHandler(key)
	ch.log.Debug().Str("key", key).Msg("unsubscribed")
}

func (ch *Channel) Subscribers(topic string) int {
	return len(ch.b.TopicHandlerKeys(topic))
}

// Close makes every later Publish fail with ErrClosed.
func (ch *Channel) Close() {
	ch.mu.Lock()
	ch.closed = true
	ch.mu.Unlock()
}
