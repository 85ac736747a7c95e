// Package store attaches position sinks to the broadcast channel.
package store

import (
	"context"

	"github.com/phuslu/log"
	"nuha.dev/trackfeed/internal/feed/broadcast"
	"nuha.dev/trackfeed/internal/feed/dispatch"
)

// LocationStore keeps or forwards position events. Put must not block ingestion for long,
// slow backends queue internally.
type LocationStore interface {
	Put(ev dispatch.PositionEvent)
}

type Subscriber interface {
	Subscribe(key, topic string, fn broadcast.HandlerFunc)
	Unsubscribe(key string)
}

// Attach subscribes st to position markers under "store.<name>" and returns the key.
func Attach(ch Subscriber, name string, st LocationStore) string {
	key := "store." + name
	ch.Subscribe(key, broadcast.TOPIC_MARKER, func(ctx context.Context, topic string, v interface{}) {
		ev, ok := v.(dispatch.PositionEvent)
		if !ok {
			log.Warn().Str("store", name).Msgf("unexpected marker payload %T", v)
			return
		}
		st.Put(ev)
	})
	return key
}
