// Package webstream pushes position markers and chat messages to dashboard observers
// over websocket.
package webstream

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"
	"nhooyr.io/websocket"
	"nuha.dev/trackfeed/internal/feed/broadcast"
	"nuha.dev/trackfeed/internal/metrics"
	"nuha.dev/trackfeed/internal/util"
	"nuha.dev/trackfeed/internal/web/sublist"
)

const (
	EVENT_MAP_MESSAGE string = "map message"

	OBSERVER_CONNECTED    string = "observer_connected"
	OBSERVER_DISCONNECTED string = "observer_disconnected"
	OBSERVER_ERROR        string = "observer_error"
)

const (
	subscriberKey = "webstream"
	bufferSize    = 64
	writeTimeout  = 10 * time.Second
)

// Channel is the broadcast surface the gateway needs: it listens to markers and chat,
// and publishes chat it receives from observers.
type Channel interface {
	broadcast.Publisher
	Subscribe(key, topic string, fn broadcast.HandlerFunc)
	Unsubscribe(key string)
}

// Envelope is the JSON text frame sent to observers.
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

type WebstreamServer struct {
	log     log.Logger
	ch      Channel
	sublist *sublist.Sublist
}

func NewWebstream(ch Channel) *WebstreamServer {
	ws := &WebstreamServer{ch: ch, sublist: sublist.NewSublist()}
	ws.log = log.DefaultLogger
	ws.log.Context = log.NewContext(nil).Str("module", "webstream").Value()
	ch.Subscribe(subscriberKey+".marker", broadcast.TOPIC_MARKER, ws.forward)
	ch.Subscribe(subscriberKey+".message", broadcast.TOPIC_MESSAGE, ws.forward)
	return ws
}

func (ws *WebstreamServer) forward(ctx context.Context, topic string, v interface{}) {
	d, err := json.Marshal(Envelope{Event: EVENT_MAP_MESSAGE, Data: v})
	if err != nil {
		ws.log.Error().Err(err).Str("topic", topic).Msg("unable to encode observer frame")
		return
	}
	n := ws.sublist.Send(topic, d)
	ws.log.Trace().Str("topic", topic).Int("observers", n).Msg("forwarded")
}

// Observers is the number of connected observers.
func (ws *WebstreamServer) Observers() int {
	return ws.sublist.Len()
}

// Close detaches from the broadcast channel, observers already connected keep running
// until their sockets close.
func (ws *WebstreamServer) Close() {
	ws.ch.Unsubscribe(subscriberKey + ".marker")
	ws.ch.Unsubscribe(subscriberKey + ".message")
}

func (ws *WebstreamServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		ws.log.Error().Err(err).Str("event", OBSERVER_ERROR).Msg("error while upgrading websocket")
		return
	}
	defer c.Close(websocket.StatusInternalError, "unhandled error")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	o := &Observer{
		key:    util.GenUUID(),
		remote: r.RemoteAddr,
		c:      c,
		send:   make(chan []byte, bufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
	ws.sublist.Subscribe(o.key, o)
	metrics.Observers.Inc()
	ws.log.Info().Str("event", OBSERVER_CONNECTED).EmbedObject(o).Msg("")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		ws.writeLoop(o)
	}()
	go func() {
		defer wg.Done()
		ws.readLoop(o)
	}()
	wg.Wait()

	ws.sublist.Unsubscribe(o.key)
	metrics.Observers.Dec()
	ws.log.Info().Str("event", OBSERVER_DISCONNECTED).EmbedObject(o).Uint64("pushed", atomic.LoadUint64(&o.pushed)).Uint64("skipped", atomic.LoadUint64(&o.skipped)).Msg("")
	c.Close(websocket.StatusNormalClosure, "")
}

// readLoop relays every text frame of the observer to all observers, unchanged.
func (ws *WebstreamServer) readLoop(o *Observer) {
	defer o.cancel()
	for {
		typ, msg, err := o.c.Read(o.ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && o.ctx.Err() == nil {
				ws.log.Debug().Err(err).Str("event", OBSERVER_ERROR).EmbedObject(o).Msg("read failed")
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		var data interface{} = string(msg)
		if json.Valid(msg) {
			data = json.RawMessage(msg)
		}
		if err := ws.ch.Publish(o.ctx, broadcast.TOPIC_MESSAGE, data); err != nil {
			ws.log.Warn().Err(err).EmbedObject(o).Msg("unable to relay message")
		}
	}
}

func (ws *WebstreamServer) writeLoop(o *Observer) {
	defer o.cancel()
	for {
		select {
		case <-o.ctx.Done():
			return
		case d := <-o.send:
			wctx, cancel := context.WithTimeout(o.ctx, writeTimeout)
			err := o.c.Write(wctx, websocket.MessageText, d)
			cancel()
			if err != nil {
				ws.log.Debug().Err(err).Str("event", OBSERVER_ERROR).EmbedObject(o).Msg("error while writing to connection")
				return
			}
		}
	}
}

// Observer is one dashboard websocket.
type Observer struct {
	key     string
	remote  string
	c       *websocket.Conn
	send    chan []byte
	ctx     context.Context
	cancel  context.CancelFunc
	pushed  uint64
	skipped uint64
}

// Push queues d without blocking. A full buffer drops d for this observer only.
func (o *Observer) Push(sender string, d []byte) bool {
	if o.ctx.Err() != nil {
		return true
	}
	select {
	case o.send <- d:
		atomic.AddUint64(&o.pushed, 1)
	default:
		atomic.AddUint64(&o.skipped, 1)
		metrics.ObserverDrops.Inc()
	}
	return false
}

func (o *Observer) MarshalObject(e *log.Entry) {
	e.Str("observer", o.key).Str("remote", o.remote)
}
