package webstream

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nuha.dev/trackfeed/internal/feed/broadcast"
	"nuha.dev/trackfeed/internal/feed/dispatch"
)

func setup(t *testing.T) (*broadcast.Channel, *WebstreamServer, string) {
	t.Helper()
	ch, err := broadcast.NewChannel(1)
	require.NoError(t, err)
	ws := NewWebstream(ch)
	srv := httptest.NewServer(ws)
	t.Cleanup(func() {
		ws.Close()
		srv.Close()
	})
	return ch, ws, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(websocket.StatusNormalClosure, "") })
	return c
}

func readEnvelope(t *testing.T, c *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	typ, msg, err := c.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, typ)
	var env map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(msg, &env))
	return env
}

func TestMarkerReachesEveryObserver(t *testing.T) {
	ch, ws, url := setup(t)
	a := dial(t, url)
	b := dial(t, url)
	require.Eventually(t, func() bool { return ws.Observers() == 2 }, 2*time.Second, 5*time.Millisecond)

	ev := dispatch.PositionEvent{Type: "marker", DeviceID: "123", UTCDateTime: "Thu, 29 Aug 2013 23:19:39 GMT", Lat: 10, Lng: 20}
	require.NoError(t, ch.Publish(context.Background(), broadcast.TOPIC_MARKER, ev))

	for _, c := range []*websocket.Conn{a, b} {
		env := readEnvelope(t, c)
		assert.JSONEq(t, `"map message"`, string(env["event"]))
		assert.JSONEq(t, `{"type":"marker","deviceId":"123","utcDateTime":"Thu, 29 Aug 2013 23:19:39 GMT","lat":10,"lng":20}`, string(env["data"]))
	}
}

func TestChatIsRelayedVerbatim(t *testing.T) {
	_, ws, url := setup(t)
	a := dial(t, url)
	b := dial(t, url)
	require.Eventually(t, func() bool { return ws.Observers() == 2 }, 2*time.Second, 5*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, a.Write(ctx, websocket.MessageText, []byte(`{"from":"ops","text":"truck 7 late"}`)))
	for _, c := range []*websocket.Conn{a, b} {
		env := readEnvelope(t, c)
		assert.JSONEq(t, `{"from":"ops","text":"truck 7 late"}`, string(env["data"]))
	}

	require.NoError(t, b.Write(ctx, websocket.MessageText, []byte("hello")))
	for _, c := range []*websocket.Conn{a, b} {
		env := readEnvelope(t, c)
		assert.JSONEq(t, `"hello"`, string(env["data"]))
	}
}

func TestObserverRemovedOnDisconnect(t *testing.T) {
	_, ws, url := setup(t)
	a := dial(t, url)
	require.Eventually(t, func() bool { return ws.Observers() == 1 }, 2*time.Second, 5*time.Millisecond)
	a.Close(websocket.StatusNormalClosure, "bye")
	require.Eventually(t, func() bool { return ws.Observers() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestPushDropsWhenBufferFull(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Observer{key: "k", send: make(chan []byte, 1), ctx: ctx, cancel: cancel}
	assert.False(t, o.Push("", []byte("a")))
	assert.False(t, o.Push("", []byte("b")))
	assert.Equal(t, uint64(1), o.pushed)
	assert.Equal(t, uint64(1), o.skipped)
	cancel()
	assert.True(t, o.Push("", []byte("c")))
}
