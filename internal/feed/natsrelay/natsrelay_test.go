package natsrelay

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nuha.dev/trackfeed/internal/feed/dispatch"
)

type msg struct {
	subj string
	data []byte
}

type fakeConn struct {
	msgs []msg
	err  error
}

func (f *fakeConn) Publish(subj string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msg{subj, data})
	return nil
}

func TestPutPublishesJSON(t *testing.T) {
	nc := &fakeConn{}
	r := NewRelay(nc, "fleet.positions")
	r.Put(dispatch.PositionEvent{Type: "marker", DeviceID: "123", UTCDateTime: "Thu, 29 Aug 2013 23:19:39 GMT", Lat: 10, Lng: 20})

	require.Len(t, nc.msgs, 1)
	assert.Equal(t, "fleet.positions", nc.msgs[0].subj)
	var ev map[string]interface{}
	require.NoError(t, json.Unmarshal(nc.msgs[0].data, &ev))
	assert.Equal(t, "marker", ev["type"])
	assert.Equal(t, "123", ev["deviceId"])
}

func TestDefaultSubject(t *testing.T) {
	nc := &fakeConn{}
	NewRelay(nc, "").Put(dispatch.PositionEvent{DeviceID: "1"})
	require.Len(t, nc.msgs, 1)
	assert.Equal(t, DEFAULT_SUBJECT, nc.msgs[0].subj)
}

func TestPublishErrorIsContained(t *testing.T) {
	nc := &fakeConn{err: errors.New("nats: connection closed")}
	assert.NotPanics(t, func() {
		NewRelay(nc, "x").Put(dispatch.PositionEvent{DeviceID: "1"})
	})
}
