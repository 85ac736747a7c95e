package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nuha.dev/trackfeed/internal/feed/dispatch"
	"nuha.dev/trackfeed/internal/feed/server"
)

type fakeSource struct {
	list []server.ConnState
	err  error
}

func (f *fakeSource) ActiveConnections() (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	return len(f.list), nil
}

func (f *fakeSource) Connections() []server.ConnState {
	return f.list
}

func TestPublicIDRoundTrip(t *testing.T) {
	m, err := NewMonApi(&fakeSource{}, nil, &MonitoringConfig{Salt: "trackfeed"})
	require.NoError(t, err)
	id := m.PublicID(42)
	assert.GreaterOrEqual(t, len(id), 8)
	cid, ok := m.Cid(id)
	require.True(t, ok)
	assert.Equal(t, uint64(42), cid)
	assert.NotEqual(t, id, m.PublicID(43))
}

func TestStatusHandler(t *testing.T) {
	src := &fakeSource{list: []server.ConnState{
		{Cid: 1, Remote: "10.0.0.1:4000", Device: "868120145233604", Created: time.Now().Add(-time.Minute), ByteIn: 22},
	}}
	m, err := NewMonApi(src, func() int { return 3 }, &MonitoringConfig{Salt: "s"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	m.GetHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var st struct {
		Active      int `json:"active"`
		Observers   int `json:"observers"`
		Connections []struct {
			ID     string `json:"id"`
			Remote string `json:"remote"`
			Device string `json:"device"`
			ByteIn uint64 `json:"byte_in"`
		} `json:"connections"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 1, st.Active)
	assert.Equal(t, 3, st.Observers)
	require.Len(t, st.Connections, 1)
	assert.Equal(t, m.PublicID(1), st.Connections[0].ID)
	assert.Equal(t, "10.0.0.1:4000", st.Connections[0].Remote)
	assert.Equal(t, "868120145233604", st.Connections[0].Device)
	assert.Equal(t, uint64(22), st.Connections[0].ByteIn)
}

func TestStatusReportsCountError(t *testing.T) {
	m, err := NewMonApi(&fakeSource{err: errors.New("server closed")}, nil, &MonitoringConfig{})
	require.NoError(t, err)
	st := m.Status()
	assert.Equal(t, "server closed", st.Error)
	assert.Empty(t, st.Connections)
}

type fakeLast struct {
	positions map[string]dispatch.PositionEvent
	err       error
}

func (f *fakeLast) Last(ctx context.Context, device string) (dispatch.PositionEvent, bool, error) {
	if f.err != nil {
		return dispatch.PositionEvent{}, false, f.err
	}
	ev, ok := f.positions[device]
	return ev, ok, nil
}

func TestLastPosition(t *testing.T) {
	last := &fakeLast{positions: map[string]dispatch.PositionEvent{
		"868120145233604": {Type: dispatch.EVENT_TYPE_MARKER, DeviceID: "868120145233604", UTCDateTime: "Thu, 29 Aug 2013 23:19:39 GMT", Lat: -6.2, Lng: 106.8},
	}}
	m, err := NewMonApi(&fakeSource{}, nil, &MonitoringConfig{Last: last})
	require.NoError(t, err)
	h := m.GetHandler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/last/868120145233604", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var ev dispatch.PositionEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ev))
	assert.Equal(t, "868120145233604", ev.DeviceID)
	assert.Equal(t, -6.2, ev.Lat)
	assert.Equal(t, "Thu, 29 Aug 2013 23:19:39 GMT", ev.UTCDateTime)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/last/000", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	last.err = errors.New("redis down")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/last/868120145233604", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestLastPositionWithoutStore(t *testing.T) {
	m, err := NewMonApi(&fakeSource{}, nil, &MonitoringConfig{})
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	m.GetHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/last/868120145233604", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
