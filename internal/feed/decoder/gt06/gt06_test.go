package gt06

import (
	"bytes"
	"testing"
	"time"

	"github.com/phuslu/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	out    bytes.Buffer
	device string
}

func (f *fakeConn) RemoteAddr() string          { return "10.1.1.1:5000" }
func (f *fakeConn) Write(p []byte) (int, error) { return f.out.Write(p) }
func (f *fakeConn) Device() string              { return f.device }
func (f *fakeConn) SetDevice(id string)         { f.device = id }

func loginFrame(t *testing.T, imei string, serial int) []byte {
	p, err := LoginPayload(imei)
	require.NoError(t, err)
	return NewFrame(LOGIN, p, serial)
}

func TestLoginKeepsWaiting(t *testing.T) {
	d := NewDecoder(log.DefaultLogger)
	c := &fakeConn{}

	recs, err := d.Decode(c, loginFrame(t, "356307042441013", 1))
	require.NoError(t, err)
	require.NotNil(t, recs)
	assert.Len(t, recs, 0)
	assert.Equal(t, "356307042441013", c.device)
	assert.Equal(t, NewFrame(LOGIN, []byte{}, 1), c.out.Bytes())
}

func TestLoginAndLocationInOneRead(t *testing.T) {
	d := NewDecoder(log.DefaultLogger)
	c := &fakeConn{}
	ts := time.Date(2013, 8, 29, 23, 19, 39, 0, time.UTC)

	frame := loginFrame(t, "356307042441013", 1)
	frame = append(frame, NewFrame(LOCATION, LocationPayload(ts, 10.0, 20.0, 42, 180), 2)...)
	frame = append(frame, NewFrame(LOCATION, LocationPayload(ts.Add(time.Minute), -6.2, -106.8, 0, 90), 3)...)

	recs, err := d.Decode(c, frame)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, "356307042441013", recs[0].IMEI)
	assert.True(t, ts.Equal(recs[0].UTCDateTime))
	assert.InDelta(t, 10.0, recs[0].Latitude, 1e-6)
	assert.InDelta(t, 20.0, recs[0].Longitude, 1e-6)
	require.NotNil(t, recs[0].Speed)
	assert.Equal(t, 42.0, *recs[0].Speed)
	require.NotNil(t, recs[0].Heading)
	assert.Equal(t, 180.0, *recs[0].Heading)
	assert.Nil(t, recs[0].Altitude)

	assert.InDelta(t, -6.2, recs[1].Latitude, 1e-6)
	assert.InDelta(t, -106.8, recs[1].Longitude, 1e-6)
}

func TestLocationBeforeLogin(t *testing.T) {
	d := NewDecoder(log.DefaultLogger)
	c := &fakeConn{}

	recs, err := d.Decode(c, NewFrame(LOCATION, LocationPayload(time.Now(), 1, 1, 0, 0), 1))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "", recs[0].IMEI)
}

func TestHeartbeatAck(t *testing.T) {
	d := NewDecoder(log.DefaultLogger)
	c := &fakeConn{device: "1"}

	recs, err := d.Decode(c, NewFrame(HEARTBEAT, []byte{0x46, 0x06, 0x04, 0x00, 0x01}, 7))
	require.NoError(t, err)
	assert.Len(t, recs, 0)
	assert.Equal(t, NewFrame(HEARTBEAT, []byte{}, 7), c.out.Bytes())
}

func TestBadChecksum(t *testing.T) {
	d := NewDecoder(log.DefaultLogger)
	frame := loginFrame(t, "356307042441013", 1)
	frame[len(frame)-3] ^= 0xFF

	recs, err := d.Decode(&fakeConn{}, frame)
	assert.ErrorIs(t, err, errBadChecksum)
	assert.Nil(t, recs)
}

func TestTruncated(t *testing.T) {
	d := NewDecoder(log.DefaultLogger)
	frame := loginFrame(t, "356307042441013", 1)

	recs, err := d.Decode(&fakeConn{}, frame[:len(frame)-3])
	assert.ErrorIs(t, err, errShortFrame)
	assert.Nil(t, recs)
}

func TestNotGT06(t *testing.T) {
	d := NewDecoder(log.DefaultLogger)
	recs, err := d.Decode(&fakeConn{}, []byte("hello world"))
	assert.ErrorIs(t, err, errBadFrame)
	assert.Nil(t, recs)
}

func TestShortLocationPayload(t *testing.T) {
	d := NewDecoder(log.DefaultLogger)
	recs, err := d.Decode(&fakeConn{}, NewFrame(LOCATION, []byte{0x13, 0x01}, 1))
	assert.Error(t, err)
	assert.Nil(t, recs)
}
