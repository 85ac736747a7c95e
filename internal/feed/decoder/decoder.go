// Package decoder turns raw tracker frames into position records.
//
// A Decoder returns an ordered slice of records for one frame. The slice semantics are
// part of the contract:
//
//   - a non-nil error, or a nil slice, means the frame could not be decoded
//   - an empty non-nil slice means the frame was valid but carried no position (login,
//     heartbeat, partial data) and the device is expected to send more
//   - otherwise each element is one fix, oldest first as reported by the device
package decoder

import (
	"errors"
	"sync"
	"time"
)

const (
	PROTOCOL_GT06       string = "gt06"
	PROTOCOL_TELTONIKA  string = "teltonika"
	PROTOCOL_SIMPLEJSON string = "simplejson"
	PROTOCOL_H02        string = "h02"
)

var ErrUnknownProtocol = errors.New("unknown tracker protocol")

// Record is one decoded fix. IMEI is empty when the device has not identified itself,
// such records are never dispatched.
type Record struct {
	IMEI        string
	UTCDateTime time.Time
	Latitude    float64
	Longitude   float64
	Altitude    *float64
	Speed       *float64
	Heading     *float64
}

// Conn is the connection context a decoder may use: it can answer the device and
// remember the device identity between frames.
type Conn interface {
	RemoteAddr() string
	Write(p []byte) (int, error)
	Device() string
	SetDevice(id string)
}

type Decoder interface {
	Decode(c Conn, frame []byte) ([]Record, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(c Conn, frame []byte) ([]Record, error)

func (f DecoderFunc) Decode(c Conn, frame []byte) ([]Record, error) {
	return f(c, frame)
}

// Float returns a pointer to v, for the optional record fields.
func Float(v float64) *float64 {
	return &v
}

// Registry selects a protocol decoder from the first byte a connection sends and keeps
// using it for that connection.
type Registry struct {
	mu     sync.Mutex
	byte0  map[byte]string
	protos map[string]Decoder
	bound  map[Conn]Decoder
}

func NewRegistry() *Registry {
	return &Registry{
		byte0:  make(map[byte]string),
		protos: make(map[string]Decoder),
		bound:  make(map[Conn]Decoder),
	}
}

// Register binds the protocol name to d and to every start byte in starts.
func (r *Registry) Register(name string, d Decoder, starts ...byte) {
	r.mu.Lock()
	r.protos[name] = d
	for _, b := range starts {
		r.byte0[b] = name
	}
	r.mu.Unlock()
}

// Protocol reports the protocol name detected for frame, or "" when none matches.
func (r *Registry) Protocol(frame []byte) string {
	if len(frame) == 0 {
		return ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byte0[frame[0]]
}

func (r *Registry) Decode(c Conn, frame []byte) ([]Record, error) {
	r.mu.Lock()
	d, ok := r.bound[c]
	if !ok {
		if len(frame) == 0 {
			r.mu.Unlock()
			return nil, ErrUnknownProtocol
		}
		name, found := r.byte0[frame[0]]
		if !found {
			r.mu.Unlock()
			return nil, ErrUnknownProtocol
		}
		d = r.protos[name]
		r.bound[c] = d
	}
	r.mu.Unlock()
	return d.Decode(c, frame)
}

// Release forgets the decoder bound to c. Called once the connection is gone.
func (r *Registry) Release(c Conn) {
	r.mu.Lock()
	delete(r.bound, c)
	r.mu.Unlock()
}
