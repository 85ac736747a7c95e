// Package monitoring serves the live device connection table and last known positions
// as JSON.
package monitoring

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	hashids "github.com/speps/go-hashids/v2"
	"nuha.dev/trackfeed/internal/feed/dispatch"
	"nuha.dev/trackfeed/internal/feed/server"
	"nuha.dev/trackfeed/internal/util"
)

type ConnSource interface {
	ActiveConnections() (int, error)
	Connections() []server.ConnState
}

// LastPositions returns the last stored position of a device, ok is false when none is
// stored.
type LastPositions interface {
	Last(ctx context.Context, device string) (ev dispatch.PositionEvent, ok bool, err error)
}

type MonitoringConfig struct {
	// Salt keeps public connection ids from revealing the accept counter.
	Salt string
	// Last is optional, /last/{device} answers 404 without it.
	Last LastPositions
}

type Connection struct {
	ID string `json:"id"`
	server.ConnState
	Age string `json:"age"`
}

type Status struct {
	Active      int          `json:"active"`
	Observers   int          `json:"observers"`
	Connections []Connection `json:"connections"`
	Error       string       `json:"error,omitempty"`
}

type MonitoringServer struct {
	src       ConnSource
	observers func() int
	last      LastPositions
	hd        *hashids.HashID
}

func NewMonApi(src ConnSource, observers func() int, config *MonitoringConfig) (*MonitoringServer, error) {
	hd := hashids.NewData()
	hd.Salt = config.Salt
	hd.MinLength = 8
	h, err := hashids.NewWithData(hd)
	if err != nil {
		return nil, err
	}
	if observers == nil {
		observers = func() int { return 0 }
	}
	return &MonitoringServer{src: src, observers: observers, last: config.Last, hd: h}, nil
}

// PublicID encodes a connection id for display.
func (m *MonitoringServer) PublicID(cid uint64) string {
	id, err := m.hd.EncodeInt64([]int64{int64(cid)})
	if err != nil {
		return ""
	}
	return id
}

// Cid decodes a public id back to the connection id.
func (m *MonitoringServer) Cid(id string) (uint64, bool) {
	v, err := m.hd.DecodeInt64WithError(id)
	if err != nil || len(v) != 1 || v[0] < 0 {
		return 0, false
	}
	return uint64(v[0]), true
}

func (m *MonitoringServer) Status() Status {
	st := Status{Observers: m.observers()}
	n, err := m.src.ActiveConnections()
	if err != nil {
		st.Error = err.Error()
	}
	st.Active = n
	now := time.Now()
	for _, c := range m.src.Connections() {
		st.Connections = append(st.Connections, Connection{
			ID:        m.PublicID(c.Cid),
			ConnState: c,
			Age:       now.Sub(c.Created).Truncate(time.Second).String(),
		})
	}
	if st.Connections == nil {
		st.Connections = []Connection{}
	}
	return st
}

func (m *MonitoringServer) serve_http(w http.ResponseWriter, r *http.Request) {
	util.JsonWrite(w, m.Status())
}

func (m *MonitoringServer) serve_last(w http.ResponseWriter, r *http.Request) {
	if m.last == nil {
		http.Error(w, "position store disabled", http.StatusNotFound)
		return
	}
	ev, ok, err := m.last.Last(r.Context(), chi.URLParam(r, "device"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if !ok {
		http.Error(w, "no position for device", http.StatusNotFound)
		return
	}
	util.JsonWrite(w, ev)
}

// GetHandler routes / to the connection table and /last/{device} to the position lookup.
func (m *MonitoringServer) GetHandler() http.Handler {
	r := chi.NewRouter()
	r.Get("/", m.serve_http)
	r.Get("/last/{device}", m.serve_last)
	return r
}
