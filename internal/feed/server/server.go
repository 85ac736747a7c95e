// Package server accepts device connections and drives each one through the frame
// processor until it is closed.
package server

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/yamux"
	"github.com/phuslu/log"
	proxyproto "github.com/pires/go-proxyproto"
	"nuha.dev/trackfeed/internal/feed/conn"
	"nuha.dev/trackfeed/internal/feed/decoder"
	"nuha.dev/trackfeed/internal/metrics"
)

const (
	NEW_CONNECTION    string = "new_connection"
	CONNECTION_COUNT  string = "connection_count"
	CONNECTION_CLOSED string = "connection_closed"
	CONNECTION_ERROR  string = "connection_error"
	IDLE_TIMEOUT      string = "idle_timeout"
	FRAME_RECEIVED    string = "frame_received"
	DECODE_ERROR      string = "decode_error"
	FRAME_PENDING     string = "frame_pending"
	FRAME_DISPATCHED  string = "frame_dispatched"
	AUDIT_ERROR       string = "audit_error"
	TUNNEL_ACCEPTED   string = "tunnel_accepted"
	TUNNEL_ERROR      string = "tunnel_error"
)

const readBufferSize = 4096

var ErrServerClosed = errors.New("server closed")

// BindError is returned by Listen when the ingestion port cannot be bound.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return "unable to bind " + e.Addr + ": " + e.Err.Error()
}

func (e *BindError) Unwrap() error {
	return e.Err
}

type Config struct {
	ListenerAddr  string
	ProxyProtocol bool
	// IdleTimeout bounds the wait for the next frame, zero waits forever.
	IdleTimeout time.Duration
	TunnelAddr  string
	TunnelToken string
}

// Auditor persists raw frames. Its failures are logged, they never reach the device.
type Auditor interface {
	Append(cid uint64, remote string, frame []byte) error
}

type Dispatcher interface {
	Dispatch(ctx context.Context, records []decoder.Record) int
}

type releaser interface {
	Release(c decoder.Conn)
}

type nopAuditor struct{}

func (nopAuditor) Append(uint64, string, []byte) error { return nil }

// ConnState is the monitoring view of one live connection.
type ConnState struct {
	Cid     uint64    `json:"-"`
	Remote  string    `json:"remote"`
	Device  string    `json:"device,omitempty"`
	Created time.Time `json:"created"`
	ByteIn  uint64    `json:"byte_in"`
	ByteOut uint64    `json:"byte_out"`
}

type Server struct {
	mu          sync.Mutex
	log         log.Logger
	config      *Config
	cid_counter uint64
	listener    net.Listener
	session     *yamux.Session
	conns       map[uint64]*conn.Conn
	closed      bool
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	decoder     decoder.Decoder
	audit       Auditor
	dispatch    Dispatcher
	count       func() (int, error)
}

func NewServer(config *Config, dec decoder.Decoder, audit Auditor, dispatch Dispatcher) *Server {
	s := &Server{}
	s.log = log.DefaultLogger
	s.log.Context = log.NewContext(nil).Str("module", "tcp-server").Value()
	s.config = config
	s.conns = make(map[uint64]*conn.Conn)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.decoder = dec
	s.audit = audit
	if s.audit == nil {
		s.audit = nopAuditor{}
	}
	s.dispatch = dispatch
	s.count = s.ActiveConnections
	return s
}

// Listen binds the ingestion port. The error is a *BindError when the port is unavailable.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.config.ListenerAddr)
	if err != nil {
		return &BindError{Addr: s.config.ListenerAddr, Err: err}
	}
	if s.config.ProxyProtocol {
		ln = &proxyproto.Listener{Listener: ln}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		ln.Close()
		return ErrServerClosed
	}
	s.listener = ln
	s.log.Info().Str("addr", ln.Addr().String()).Bool("proxy_protocol", s.config.ProxyProtocol).Msg("listening for devices")
	return nil
}

// Addr is the bound address, nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until Shutdown, then returns ErrServerClosed.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("server is not listening")
	}
	for {
		c, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			s.log.Error().Err(err).Msg("failed to accept new connection")
			return err
		}
		cid := atomic.AddUint64(&s.cid_counter, 1)
		if !s.spawn(func() { s.serveConn(c, "", cid) }) {
			c.Close()
			return ErrServerClosed
		}
	}
}

// spawn runs fn on a goroutine counted by Shutdown. It refuses once the server is closed,
// so no handler is added while Shutdown waits.
func (s *Server) spawn(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
	return true
}

func (s *Server) ListenAndServe() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

func (s *Server) serveConn(nc net.Conn, raddr string, cid uint64) {
	c := conn.NewConn(nc, raddr, cid)
	if !s.track(c) {
		c.Abort()
		return
	}
	metrics.TCPConnections.Inc()
	metrics.ActiveConnections.Inc()
	s.log.Info().Str("event", NEW_CONNECTION).EmbedObject(c).Msg("")
	if n, err := s.count(); err != nil {
		s.log.Warn().Err(err).Str("event", CONNECTION_COUNT).Msg("unable to count connections")
	} else {
		s.log.Info().Str("event", CONNECTION_COUNT).Int("count", n).Msg("")
	}
	s.handle(c)
}

func (s *Server) track(c *conn.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c.Cid()] = c
	return true
}

func (s *Server) release(c *conn.Conn) {
	s.mu.Lock()
	delete(s.conns, c.Cid())
	s.mu.Unlock()
	if r, ok := s.decoder.(releaser); ok {
		r.Release(c)
	}
	metrics.ActiveConnections.Dec()
	bi, bo := c.Stat()
	s.log.Info().Str("event", CONNECTION_CLOSED).EmbedObject(c).Uint64("byte_in", bi).Uint64("byte_out", bo).Dur("age", time.Since(c.Created())).Msg("")
}

// handle is the only reader of c, so frames of one connection are processed one at a
// time and in arrival order.
//
// A connection carries at most one frame that yields records: the processor closes it as
// soon as such a frame is dispatched. Frames that yield nothing keep it open.
func (s *Server) handle(c *conn.Conn) {
	defer s.release(c)
	buf := make([]byte, readBufferSize)
	for {
		if s.config.IdleTimeout > 0 {
			_ = c.SetReadDeadline(time.Now().Add(s.config.IdleTimeout))
		}
		n, err := c.Read(buf)
		if n > 0 {
			frame := make([]byte, n)
			copy(frame, buf[:n])
			if s.onData(c, frame) != outcomeOpen {
				return
			}
		}
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				c.Close()
			case errors.Is(err, os.ErrDeadlineExceeded):
				s.log.Warn().Str("event", IDLE_TIMEOUT).EmbedObject(c).Dur("idle_timeout", s.config.IdleTimeout).Msg("no frame received in time")
				c.Abort()
			default:
				if !c.Closed() {
					s.log.Error().Err(err).Str("event", CONNECTION_ERROR).EmbedObject(c).Msg("")
				}
				c.Abort()
			}
			return
		}
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ActiveConnections reports the number of live device connections.
func (s *Server) ActiveConnections() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrServerClosed
	}
	return len(s.conns), nil
}

// Connections is a snapshot of the live connections ordered by cid.
func (s *Server) Connections() []ConnState {
	s.mu.Lock()
	list := make([]ConnState, 0, len(s.conns))
	for _, c := range s.conns {
		bi, bo := c.Stat()
		list = append(list, ConnState{
			Cid:     c.Cid(),
			Remote:  c.RemoteAddr(),
			Device:  c.Device(),
			Created: c.Created(),
			ByteIn:  bi,
			ByteOut: bo,
		})
	}
	s.mu.Unlock()
	sort.Slice(list, func(i, j int) bool { return list[i].Cid < list[j].Cid })
	return list
}

// Shutdown stops accepting, aborts every live connection and waits for their handlers
// to return or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.listener != nil {
		s.listener.Close()
	}
	if s.session != nil {
		s.session.Close()
	}
	conns := make([]*conn.Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	s.cancel()
	for _, c := range conns {
		c.Abort()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info().Int("aborted", len(conns)).Msg("tcp server stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
