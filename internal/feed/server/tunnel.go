package server

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/yamux"
)

// streamConn replays the bytes the header reader buffered past the address line.
type streamConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *streamConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

// RunTunnel dials the tunnel relay and serves every stream it forwards as a device
// connection. It redials until ctx is done or the server shuts down.
func (s *Server) RunTunnel(ctx context.Context) {
	for {
		t0 := time.Now()
		err := s.runTunnelSession(ctx)
		if err != nil && !s.isClosed() {
			s.log.Error().Err(err).Str("event", TUNNEL_ERROR).Str("addr", s.config.TunnelAddr).Msg("")
		}
		wait := 5 * time.Second
		if time.Since(t0) > 10*time.Second {
			wait = 1 * time.Second
		}
		select {
		case <-ctx.Done():
			return
		case <-s.ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (s *Server) runTunnelSession(ctx context.Context) error {
	s.log.Info().Msgf("dialling tunnel %s", s.config.TunnelAddr)
	var d net.Dialer
	yconn, err := d.DialContext(ctx, "tcp", s.config.TunnelAddr)
	if err != nil {
		return err
	}
	if _, err = yconn.Write([]byte(s.config.TunnelToken)); err != nil {
		yconn.Close()
		return err
	}
	status := []byte{0}
	if _, err = yconn.Read(status); err != nil {
		yconn.Close()
		return err
	}
	if status[0] != '+' {
		yconn.Close()
		return errors.New("tunnel rejected")
	}
	session, err := yamux.Client(yconn, nil)
	if err != nil {
		yconn.Close()
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		session.Close()
		return ErrServerClosed
	}
	s.session = session
	s.mu.Unlock()
	s.log.Info().Str("event", TUNNEL_ACCEPTED).Str("addr", s.config.TunnelAddr).Msg("")

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			session.Close()
		case <-stop:
		}
	}()

	for {
		tconn, err := session.Accept()
		if err != nil {
			session.Close()
			if s.isClosed() || ctx.Err() != nil {
				return nil
			}
			return err
		}
		cid := atomic.AddUint64(&s.cid_counter, 1)
		ok := s.spawn(func() {
			r := bufio.NewReader(tconn)
			_ = tconn.SetReadDeadline(time.Now().Add(10 * time.Second))
			raddr, err := r.ReadString('\n')
			if err != nil {
				s.log.Error().Err(err).Str("event", TUNNEL_ERROR).Msg("unable to read stream header")
				tconn.Close()
				return
			}
			_ = tconn.SetReadDeadline(time.Time{})
			s.serveConn(&streamConn{Conn: tconn, r: r}, strings.TrimSpace(raddr), cid)
		})
		if !ok {
			tconn.Close()
			session.Close()
			return nil
		}
	}
}
