package conn

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"
)

// Conn wraps one device connection. Close and Abort are idempotent: only the first call
// of either reaches the socket.
type Conn struct {
	cid      uint64
	tuple    []string
	raddr    string
	created  time.Time
	byte_in  uint64
	byte_out uint64
	closed   uint32
	dev_mu   sync.Mutex
	device   string
	c        net.Conn
}

type closeWriter interface {
	CloseWrite() error
}

type lingerer interface {
	SetLinger(sec int) error
}

type rawConn interface {
	Raw() net.Conn
}

// NewConn wraps c. raddr overrides the socket remote address, it is used when the
// connection arrives through a tunnel and the real peer is only known from the stream header.
func NewConn(c net.Conn, raddr string, cid uint64) *Conn {
	if raddr == "" {
		raddr = c.RemoteAddr().String()
	}
	sourceip, sourceport, _ := net.SplitHostPort(raddr)
	var targetip, targetport string
	if c.LocalAddr() != nil {
		targetip, targetport, _ = net.SplitHostPort(c.LocalAddr().String())
	}
	return &Conn{
		cid:     cid,
		tuple:   []string{sourceip, sourceport, targetip, targetport},
		raddr:   raddr,
		created: time.Now(),
		c:       c,
	}
}

func (c *Conn) Read(p []byte) (int, error) {
	n, err := c.c.Read(p)
	atomic.AddUint64(&c.byte_in, uint64(n))
	return n, err
}

func (c *Conn) Write(p []byte) (int, error) {
	n, err := c.c.Write(p)
	atomic.AddUint64(&c.byte_out, uint64(n))
	return n, err
}

func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.c.SetReadDeadline(t)
}

// Close ends the connection gracefully, the peer sees an orderly shutdown.
func (c *Conn) Close() error {
	if !atomic.CompareAndSwapUint32(&c.closed, 0, 1) {
		return nil
	}
	if cw, ok := c.socket().(closeWriter); ok {
		_ = cw.CloseWrite()
	}
	return c.c.Close()
}

// Abort drops the connection without the orderly shutdown, TCP peers receive a reset.
func (c *Conn) Abort() error {
	if !atomic.CompareAndSwapUint32(&c.closed, 0, 1) {
		return nil
	}
	if l, ok := c.socket().(lingerer); ok {
		_ = l.SetLinger(0)
	}
	return c.c.Close()
}

func (c *Conn) socket() net.Conn {
	if r, ok := c.c.(rawConn); ok {
		return r.Raw()
	}
	return c.c
}

func (c *Conn) Closed() bool {
	return atomic.LoadUint32(&c.closed) == 1
}

func (c *Conn) Stat() (byte_in uint64, byte_out uint64) {
	return atomic.LoadUint64(&c.byte_in), atomic.LoadUint64(&c.byte_out)
}

func (c *Conn) Cid() uint64 {
	return c.cid
}

func (c *Conn) RemoteAddr() string {
	return c.raddr
}

func (c *Conn) RemoteHost() string {
	return c.tuple[0]
}

func (c *Conn) RemotePort() string {
	return c.tuple[1]
}

func (c *Conn) Created() time.Time {
	return c.created
}

// Device returns the device identifier learnt by the decoder, empty until the device
// has identified itself.
func (c *Conn) Device() string {
	c.dev_mu.Lock()
	defer c.dev_mu.Unlock()
	return c.device
}

func (c *Conn) SetDevice(id string) {
	c.dev_mu.Lock()
	c.device = id
	c.dev_mu.Unlock()
}

func (c *Conn) MarshalObject(e *log.Entry) {
	e.Strs("socket", c.tuple).Uint64("cid", c.cid)
}
