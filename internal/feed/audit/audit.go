// Package audit keeps every raw frame received from devices, hex encoded, one JSON line
// per frame.
package audit

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/phuslu/log"
	"github.com/rs/zerolog"
)

var ErrClosed = errors.New("audit log closed")

type Config struct {
	Filename   string
	MaxSize    int64
	MaxBackups int
}

// Log is safe for concurrent use. Append reports write failures to the caller instead of
// swallowing them in the encoder.
type Log struct {
	mu     sync.Mutex
	w      *recorder
	zl     zerolog.Logger
	closer io.Closer
	closed bool
}

type recorder struct {
	w   io.Writer
	err error
}

func (r *recorder) Write(p []byte) (int, error) {
	n, err := r.w.Write(p)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	r.err = err
	return n, err
}

// Open creates the parent directory if needed and appends to cfg.Filename, rotating
// once the file grows past MaxSize.
func Open(cfg Config) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Filename), 0o755); err != nil {
		return nil, err
	}
	fw := &log.FileWriter{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
	}
	l := New(fw)
	l.closer = fw
	return l, nil
}

func New(w io.Writer) *Log {
	r := &recorder{w: w}
	return &Log{
		w:  r,
		zl: zerolog.New(r).With().Timestamp().Logger(),
	}
}

func (l *Log) Append(cid uint64, remote string, frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	l.w.err = nil
	l.zl.Log().Uint64("cid", cid).Str("remote", remote).Int("len", len(frame)).Hex("frame", frame).Send()
	return l.w.err
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}
