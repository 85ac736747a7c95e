package server

import (
	"errors"
	"time"

	"nuha.dev/trackfeed/internal/feed/conn"
	"nuha.dev/trackfeed/internal/metrics"
)

type outcome int

const (
	// more frames are expected on the connection
	outcomeOpen outcome = iota
	// records dispatched, connection closed gracefully
	outcomeClosed
	// frame undecodable, connection reset
	outcomeAborted
)

func (o outcome) String() string {
	switch o {
	case outcomeOpen:
		return "open"
	case outcomeClosed:
		return "closed"
	default:
		return "aborted"
	}
}

var errNoResult = errors.New("decoder returned no result")

// onData runs one frame to completion: audit, decode, dispatch, then decide whether the
// connection stays.
func (s *Server) onData(c *conn.Conn, frame []byte) outcome {
	metrics.FramesReceived.Inc()
	s.log.Info().Str("event", FRAME_RECEIVED).EmbedObject(c).Int("frame_len", len(frame)).Msg("")
	if err := s.audit.Append(c.Cid(), c.RemoteAddr(), frame); err != nil {
		metrics.AuditErrors.Inc()
		s.log.Warn().Err(err).Str("event", AUDIT_ERROR).EmbedObject(c).Msg("unable to audit frame")
	}

	start := time.Now()
	records, err := s.decoder.Decode(c, frame)
	metrics.ObserveDecodeLatency(start)
	if err == nil && records == nil {
		err = errNoResult
	}
	if err != nil {
		metrics.DecodeErrors.Inc()
		s.log.Error().Err(err).Str("event", DECODE_ERROR).EmbedObject(c).Hex("frame", frame).Msg("unable to decode frame, aborting connection")
		c.Abort()
		return outcomeAborted
	}

	if len(records) == 0 {
		metrics.EmptyFrames.Inc()
		s.log.Info().Str("event", FRAME_PENDING).EmbedObject(c).Msg("connection still open, waiting for next frame")
		return outcomeOpen
	}

	n := s.dispatch.Dispatch(s.ctx, records)
	s.log.Debug().Str("event", FRAME_DISPATCHED).EmbedObject(c).Int("records", len(records)).Int("published", n).Msg("")
	c.Close()
	return outcomeClosed
}
