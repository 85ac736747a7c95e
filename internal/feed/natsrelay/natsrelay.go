// Package natsrelay mirrors position events to a NATS subject as JSON.
package natsrelay

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/phuslu/log"
	"nuha.dev/trackfeed/internal/feed/dispatch"
	"nuha.dev/trackfeed/internal/metrics"
)

const DEFAULT_SUBJECT = "trackfeed.position"

type Publisher interface {
	Publish(subj string, data []byte) error
}

type Relay struct {
	nc      Publisher
	subject string
	log     log.Logger
}

// Connect dials url and keeps reconnecting for as long as the process runs.
func Connect(url string) (*nats.Conn, error) {
	l := log.DefaultLogger
	l.Context = log.NewContext(nil).Str("module", "natsrelay").Value()
	return nats.Connect(url,
		nats.Name("trackfeed"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			l.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			l.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
}

func NewRelay(nc Publisher, subject string) *Relay {
	if subject == "" {
		subject = DEFAULT_SUBJECT
	}
	r := &Relay{nc: nc, subject: subject}
	r.log = log.DefaultLogger
	r.log.Context = log.NewContext(nil).Str("module", "natsrelay").Value()
	return r
}

// Put publishes ev on the relay subject. Publish only buffers in the client, it does not
// wait for the server.
func (r *Relay) Put(ev dispatch.PositionEvent) {
	b, err := json.Marshal(ev)
	if err != nil {
		r.log.Error().Err(err).Msg("unable to encode position")
		return
	}
	if err := r.nc.Publish(r.subject, b); err != nil {
		metrics.SinkErrors.WithLabelValues("natsrelay").Inc()
		r.log.Warn().Err(err).Str("subject", r.subject).Str("device", ev.DeviceID).Msg("publish failed")
	}
}
