// Package dispatch turns decoded records into position events and publishes them on the
// broadcast channel.
package dispatch

import (
	"context"
	"time"

	"github.com/phuslu/log"
	"nuha.dev/trackfeed/internal/feed/broadcast"
	"nuha.dev/trackfeed/internal/feed/decoder"
	"nuha.dev/trackfeed/internal/metrics"
)

const EVENT_TYPE_MARKER string = "marker"

// TimeFormat renders utcDateTime, RFC 1123 with a literal GMT zone.
const TimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// PositionEvent is the broadcast shape of one fix.
type PositionEvent struct {
	Type        string   `json:"type"`
	DeviceID    string   `json:"deviceId"`
	UTCDateTime string   `json:"utcDateTime"`
	Altitude    *float64 `json:"altitude,omitempty"`
	Speed       *float64 `json:"speed,omitempty"`
	Heading     *float64 `json:"heading,omitempty"`
	Lat         float64  `json:"lat"`
	Lng         float64  `json:"lng"`

	// Time is the fix time, kept for sinks that store it as a timestamp.
	Time time.Time `json:"-"`
}

// NewPositionEvent builds the event for rec. ok is false when the record carries no
// device identifier, such records are not broadcast.
func NewPositionEvent(rec decoder.Record) (ev PositionEvent, ok bool) {
	if rec.IMEI == "" {
		return ev, false
	}
	t := rec.UTCDateTime.UTC()
	return PositionEvent{
		Type:        EVENT_TYPE_MARKER,
		DeviceID:    rec.IMEI,
		UTCDateTime: t.Format(TimeFormat),
		Altitude:    rec.Altitude,
		Speed:       rec.Speed,
		Heading:     rec.Heading,
		Lat:         rec.Latitude,
		Lng:         rec.Longitude,
		Time:        t,
	}, true
}

func (ev *PositionEvent) MarshalObject(e *log.Entry) {
	e.Str("device", ev.DeviceID).Str("time", ev.UTCDateTime).Float64("lat", ev.Lat).Float64("lng", ev.Lng)
}

// Dispatcher publishes position events. Publishing is fire and forget: a channel that
// refuses the event costs that event only, ingestion carries on.
type Dispatcher struct {
	pub broadcast.Publisher
	log log.Logger
}

func NewDispatcher(pub broadcast.Publisher) *Dispatcher {
	d := &Dispatcher{pub: pub}
	d.log = log.DefaultLogger
	d.log.Context = log.NewContext(nil).Str("module", "dispatch").Value()
	return d
}

func (d *Dispatcher) Publish(ctx context.Context, ev PositionEvent) {
	if err := d.pub.Publish(ctx, broadcast.TOPIC_MARKER, ev); err != nil {
		metrics.PublishErrors.Inc()
		d.log.Warn().Err(err).Str("device", ev.DeviceID).Msg("publish failed")
		return
	}
	metrics.EventsPublished.Inc()
	d.log.Debug().Object("marker", &ev).Msg("published")
}

// Dispatch publishes every record of a batch that names its device, in order, and
// returns how many were published.
func (d *Dispatcher) Dispatch(ctx context.Context, records []decoder.Record) int {
	n := 0
	for _, rec := range records {
		ev, ok := NewPositionEvent(rec)
		if !ok {
			metrics.RecordsSkipped.Inc()
			d.log.Debug().Time("utc", rec.UTCDateTime).Msg("record without device id skipped")
			continue
		}
		d.Publish(ctx, ev)
		n++
	}
	return n
}
