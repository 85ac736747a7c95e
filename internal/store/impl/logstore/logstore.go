package logstore

import (
	"github.com/phuslu/log"
	"nuha.dev/trackfeed/internal/feed/dispatch"
)

// LogStore writes every position to the operational log at trace level.
type LogStore struct {
	log log.Logger
}

func NewStore() *LogStore {
	l := &LogStore{}
	l.log = log.DefaultLogger
	l.log.Context = log.NewContext(nil).Str("module", "logstore").Value()
	return l
}

func (l *LogStore) Put(ev dispatch.PositionEvent) {
	e := l.log.Trace().Str("device", ev.DeviceID).Float64("lat", ev.Lat).Float64("lng", ev.Lng).Time("gpstime", ev.Time)
	if ev.Altitude != nil {
		e = e.Float64("alt", *ev.Altitude)
	}
	if ev.Speed != nil {
		e = e.Float64("speed", *ev.Speed)
	}
	if ev.Heading != nil {
		e = e.Float64("heading", *ev.Heading)
	}
	e.Msg("position")
}
