// Package h02 decodes the H02 text protocol: "*HQ,<imei>,V1,...#" messages.
package h02

import (
	"github.com/phuslu/log"
	"nuha.dev/trackfeed/internal/feed/decoder"
)

type Decoder struct {
	log log.Logger
}

func NewDecoder(logger log.Logger) *Decoder {
	d := &Decoder{log: logger}
	d.log.Context = log.NewContext(nil).Str("module", "h02").Value()
	return d
}

// Decode handles every message in frame. The device id travels in each message, so a
// V1 fix yields a record without any prior login. Fixes flagged invalid are dropped.
func (d *Decoder) Decode(c decoder.Conn, frame []byte) ([]decoder.Record, error) {
	records := []decoder.Record{}
	for len(frame) > 0 {
		msg, n, err := splitFrame(frame)
		if err != nil {
			return nil, err
		}
		frame = frame[n:]
		if c.Device() != msg.Serial {
			c.SetDevice(msg.Serial)
		}
		d.log.Trace().Str("remote", c.RemoteAddr()).Str("imei", msg.Serial).Str("type", msg.Type).Strs("params", msg.Params).Msg("receive message from terminal")

		switch msg.Type {
		case MSG_LOCATION:
			loc, err := ParseGPSMessage(msg.Params)
			if err != nil {
				return nil, err
			}
			if !loc.Valid {
				d.log.Debug().Str("imei", msg.Serial).Msg("fix not valid, skipped")
				continue
			}
			records = append(records, decoder.Record{
				IMEI:        msg.Serial,
				UTCDateTime: loc.Timestamp,
				Latitude:    loc.Latitude,
				Longitude:   loc.Longitude,
				Speed:       decoder.Float(loc.Speed),
				Heading:     decoder.Float(loc.Course),
			})
		case MSG_HEARTBEAT, MSG_LINK, MSG_LBS:
			d.log.Debug().Str("imei", msg.Serial).Str("type", msg.Type).Msg("")
		default:
			d.log.Debug().Str("imei", msg.Serial).Str("type", msg.Type).Msg("unhandled message")
		}
	}
	return records, nil
}
