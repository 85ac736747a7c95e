// Package simplejson decodes the binary framed JSON protocol spoken by the companion
// phone tracker app.
package simplejson

import (
	"encoding/json"
	"strconv"

	"github.com/phuslu/log"
	"nuha.dev/trackfeed/internal/feed/decoder"
)

type Decoder struct {
	log log.Logger
}

func NewDecoder(logger log.Logger) *Decoder {
	d := &Decoder{log: logger}
	d.log.Context = log.NewContext(nil).Str("module", "simplejson").Value()
	return d
}

// DeviceID joins the serial type and number the way devices are addressed on the map.
func DeviceID(sn_type, serial string) string {
	switch sn_type {
	case "imei", "":
		return serial
	default:
		return sn_type + ":" + serial
	}
}

func (d *Decoder) Decode(c decoder.Conn, frame []byte) ([]decoder.Record, error) {
	records := []decoder.Record{}
	for len(frame) > 0 {
		msg, n, err := parseFrame(frame)
		if err != nil {
			return nil, err
		}
		frame = frame[n:]
		switch msg.Protocol {
		case LOGIN:
			login := LoginMessage{}
			if err := json.Unmarshal(msg.Payload, &login); err != nil {
				return nil, err
			}
			if login.Serial == "" {
				return nil, errBadFrame
			}
			id := DeviceID(login.SnType, login.Serial)
			c.SetDevice(id)
			d.log.Info().Str("event", "login_message").Str("remote", c.RemoteAddr()).Str("device", id).Str("device_type", login.DeviceType).Msg("")
		case LOCATION_UPDATE:
			loc := LocationMessage{}
			if err := json.Unmarshal(msg.Payload, &loc); err != nil {
				d.log.Error().Err(err).Msg("error parsing location data")
				return nil, err
			}
			rec := decoder.Record{
				IMEI:        c.Device(),
				UTCDateTime: loc.GpsTime.UTC(),
				Latitude:    loc.Latitude,
				Longitude:   loc.Longitude,
				Altitude:    loc.Altitude,
				Heading:     loc.Bearing,
			}
			if loc.Speed != nil {
				rec.Speed = decoder.Float(*loc.Speed * 3.6)
			}
			records = append(records, rec)
		case SAT_UPDATE, GPS_ERROR, GPS_INIT, STATUS:
			d.log.Trace().Str("device", c.Device()).Str("procode", strconv.FormatUint(uint64(msg.Protocol), 16)).Msg("status message")
		default:
			d.log.Warn().Str("device", c.Device()).Hex("data", msg.Payload).Msg("unhandled message type")
		}
	}
	return records, nil
}
