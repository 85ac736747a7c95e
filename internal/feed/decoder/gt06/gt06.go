package gt06

import (
	"strconv"
	"time"

	"github.com/phuslu/log"
	"nuha.dev/trackfeed/internal/feed/decoder"
)

const (
	LOGIN_MESSAGE string = "login_message"
	STATUS_CHANGE string = "status_update"
)

// Decoder decodes GT06 family frames (GT06, GK310 and compatibles). One read may carry
// several frames back to back, they are decoded in order.
type Decoder struct {
	log log.Logger
	now func() time.Time
}

func NewDecoder(logger log.Logger) *Decoder {
	d := &Decoder{log: logger, now: time.Now}
	d.log.Context = log.NewContext(nil).Str("module", "gt06").Value()
	return d
}

func (d *Decoder) Decode(c decoder.Conn, frame []byte) ([]decoder.Record, error) {
	records := []decoder.Record{}
	for len(frame) > 0 {
		msg, n, err := parseFrame(frame)
		if err != nil {
			return nil, err
		}
		frame = frame[n:]
		procode := strconv.FormatUint(uint64(msg.Protocol), 16)
		d.log.Trace().Str("remote", c.RemoteAddr()).Str("procode", procode).Hex("payload", msg.Payload).Int("serial", msg.Serial).Msg("receive message from terminal")

		switch msg.Protocol {
		case loginMessage:
			login, err := ParseLoginMessage(msg.Payload)
			if err != nil {
				return nil, err
			}
			c.SetDevice(login.IMEI)
			d.log.Info().Str("event", LOGIN_MESSAGE).Str("remote", c.RemoteAddr()).Str("imei", login.IMEI).Msg("")
			if err := d.writeResponse(c, loginMessage, []byte{}, msg.Serial); err != nil {
				return nil, err
			}
		case statusInformation: //heartbeat
			st, err := parseStatusInformation(msg.Payload)
			if err != nil {
				return nil, err
			}
			d.log.Debug().Str("imei", c.Device()).Object("status", &st).Msg("heartbeat")
			if err := d.writeResponse(c, statusInformation, []byte{}, msg.Serial); err != nil {
				return nil, err
			}
		case timeCheck:
			t := d.now().UTC()
			d.log.Info().Str("procode", procode).Time("update", t).Msg("sending time response")
			if err := d.writeResponse(c, timeCheck, timeResponse(t), msg.Serial); err != nil {
				return nil, err
			}
		case gt06GPS, gk310GPS:
			loc, err := parseGPSPart(msg.Payload)
			if err != nil {
				return nil, err
			}
			records = append(records, toRecord(c.Device(), loc))
		case gt06GPSAlarm, gk310GPSAlarm:
			loc, st, err := parseGPSAlarm(msg.Payload)
			if err != nil {
				return nil, err
			}
			d.log.Info().Str("event", STATUS_CHANGE).Str("imei", c.Device()).Int("alarm", st.AlarmCode).Object("status", &st).Msg("alarm")
			records = append(records, toRecord(c.Device(), loc))
		case stringInformation, serverCommandResponse, informationTxPacket:
			d.log.Debug().Str("procode", procode).Hex("data", msg.Payload).Msg("information packet")
		default:
			d.log.Warn().Hex("data", msg.Payload).Str("procode", procode).Msg("unhandled event protocol")
		}
	}
	return records, nil
}

func (d *Decoder) writeResponse(c decoder.Conn, protocol byte, payload []byte, serial int) error {
	_, err := c.Write(NewFrame(protocol, payload, serial))
	if err != nil {
		d.log.Error().Err(err).Str("remote", c.RemoteAddr()).Msg("error while writing response")
	}
	return err
}

func toRecord(imei string, loc gpsMessage) decoder.Record {
	return decoder.Record{
		IMEI:        imei,
		UTCDateTime: loc.Timestamp,
		Latitude:    loc.Latitude,
		Longitude:   loc.Longitude,
		Speed:       decoder.Float(loc.Speed),
		Heading:     decoder.Float(float64(loc.Course)),
	}
}
