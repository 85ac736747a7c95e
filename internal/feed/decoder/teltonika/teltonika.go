package teltonika

import (
	"github.com/phuslu/log"
	"nuha.dev/trackfeed/internal/feed/decoder"
)

type Decoder struct {
	log log.Logger
}

func NewDecoder(logger log.Logger) *Decoder {
	d := &Decoder{log: logger}
	d.log.Context = log.NewContext(nil).Str("module", "teltonika").Value()
	return d
}

func (d *Decoder) Decode(c decoder.Conn, frame []byte) ([]decoder.Record, error) {
	if IsHandshake(frame) {
		imei, err := ParseHandshake(frame)
		if err != nil {
			return nil, err
		}
		c.SetDevice(imei)
		d.log.Info().Str("event", "handshake").Str("remote", c.RemoteAddr()).Str("imei", imei).Msg("")
		if _, err := c.Write([]byte{0x01}); err != nil {
			return nil, err
		}
		return []decoder.Record{}, nil
	}

	pkt, err := ParsePacket(frame)
	if err != nil {
		return nil, err
	}
	d.log.Debug().Str("imei", c.Device()).Int("records", len(pkt.Records)).Int("codec", int(pkt.CodecID)).Msg("avl packet")
	records := make([]decoder.Record, 0, len(pkt.Records))
	for _, avl := range pkt.Records {
		records = append(records, decoder.Record{
			IMEI:        c.Device(),
			UTCDateTime: avl.Timestamp,
			Latitude:    avl.GPS.Latitude,
			Longitude:   avl.GPS.Longitude,
			Altitude:    decoder.Float(float64(avl.GPS.Altitude)),
			Speed:       decoder.Float(float64(avl.GPS.Speed)),
			Heading:     decoder.Float(float64(avl.GPS.Angle)),
		})
	}
	if _, err := c.Write(RecordCountAck(len(pkt.Records))); err != nil {
		d.log.Warn().Err(err).Str("imei", c.Device()).Msg("error writing record ack")
	}
	return records, nil
}
