// fakegt06 plays a GT06 tracker: it logs in, sends one fix and waits for the server to
// hang up, then reconnects for the next fix.
package main

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/phuslu/log"
	"github.com/spf13/pflag"
	"nuha.dev/trackfeed/internal/feed/decoder/gt06"
)

func main() {
	addr := pflag.String("addr", "127.0.0.1:5023", "trackfeed ingestion address")
	imei := pflag.String("imei", "868120145233604", "15 digit device imei")
	lat := pflag.Float64("lat", -6.2088, "starting latitude")
	lon := pflag.Float64("lon", 106.8456, "starting longitude")
	count := pflag.Int("count", 10, "fixes to send")
	interval := pflag.Duration("interval", 5*time.Second, "time between fixes")
	pflag.Parse()

	login, err := gt06.LoginPayload(*imei)
	if err != nil || len(login) != 8 {
		log.Fatal().Err(err).Str("imei", *imei).Msg("imei must be 15 digits")
	}
	for i := 0; i < *count; i++ {
		if i > 0 {
			time.Sleep(*interval)
		}
		fix := gt06.LocationPayload(time.Now(), *lat+float64(i)*0.0005, *lon+float64(i)*0.0005, 40, uint16(i*10%360))
		if err := send(*addr, login, fix, i); err != nil {
			log.Error().Err(err).Int("fix", i).Msg("")
			continue
		}
		log.Info().Int("fix", i).Msg("fix delivered")
	}
}

func send(addr string, login, fix []byte, serial int) error {
	c, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return err
	}
	defer c.Close()
	_ = c.SetDeadline(time.Now().Add(10 * time.Second))

	if _, err := c.Write(gt06.NewFrame(gt06.LOGIN, login, serial*2+1)); err != nil {
		return err
	}
	ack := make([]byte, 10)
	if _, err := io.ReadFull(c, ack); err != nil {
		return err
	}
	log.Debug().Hex("ack", ack).Msg("login acknowledged")

	if _, err := c.Write(gt06.NewFrame(gt06.LOCATION, fix, serial*2+2)); err != nil {
		return err
	}
	n, err := c.Read(make([]byte, 1))
	if n == 0 && errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return errors.New("server kept the connection open after a fix")
	}
	return err
}
