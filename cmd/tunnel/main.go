// tunnel is the public end of the ingestion tunnel. A trackfeed server dials in,
// authenticates with the shared token and then receives every device connection made to
// the external address as a yamux stream, prefixed with the device address line.
package main

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/hashicorp/yamux"
	"github.com/phuslu/log"
	"github.com/spf13/pflag"
)

var eaddr = pflag.String("eaddr", ":5555", "address for external connection")
var taddr = pflag.String("taddr", ":5556", "address for tunnel connection")
var secret = pflag.String("token", "token", "token for tunnel auth connection")
var certfile = pflag.String("cert", "", "tls certificate file")
var keyfile = pflag.String("key", "", "tls key file")

func main() {
	pflag.Parse()
	log.Info().Str("external", *eaddr).Str("tunnel", *taddr).Msg("starting tunnel relay")

	var ylistener net.Listener
	var err error
	if *certfile == "" && *keyfile == "" {
		ylistener, err = net.Listen("tcp", *taddr)
	} else {
		var cert tls.Certificate
		cert, err = tls.LoadX509KeyPair(*certfile, *keyfile)
		if err == nil {
			ylistener, err = tls.Listen("tcp", *taddr, &tls.Config{Certificates: []tls.Certificate{cert}})
		}
	}
	if err != nil {
		log.Fatal().Err(err).Msg("unable to open tunnel port")
	}

	for {
		yconn, err := ylistener.Accept()
		if err != nil {
			log.Error().Err(err).Msg("tunnel accept failed")
			time.Sleep(time.Second)
			continue
		}
		log.Info().Str("remote", yconn.RemoteAddr().String()).Msg("tunnel connection")
		session, err := authenticate(yconn)
		if err != nil {
			log.Warn().Err(err).Str("remote", yconn.RemoteAddr().String()).Msg("tunnel rejected")
			continue
		}
		runSession(session)
		log.Info().Msg("tunnel session ended, waiting for the server to redial")
	}
}

func authenticate(yconn net.Conn) (*yamux.Session, error) {
	_ = yconn.SetReadDeadline(time.Now().Add(10 * time.Second))
	token := make([]byte, 20)
	n, err := yconn.Read(token)
	if err != nil {
		yconn.Close()
		return nil, err
	}
	if *secret != string(token[:n]) {
		_, _ = yconn.Write([]byte{'-'})
		yconn.Close()
		return nil, fmt.Errorf("bad token")
	}
	_ = yconn.SetReadDeadline(time.Time{})
	_, _ = yconn.Write([]byte{'+'})
	return yamux.Server(yconn, nil)
}

// runSession forwards external connections until the session dies.
func runSession(session *yamux.Session) {
	listener, err := net.Listen("tcp", *eaddr)
	if err != nil {
		log.Error().Err(err).Msg("unable to open external port")
		session.Close()
		return
	}
	go func() {
		<-session.CloseChan()
		listener.Close()
	}()
	for {
		conn, err := listener.Accept()
		if err != nil {
			session.Close()
			return
		}
		go forward(session, conn)
	}
}

func forward(session *yamux.Session, conn net.Conn) {
	defer conn.Close()
	tstream, err := session.OpenStream()
	if err != nil {
		log.Error().Err(err).Msg("unable to open stream")
		return
	}
	defer tstream.Close()
	log.Debug().Uint32("stream", tstream.StreamID()).Str("remote", conn.RemoteAddr().String()).Msg("new stream")
	done := make(chan struct{})
	go func() {
		defer close(done)
		fmt.Fprintf(tstream, "%s\n", conn.RemoteAddr())
		if _, err := io.Copy(tstream, conn); err != nil {
			log.Debug().Err(err).Uint32("stream", tstream.StreamID()).Msg("device to stream copy ended")
		}
		tstream.Close()
	}()
	if _, err := io.Copy(conn, tstream); err != nil {
		log.Debug().Err(err).Uint32("stream", tstream.StreamID()).Msg("stream to device copy ended")
	}
	conn.Close()
	<-done
}
