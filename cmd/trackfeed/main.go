package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/phuslu/log"
	"github.com/spf13/pflag"
	"nuha.dev/trackfeed/internal/config"
	"nuha.dev/trackfeed/internal/feed/audit"
	"nuha.dev/trackfeed/internal/feed/broadcast"
	"nuha.dev/trackfeed/internal/feed/decoder"
	"nuha.dev/trackfeed/internal/feed/decoder/gt06"
	"nuha.dev/trackfeed/internal/feed/decoder/h02"
	"nuha.dev/trackfeed/internal/feed/decoder/simplejson"
	"nuha.dev/trackfeed/internal/feed/decoder/teltonika"
	"nuha.dev/trackfeed/internal/feed/dispatch"
	"nuha.dev/trackfeed/internal/feed/natsrelay"
	"nuha.dev/trackfeed/internal/feed/server"
	"nuha.dev/trackfeed/internal/store"
	"nuha.dev/trackfeed/internal/store/impl/logstore"
	"nuha.dev/trackfeed/internal/store/impl/pgstore"
	"nuha.dev/trackfeed/internal/store/impl/redisstore"
	"nuha.dev/trackfeed/internal/util"
	"nuha.dev/trackfeed/internal/web"
	"nuha.dev/trackfeed/internal/web/monitoring"
	"nuha.dev/trackfeed/internal/web/webstream"
)

func main() {
	if len(os.Args) == 3 && os.Args[1] == "hash-password" {
		fmt.Println(util.CryptPwd(os.Args[2]))
		return
	}
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatal().Err(err).Msg("unable to load configuration")
	}
	cfg.SetupLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ch, err := broadcast.NewChannel(1)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to create broadcast channel")
	}

	registry := decoder.NewRegistry()
	registry.Register(decoder.PROTOCOL_GT06, gt06.NewDecoder(log.DefaultLogger), 0x78, 0x79)
	registry.Register(decoder.PROTOCOL_TELTONIKA, teltonika.NewDecoder(log.DefaultLogger), 0x00)
	registry.Register(decoder.PROTOCOL_SIMPLEJSON, simplejson.NewDecoder(log.DefaultLogger), 0x99)
	registry.Register(decoder.PROTOCOL_H02, h02.NewDecoder(log.DefaultLogger), '*')

	var auditor server.Auditor
	var auditlog *audit.Log
	if cfg.Audit.File != "" {
		auditlog, err = audit.Open(audit.Config{Filename: cfg.Audit.File, MaxSize: cfg.Audit.MaxSize, MaxBackups: cfg.Audit.MaxBackups})
		if err != nil {
			log.Fatal().Err(err).Str("file", cfg.Audit.File).Msg("unable to open audit log")
		}
		auditor = auditlog
	}

	srv := server.NewServer(&server.Config{
		ListenerAddr:  cfg.TCPAddr(),
		ProxyProtocol: cfg.ListenProxyProtocol,
		IdleTimeout:   cfg.TCP.IdleTimeout,
		TunnelAddr:    cfg.Tunnel.Addr,
		TunnelToken:   cfg.Tunnel.Token,
	}, registry, auditor, dispatch.NewDispatcher(ch))
	if err := srv.Listen(); err != nil {
		log.Fatal().Err(err).Msg("unable to start ingestion listener")
	}

	closers, last := attachSinks(ctx, cfg, ch)

	ws := webstream.NewWebstream(ch)
	moncfg := &monitoring.MonitoringConfig{Salt: cfg.Monitor.Salt}
	if last != nil {
		moncfg.Last = last
	}
	mon, err := monitoring.NewMonApi(srv, ws.Observers, moncfg)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to create monitoring api")
	}
	api := web.NewApi(&web.ApiConfig{
		ListenAddr: cfg.HTTPAddr(),
		StaticDir:  cfg.HTTP.StaticDir,
		AuthUser:   cfg.HTTP.AuthUser,
		AuthHash:   cfg.HTTP.AuthHash,
	}, ws, mon.GetHandler())

	go func() {
		if err := srv.Serve(); err != nil && !errors.Is(err, server.ErrServerClosed) {
			log.Fatal().Err(err).Msg("ingestion listener stopped")
		}
	}()
	if cfg.Tunnel.Addr != "" {
		go srv.RunTunnel(ctx)
	}
	go func() {
		if err := api.Run(); err != nil {
			log.Fatal().Err(err).Msg("dashboard stopped")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("tcp server shutdown")
	}
	if err := api.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("dashboard shutdown")
	}
	ws.Close()
	ch.Close()
	for _, c := range closers {
		c()
	}
	if auditlog != nil {
		auditlog.Close()
	}
}

// attachSinks subscribes the configured position sinks and returns their close funcs,
// plus the redis store when it serves last positions.
// A sink that cannot start is logged and skipped, ingestion does not depend on it.
func attachSinks(ctx context.Context, cfg *config.Config, ch *broadcast.Channel) ([]func(), *redisstore.Store) {
	var closers []func()
	var last *redisstore.Store
	if cfg.DB.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.DB.URL)
		if err == nil {
			err = pgstore.CreateTable(ctx, pool, cfg.DB.Table)
		}
		if err != nil {
			log.Error().Err(err).Msg("postgres sink disabled")
		} else {
			st := pgstore.NewStore(pool, cfg.DB.Table, &pgstore.StoreConfig{BufSize: 500, TickerDur: time.Second, MaxAgeFlush: 5 * time.Second})
			st.Run()
			store.Attach(ch, "pgstore", st)
			closers = append(closers, func() {
				st.Close()
				pool.Close()
			})
		}
	}
	if cfg.Redis.Addr != "" {
		rdb, err := redisstore.Connect(ctx, cfg.Redis.Addr, cfg.Redis.DB)
		if err != nil {
			log.Error().Err(err).Msg("redis sink disabled")
		} else {
			st := redisstore.NewStore(rdb, &redisstore.StoreConfig{TTL: cfg.Redis.TTL})
			st.Run()
			last = st
			key := store.Attach(ch, "redisstore", st)
			closers = append(closers, func() {
				ch.Unsubscribe(key)
				st.Close()
				rdb.Close()
			})
		}
	}
	if cfg.NATS.URL != "" {
		nc, err := natsrelay.Connect(cfg.NATS.URL)
		if err != nil {
			log.Error().Err(err).Msg("nats relay disabled")
		} else {
			store.Attach(ch, "natsrelay", natsrelay.NewRelay(nc, cfg.NATS.Subject))
			closers = append(closers, func() { nc.Drain() })
		}
	}
	if len(closers) == 0 {
		store.Attach(ch, "logstore", logstore.NewStore())
	}
	return closers, last
}
