// Package config loads the server configuration from flags, environment (TRACKFEED_*)
// and an optional config file, in that order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/phuslu/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const ENV_PREFIX = "TRACKFEED"

type Config struct {
	TCP                 TCPConfig     `mapstructure:"tcp"`
	ListenProxyProtocol bool          `mapstructure:"listen_proxy_protocol"`
	Tunnel              TunnelConfig  `mapstructure:"tunnel"`
	HTTP                HTTPConfig    `mapstructure:"http"`
	Audit               AuditConfig   `mapstructure:"audit"`
	Monitor             MonitorConfig `mapstructure:"monitor"`
	DB                  DBConfig      `mapstructure:"db"`
	Redis               RedisConfig   `mapstructure:"redis"`
	NATS                NATSConfig    `mapstructure:"nats"`
	Log                 LogConfig     `mapstructure:"log"`
}

type TCPConfig struct {
	Port        int           `mapstructure:"port" validate:"required,min=1,max=65535"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"min=0"`
}

type TunnelConfig struct {
	Addr  string `mapstructure:"addr" validate:"omitempty,hostname_port"`
	Token string `mapstructure:"token" validate:"required_with=Addr,max=20"`
}

type HTTPConfig struct {
	Port      int    `mapstructure:"port" validate:"required,min=1,max=65535"`
	StaticDir string `mapstructure:"static_dir"`
	AuthUser  string `mapstructure:"auth_user"`
	AuthHash  string `mapstructure:"auth_hash" validate:"required_with=AuthUser"`
}

type AuditConfig struct {
	File       string `mapstructure:"file"`
	MaxSize    int64  `mapstructure:"max_size" validate:"min=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"min=0"`
}

type MonitorConfig struct {
	Salt string `mapstructure:"salt"`
}

type DBConfig struct {
	URL   string `mapstructure:"url"`
	Table string `mapstructure:"table" validate:"required_with=URL"`
}

type RedisConfig struct {
	Addr string        `mapstructure:"addr" validate:"omitempty,hostname_port"`
	DB   int           `mapstructure:"db" validate:"min=0"`
	TTL  time.Duration `mapstructure:"ttl" validate:"min=0"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

type LogConfig struct {
	Level   string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Console bool   `mapstructure:"console"`
}

type flagdef struct {
	key   string
	name  string
	usage string
}

var flags = []flagdef{
	{"tcp.port", "tcp-port", "device ingestion port"},
	{"tcp.idle_timeout", "tcp-idle-timeout", "close device connections idle this long, 0 disables"},
	{"listen_proxy_protocol", "proxy-protocol", "expect PROXY protocol headers on the ingestion port"},
	{"tunnel.addr", "tunnel-addr", "tunnel relay address, empty disables"},
	{"tunnel.token", "tunnel-token", "tunnel relay token"},
	{"http.port", "http-port", "dashboard port"},
	{"http.static_dir", "static-dir", "directory holding map.html and its assets"},
	{"audit.file", "audit-file", "raw frame audit log, empty disables"},
	{"db.url", "db-url", "postgres url for the position sink, empty disables"},
	{"redis.addr", "redis-addr", "redis address for last positions, empty disables"},
	{"nats.url", "nats-url", "nats url to mirror positions to, empty disables"},
	{"log.level", "log-level", "trace, debug, info, warn or error"},
	{"log.console", "log-console", "human readable log output"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("tcp.port", 0)
	v.SetDefault("tcp.idle_timeout", 5*time.Minute)
	v.SetDefault("listen_proxy_protocol", false)
	v.SetDefault("tunnel.addr", "")
	v.SetDefault("tunnel.token", "")
	v.SetDefault("http.port", 0)
	v.SetDefault("http.static_dir", "public")
	v.SetDefault("http.auth_user", "")
	v.SetDefault("http.auth_hash", "")
	v.SetDefault("audit.file", "log/audit.log")
	v.SetDefault("audit.max_size", 64<<20)
	v.SetDefault("audit.max_backups", 10)
	v.SetDefault("monitor.salt", "trackfeed")
	v.SetDefault("db.url", "")
	v.SetDefault("db.table", "position")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 24*time.Hour)
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject", "trackfeed.position")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", false)
}

// Load parses args (without the program name) and resolves the configuration. A help
// request is returned as pflag.ErrHelp.
func Load(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("trackfeed", pflag.ContinueOnError)
	cfgfile := fs.String("config", "", "config file (yaml, toml or json)")
	fs.Int("tcp-port", 0, "")
	fs.Duration("tcp-idle-timeout", 5*time.Minute, "")
	fs.Bool("proxy-protocol", false, "")
	fs.String("tunnel-addr", "", "")
	fs.String("tunnel-token", "", "")
	fs.Int("http-port", 0, "")
	fs.String("static-dir", "public", "")
	fs.String("audit-file", "log/audit.log", "")
	fs.String("db-url", "", "")
	fs.String("redis-addr", "", "")
	fs.String("nats-url", "", "")
	fs.String("log-level", "info", "")
	fs.Bool("log-console", false, "")
	for _, f := range flags {
		fs.Lookup(f.name).Usage = f.usage
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(ENV_PREFIX)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, f := range flags {
		if err := v.BindPFlag(f.key, fs.Lookup(f.name)); err != nil {
			return nil, err
		}
	}
	if *cfgfile != "" {
		v.SetConfigFile(*cfgfile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", *cfgfile, err)
		}
	}

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (c *Config) TCPAddr() string {
	return fmt.Sprintf(":%d", c.TCP.Port)
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTP.Port)
}

// SetupLog applies the log section to the default logger.
func (c *Config) SetupLog() {
	log.DefaultLogger.Level = log.ParseLevel(c.Log.Level)
	if c.Log.Console {
		log.DefaultLogger.Writer = &log.ConsoleWriter{ColorOutput: true, QuoteString: true}
	}
}
