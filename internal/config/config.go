// Package config loads serialgw.toml into the runtime settings of every
// component. Keys left out of the file keep their defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/serialgw/internal/admin"
	"github.com/danmuck/serialgw/internal/control"
	"github.com/danmuck/serialgw/internal/dispatch"
	"github.com/danmuck/serialgw/internal/egress"
	"github.com/danmuck/serialgw/internal/gateway"
	"github.com/danmuck/serialgw/internal/logging"
	"github.com/danmuck/serialgw/internal/outbound"
	"github.com/danmuck/serialgw/internal/registry"
)

var ErrInvalid = errors.New("config: invalid")

type RedisConfig struct {
	Addr string
	DB   int
	TTL  time.Duration
}

type LogConfig struct {
	Level string
	File  logging.FileConfig
}

// Config is the resolved runtime configuration.
type Config struct {
	Org              string
	Gateway          gateway.Config
	OutboundCapacity int
	EgressQueueDepth int
	NATS             egress.NATSConfig
	Redis            RedisConfig
	Admin            admin.Config
	Control          control.Config
	Log              LogConfig
}

func Default() Config {
	gw := gateway.DefaultConfig()
	return Config{
		Org:              "default",
		Gateway:          gw,
		OutboundCapacity: outbound.DefaultCapacity,
		EgressQueueDepth: egress.DefaultQueueDepth,
		NATS: egress.NATSConfig{
			ClientName:    "serialgw-" + gw.GatewayID,
			ReconnectWait: 500 * time.Millisecond,
		},
		Redis:   RedisConfig{TTL: registry.DefaultTTL},
		Admin:   admin.Config{Addr: admin.DefaultAddr, SendTimeout: admin.DefaultSendTimeout},
		Control: control.Config{SendTimeout: control.DefaultSendTimeout},
		Log: LogConfig{
			Level: "info",
			File:  logging.FileConfig{MaxSizeMB: 50, MaxBackups: 3, MaxAgeDays: 14},
		},
	}
}

// TopicPrefix is the root of every topic this gateway publishes or
// subscribes under.
func (c Config) TopicPrefix() string {
	return "iot/" + c.Org + "/pcb/" + c.Gateway.GatewayID
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Gateway.GatewayID) == "" {
		return fmt.Errorf("%w: gateway id is required", ErrInvalid)
	}
	if strings.TrimSpace(c.Org) == "" {
		return fmt.Errorf("%w: org is required", ErrInvalid)
	}
	if strings.ContainsAny(c.Org+c.Gateway.GatewayID, "/ \t") {
		return fmt.Errorf("%w: org and gateway id must not contain '/' or spaces", ErrInvalid)
	}
	if n := len(c.TopicPrefix()); n > dispatch.MaxPrefixBytes {
		return fmt.Errorf("%w: topic prefix %q is %d bytes, max %d", ErrInvalid, c.TopicPrefix(), n, dispatch.MaxPrefixBytes)
	}
	if err := c.Gateway.Validate(); err != nil {
		return err
	}
	if c.OutboundCapacity <= 0 || c.EgressQueueDepth <= 0 {
		return fmt.Errorf("%w: queue sizes must be positive", ErrInvalid)
	}
	if _, ok := logging.ParseLevel(c.Log.Level); !ok && strings.TrimSpace(c.Log.Level) != "" {
		return fmt.Errorf("%w: unknown log level %q", ErrInvalid, c.Log.Level)
	}
	return nil
}

// fileConfig is the on-disk shape. Durations are strings such as "10s".
type fileConfig struct {
	ID      string `toml:"id"`
	Org     string `toml:"org"`
	Gateway struct {
		ListenAddr    string `toml:"listen_addr"`
		Framing       string `toml:"framing"`
		IdleTimeout   string `toml:"idle_timeout"`
		WriteTimeout  string `toml:"write_timeout"`
		CloseBackoff  string `toml:"close_backoff"`
		ReadBuffer    int    `toml:"read_buffer"`
		FrameBuffer   int    `toml:"frame_buffer"`
		LineBuffer    int    `toml:"line_buffer"`
		MaxPayload    int    `toml:"max_payload"`
		OutboundQueue int    `toml:"outbound_queue"`
		RegistryTouch string `toml:"registry_touch"`
	} `toml:"gateway"`
	Egress struct {
		NATSURL       string `toml:"nats_url"`
		ClientName    string `toml:"client_name"`
		ReconnectWait string `toml:"reconnect_wait"`
		QueueDepth    int    `toml:"queue_depth"`
		SendTimeout   string `toml:"rpc_send_timeout"`
	} `toml:"egress"`
	Registry struct {
		RedisAddr string `toml:"redis_addr"`
		DB        int    `toml:"db"`
		TTL       string `toml:"ttl"`
	} `toml:"registry"`
	Admin struct {
		Addr        string   `toml:"addr"`
		CORSOrigins []string `toml:"cors_origins"`
		SendTimeout string   `toml:"send_timeout"`
		Token       string   `toml:"token"`
	} `toml:"admin"`
	Log struct {
		Level      string `toml:"level"`
		File       string `toml:"file"`
		MaxSizeMB  int    `toml:"max_size_mb"`
		MaxBackups int    `toml:"max_backups"`
		MaxAgeDays int    `toml:"max_age_days"`
		Compress   bool   `toml:"compress"`
	} `toml:"log"`
}

// Load decodes path over Default and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load serialgw config: %w", err)
	}
	cfg, err := Parse(string(data))
	if err != nil {
		return Config{}, fmt.Errorf("load serialgw config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes TOML text over Default and validates the result. Unknown
// keys are rejected so typos do not silently fall back to defaults.
func Parse(data string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %q", ErrInvalid, undecoded[0].String())
	}
	cfg, err := apply(Default(), raw, meta)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func apply(cfg Config, raw fileConfig, meta toml.MetaData) (Config, error) {
	durations := []struct {
		key []string
		val string
		dst *time.Duration
	}{
		{[]string{"gateway", "idle_timeout"}, raw.Gateway.IdleTimeout, &cfg.Gateway.IdleTimeout},
		{[]string{"gateway", "write_timeout"}, raw.Gateway.WriteTimeout, &cfg.Gateway.WriteTimeout},
		{[]string{"gateway", "close_backoff"}, raw.Gateway.CloseBackoff, &cfg.Gateway.CloseBackoff},
		{[]string{"gateway", "registry_touch"}, raw.Gateway.RegistryTouch, &cfg.Gateway.RegistryTouchInterval},
		{[]string{"egress", "reconnect_wait"}, raw.Egress.ReconnectWait, &cfg.NATS.ReconnectWait},
		{[]string{"egress", "rpc_send_timeout"}, raw.Egress.SendTimeout, &cfg.Control.SendTimeout},
		{[]string{"registry", "ttl"}, raw.Registry.TTL, &cfg.Redis.TTL},
		{[]string{"admin", "send_timeout"}, raw.Admin.SendTimeout, &cfg.Admin.SendTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key...) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.val))
		if err != nil {
			return Config{}, fmt.Errorf("%w: %s: %v", ErrInvalid, strings.Join(d.key, "."), err)
		}
		*d.dst = v
	}

	if meta.IsDefined("id") {
		cfg.Gateway.GatewayID = strings.TrimSpace(raw.ID)
		if !meta.IsDefined("egress", "client_name") {
			cfg.NATS.ClientName = "serialgw-" + cfg.Gateway.GatewayID
		}
	}
	if meta.IsDefined("org") {
		cfg.Org = strings.TrimSpace(raw.Org)
	}
	if meta.IsDefined("gateway", "listen_addr") {
		cfg.Gateway.ListenAddr = strings.TrimSpace(raw.Gateway.ListenAddr)
	}
	if meta.IsDefined("gateway", "framing") {
		f, err := gateway.ParseFraming(raw.Gateway.Framing)
		if err != nil {
			return Config{}, err
		}
		cfg.Gateway.Framing = f
	}
	if meta.IsDefined("gateway", "read_buffer") {
		cfg.Gateway.ReadBufferSize = raw.Gateway.ReadBuffer
	}
	if meta.IsDefined("gateway", "frame_buffer") {
		cfg.Gateway.FrameBufferSize = raw.Gateway.FrameBuffer
	}
	if meta.IsDefined("gateway", "line_buffer") {
		cfg.Gateway.LineBufferSize = raw.Gateway.LineBuffer
	}
	if meta.IsDefined("gateway", "max_payload") {
		cfg.Gateway.Limits.MaxPayloadBytes = raw.Gateway.MaxPayload
	}
	if meta.IsDefined("gateway", "outbound_queue") {
		cfg.OutboundCapacity = raw.Gateway.OutboundQueue
	}
	if meta.IsDefined("egress", "nats_url") {
		cfg.NATS.URL = strings.TrimSpace(raw.Egress.NATSURL)
	}
	if meta.IsDefined("egress", "client_name") {
		cfg.NATS.ClientName = strings.TrimSpace(raw.Egress.ClientName)
	}
	if meta.IsDefined("egress", "queue_depth") {
		cfg.EgressQueueDepth = raw.Egress.QueueDepth
	}
	if meta.IsDefined("registry", "redis_addr") {
		cfg.Redis.Addr = strings.TrimSpace(raw.Registry.RedisAddr)
	}
	if meta.IsDefined("registry", "db") {
		cfg.Redis.DB = raw.Registry.DB
	}
	if meta.IsDefined("admin", "addr") {
		cfg.Admin.Addr = strings.TrimSpace(raw.Admin.Addr)
	}
	if meta.IsDefined("admin", "cors_origins") {
		cfg.Admin.CORSOrigins = raw.Admin.CORSOrigins
	}
	if meta.IsDefined("admin", "token") {
		cfg.Admin.Token = strings.TrimSpace(raw.Admin.Token)
	}
	if meta.IsDefined("log", "level") {
		cfg.Log.Level = strings.TrimSpace(raw.Log.Level)
	}
	if meta.IsDefined("log", "file") {
		cfg.Log.File.Path = strings.TrimSpace(raw.Log.File)
	}
	if meta.IsDefined("log", "max_size_mb") {
		cfg.Log.File.MaxSizeMB = raw.Log.MaxSizeMB
	}
	if meta.IsDefined("log", "max_backups") {
		cfg.Log.File.MaxBackups = raw.Log.MaxBackups
	}
	if meta.IsDefined("log", "max_age_days") {
		cfg.Log.File.MaxAgeDays = raw.Log.MaxAgeDays
	}
	if meta.IsDefined("log", "compress") {
		cfg.Log.File.Compress = raw.Log.Compress
	}
	return cfg, nil
}
