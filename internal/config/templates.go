package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

const templateHeader = `# serialgw configuration.
# Durations are Go duration strings. Empty nats_url logs egress locally;
# empty redis_addr disables the connection registry.

`

// Template renders Default as a complete config file.
func Template() (string, error) {
	out, err := toml.Marshal(toFile(Default()))
	if err != nil {
		return "", fmt.Errorf("render config template: %w", err)
	}
	return templateHeader + string(out), nil
}

func WriteTemplate(path string, overwrite bool) error {
	template, err := Template()
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

func toFile(cfg Config) fileConfig {
	var raw fileConfig
	raw.ID = cfg.Gateway.GatewayID
	raw.Org = cfg.Org

	raw.Gateway.ListenAddr = cfg.Gateway.ListenAddr
	raw.Gateway.Framing = string(cfg.Gateway.Framing)
	raw.Gateway.IdleTimeout = cfg.Gateway.IdleTimeout.String()
	raw.Gateway.WriteTimeout = cfg.Gateway.WriteTimeout.String()
	raw.Gateway.CloseBackoff = cfg.Gateway.CloseBackoff.String()
	raw.Gateway.ReadBuffer = cfg.Gateway.ReadBufferSize
	raw.Gateway.FrameBuffer = cfg.Gateway.FrameBufferSize
	raw.Gateway.LineBuffer = cfg.Gateway.LineBufferSize
	raw.Gateway.MaxPayload = cfg.Gateway.Limits.MaxPayloadBytes
	raw.Gateway.OutboundQueue = cfg.OutboundCapacity
	raw.Gateway.RegistryTouch = cfg.Gateway.RegistryTouchInterval.String()

	raw.Egress.NATSURL = cfg.NATS.URL
	raw.Egress.ClientName = cfg.NATS.ClientName
	raw.Egress.ReconnectWait = cfg.NATS.ReconnectWait.String()
	raw.Egress.QueueDepth = cfg.EgressQueueDepth
	raw.Egress.SendTimeout = cfg.Control.SendTimeout.String()

	raw.Registry.RedisAddr = cfg.Redis.Addr
	raw.Registry.DB = cfg.Redis.DB
	raw.Registry.TTL = cfg.Redis.TTL.String()

	raw.Admin.Addr = cfg.Admin.Addr
	raw.Admin.CORSOrigins = append([]string{}, cfg.Admin.CORSOrigins...)
	raw.Admin.SendTimeout = cfg.Admin.SendTimeout.String()
	raw.Admin.Token = cfg.Admin.Token

	raw.Log.Level = cfg.Log.Level
	raw.Log.File = cfg.Log.File.Path
	raw.Log.MaxSizeMB = cfg.Log.File.MaxSizeMB
	raw.Log.MaxBackups = cfg.Log.File.MaxBackups
	raw.Log.MaxAgeDays = cfg.Log.File.MaxAgeDays
	raw.Log.Compress = cfg.Log.File.Compress
	return raw
}
