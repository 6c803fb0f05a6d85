package egress

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSConfig names the broker connection.
type NATSConfig struct {
	URL           string
	ClientName    string
	ReconnectWait time.Duration
}

// ConnectNATS dials the broker with unlimited reconnects. onConnect runs on
// the first connect and after every reconnect.
func ConnectNATS(cfg NATSConfig, onConnect func()) (*nats.Conn, error) {
	wait := cfg.ReconnectWait
	if wait <= 0 {
		wait = 500 * time.Millisecond
	}
	opts := []nats.Option{
		nats.Name(cfg.ClientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(wait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
			if onConnect != nil {
				onConnect()
			}
		}),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("egress: connect nats %s: %w", cfg.URL, err)
	}
	log.Info().Str("url", nc.ConnectedUrl()).Msg("nats connected")
	if onConnect != nil {
		onConnect()
	}
	return nc, nil
}

// LogSink is used when no broker is configured.
type LogSink struct{}

func (LogSink) Publish(subject string, data []byte) error {
	log.Info().Str("topic", subject).Int("bytes", len(data)).Bytes("payload", data).Msg("egress (no broker)")
	return nil
}

// ConnectionSuffix is the liveness topic under a gateway prefix.
const ConnectionSuffix = "/connection"

type connectionPacket struct {
	Msg      string `json:"msg"`
	LastWill bool   `json:"last_will"`
}

// Announce publishes the liveness record and a log line after the broker
// session comes up.
func Announce(p Publisher, prefix string) {
	body, _ := json.Marshal(connectionPacket{Msg: "me alive"})
	p.Publish(prefix+ConnectionSuffix, body)
	p.Publish(prefix+"/logs", []byte("Connected!"))
}
