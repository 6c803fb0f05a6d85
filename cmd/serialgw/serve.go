package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/serialgw/internal/admin"
	"github.com/danmuck/serialgw/internal/config"
	"github.com/danmuck/serialgw/internal/control"
	"github.com/danmuck/serialgw/internal/dispatch"
	"github.com/danmuck/serialgw/internal/egress"
	"github.com/danmuck/serialgw/internal/gateway"
	"github.com/danmuck/serialgw/internal/logging"
	"github.com/danmuck/serialgw/internal/observability"
	"github.com/danmuck/serialgw/internal/outbound"
	"github.com/danmuck/serialgw/internal/registry"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		listen  string
		framing string
		noAdmin bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.Gateway.ListenAddr = listen
			}
			if cmd.Flags().Changed("framing") {
				f, err := gateway.ParseFraming(framing)
				if err != nil {
					return err
				}
				cfg.Gateway.Framing = f
			}
			if noAdmin {
				cfg.Admin.Addr = ""
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, !noAdmin)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "override gateway listen address")
	cmd.Flags().StringVar(&framing, "framing", "", "override framing: cobs|line")
	cmd.Flags().BoolVar(&noAdmin, "no-admin", false, "disable the admin HTTP surface")
	return cmd
}

// serve wires every component and blocks until ctx is done or one of the
// long-running parts fails.
func serve(ctx context.Context, cfg config.Config, withAdmin bool) error {
	logging.ConfigureRuntime(cfg.Log.Level, cfg.Log.File)
	observability.RegisterMetrics()
	prefix := cfg.TopicPrefix()
	log.Info().
		Str("gateway_id", cfg.Gateway.GatewayID).
		Str("prefix", prefix).
		Str("framing", string(cfg.Gateway.Framing)).
		Msg("serialgw starting")

	eq := egress.NewQueue(cfg.EgressQueueDepth)
	disp, err := dispatch.New(prefix, eq)
	if err != nil {
		return err
	}
	out := outbound.NewQueue(cfg.OutboundCapacity)

	var sink egress.Sink = egress.LogSink{}
	ctl := control.New(disp, out, cfg.Control)
	if cfg.NATS.URL != "" {
		nc, err := egress.ConnectNATS(cfg.NATS, func() { egress.Announce(eq, prefix) })
		if err != nil {
			return err
		}
		defer func() {
			if err := nc.Drain(); err != nil {
				log.Warn().Err(err).Msg("nats drain failed")
			}
		}()
		sink = nc
		stopControl, err := ctl.Start(ctx, control.NATSSubscriber{Conn: nc})
		if err != nil {
			return err
		}
		defer stopControl()
	} else {
		log.Warn().Msg("no nats_url configured, egress is logged only")
		egress.Announce(eq, prefix)
	}

	var store registry.Store = registry.Nop{}
	if cfg.Redis.Addr != "" {
		client, err := registry.Dial(ctx, cfg.Redis.Addr, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer client.Close()
		store = registry.NewRedisStore(client, cfg.Redis.TTL)
	}

	srv, err := gateway.New(cfg.Gateway, gateway.Deps{Outbound: out, Dispatcher: disp, Registry: store})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errs := make(chan error, 3)
	running := 2
	go func() { errs <- eq.Run(ctx, sink) }()
	go func() { errs <- srv.Run(ctx) }()
	if withAdmin && cfg.Admin.Addr != "" {
		running++
		adm := admin.New(cfg.Admin, srv, out)
		go func() { errs <- adm.Run(ctx) }()
	}

	var first error
	for i := 0; i < running; i++ {
		err := <-errs
		if err != nil && !errors.Is(err, context.Canceled) && first == nil {
			first = err
		}
		cancel()
	}
	log.Info().Err(first).Msg("serialgw stopped")
	return first
}
