package main

import (
	"github.com/danmuck/serialgw/internal/config"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "serialgw.toml"

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "serialgw",
		Short: "Serial-bridge gateway: framed device traffic to a message broker",
		Long: `serialgw accepts one serial-bridge client over TCP, splits its byte stream
into checksummed frames (or newline records in legacy mode) and publishes each
frame's payload under iot/<org>/pcb/<id>/data/<channel>. Downlink messages on
<prefix>/rpc/tcp are written back to the client.`,
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "config file path")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newConfigCmd(opts))
	root.AddCommand(newInspectCmd())
	return root
}

// load returns defaults when the config flag was left unset and the default
// file does not exist.
func (o *rootOptions) load(cmd *cobra.Command) (config.Config, error) {
	if !cmd.Flags().Changed("config") && !fileExists(o.configPath) {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.Load(o.configPath)
}
