package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/husbylabs/warptables/channel/ws"
	"github.com/husbylabs/warptables/internal/config"
	"github.com/husbylabs/warptables/internal/log"
	"github.com/husbylabs/warptables/warptable"
)

type rootOptions struct {
	configPath string
	logLevel   string
	url        string

	cfg    config.Config
	logger *zerolog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "warptables",
		Short:         "Shared table server and client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to config.yaml")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&opts.url, "url", "", "server WebSocket URL for client commands")

	cmd.AddCommand(
		newServeCmd(opts),
		newTableCmd(opts),
		newWatchCmd(opts),
	)
	return cmd
}

func (o *rootOptions) load() error {
	bootstrap := log.New(o.logLevel)

	cfg, path, err := config.Load(bootstrap, o.configPath)
	if err != nil {
		return err
	}
	cfg.UpdateFrom(config.Config{
		LogLevel: o.logLevel,
		Client:   config.ClientConfig{URL: o.url},
	})
	if err := cfg.Validate(); err != nil {
		return err
	}

	o.cfg = cfg
	o.logger = log.New(cfg.LogLevel)
	o.logger.Debug().Str("config", path).Msg("configuration loaded")
	return nil
}

// dial builds a client from the loaded configuration.
func (o *rootOptions) dial(onError func(error)) *warptable.Client {
	cc := o.cfg.Client
	return warptable.Dial(cc.URL, warptable.Options{
		ConnectTimeout:   cc.ConnectTimeout,
		HandshakeTimeout: cc.HandshakeTimeout,
		FetchTimeout:     cc.FetchTimeout,
		RetryInterval:    cc.RetryInterval,
		AutoConnect:      cc.AutoConnect,
		Logger:           o.logger,
		OnError:          onError,
		Channel: ws.Options{
			PingInterval: cc.PingInterval,
		},
	})
}
