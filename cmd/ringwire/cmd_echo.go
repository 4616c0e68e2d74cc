package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/danmuck/ringwire/internal/client"
	"github.com/danmuck/ringwire/internal/config"
	"github.com/danmuck/ringwire/internal/logging"
	"github.com/danmuck/ringwire/internal/server"
)

type echoOptions struct {
	configPath string
	family     string
	level      string
	text       string
}

func newEchoCmd() *cobra.Command {
	var opts echoOptions
	cmd := &cobra.Command{
		Use:     "echo <host> [service]",
		Short:   "Run one TO_UPPER, TO_LOWER, FINISH exchange against a server",
		Example: "  ringwire echo localhost\n  ringwire echo -m ipv6 ::1 2345",
		Args:    cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := echoConfig(cmd, opts, args)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			logging.ConfigureRuntime()
			logging.SetLevel(cfg.LogLevel)

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			responses, err := client.Run(ctx, cfg.Client)
			if err != nil {
				return fmt.Errorf("echo: %w", err)
			}
			for _, m := range responses {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %d %s\n", m.Type, m.Seq, m.Payload)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "TOML config file")
	f.StringVarP(&opts.family, "mode", "m", "unspec", "address family: unspec|ipv4|ipv6")
	f.StringVarP(&opts.level, "log-level", "l", "INFO", "log level: NONE|FATAL|ERROR|WARN|INFO|DEBUG")
	f.StringVar(&opts.text, "text", client.DefaultText, "payload for the TO_UPPER and TO_LOWER requests")
	return cmd
}

func echoConfig(cmd *cobra.Command, opts echoOptions, args []string) (config.ClientConfig, error) {
	cfg := config.DefaultClientConfig()
	if opts.configPath != "" {
		loaded, err := config.LoadClientConfig(opts.configPath)
		if err != nil {
			return config.ClientConfig{}, err
		}
		cfg = loaded
	}
	f := cmd.Flags()
	if f.Changed("mode") {
		fam, err := server.ParseFamily(opts.family)
		if err != nil {
			return config.ClientConfig{}, err
		}
		cfg.Client.Family = fam
	}
	if f.Changed("log-level") {
		lvl, ok := logging.ParseLevel(opts.level)
		if !ok {
			return config.ClientConfig{}, fmt.Errorf("unknown log level %q", opts.level)
		}
		cfg.LogLevel = lvl
	}
	if f.Changed("text") {
		cfg.Client.Text = opts.text
	}
	cfg.Client.Host = args[0]
	if len(args) == 2 {
		cfg.Client.Service = args[1]
	}
	if err := cfg.Validate(); err != nil {
		return config.ClientConfig{}, err
	}
	return cfg, nil
}
