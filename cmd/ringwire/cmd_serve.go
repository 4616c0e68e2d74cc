package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/danmuck/ringwire/internal/admin"
	"github.com/danmuck/ringwire/internal/config"
	"github.com/danmuck/ringwire/internal/logging"
	"github.com/danmuck/ringwire/internal/observability"
	"github.com/danmuck/ringwire/internal/proctitle"
	"github.com/danmuck/ringwire/internal/server"
)

type serveOptions struct {
	configPath string
	host       string
	family     string
	level      string
	admin      string
	maxConns   int64
}

func newServeCmd() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve [service]",
		Short: "Run the echo server",
		Long: "Listen on every address family allowed by -m and answer TO_UPPER, TO_LOWER\n" +
			"and FINISH requests until SIGINT or SIGTERM. The service defaults to " + server.DefaultService + ".",
		Example: "  ringwire serve 2345\n  ringwire serve -m ipv4\n  ringwire serve -m ipv6 -l DEBUG",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := serveConfig(cmd, opts, args)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "TOML config file")
	f.StringVar(&opts.host, "host", "", "bind address (default: wildcard of each family)")
	f.StringVarP(&opts.family, "mode", "m", "unspec", "address family: unspec|ipv4|ipv6")
	f.StringVarP(&opts.level, "log-level", "l", "INFO", "log level: NONE|FATAL|ERROR|WARN|INFO|DEBUG")
	f.StringVar(&opts.admin, "admin", "", "admin HTTP address for /health, /ready and /metrics")
	f.Int64Var(&opts.maxConns, "max-conns", 0, "maximum concurrent connections (0 = unbounded)")
	return cmd
}

// serveConfig layers defaults, the config file, then explicitly set flags.
func serveConfig(cmd *cobra.Command, opts serveOptions, args []string) (config.ServerConfig, error) {
	cfg := config.DefaultServerConfig()
	if opts.configPath != "" {
		loaded, err := config.LoadServerConfig(opts.configPath)
		if err != nil {
			return config.ServerConfig{}, err
		}
		cfg = loaded
	}
	f := cmd.Flags()
	if f.Changed("host") {
		cfg.Server.Host = opts.host
	}
	if f.Changed("mode") {
		fam, err := server.ParseFamily(opts.family)
		if err != nil {
			return config.ServerConfig{}, err
		}
		cfg.Server.Family = fam
	}
	if f.Changed("log-level") {
		lvl, ok := logging.ParseLevel(opts.level)
		if !ok {
			return config.ServerConfig{}, fmt.Errorf("unknown log level %q", opts.level)
		}
		cfg.LogLevel = lvl
	}
	if f.Changed("admin") {
		cfg.AdminAddr = opts.admin
	}
	if f.Changed("max-conns") {
		cfg.Server.MaxConnections = opts.maxConns
	}
	if len(args) == 1 {
		cfg.Server.Service = args[0]
	}
	if err := cfg.Validate(); err != nil {
		return config.ServerConfig{}, err
	}
	return cfg, nil
}

func runServe(parent context.Context, cfg config.ServerConfig) error {
	if parent == nil {
		parent = context.Background()
	}
	logger := observability.InitLogger("ringwire")
	logging.SetLevel(cfg.LogLevel)
	if err := proctitle.Set("ringwire:%s", cfg.Server.Service); err != nil {
		logging.Debugf("serve: %v", err)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg.Server, server.EchoHandler{IdleTimeout: cfg.IdleTimeout})
	if cfg.AdminAddr != "" {
		adm := admin.New(srv, cfg.CorsOrigins, version, logger)
		go func() {
			if err := adm.Serve(ctx, cfg.AdminAddr); err != nil {
				logging.Errnof(logging.LevelError, err, "serve: admin endpoint stopped")
			}
		}()
	}

	logging.Infof("serve: service=%s family=%s max_conns=%d", cfg.Server.Service, cfg.Server.Family, cfg.Server.MaxConnections)
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	logging.Infof("serve: shut down")
	return nil
}
