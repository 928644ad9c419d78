package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/CK6170/Intellispec-go/internal/metrics"
	"github.com/CK6170/Intellispec-go/internal/server"
)

func NewServeCommand(a *app) *cobra.Command {
	var (
		addr    string
		webDir  string
		port    string
		open    bool
		connect bool
	)

	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Serve the HTTP API, event stream and web UI",
		GroupID: gAcquisition,
		Long: `Serve the HTTP API, the WebSocket event stream (/ws/acquisition), Prometheus
metrics (/metrics) and, when a web directory is configured, the web UI.

Set INTELLISPEC_NO_OPEN=1 to keep --open from launching a browser.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			defer func() { _ = a.logger.Sync() }()

			cfg := a.cfg
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("web") {
				cfg.Server.WebDir = webDir
			}
			if cmd.Flags().Changed("open") {
				cfg.Server.OpenBrowser = open
			}
			if port != "" {
				cfg.Serial.PORT = port
			}

			if cfg.Server.WebDir != "" {
				dir, err := server.ResolveWebDir(cfg.Server.WebDir)
				if err != nil {
					return err
				}
				cfg.Server.WebDir = dir
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			m := metrics.New()
			ctrl := a.newController(m)
			ctrlDone := make(chan error, 1)
			go func() { ctrlDone <- ctrl.Run(ctx) }()

			srv := server.New(server.Options{
				Controller: ctrl,
				Serial:     cfg.Serial,
				Logger:     a.logger.Named("http"),
				Metrics:    m,
				WebDir:     cfg.Server.WebDir,
				PortCache:  cfg.Server.PortCache,
			})

			// Bind early so a busy port fails fast.
			ln, err := net.Listen("tcp", cfg.Server.Addr)
			if err != nil {
				cancel()
				<-ctrlDone
				return errors.Wrapf(err, "failed to listen on %s", cfg.Server.Addr)
			}

			uiURL := makeUIURL(cfg.Server.Addr)
			a.logger.Info("Serving", zap.String("address", cfg.Server.Addr), zap.String("ui", uiURL))

			if connect {
				if err := ctrl.Connect(ctx, cfg.Serial.PORT); err != nil {
					a.logger.Warn("Initial connect failed", zap.String("port", cfg.Serial.PORT), zap.Error(err))
				}
			}

			if cfg.Server.OpenBrowser && cfg.Server.WebDir != "" && os.Getenv("INTELLISPEC_NO_OPEN") == "" {
				if err := openBrowser(uiURL); err != nil {
					a.logger.Warn("Failed to open browser", zap.Error(err))
				}
			}

			err = srv.Serve(ctx, ln, cfg.Server.ShutdownTimeout)
			cancel()
			<-ctrlDone
			if err != nil {
				return fmt.Errorf("http server: %w", err)
			}
			a.logger.Info("Stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "http listen address (default server.addr)")
	cmd.Flags().StringVar(&webDir, "web", "", "path to web root containing index.html (default server.web_dir)")
	cmd.Flags().StringVarP(&port, "port", "p", "", "serial port (default serial.port)")
	cmd.Flags().BoolVar(&open, "open", false, "open the web UI in the default browser on startup")
	cmd.Flags().BoolVar(&connect, "connect", false, "connect to the serial port on startup")

	return cmd
}
