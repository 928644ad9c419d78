package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/CK6170/Intellispec-go/internal/metrics"
	"github.com/CK6170/Intellispec-go/ui"
)

func NewConsoleCommand(a *app) *cobra.Command {
	var (
		port    string
		logFile string
	)

	cmd := &cobra.Command{
		Use:     "console",
		Short:   "Operate the photometer from the terminal",
		GroupID: gAcquisition,
		Long: `Operate the photometer from the terminal with single keys:

  C  calibrate (record the blank voltage)
  M  measure
  D  disconnect
  R  reconnect
  H  help
  ESC / Q  quit

Logs go to --log-file so they do not tear the live readout.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setup(logFile); err != nil {
				return err
			}
			defer func() { _ = a.logger.Sync() }()
			if port != "" {
				a.cfg.Serial.PORT = port
			}

			keys, err := ui.StartKeyEvents()
			if err != nil {
				return errors.Wrap(err, "keyboard unavailable")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			ctrl := a.newController(metrics.New())
			ctrlDone := make(chan error, 1)
			go func() { ctrlDone <- ctrl.Run(ctx) }()

			out := cmd.OutOrStdout()
			ui.ClearScreen(out)
			if a.cfg.Serial.PORT != "" {
				ui.Greenf(out, "Connecting to %s...\n", a.cfg.Serial.PORT)
				if err := ctrl.Connect(ctx, ""); err != nil {
					ui.Warningf(out, "%v\nPress 'R' to retry.\n", err)
				}
			} else {
				ui.Warningf(out, "No serial port configured; set serial.port or pass --port.\n")
			}

			// Keys pressed while connecting must not trigger an action.
			ui.DrainKeys(keys)
			console := ui.NewConsole(ctrl, keys, out, a.logger.Named("console"), a.cfg.Acquisition.StatusInterval)
			err = console.Run(ctx)
			cancel()
			<-ctrlDone
			a.logger.Info("Console closed", zap.Error(err))
			return err
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "serial port (default serial.port)")
	cmd.Flags().StringVar(&logFile, "log-file", "intellispec.log", "log file")

	return cmd
}
