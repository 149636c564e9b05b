package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"personal/discord_gateway/src/config"
	"personal/discord_gateway/src/identifylock"
)

func lockdCmd(debug *bool) *cobra.Command {
	var (
		natsURL  string
		prefix   string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "lockd",
		Short: "Serve identify locks over NATS",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := config.NewLogger(logLevel, *debug)
			if err != nil {
				return err
			}
			defer log.Sync()

			nc, err := nats.Connect(natsURL, nats.Name("identify-lockd"))
			if err != nil {
				return fmt.Errorf("could not connect to nats: %w", err)
			}
			defer nc.Close()

			stopServing, err := identifylock.NewServer(prefix, log).Serve(nc)
			if err != nil {
				return err
			}
			log.Info("serving identify locks", zap.String("nats", natsURL), zap.String("prefix", prefix))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()

			return stopServing()
		},
	}

	cmd.Flags().StringVar(&natsURL, "nats", nats.DefaultURL, "NATS server URL")
	cmd.Flags().StringVar(&prefix, "prefix", identifylock.DefaultPrefix, "Subject prefix for lock requests")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")
	return cmd
}
