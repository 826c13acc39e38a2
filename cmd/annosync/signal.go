package main

import (
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zeusync/annosync/internal/injector"
)

func newSignalCmd(opts *options) *cobra.Command {
	var (
		addr   string
		secret string
		ping   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "signal",
		Short: "Run the signaling relay",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := opts.cfg
			if cmd.Flags().Changed("addr") {
				cfg.Signal.Addr = addr
			}
			if cmd.Flags().Changed("secret") {
				cfg.Signal.Secret = secret
			}
			if cmd.Flags().Changed("ping") {
				cfg.Signal.PingInterval = ping
			}
			ctx, stop := ossignal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return injector.InitializeSignalServer(cfg).ListenAndServe(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":4444", "listen address")
	cmd.Flags().StringVar(&secret, "secret", "", "require room tokens signed with this secret")
	cmd.Flags().DurationVar(&ping, "ping", 30*time.Second, "keepalive interval")
	return cmd
}
