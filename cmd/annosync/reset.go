package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zeusync/annosync/internal/injector"
)

func newResetCmd(opts *options) *cobra.Command {
	var (
		flags  peerFlags
		linger time.Duration
	)
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Join a room and remove every annotation, comment, bookmark and form field",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.apply(cmd, opts.cfg)
			if err != nil {
				return err
			}
			peer, cleanup := injector.InitializePeer(cfg, nil)
			defer cleanup()

			ctx := cmd.Context()
			if err := peer.Session.Start(ctx); err != nil {
				return err
			}
			if err := peer.Session.Reset(ctx); err != nil {
				return err
			}
			// give the transport time to publish before closing
			if !peer.Session.Local() {
				time.Sleep(linger)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "room %s reset\n", cfg.Room)
			return err
		},
	}
	flags.bind(cmd)
	cmd.Flags().DurationVar(&linger, "linger", time.Second, "time left to peers before disconnecting")
	return cmd
}
