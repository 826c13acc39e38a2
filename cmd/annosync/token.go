package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zeusync/annosync/internal/signal"
)

func newTokenCmd(opts *options) *cobra.Command {
	var (
		secret string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a room token for a signaling server started with a secret",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("secret") {
				secret = opts.cfg.Signal.Secret
			}
			if secret == "" {
				return errors.New("no secret: use --secret or ANNOSYNC_SIGNAL_SECRET")
			}
			token, err := signal.RoomToken(secret, opts.cfg.Room, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret of the signaling server")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime, 0 for no expiry")
	return cmd
}
