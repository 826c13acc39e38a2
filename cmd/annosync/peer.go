package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/annosync/internal/config"
	"github.com/zeusync/annosync/internal/core/observability/log"
	"github.com/zeusync/annosync/internal/core/reconcile"
	"github.com/zeusync/annosync/internal/core/view"
	"github.com/zeusync/annosync/internal/injector"
	"github.com/zeusync/annosync/internal/session"
)

// peerFlags are shared by the commands that join a room.
type peerFlags struct {
	transport string
	url       string
	token     string
	redis     string
	store     string
	author    string
}

func (f *peerFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.transport, "transport", "", "none, websocket or redis")
	cmd.Flags().StringVar(&f.url, "url", "", "signaling endpoint, e.g. ws://localhost:4444/ws")
	cmd.Flags().StringVar(&f.token, "token", "", "room token for the signaling server")
	cmd.Flags().StringVar(&f.redis, "redis", "", "redis address for the redis transport")
	cmd.Flags().StringVar(&f.store, "store", "", "sqlite file of the durable log")
	cmd.Flags().StringVar(&f.author, "author", "", "creator name stamped on new annotations")
}

func (f *peerFlags) apply(cmd *cobra.Command, cfg config.Config) (config.Config, error) {
	set := func(name string, dst *string, v string) {
		if cmd.Flags().Changed(name) {
			*dst = v
		}
	}
	set("transport", &cfg.Transport.Kind, f.transport)
	set("url", &cfg.Transport.URL, f.url)
	set("token", &cfg.Transport.Token, f.token)
	set("redis", &cfg.Transport.RedisAddr, f.redis)
	set("store", &cfg.Storage.Path, f.store)
	set("author", &cfg.Author, f.author)
	return cfg, cfg.Validate()
}

func newPeerCmd(opts *options) *cobra.Command {
	var (
		flags    peerFlags
		seedPath string
		export   string
		duration time.Duration
		every    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "peer",
		Short: "Run a headless peer with an in-memory surface",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.apply(cmd, opts.cfg)
			if err != nil {
				return err
			}
			var sessionOpts []session.Option
			if seedPath != "" {
				seed, err := readSnapshot(seedPath)
				if err != nil {
					return err
				}
				sessionOpts = append(sessionOpts, session.WithSeed(seed))
			}

			ctx, stop := ossignal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			sessionOpts = append(sessionOpts, session.WithReportHandler(reportLogger(cfg)))
			peer, cleanup := injector.InitializePeer(cfg, sessionOpts)
			defer cleanup()
			if err := peer.Session.Start(ctx); err != nil {
				return err
			}

			group, ctx := errgroup.WithContext(ctx)
			group.Go(func() error {
				<-ctx.Done()
				return nil
			})
			if every > 0 {
				group.Go(func() error {
					ticker := time.NewTicker(every)
					defer ticker.Stop()
					for {
						select {
						case <-ctx.Done():
							return nil
						case <-ticker.C:
							logStats(peer.Logger, peer.Session.Stats())
						}
					}
				})
			}
			if err := group.Wait(); err != nil {
				return err
			}

			logStats(peer.Logger, peer.Session.Stats())
			if export != "" {
				return writeSnapshot(export, peer.Session.Snapshot())
			}
			return nil
		},
	}
	flags.bind(cmd)
	cmd.Flags().StringVar(&seedPath, "seed", "", "JSON snapshot written into an empty document")
	cmd.Flags().StringVar(&export, "export", "", "write the final snapshot as JSON to this file")
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long, 0 runs until interrupted")
	cmd.Flags().DurationVar(&every, "stats", time.Minute, "log counters at this interval, 0 disables")
	return cmd
}

func reportLogger(cfg config.Config) func(reconcile.Report) {
	logger := injector.ProvideLogger(cfg).With(log.Component("report"))
	return func(r reconcile.Report) {
		fields := []log.Field{
			log.String("collection", string(r.Collection)),
			log.String("direction", string(r.Direction)),
			log.Int("applied", r.Applied),
			log.Int("skipped", r.Skipped),
			log.Int("failed", r.Failed),
		}
		if r.Err != nil {
			logger.Warn("batch partially failed", append(fields, log.Error(r.Err))...)
			return
		}
		logger.Debug("batch", fields...)
	}
}

func logStats(logger log.Log, stats reconcile.Stats) {
	total := stats.Total()
	logger.Info("counters",
		log.Uint64("inbound", total.Inbound),
		log.Uint64("outbound", total.Outbound),
		log.Uint64("echoes", total.Echoes),
		log.Uint64("skipped", total.Skipped),
		log.Uint64("failures", total.Failures))
}

func readSnapshot(path string) (view.Snapshot, error) {
	var snap view.Snapshot
	data, err := os.ReadFile(path)
	if err != nil {
		return snap, err
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("%s: %w", path, err)
	}
	return snap, nil
}

func writeSnapshot(path string, snap view.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
