package main

import (
	"github.com/spf13/cobra"

	"github.com/zeusync/annosync/internal/config"
)

type options struct {
	configPath string
	envFiles   []string
	room       string
	logLevel   string

	cfg config.Config
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "annosync",
		Short: "annotation sync peers and signaling relay",
		Example: `annosync signal --addr :4444 --secret s3cret
annosync token --secret s3cret --room contract-42
annosync peer --room contract-42 --transport websocket --url ws://localhost:4444/ws --store peer.db
annosync reset --room contract-42 --store peer.db
annosync inspect --store peer.db`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	flags.StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, ".env files to load when present")
	flags.StringVarP(&opts.room, "room", "r", "", "room (document) name")
	flags.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")

	root.AddCommand(
		newSignalCmd(opts),
		newPeerCmd(opts),
		newResetCmd(opts),
		newInspectCmd(opts),
		newTokenCmd(opts),
	)
	root.SetHelpCommand(&cobra.Command{Use: "no-help", Hidden: true})
	root.CompletionOptions.HiddenDefaultCmd = true
	return root
}

// load reads the configuration; flags given on the command line win.
func (o *options) load(cmd *cobra.Command) error {
	cfg, err := config.Load(o.configPath, o.envFiles...)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("room") {
		cfg.Room = o.room
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	o.cfg = cfg
	return cfg.Validate()
}
