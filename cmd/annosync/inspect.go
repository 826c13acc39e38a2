package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zeusync/annosync/internal/core/reconcile"
	"github.com/zeusync/annosync/internal/core/record"
	"github.com/zeusync/annosync/internal/core/replica"
	"github.com/zeusync/annosync/internal/storage"
	"github.com/zeusync/annosync/pkg/concurrent"
)

type roomSummary struct {
	room    string
	stats   storage.Statistics
	counts  map[record.Collection]int
	pending int
}

func newInspectCmd(opts *options) *cobra.Command {
	var (
		path    string
		compact bool
		dump    bool
	)
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Summarize the rooms of a durable log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if path == "" {
				path = opts.cfg.Storage.Path
			}
			if path == "" {
				return errors.New("no store: use --store or storage.path")
			}
			store, err := storage.Open(path, opts.cfg.Storage.Codec, nil)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			rooms := []string{opts.cfg.Room}
			if !cmd.Flags().Changed("room") {
				if rooms, err = store.Rooms(ctx); err != nil {
					return err
				}
			}
			if compact {
				for _, room := range rooms {
					if err := store.Compact(ctx, room); err != nil {
						return fmt.Errorf("compact %s: %w", room, err)
					}
				}
			}

			if dump {
				if len(rooms) != 1 {
					return errors.New("--dump needs --room")
				}
				doc, err := replay(ctx, store, rooms[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(reconcile.Export(doc))
			}

			summaries := make([]roomSummary, len(rooms))
			indexes := make([]int, len(rooms))
			for i := range indexes {
				indexes[i] = i
			}
			err = concurrent.Limited(ctx, indexes, 4, func(ctx context.Context, i int) error {
				s, err := summarize(ctx, store, rooms[i])
				summaries[i] = s
				return err
			})
			if err != nil {
				return err
			}
			return printSummaries(cmd, summaries)
		},
	}
	cmd.Flags().StringVar(&path, "store", "", "sqlite file of the durable log")
	cmd.Flags().BoolVar(&compact, "compact", false, "compact the rooms first")
	cmd.Flags().BoolVar(&dump, "dump", false, "print the snapshot of --room as JSON")
	return cmd
}

func replay(ctx context.Context, store storage.Store, room string) (*replica.Doc, error) {
	updates, err := store.Load(ctx, room)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", room, err)
	}
	doc := replica.NewWithClient("inspect")
	if err := doc.ApplyUpdate(replica.Merge(updates...), replica.Durable); err != nil {
		return nil, fmt.Errorf("replay %s: %w", room, err)
	}
	return doc, nil
}

func summarize(ctx context.Context, store storage.Store, room string) (roomSummary, error) {
	s := roomSummary{room: room, counts: make(map[record.Collection]int)}
	stats, err := store.Statistics(ctx, room)
	if err != nil {
		return s, err
	}
	s.stats = stats
	doc, err := replay(ctx, store, room)
	if err != nil {
		return s, err
	}
	defer doc.Destroy()
	for _, c := range record.All {
		if c.IsMap() {
			s.counts[c] = doc.Map(string(c)).Len()
		} else {
			s.counts[c] = doc.Array(string(c)).Len()
		}
	}
	s.pending = doc.Pending()
	return s, nil
}

func printSummaries(cmd *cobra.Command, summaries []roomSummary) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprint(w, "ROOM\tUPDATES\tLOG BYTES\tSNAPSHOT BYTES")
	for _, c := range record.All {
		fmt.Fprintf(w, "\t%s", c)
	}
	fmt.Fprintln(w, "\tPENDING")
	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d", s.room, s.stats.Updates, s.stats.UpdateBytes, s.stats.SnapshotBytes)
		for _, c := range record.All {
			fmt.Fprintf(w, "\t%d", s.counts[c])
		}
		fmt.Fprintf(w, "\t%d\n", s.pending)
	}
	return w.Flush()
}
