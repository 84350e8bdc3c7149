package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/csaude/comvida/internal/config"
	"github.com/csaude/comvida/internal/offline"
)

func syncCmd() *cobra.Command {
	var purge bool
	cmd := &cobra.Command{
		Use:   "sync <resource>...",
		Short: "Copy remote collections into the offline store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := newClientEnv(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			st, err := offline.Open(ctx, env.cfg.OfflineDBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			for _, resource := range args {
				n, err := offline.Sync[json.RawMessage](ctx, collection(env.client, resource), st, resource, env.cfg.PageSize, purge, env.logger)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "synced %d %s into %s\n", n, resource, st.Path())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&purge, "purge", false, "drop local records of the resource before syncing")
	return cmd
}

func offlineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "offline",
		Short: "Read the offline store",
	}

	var limit, offset int
	listCmd := &cobra.Command{
		Use:   "list <resource>",
		Short: "List stored records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOffline(cmd, func(st *offline.Store) error {
				recs, total, err := st.List(cmd.Context(), args[0], limit, offset)
				if err != nil {
					return err
				}
				printOffline(cmd, recs)
				fmt.Fprintf(cmd.OutOrStdout(), "%d of %d stored\n", len(recs), total)
				return nil
			})
		},
	}
	listCmd.Flags().IntVar(&limit, "limit", 50, "maximum records to print")
	listCmd.Flags().IntVar(&offset, "offset", 0, "records to skip")
	cmd.AddCommand(listCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "search <resource> <term>",
		Short: "Search stored records by name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOffline(cmd, func(st *offline.Store) error {
				recs, err := st.Search(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				printOffline(cmd, recs)
				return nil
			})
		},
	})

	return cmd
}

func withOffline(cmd *cobra.Command, fn func(*offline.Store) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	st, err := offline.Open(cmd.Context(), cfg.OfflineDBPath)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}

func printOffline(cmd *cobra.Command, recs []offline.Record) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%-36s %-30s %s\n", "UUID", "NAME", "SYNCED AT")
	for _, r := range recs {
		fmt.Fprintf(w, "%-36s %-30s %s\n", r.UUID, r.Name, r.SyncedAt.Format("2006-01-02 15:04:05"))
	}
}
