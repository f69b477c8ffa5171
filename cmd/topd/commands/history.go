package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/openfroyo/topd/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		env       string
		namespace string
		limit     int
		events    bool
		level     string
		prune     int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded renders and events",
		Long: `Show the renders recorded in the history database, newest first, or the
event log with --events. Renders are recorded by top, report and watch when a
history database is configured.`,
		Example: `  # Last renders of the base state top
  topd history --history-db /var/lib/topd/history.db --env base --namespace state

  # Failures only
  topd history --events --level error

  # Keep the 20 newest renders of base/state
  topd history --env base --namespace state --prune 20`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := historyDB
			if path == "" && configPath != "" {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				path = cfg.HistoryDB
			}
			if path == "" {
				return errors.New("no history database configured (use --history-db or history_db)")
			}

			ctx := cmd.Context()
			store, err := openStore(ctx, path)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			switch {
			case prune > 0:
				if env == "" || namespace == "" {
					return errors.New("--prune needs --env and --namespace")
				}
				deleted, err := store.PruneRenders(ctx, env, namespace, prune)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "pruned %d renders\n", deleted)
				return nil

			case events:
				list, err := store.ListEvents(ctx, stores.EventFilter{Environment: env, Level: level, Limit: limit})
				if err != nil {
					return err
				}
				if jsonOutput {
					return printOutput(out, list)
				}
				for _, e := range list {
					fmt.Fprintf(out, "%s  %-7s %-16s %s\n", e.Timestamp.Format("2006-01-02 15:04:05"), e.Level, e.Type, e.Message)
				}
				return nil

			default:
				list, err := store.ListRenders(ctx, stores.RenderFilter{Environment: env, Namespace: namespace, Limit: limit})
				if err != nil {
					return err
				}
				if jsonOutput {
					return printOutput(out, list)
				}
				printRenders(out, list)
				return nil
			}
		},
	}

	cmd.Flags().StringVarP(&env, "env", "e", "", "only this environment")
	cmd.Flags().StringVar(&namespace, "namespace", "", "only this namespace (state or pillar)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of records")
	cmd.Flags().BoolVar(&events, "events", false, "show the event log instead of renders")
	cmd.Flags().StringVar(&level, "level", "", "only events of this level")
	cmd.Flags().IntVar(&prune, "prune", 0, "delete all but the newest N renders")

	return cmd
}

func printRenders(w io.Writer, renders []*stores.Render) {
	for _, r := range renders {
		fmt.Fprintf(w, "%s  %-6s %-10s %s  %d fragments, %d keys, %s\n",
			r.RenderedAt.Format("2006-01-02 15:04:05"),
			r.Namespace, r.Environment, r.Digest[:min(12, len(r.Digest))],
			r.FragmentCount, r.EntryCount, r.Duration)
	}
}
