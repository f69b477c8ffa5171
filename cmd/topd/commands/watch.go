package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/topd/pkg/policy"
	"github.com/openfroyo/topd/pkg/topd"
)

func newWatchCommand() *cobra.Command {
	var (
		envs     []string
		debounce time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-render tops whenever fragments change",
		Long: `Watch both roots and their marker directories, and re-render the state and
pillar tops of the given environments after every settled change. Each render
is a full rescan.

Policy files are reloaded when they change.`,
		Example: `  # Watch the default environment and serve metrics
  topd watch --metrics-addr :9273

  # Watch base and prod
  topd watch --env base --env prod`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, true)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.tel.StartMetricsServer(s.ctx); err != nil {
				return err
			}
			if pe, ok := s.assembler.Policy.(*policy.Engine); ok {
				if err := pe.Watch(s.ctx); err != nil {
					return err
				}
			}

			var targets []topd.Target
			for _, env := range envs {
				targets = append(targets,
					topd.Target{Environment: env},
					topd.Target{Environment: env, Pillar: true},
				)
			}

			out := cmd.OutOrStdout()
			w := topd.NewWatcher(s.assembler, targets, topd.WithDebounce(debounce))
			s.logger.Info().Strs("environments", envs).Msg("Watching for changes")
			return w.Run(s.ctx, func(t topd.Target, result *topd.Result, err error) {
				if err != nil {
					fmt.Fprintf(out, "%s %s: error: %v\n", namespaceOf(t), s.cfg.Environment(t.Environment), err)
					return
				}
				fmt.Fprintf(out, "%s %s: %d fragments, %d match keys, digest %s\n",
					result.Namespace, result.Environment, len(result.Fragments), result.Merged.Len(), result.Digest[:12])
			})
		},
	}

	cmd.Flags().StringSliceVarP(&envs, "env", "e", nil, "environments to watch (default from config)")
	cmd.Flags().DurationVar(&debounce, "debounce", topd.DefaultDebounce, "wait for changes to settle")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	return cmd
}

func namespaceOf(t topd.Target) string {
	if t.Pillar {
		return "pillar"
	}
	return "state"
}
