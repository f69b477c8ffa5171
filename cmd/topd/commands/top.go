package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/topd/pkg/engine"
)

func newTopCommand() *cobra.Command {
	var (
		pillar bool
		all    bool
	)

	cmd := &cobra.Command{
		Use:   "top [environment]",
		Short: "Render the merged top",
		Long: `Render the merged top for one environment, or for every environment that
has a base top section or a fragment.

The render:
  - Reads the environment's section of the base top file
  - Scans <root>/<marker>/ for fragment files in lexicographic order
  - Checks every fragment against the configured policies
  - Merges targets per match key, first seen first`,
		Example: `  # Render the state top for the default environment
  topd top

  # Render the pillar top for dev as JSON
  topd top dev --pillar --json

  # Render every environment
  topd top --all`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, true)
			if err != nil {
				return err
			}
			defer s.Close()

			var envs []string
			switch {
			case all:
				if envs, err = s.assembler.Environments(s.ctx, pillar); err != nil {
					return err
				}
			case len(args) > 0:
				envs = []string{args[0]}
			default:
				envs = []string{""}
			}

			top := engine.Top{}
			for _, env := range envs {
				result, err := s.assembler.Render(s.ctx, env, pillar)
				if err != nil {
					return err
				}
				log.Debug().
					Str("environment", result.Environment).
					Int("fragments", len(result.Fragments)).
					Str("digest", result.Digest).
					Msg("Rendered top")
				top[result.Environment] = result.Merged
			}

			return printOutput(cmd.OutOrStdout(), top)
		},
	}

	cmd.Flags().BoolVar(&pillar, "pillar", false, "render the pillar top instead of the state top")
	cmd.Flags().BoolVar(&all, "all", false, "render every known environment")

	return cmd
}
