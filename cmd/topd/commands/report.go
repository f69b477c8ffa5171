package commands

import (
	"github.com/spf13/cobra"
)

func newReportCommand() *cobra.Command {
	var pillar bool

	cmd := &cobra.Command{
		Use:   "report [environment]",
		Short: "Render the merged top with provenance",
		Long: `Render the merged top and show, for every match key, which source file
contributed which targets.`,
		Example: `  # Where did the base state targets come from?
  topd report base --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, true)
			if err != nil {
				return err
			}
			defer s.Close()

			env := ""
			if len(args) > 0 {
				env = args[0]
			}
			report, err := s.assembler.Report(s.ctx, env, pillar)
			if err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().BoolVar(&pillar, "pillar", false, "use the pillar root")

	return cmd
}
