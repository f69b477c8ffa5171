package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/openfroyo/topd/pkg/topd"
)

func newStatusCommand() *cobra.Command {
	var pillar bool

	cmd := &cobra.Command{
		Use:   "status [environment]",
		Short: "List enabled and disabled fragments",
		Long: `List the fragments enabled for an environment and the candidate fragment
files under the root that are not linked into the marker directory.`,
		Example: `  # Status of the default environment
  topd status

  # Pillar fragments of prod
  topd status prod --pillar`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, false)
			if err != nil {
				return err
			}
			defer s.Close()

			env := ""
			if len(args) > 0 {
				env = args[0]
			}
			status, err := s.assembler.Status(s.ctx, env, pillar)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printOutput(cmd.OutOrStdout(), status)
			}
			printStatus(cmd.OutOrStdout(), status)
			return nil
		},
	}

	cmd.Flags().BoolVar(&pillar, "pillar", false, "use the pillar root")

	return cmd
}

func printStatus(w io.Writer, status *topd.Status) {
	fmt.Fprintf(w, "%s top, environment %s\n", status.Namespace, status.Environment)
	fmt.Fprintf(w, "Enabled (%d):\n", len(status.Enabled))
	for _, f := range status.Enabled {
		if f.Link != "" {
			fmt.Fprintf(w, "  %s -> %s\n", f.Name, f.Link)
		} else {
			fmt.Fprintf(w, "  %s\n", f.Name)
		}
	}
	fmt.Fprintf(w, "Disabled (%d):\n", len(status.Disabled))
	for _, f := range status.Disabled {
		fmt.Fprintf(w, "  %s\n", f.Name)
	}
}
