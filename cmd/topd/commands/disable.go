package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDisableCommand() *cobra.Command {
	var (
		env    string
		pillar bool
	)

	cmd := &cobra.Command{
		Use:   "disable <name>...",
		Short: "Remove fragment links from the marker directory",
		Long: `Disable fragments by removing their links from the marker directory.
Regular fragment files are never removed.`,
		Example: `  # Disable by the original path
  topd disable nginx/nginx.top

  # Disable by link name
  topd disable --env prod nginx.nginx.top`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, false)
			if err != nil {
				return err
			}
			defer s.Close()

			for _, name := range args {
				link, err := s.assembler.Disable(env, pillar, name)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "disabled %s\n", link)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&env, "env", "e", "", "environment (default from config)")
	cmd.Flags().BoolVar(&pillar, "pillar", false, "use the pillar root")

	return cmd
}
