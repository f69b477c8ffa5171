package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newEnableCommand() *cobra.Command {
	var (
		env    string
		pillar bool
	)

	cmd := &cobra.Command{
		Use:   "enable <path>...",
		Short: "Link fragment files into the marker directory",
		Long: `Enable fragment files that live under the root by linking them into
<root>/<marker>/<environment>/. The link name is the file's path relative to
the root with separators replaced by dots.`,
		Example: `  # Enable a formula's top fragment in base
  topd enable nginx/nginx.top

  # Enable a pillar fragment in prod
  topd enable --env prod --pillar secrets/db.top`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, false)
			if err != nil {
				return err
			}
			defer s.Close()

			for _, path := range args {
				link, err := s.assembler.Enable(env, pillar, path)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "enabled %s -> %s\n", link, path)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&env, "env", "e", "", "environment (default from config)")
	cmd.Flags().BoolVar(&pillar, "pillar", false, "use the pillar root")

	return cmd
}
