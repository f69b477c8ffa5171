package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/topd/pkg/config"
	"github.com/openfroyo/topd/pkg/engine"
	"github.com/openfroyo/topd/pkg/policy"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration, policies and every top",
		Long: `Validate the configuration and the drop-in directories.

This command checks:
  - Configuration values
  - Policy compilation (OPA/rego)
  - Every fragment and base top section of every environment
  - The rendered tops against the output schema (CUE)`,
		Example: `  # Validate with a config file
  topd validate -c /etc/salt/topd.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, false)
			if err != nil {
				return err
			}
			defer s.Close()

			if s.assembler.Schema == nil {
				s.assembler.Schema = config.NewSchemaRegistry()
			}
			out := cmd.OutOrStdout()

			if pe, ok := s.assembler.Policy.(*policy.Engine); ok {
				for _, p := range pe.ListPolicies() {
					fmt.Fprintf(out, "policy %s (%s)\n", p.Name, p.Severity)
				}
			}

			failed := 0
			for _, ns := range engine.Namespaces {
				pillar := ns == engine.NamespacePillar
				envs, err := s.assembler.Environments(s.ctx, pillar)
				if err != nil {
					return err
				}
				for _, env := range envs {
					result, err := s.assembler.Render(s.ctx, env, pillar)
					if err != nil {
						failed++
						fmt.Fprintf(out, "FAIL %s %s: %v\n", ns, env, err)
						continue
					}
					fmt.Fprintf(out, "ok   %s %s: %d fragments\n", ns, env, len(result.Fragments))
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d tops failed validation", failed)
			}
			return nil
		},
	}

	return cmd
}
