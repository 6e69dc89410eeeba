package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lakedeploy/lakedeploy/pkg/config"
	"github.com/lakedeploy/lakedeploy/pkg/platform"
)

func newValidateCommand() *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the deployment configuration",
		Long: `Validate loads the configuration for the target environment, resolves
defaults and placeholders, and prints the resulting desired state. Nothing
is deployed. With --offline the platform is not contacted and {username}
placeholders resolve against a synthetic identity.`,
		Example: `  # Check the production section of deploy.yaml
  lakedeploy validate --env production

  # Validate without platform credentials
  lakedeploy validate --env production --offline`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if envName == "" {
				return fmt.Errorf("--env is required")
			}

			identity := config.Identity{}
			if offline {
				identity.Username = "offline"
			} else {
				logger, err := newLogger()
				if err != nil {
					return err
				}
				profile, err := platform.LoadProfile(profilePath, profileName)
				if err != nil {
					return fmt.Errorf("failed to load platform profile %q: %w", profileName, err)
				}
				client := platform.NewRestClient(profile, logger.NewComponentLogger("platform"))
				username, err := client.CurrentUser(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to resolve platform identity: %w", err)
				}
				identity.Username = username
			}

			state, err := config.Load(configPath, envName, identity)
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			out, err := json.MarshalIndent(state, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration valid for environment %q:\n\n%s\n", envName, out)
			return nil
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Validate without contacting the platform")
	return cmd
}
