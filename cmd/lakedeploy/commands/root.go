package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lakedeploy/lakedeploy/pkg/platform"
)

var (
	configPath  string
	envName     string
	profilePath string
	profileName string
	projectRoot string
	dryRun      bool
	verbose     bool
)

// Execute runs the root command with the given context and version info.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lakedeploy",
		Short: "Deploy applications to the lakehouse apps platform",
		Long: `lakedeploy packages an application, stages its files, synchronizes them
to the platform workspace, provisions the backing database and deploys the
app resource, all driven by a single deploy.yaml.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "deploy.yaml", "Path to the deployment configuration file")
	cmd.PersistentFlags().StringVarP(&envName, "env", "e", "", "Target environment name (required)")
	cmd.PersistentFlags().StringVar(&profilePath, "profiles", platform.DefaultProfilesPath(), "Path to the platform profiles file")
	cmd.PersistentFlags().StringVarP(&profileName, "profile", "p", "default", "Platform profile to use")
	cmd.PersistentFlags().StringVar(&projectRoot, "project-root", ".", "Project root containing the application sources")
	cmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Plan all phases without mutating the platform")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(newCreateCommand())
	cmd.AddCommand(newUpdateCommand())
	cmd.AddCommand(newDeleteCommand())
	cmd.AddCommand(newValidateCommand())
	cmd.AddCommand(newHistoryCommand())

	return cmd
}
