package commands

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lakedeploy/lakedeploy/pkg/app"
	"github.com/lakedeploy/lakedeploy/pkg/build"
	"github.com/lakedeploy/lakedeploy/pkg/config"
	"github.com/lakedeploy/lakedeploy/pkg/database"
	"github.com/lakedeploy/lakedeploy/pkg/dbinit"
	"github.com/lakedeploy/lakedeploy/pkg/deploy"
	"github.com/lakedeploy/lakedeploy/pkg/filesync"
	"github.com/lakedeploy/lakedeploy/pkg/history"
	"github.com/lakedeploy/lakedeploy/pkg/platform"
	"github.com/lakedeploy/lakedeploy/pkg/staging"
	"github.com/lakedeploy/lakedeploy/pkg/telemetry"
)

var (
	syncWorkers   int
	pruneRemote   bool
	withDatabase  bool
	historyDBPath string
	skipHistory   bool
)

func newCreateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create the app and its backing resources",
		Long: `Create builds the package and static bundle, stages and synchronizes the
files to the platform workspace, provisions the database instance, schema
and grants, and creates the app resource. Fails if the app already exists.`,
		Example: `  # Create the app in the staging environment
  lakedeploy create --env staging

  # Show what would be created without touching the platform
  lakedeploy create --env staging --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(cmd, deploy.ActionCreateApp, false)
		},
	}
	registerDeployFlags(cmd)
	return cmd
}

func newUpdateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Converge an existing app to the configured state",
		Long: `Update rebuilds and re-synchronizes the app files and converges the
database and app resources toward the configuration. Unchanged resources
are left alone. Fails if the app does not exist.`,
		Example: `  # Roll out the current sources to production
  lakedeploy update --env production

  # Also remove remote files no longer present locally
  lakedeploy update --env production --prune`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(cmd, deploy.ActionUpdateApp, false)
		},
	}
	registerDeployFlags(cmd)
	return cmd
}

func newDeleteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete the app resource",
		Long: `Delete removes the app resource. The database instance is kept unless
--with-database is given. Workspace files are never removed by delete.`,
		Example: `  # Remove the app but keep its database
  lakedeploy delete --env staging

  # Remove the app and its database instance
  lakedeploy delete --env staging --with-database`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(cmd, deploy.ActionDeleteApp, withDatabase)
		},
	}
	cmd.Flags().BoolVar(&withDatabase, "with-database", false, "Also delete the database instance")
	cmd.Flags().StringVar(&historyDBPath, "history-db", history.DefaultPath(), "Path to the local run history database")
	cmd.Flags().BoolVar(&skipHistory, "no-history", false, "Do not record this run in the local history")
	return cmd
}

func registerDeployFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&syncWorkers, "workers", filesync.DefaultWorkers, "Number of concurrent upload workers")
	cmd.Flags().BoolVar(&pruneRemote, "prune", false, "Delete remote files not present in the staging tree")
	cmd.Flags().StringVar(&historyDBPath, "history-db", history.DefaultPath(), "Path to the local run history database")
	cmd.Flags().BoolVar(&skipHistory, "no-history", false, "Do not record this run in the local history")
}

// runDeploy wires the reconcilers together and executes one orchestrator run.
func runDeploy(cmd *cobra.Command, action string, deleteDatabase bool) error {
	ctx := cmd.Context()

	if envName == "" {
		return fmt.Errorf("--env is required")
	}

	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	profile, err := platform.LoadProfile(profilePath, profileName)
	if err != nil {
		return fmt.Errorf("failed to load platform profile %q: %w", profileName, err)
	}
	client := platform.NewRestClient(profile, logger.NewComponentLogger("platform"))

	username, err := client.CurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve platform identity: %w", err)
	}

	configStart := time.Now()
	state, err := config.Load(configPath, envName, config.Identity{Username: username})
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	configDuration := time.Since(configStart)

	poll := deploy.PollConfig{
		Interval: state.Deployment.PollInterval(),
		Deadline: state.Deployment.Timeout(),
	}

	orch := &deploy.Orchestrator{
		Builder:   build.NewBuilder(projectRoot, state.Build, logger.NewComponentLogger("build")),
		Assembler: staging.NewAssembler(projectRoot, state.Build.ExcludePatterns, logger.NewComponentLogger("staging")),
		Sync: filesync.NewSynchronizer(client, state.WorkspacePath, filesync.Options{
			Workers: syncWorkers,
			Prune:   pruneRemote,
		}, logger.NewComponentLogger("sync")),
		Database: database.NewProvisioner(client, state.Database,
			database.GrantsFor(state.Permissions), poll, logger.NewComponentLogger("database")),
		App: app.NewReconciler(client, state, poll, logger.NewComponentLogger("app")),
		Log: logger.NewComponentLogger("orchestrator"),
	}
	if state.Database.BootstrapTables {
		orch.Bootstrap = dbinit.NewBootstrapper(client, state.Database, logger.NewComponentLogger("dbinit"))
	}

	if !skipHistory {
		store, err := history.Open(ctx, historyDBPath)
		if err != nil {
			logger.WithError(err).Warn("run history unavailable")
		} else {
			defer store.Close()
			orch.History = store
		}
	}

	report := orch.Run(ctx, deploy.Options{
		RunID:          uuid.New().String(),
		Environment:    state.Environment,
		AppName:        state.AppName,
		Action:         action,
		DryRun:         dryRun,
		DeleteDatabase: deleteDatabase,
		ConfigDuration: configDuration,
	})

	renderReport(cmd.OutOrStdout(), report)

	if !report.Succeeded() {
		return fmt.Errorf("deployment failed: %w", report.FirstError())
	}
	return nil
}

func newLogger() (*telemetry.Logger, error) {
	level := "info"
	if verbose {
		level = "debug"
	}
	return telemetry.NewLogger(telemetry.LoggingConfig{
		Level:  level,
		Format: "console",
		Output: "stderr",
	})
}
