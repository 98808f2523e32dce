package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/zulandar/toxbot/internal/config"
	"github.com/zulandar/toxbot/internal/db"
	"github.com/zulandar/toxbot/internal/logging"
	"gorm.io/gorm"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

const defaultConfigPath = "toxbot.yaml"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "toxbot",
		Short: "Toxbot — chat toxicity tracking and private feedback",
		Long: "Toxbot classifies guild chat through a language model, keeps per-user " +
			"toxicity and alignment stats, and relays private feedback between users and admins.",
		SilenceUsage: true,
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newStartCmd())
	cmd.AddCommand(newDBCmd())
	cmd.AddCommand(newBridgeCmd())
	cmd.AddCommand(newStatsCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "toxbot %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func addConfigFlag(cmd *cobra.Command, path *string) {
	cmd.Flags().StringVarP(path, "config", "c", defaultConfigPath, "path to toxbot config file")
}

// loadConfig reads the config file and initialises logging from it.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logging.Init(cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}

// openDB connects to the configured database, creating the MySQL database
// and migrating tables when migrate is set.
func openDB(cfg *config.Config, migrate bool) (*gorm.DB, error) {
	if migrate {
		if err := db.EnsureDatabase(cfg.Database); err != nil {
			return nil, err
		}
	}
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := db.AutoMigrate(gormDB); err != nil {
			return nil, err
		}
	}
	return gormDB, nil
}

func closeDB(gormDB *gorm.DB) {
	if sqlDB, err := gormDB.DB(); err == nil {
		sqlDB.Close()
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
