package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/toxbot/internal/config"
	"github.com/zulandar/toxbot/internal/sentiment"
)

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Run sentiment batch jobs",
	}

	cmd.AddCommand(newStatsSummarizeCmd())
	cmd.AddCommand(newStatsPurgeCmd())
	return cmd
}

func newStatsSummarizeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "summarize",
		Short: "Fold unsummarized messages into user scores",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatsSummarize(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runStatsSummarize(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	gormDB, err := openDB(cfg, false)
	if err != nil {
		return err
	}
	defer closeDB(gormDB)

	res, err := sentiment.Summarize(cmd.Context(), gormDB, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Summarized %d messages for %d users\n", res.Messages, res.Users)
	return nil
}

func newStatsPurgeCmd() *cobra.Command {
	var (
		configPath string
		olderThan  string
	)

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete classified messages older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatsPurge(cmd, configPath, olderThan)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&olderThan, "older-than", "", "override sentiment.retention (e.g. 30d, 72h)")
	return cmd
}

func runStatsPurge(cmd *cobra.Command, configPath, olderThan string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	retention := cfg.Sentiment.Retention
	if olderThan != "" {
		if retention, err = config.ParseDuration(olderThan); err != nil {
			return fmt.Errorf("--older-than: %w", err)
		}
	}

	gormDB, err := openDB(cfg, false)
	if err != nil {
		return err
	}
	defer closeDB(gormDB)

	n, err := sentiment.Purge(cmd.Context(), gormDB, time.Now(), retention.Std())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Purged %d messages older than %s\n", n, retention.Std())
	return nil
}
