package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/toxbot/internal/bridge"
	"github.com/zulandar/toxbot/internal/models"
)

func newBridgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "bridge",
		Aliases: []string{"br"},
		Short:   "Inspect feedback bridges",
	}

	cmd.AddCommand(newBridgeListCmd())
	cmd.AddCommand(newBridgeSweepCmd())
	return cmd
}

func newBridgeListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active feedback bridges",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBridgeList(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runBridgeList(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	gormDB, err := openDB(cfg, false)
	if err != nil {
		return err
	}
	defer closeDB(gormDB)

	now := time.Now().UTC()
	bs, err := bridge.NewGormStore(gormDB).ListActive(cmd.Context(), now)
	if err != nil {
		return err
	}
	if len(bs) == 0 {
		fmt.Fprintln(out, "No active bridges.")
		return nil
	}
	printBridges(cmd, bs, now)
	return nil
}

func printBridges(cmd *cobra.Command, bs []models.FeedbackBridge, now time.Time) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSER\tADMIN\tADMIN MESSAGE\tLAST MESSAGE\tEXPIRES IN")
	for _, b := range bs {
		last := "-"
		if b.LastMessageAt != nil {
			last = b.LastMessageAt.UTC().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			b.ID, b.UserID, b.AdminID, b.AdminEmbedMessageID, last, b.ExpiresAt.Sub(now).Round(time.Minute))
	}
	w.Flush()
}

func newBridgeSweepCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired feedback bridges now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBridgeSweep(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runBridgeSweep(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	gormDB, err := openDB(cfg, false)
	if err != nil {
		return err
	}
	defer closeDB(gormDB)

	n, err := bridge.NewGormStore(gormDB).DeleteExpired(cmd.Context(), time.Now().UTC())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d expired bridges\n", n)
	return nil
}
