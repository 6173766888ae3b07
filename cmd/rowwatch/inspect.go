package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	recentCmd.Flags().Int("limit", 50, "number of rows to show")
	rootCmd.AddCommand(probeCmd, recentCmd, watermarkCmd)
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 30*time.Second)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check that the store is reachable and the table readable",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		gw, err := newGateway(cfg, newLogger(cfg))
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		if err := gw.Verify(ctx, cfg.Store.Table); err != nil {
			return fmt.Errorf("probe failed: %w", err)
		}
		fmt.Printf("OK: %s table %s is reachable\n", gw.Driver(), cfg.Store.Table)
		return nil
	},
}

var watermarkCmd = &cobra.Command{
	Use:   "watermark",
	Short: "Print the current most recent row",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		gw, err := newGateway(cfg, newLogger(cfg))
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		rec, err := gw.FetchWatermark(ctx, cfg.Store.Table)
		if err != nil {
			return err
		}
		if rec == nil {
			fmt.Println("table is empty")
			return nil
		}
		return printJSON(rec)
	},
}

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Print the most recent rows, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		gw, err := newGateway(cfg, newLogger(cfg))
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		ctx, cancel := commandContext(cmd)
		defer cancel()

		recs, err := gw.FetchRecent(ctx, cfg.Store.Table, limit)
		if err != nil {
			return err
		}
		return printJSON(recs)
	},
}
