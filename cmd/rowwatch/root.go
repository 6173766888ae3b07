package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/user/rowwatch"
	"github.com/user/rowwatch/internal/config"
	"github.com/user/rowwatch/pkg/gateway"
	"github.com/user/rowwatch/pkg/poller"
)

var rootCmd = &cobra.Command{
	Use:   "rowwatch",
	Short: "rowwatch watches a SQL table and reports new or changed rows",
	Long: `rowwatch polls an externally owned table, keeps a watermark of the most
recent row and emits baseline, updated, warning and fatal events to the
configured sinks.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (YAML or JSON)")
	flags.String("driver", "", "store driver: sqlite, mysql, postgres, sqlserver")
	flags.String("dsn", "", "store DSN or sqlite file path")
	flags.String("table", "", "table to watch")
	flags.Int("interval-ms", 0, "polling interval in milliseconds")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.Bool("log-pretty", false, "human readable console logs")

	for _, name := range []string{"config", "driver", "dsn", "table", "interval-ms", "log-level", "log-pretty"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
	viper.SetEnvPrefix("ROWWATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// loadConfig resolves the config file, then lets flags override it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	if viper.IsSet("driver") {
		cfg.Store.Driver = viper.GetString("driver")
	}
	if viper.IsSet("dsn") {
		cfg.Store.DSN = viper.GetString("dsn")
	}
	if viper.IsSet("table") {
		cfg.Store.Table = viper.GetString("table")
	}
	if viper.IsSet("interval-ms") {
		cfg.Poller.IntervalMS = viper.GetInt("interval-ms")
	}
	if viper.IsSet("log-level") {
		cfg.Log.Level = viper.GetString("log-level")
	}
	if viper.IsSet("log-pretty") {
		cfg.Log.Pretty = viper.GetBool("log-pretty")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *poller.DefaultLogger {
	return poller.NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Pretty)
}

func newGateway(cfg *config.Config, logger rowwatch.Logger) (*gateway.SQLGateway, error) {
	gw, err := gateway.New(gateway.Config{
		Driver:         cfg.Store.Driver,
		DSN:            cfg.Store.DSN,
		IdentityColumn: cfg.Store.IdentityColumn,
		SerialColumn:   cfg.Store.SerialColumn,
		Fields:         cfg.Store.Fields,
	})
	if err != nil {
		return nil, err
	}
	gw.SetLogger(logger)
	return gw, nil
}
