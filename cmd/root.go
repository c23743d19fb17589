package cmd

import (
	"github.com/spf13/cobra"

	"github.com/yeremiapane/restaurant-sync/config"
	"github.com/yeremiapane/restaurant-sync/utils"
)

var (
	cfgFile string
	v       = config.New()
)

var rootCmd = &cobra.Command{
	Use:   "restaurant-sync",
	Short: "Order, kitchen ticket and table sync for the restaurant floor",
	Long: `restaurant-sync runs the order store with its kitchen display push hub
(serve) and a staff client that keeps a live view of orders, tickets and
tables and raises short-lived alerts (watch).`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	_ = v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return nil, err
	}
	utils.SetLevel(cfg.Log.Level)
	return cfg, nil
}

// bindFlags maps command flags onto config keys so flags beat env and file.
func bindFlags(cmd *cobra.Command, keys map[string]string) {
	for flag, key := range keys {
		_ = v.BindPFlag(key, cmd.Flags().Lookup(flag))
	}
}
