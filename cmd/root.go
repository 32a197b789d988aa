package cmd

import (
	"context"

	"github.com/michaelpento.lv/arbengine/config"
	"github.com/michaelpento.lv/arbengine/utils"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "arbengine",
	Short: "A cross-venue DEX arbitrage engine",
	Long: `A CLI engine that prices round trips between DEX venues on every block
and executes the most profitable one through a flash loan contract.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func initConfig() {
	utils.InitLogger(debug)
	utils.SetDebug(debug)
}

// loadConfig reads .env, the config file and the secrets
func loadConfig() (*config.Config, *config.Secrets, error) {
	log := utils.GetLogger()
	if err := config.LoadEnv(); err != nil {
		log.Warn("Failed to load .env file", zap.Error(err))
	}

	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	secrets, err := config.LoadSecrets()
	if err != nil {
		return nil, nil, err
	}
	return cfg, secrets, nil
}
