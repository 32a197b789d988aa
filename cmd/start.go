package cmd

import (
	"github.com/michaelpento.lv/arbengine/cmd/bot"
	"github.com/michaelpento.lv/arbengine/utils"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the arbitrage engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := utils.GetLogger()
		defer utils.CleanupLogger()

		cfg, secrets, err := loadConfig()
		if err != nil {
			log.Error("Failed to load config", zap.Error(err))
			return err
		}

		ctx := cmd.Context()
		b, err := bot.New(ctx, cfg, secrets, log)
		if err != nil {
			log.Error("Failed to create engine", zap.Error(err))
			return err
		}
		defer b.Close()

		return b.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
}
