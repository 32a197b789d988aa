package cmd

import (
	"fmt"

	"github.com/michaelpento.lv/arbengine/cmd/bot"
	"github.com/michaelpento.lv/arbengine/utils"
	bigmath "github.com/michaelpento.lv/arbengine/utils/math"

	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a single scan cycle and print the opportunities",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := utils.GetLogger()
		defer utils.CleanupLogger()

		cfg, secrets, err := loadConfig()
		if err != nil {
			return err
		}
		// a one-off scan never broadcasts
		cfg.Execution.Enabled = false

		ctx := cmd.Context()
		b, err := bot.New(ctx, cfg, secrets, log)
		if err != nil {
			return err
		}
		defer b.Close()

		report, err := b.ScanOnce(ctx)
		if err != nil {
			return err
		}

		base := b.Registry().Base()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "block %d: %s, %d/%d tasks settled in %s\n",
			report.Block, report.State, report.Settled, report.Tasks, report.Duration)
		for i, opp := range report.Opportunities {
			fmt.Fprintf(out, "%2d. %-40s loan %s net %s %s (impact %d bps, score %.1f)\n",
				i+1, opp.Route(),
				bigmath.FormatUnits(opp.LoanAmount, base.Decimals),
				bigmath.FormatUnits(opp.NetProfit, base.Decimals), base.Symbol,
				opp.CombinedImpactBps(), opp.Score)
		}
		if len(report.Opportunities) == 0 {
			fmt.Fprintln(out, "no opportunities")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
}
