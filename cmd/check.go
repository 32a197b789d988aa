package cmd

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/arbengine/cmd/bot"
	"github.com/michaelpento.lv/arbengine/dex"
	"github.com/michaelpento.lv/arbengine/utils"
	bigmath "github.com/michaelpento.lv/arbengine/utils/math"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify node connectivity, the executor contract and every venue",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := utils.GetLogger()
		defer utils.CleanupLogger()

		cfg, secrets, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Execution.Enabled = false

		ctx := cmd.Context()
		b, err := bot.New(ctx, cfg, secrets, log)
		if err != nil {
			return err
		}
		defer b.Close()

		out := cmd.OutOrStdout()
		client := b.Client()

		head, err := client.BlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("failed to get block number: %w", err)
		}
		gasPrice, err := client.SuggestGasPrice(ctx)
		if err != nil {
			return fmt.Errorf("failed to get gas price: %w", err)
		}
		fmt.Fprintf(out, "chain %s at block %d, gas price %s gwei\n",
			client.ChainID(), head, bigmath.FormatUnits(gasPrice, 9))

		code, err := client.CodeAt(ctx, common.HexToAddress(cfg.Execution.Contract), nil)
		switch {
		case err != nil:
			fmt.Fprintf(out, "executor %s: %v\n", cfg.Execution.Contract, err)
		case len(code) == 0:
			fmt.Fprintf(out, "executor %s: no code deployed\n", cfg.Execution.Contract)
		default:
			fmt.Fprintf(out, "executor %s: %d bytes\n", cfg.Execution.Contract, len(code))
		}

		reg := b.Registry()
		base, native := reg.Base(), reg.Native()
		amount := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(base.Decimals)), nil)
		amount.Mul(amount, big.NewInt(100))

		failed := 0
		for _, v := range reg.Venues() {
			q, err := b.Quotes().Quote(ctx, v.ID, base.Address, native.Address, amount)
			switch {
			case errors.Is(err, dex.ErrNoQuote):
				fmt.Fprintf(out, "  %-12s %-24s no route\n", v.ID, v.Kind)
			case err != nil:
				failed++
				fmt.Fprintf(out, "  %-12s %-24s error: %v\n", v.ID, v.Kind, err)
			default:
				fmt.Fprintf(out, "  %-12s %-24s 100 %s -> %s %s\n", v.ID, v.Kind,
					base.Symbol, bigmath.FormatUnits(q.AmountOut, native.Decimals), native.Symbol)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d venues failed to quote", failed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
