package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/brojonat/solstream/service/solana"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
)

// balanceCommand fetches the current balance for an address once.
func balanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "balance",
		Usage:     "Fetch the current balance for an address",
		ArgsUsage: "[address]",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout",
				Value: 10 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("address is required")
			}
			address := c.Args().Get(0)

			rpcURL := c.String("rpc-url")
			if rpcURL == "" {
				return fmt.Errorf("rpc-url is required (set SOLANA_RPC_URL env var or use --rpc-url)")
			}

			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelError,
			}))

			cl := solana.NewClient(solana.NewRPCClient(rpcURL), logger)

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			balance, err := cl.GetBalance(ctx, address)
			if err != nil {
				return err
			}

			sol := decimal.NewFromUint64(balance.Lamports).Shift(-9)
			if c.Bool("json") {
				return json.NewEncoder(os.Stdout).Encode(map[string]any{
					"address":  balance.Address,
					"lamports": balance.Lamports,
					"sol":      sol.String(),
					"slot":     balance.Slot,
				})
			}

			fmt.Printf("Address:  %s\n", balance.Address)
			fmt.Printf("Balance:  %s SOL (%d lamports)\n", sol.String(), balance.Lamports)
			fmt.Printf("Slot:     %d\n", balance.Slot)
			return nil
		},
	}
}
