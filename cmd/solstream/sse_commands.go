package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/solstream/client"
	"github.com/urfave/cli/v2"
)

// sseCommands consumes the server's SSE endpoint from the terminal.
func sseCommands() *cli.Command {
	return &cli.Command{
		Name:  "sse",
		Usage: "Consume server-sent balance events",
		Subcommands: []*cli.Command{
			{
				Name:      "tail",
				Usage:     "Follow the balance event stream for an address",
				ArgsUsage: "[address]",
				Description: `Connect to the server's SSE endpoint and print balance and status
events as they arrive. The stream stays open until interrupted.

Example:
  solstream sse tail DYw8jCTfwHNRJhhmFcbXvVDTqWMEVFBX6ZKUmG5CNSKK`,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "balances-only",
						Usage: "Suppress status events",
					},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("address is required")
					}
					address := c.Args().Get(0)

					serverURL := c.String("server-url")
					if serverURL == "" {
						return fmt.Errorf("server-url is required (set SERVER_URL env var or use --server-url)")
					}

					logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
						Level: slog.LevelError,
					}))
					cl := client.NewClient(serverURL, nil, logger)

					ctx, cancel := context.WithCancel(c.Context)
					defer cancel()

					events, err := cl.Stream(ctx, address)
					if err != nil {
						return fmt.Errorf("failed to open stream: %w", err)
					}

					sigChan := make(chan os.Signal, 1)
					signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

					asJSON := c.Bool("json")
					balancesOnly := c.Bool("balances-only")
					for {
						select {
						case <-sigChan:
							return nil
						case ev, ok := <-events:
							if !ok {
								fmt.Fprintln(os.Stderr, "stream closed by server")
								return nil
							}
							printEvent(ev, asJSON, balancesOnly)
						}
					}
				},
			},
		},
	}
}

func printEvent(ev client.Event, asJSON, balancesOnly bool) {
	switch {
	case ev.Balance != nil:
		if asJSON {
			json.NewEncoder(os.Stdout).Encode(ev.Balance)
			return
		}
		slot := "-"
		if ev.Balance.Slot != nil {
			slot = fmt.Sprintf("%d", *ev.Balance.Slot)
		}
		fmt.Printf("%s  %s SOL (%d lamports)  slot=%s\n",
			ev.Balance.Timestamp.Format(time.RFC3339),
			ev.Balance.SOL,
			ev.Balance.Lamports,
			slot,
		)
	case ev.Status != nil:
		if balancesOnly {
			return
		}
		if asJSON {
			json.NewEncoder(os.Stdout).Encode(ev.Status)
			return
		}
		if ev.Status.Attempt > 0 {
			fmt.Fprintf(os.Stderr, "· %s (attempt %d)\n", ev.Status.Status, ev.Status.Attempt)
			return
		}
		fmt.Fprintf(os.Stderr, "· %s\n", ev.Status.Status)
	}
}
