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

	"github.com/brojonat/solstream/service/solana"
	"github.com/brojonat/solstream/service/stream"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

// watchCommand runs a streaming session in the foreground and prints
// every balance update until interrupted.
func watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Stream live balance updates for an address",
		ArgsUsage: "[address]",
		Description: `Open a WebSocket subscription for the address and print each balance
update as it arrives. The session reconnects automatically with
exponential backoff if the connection drops.

Example:
  solstream watch DYw8jCTfwHNRJhhmFcbXvVDTqWMEVFBX6ZKUmG5CNSKK --json
  solstream watch DYw8jCTfwHNRJhhmFcbXvVDTqWMEVFBX6ZKUmG5CNSKK --jq '.lamports > 1000000000'`,
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "keepalive-interval",
				Usage: "How often to send a keepalive probe",
				Value: 30 * time.Second,
			},
			&cli.DurationFlag{
				Name:  "backoff-base",
				Usage: "Base reconnect delay",
				Value: time.Second,
			},
			&cli.DurationFlag{
				Name:  "backoff-max",
				Usage: "Maximum reconnect delay",
				Value: 30 * time.Second,
			},
			&cli.IntFlag{
				Name:  "max-reconnects",
				Usage: "Give up after this many failed reconnects (0 = retry forever)",
			},
			&cli.StringFlag{
				Name:  "jq",
				Usage: "Only print updates where this jq expression is truthy",
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "Suppress connection status lines",
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
			wsURL := c.String("ws-url")
			if wsURL == "" {
				return fmt.Errorf("ws-url is required (set SOLANA_WS_URL env var or use --ws-url)")
			}

			// Compile the jq filter up front so a bad expression fails fast
			var jqCode *gojq.Code
			if expr := c.String("jq"); expr != "" {
				query, err := gojq.Parse(expr)
				if err != nil {
					return fmt.Errorf("failed to parse jq filter %q: %w", expr, err)
				}
				jqCode, err = gojq.Compile(query)
				if err != nil {
					return fmt.Errorf("failed to compile jq filter %q: %w", expr, err)
				}
			}

			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelError, // Only errors to stderr
			}))

			fetcher := solana.NewClient(solana.NewRPCClient(rpcURL), logger)
			sink := &printSink{
				address: address,
				json:    c.Bool("json"),
				quiet:   c.Bool("quiet"),
				jq:      jqCode,
			}

			session := stream.NewSession(
				stream.Config{
					Endpoint:             wsURL,
					KeepaliveInterval:    c.Duration("keepalive-interval"),
					BackoffBaseDelay:     c.Duration("backoff-base"),
					BackoffMaxDelay:      c.Duration("backoff-max"),
					MaxReconnectAttempts: c.Int("max-reconnects"),
				},
				stream.NewWebSocketTransport(),
				fetcher,
				sink,
				nil,
				nil, // no metrics in the CLI
				logger,
			)

			ctx, cancel := context.WithCancel(c.Context)
			defer cancel()

			if _, err := session.Start(ctx, address); err != nil {
				return fmt.Errorf("failed to start session: %w", err)
			}
			defer session.Stop()

			// Stream until interrupted
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			<-sigChan
			return nil
		},
	}
}

// printSink writes updates to stdout and status lines to stderr.
type printSink struct {
	address string
	json    bool
	quiet   bool
	jq      *gojq.Code
}

func (s *printSink) OnBalanceUpdate(update stream.BalanceUpdate) {
	if s.jq != nil && !s.matches(update) {
		return
	}

	if s.json {
		out := map[string]any{
			"address":   s.address,
			"lamports":  update.Lamports,
			"sol":       update.SOL().String(),
			"timestamp": update.Timestamp.Format(time.RFC3339),
		}
		if update.Slot != nil {
			out["slot"] = *update.Slot
		}
		json.NewEncoder(os.Stdout).Encode(out)
		return
	}

	slot := "-"
	if update.Slot != nil {
		slot = fmt.Sprintf("%d", *update.Slot)
	}
	fmt.Printf("%s  %s SOL (%d lamports)  slot=%s\n",
		update.Timestamp.Format(time.RFC3339),
		update.SOL().String(),
		update.Lamports,
		slot,
	)
}

func (s *printSink) OnStatusChange(status stream.Status, attempt int) {
	if s.quiet {
		return
	}
	if attempt > 0 {
		fmt.Fprintf(os.Stderr, "· %s (attempt %d)\n", status, attempt)
		return
	}
	fmt.Fprintf(os.Stderr, "· %s\n", status)
}

// matches runs the jq filter against the update's JSON shape and reports
// whether the result is truthy.
func (s *printSink) matches(update stream.BalanceUpdate) bool {
	doc := map[string]any{
		"address":  s.address,
		"lamports": update.Lamports,
		"sol":      update.SOL().String(),
	}
	if update.Slot != nil {
		doc["slot"] = *update.Slot
	}

	iter := s.jq.Run(doc)
	v, ok := iter.Next()
	if !ok {
		return false
	}
	if _, isErr := v.(error); isErr {
		return false
	}
	return isTruthy(v)
}

// isTruthy follows jq semantics: everything except false and null.
func isTruthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	default:
		return true
	}
}
