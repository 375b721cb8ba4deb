package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	// Load .env if present; flags and the environment take precedence
	godotenv.Load()

	app := &cli.App{
		Name:  "solstream",
		Usage: "Solana live balance streaming CLI",
		Description: `A command-line tool for the solstream balance streaming service.

Use this CLI to fetch balances, run a streaming session locally, and
consume the balance event stream from a running server.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			// One-shot balance fetch
			balanceCommand(),
			// Run a streaming session in the foreground
			watchCommand(),
			// SSE streaming commands
			sseCommands(),
			// NATS balance streaming commands
			{
				Name:  "nats",
				Usage: "NATS balance streaming commands",
				Subcommands: []*cli.Command{
					subscribeCommand(),
				},
			},
			// Server utility commands
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					statusCommand(),
					versionCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "rpc-url",
				Usage:   "Solana RPC URL (include API key for premium endpoints)",
				EnvVars: []string{"SOLANA_RPC_URL"},
			},
			&cli.StringFlag{
				Name:    "ws-url",
				Usage:   "Solana WebSocket URL",
				EnvVars: []string{"SOLANA_WS_URL"},
			},
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "Server URL for health checks and SSE",
				EnvVars: []string{"SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
