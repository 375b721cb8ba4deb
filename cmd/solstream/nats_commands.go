package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	natspkg "github.com/brojonat/solstream/service/nats"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// subscribeCommand subscribes to balance events for an address.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to balance events for an address",
		ArgsUsage: "[address]",
		Description: `Subscribe to real-time balance events published to NATS JetStream.

This command connects to NATS and streams balance and status events for the
specified address. Events are published to the subjects:
  balances.{address}.updates
  balances.{address}.status

Example:
  solstream nats subscribe DYw8jCTfwHNRJhhmFcbXvVDTqWMEVFBX6ZKUmG5CNSKK --json`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "solstream-cli",
			},
			&cli.BoolFlag{
				Name:  "updates-only",
				Usage: "Only subscribe to balance updates, not status events",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("address is required")
			}

			address := c.Args().Get(0)
			natsURL := c.String("nats-url")
			if natsURL == "" {
				natsURL = nats.DefaultURL
			}

			subject := fmt.Sprintf("balances.%s.>", address)
			if c.Bool("updates-only") {
				subject = natspkg.UpdateSubject(address)
			}

			return streamBalanceEvents(subject, natsURL, c.Bool("durable"), c.String("consumer-name"), c.Bool("json"))
		},
	}
}

// streamBalanceEvents connects to NATS and streams balance events until
// interrupted.
func streamBalanceEvents(subject, natsURL string, durable bool, consumerName string, jsonOutput bool) error {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if !jsonOutput {
		fmt.Printf("📡 Subscribing to: %s\n", subject)
		fmt.Printf("   NATS: %s\n", natsURL)
		if durable {
			fmt.Printf("   Consumer: %s (durable)\n", consumerName)
		}
		fmt.Printf("\nWaiting for balance events... (Ctrl-C to exit)\n\n")
	}

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	}
	if durable {
		consumerConfig.Durable = consumerName
		consumerConfig.Name = consumerName
	}

	cons, err := js.CreateOrUpdateConsumer(context.Background(), natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	msgChan := make(chan jetstream.Msg, 10)
	go func() {
		_, _ = cons.Consume(func(msg jetstream.Msg) {
			msgChan <- msg
		})
	}()

	count := 0
	for {
		select {
		case msg := <-msgChan:
			count++
			printBalanceMessage(msg, count, jsonOutput)
			msg.Ack()

		case <-sigChan:
			if !jsonOutput {
				fmt.Printf("\nReceived %d event(s)\n", count)
			}
			return nil
		}
	}
}

// printBalanceMessage decodes one JetStream message by its subject suffix
// and prints it.
func printBalanceMessage(msg jetstream.Msg, count int, jsonOutput bool) {
	if strings.HasSuffix(msg.Subject(), ".status") {
		var event natspkg.StatusEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing status event: %v\n", err)
			return
		}
		if jsonOutput {
			data, _ := json.Marshal(event)
			fmt.Println(string(data))
			return
		}
		fmt.Printf("🔄 Status change (#%d)\n", count)
		fmt.Printf("   Status: %s\n", event.Status)
		if event.Attempt > 0 {
			fmt.Printf("   Attempt: %d\n", event.Attempt)
		}
		fmt.Printf("   Published: %s\n\n", event.PublishedAt.Format(time.RFC3339))
		return
	}

	var event natspkg.BalanceEvent
	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing balance event: %v\n", err)
		return
	}
	if jsonOutput {
		data, _ := json.Marshal(event)
		fmt.Println(string(data))
		return
	}
	fmt.Printf("✅ Balance update (#%d)\n", count)
	fmt.Printf("   Address: %s\n", event.Address)
	fmt.Printf("   Balance: %s SOL (%d lamports)\n", event.SOL, event.Lamports)
	if event.Slot != nil {
		fmt.Printf("   Slot: %d\n", *event.Slot)
	}
	fmt.Printf("   Published: %s\n\n", event.PublishedAt.Format(time.RFC3339))
}
