package solana

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetBalance(
		ctx context.Context,
		account solana.PublicKey,
		commitment rpc.CommitmentType,
	) (*rpc.GetBalanceResult, error)
}

// Client provides the one-shot balance query used to seed a streaming
// session. It wraps the RPC client with domain-specific operations.
type Client struct {
	rpc    RPCClient
	logger *slog.Logger
}

// NewClient creates a new Solana client.
func NewClient(rpcClient RPCClient, logger *slog.Logger) *Client {
	return &Client{
		rpc:    rpcClient,
		logger: logger,
	}
}

// GetBalance fetches the current lamport balance for an address at
// confirmed commitment.
func (c *Client) GetBalance(ctx context.Context, address string) (*Balance, error) {
	pubkey, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", address, err)
	}

	result, err := c.rpc.GetBalance(ctx, pubkey, rpc.CommitmentConfirmed)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to get balance",
			"address", address,
			"error", err,
		)
		return nil, fmt.Errorf("get balance for %s: %w", address, err)
	}

	balance := &Balance{
		Address:   address,
		Lamports:  result.Value,
		Slot:      result.Context.Slot,
		FetchedAt: time.Now().UTC(),
	}

	c.logger.DebugContext(ctx, "fetched balance",
		"address", address,
		"lamports", balance.Lamports,
		"slot", balance.Slot,
	)

	return balance, nil
}

// FetchBalance returns the current lamport balance for an address.
// It satisfies the stream package's BalanceFetcher interface.
func (c *Client) FetchBalance(ctx context.Context, address string) (uint64, error) {
	balance, err := c.GetBalance(ctx, address)
	if err != nil {
		return 0, err
	}
	return balance.Lamports, nil
}
