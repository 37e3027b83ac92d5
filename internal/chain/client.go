package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Backend is the read-only RPC surface consumed by the discovery and sync
// engines. *Client satisfies it against a live node; tests substitute fakes.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, to common.Address, data []byte, block *big.Int) ([]byte, error)
	BatchCallAt(ctx context.Context, calls []Call, block *big.Int) ([]Result, error)
}

// RetryPolicy controls the constant-backoff retry harness applied to every
// Backend RPC issued by the client (ChainID is not retried). The engine
// itself never retries.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultRetryPolicy makes up to 6 attempts (the first call plus 5 retries)
// on transient transport failures, with a 200ms delay between attempts.
var DefaultRetryPolicy = RetryPolicy{Attempts: 6, Delay: 200 * time.Millisecond}

type Client struct {
	ethClient   *ethclient.Client
	rateLimiter *time.Ticker
	retry       RetryPolicy
}

var _ Backend = (*Client)(nil)

func NewClient(rpcURL string) (*Client, error) {
	return NewClientWithRetry(rpcURL, DefaultRetryPolicy)
}

func NewClientWithRetry(rpcURL string, retry RetryPolicy) (*Client, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}

	if retry.Attempts < 1 {
		retry.Attempts = 1
	}

	return &Client{
		ethClient:   client,
		rateLimiter: time.NewTicker(50 * time.Millisecond), // 20 requests per second
		retry:       retry,
	}, nil
}

func (c *Client) Close() {
	c.ethClient.Close()
	c.rateLimiter.Stop()
}

func (c *Client) rateLimit() {
	<-c.rateLimiter.C
}

// BlockNumber returns the current block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	c.rateLimit()

	var number uint64
	err := c.retryCall(ctx, func() error {
		var callErr error
		number, callErr = c.ethClient.BlockNumber(ctx)
		return callErr
	})
	return number, err
}

// FilterLogs retrieves logs matching the given filter query.
func (c *Client) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	c.rateLimit()

	var logs []types.Log
	err := c.retryCall(ctx, func() error {
		var callErr error
		logs, callErr = c.ethClient.FilterLogs(ctx, query)
		return callErr
	})
	return logs, err
}

// CallContract executes a single eth_call against the given contract. A nil
// block targets the latest state.
func (c *Client) CallContract(ctx context.Context, to common.Address, data []byte, block *big.Int) ([]byte, error) {
	c.rateLimit()

	msg := ethereum.CallMsg{
		To:   &to,
		Data: data,
	}

	var result []byte
	err := c.retryCall(ctx, func() error {
		var callErr error
		result, callErr = c.ethClient.CallContract(ctx, msg, block)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("contract call failed: %w", err)
	}

	return result, nil
}

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return c.ethClient.ChainID(ctx)
}

// retryCall executes a function with constant backoff, retrying only errors
// that look transient.
func (c *Client) retryCall(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < c.retry.Attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isTransientError(err.Error()) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retry.Delay):
		}
	}
	return lastErr
}

// isTransientError checks if an error is likely transient and worth retrying
func isTransientError(errStr string) bool {
	transientPatterns := []string{
		"EOF",
		"connection reset",
		"timeout",
		"temporary failure",
		"too many requests",
		"rate limit",
		"503",
		"502",
		"504",
	}
	errLower := strings.ToLower(errStr)
	for _, pattern := range transientPatterns {
		if strings.Contains(errLower, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}
