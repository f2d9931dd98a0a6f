// Package ledger provides access to the Solana-style ledger network:
// a JSON-RPC client for the node plus the wallet signing abstraction
// settlement depends on.
package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// Commitment is the confirmation level used for every call, matching
	// the product's "confirmed" behavior.
	Commitment = "confirmed"

	// MaxRetries bounds the node's internal resubmission of a sent
	// transaction.
	MaxRetries = 3
)

var (
	// ErrTransactionFailed is returned when the ledger records the
	// transaction as errored.
	ErrTransactionFailed = errors.New("transaction failed on ledger")

	// ErrBlockhashExpired is returned when the network moved past the
	// transaction's last valid block height without confirming it.
	ErrBlockhashExpired = errors.New("blockhash expired before confirmation")
)

// Client is a JSON-RPC client for a ledger node.
type Client struct {
	rpcURL       string
	httpClient   *http.Client
	pollInterval time.Duration
}

// Config holds client configuration.
type Config struct {
	RPCURL       string
	Timeout      time.Duration // per-request; default 30s
	PollInterval time.Duration // confirmation poll spacing; default 500ms
}

// NewClient creates a ledger client for the given node.
func NewClient(cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	poll := cfg.PollInterval
	if poll == 0 {
		poll = 500 * time.Millisecond
	}
	return &Client{
		rpcURL:       cfg.RPCURL,
		httpClient:   &http.Client{Timeout: timeout},
		pollInterval: poll,
	}, nil
}

// Call makes a JSON-RPC call to the ledger node.
func (c *Client) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		// Overloaded nodes answer 429/503 with an HTML body; surface the
		// status instead of a JSON parse error.
		body := strings.TrimSpace(string(respBody))
		if len(body) > 200 {
			body = body[:200]
		}
		return nil, fmt.Errorf("node returned %s: %s", resp.Status, body)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

// LatestBlockhash fetches the reference point a new transaction must
// embed, with its expiry height.
func (c *Client) LatestBlockhash(ctx context.Context) (*Blockhash, error) {
	result, err := c.Call(ctx, "getLatestBlockhash", []any{
		map[string]any{"commitment": Commitment},
	})
	if err != nil {
		return nil, err
	}

	var wrapped contextValue
	if err := json.Unmarshal(result, &wrapped); err != nil {
		return nil, fmt.Errorf("unmarshal blockhash: %w", err)
	}
	var bh Blockhash
	if err := json.Unmarshal(wrapped.Value, &bh); err != nil {
		return nil, fmt.Errorf("unmarshal blockhash: %w", err)
	}
	return &bh, nil
}

// BlockHeight returns the current block height.
func (c *Client) BlockHeight(ctx context.Context) (uint64, error) {
	result, err := c.Call(ctx, "getBlockHeight", []any{
		map[string]any{"commitment": Commitment},
	})
	if err != nil {
		return 0, err
	}
	var height uint64
	if err := json.Unmarshal(result, &height); err != nil {
		return 0, fmt.Errorf("unmarshal block height: %w", err)
	}
	return height, nil
}

// SendTransaction submits a signed transaction and returns its signature.
// Preflight stays enabled and the node resubmits up to MaxRetries times.
func (c *Client) SendTransaction(ctx context.Context, signedTx []byte) (string, error) {
	result, err := c.Call(ctx, "sendTransaction", []any{
		base64.StdEncoding.EncodeToString(signedTx),
		map[string]any{
			"encoding":            "base64",
			"skipPreflight":       false,
			"preflightCommitment": Commitment,
			"maxRetries":          MaxRetries,
		},
	})
	if err != nil {
		return "", err
	}
	var signature string
	if err := json.Unmarshal(result, &signature); err != nil {
		return "", fmt.Errorf("unmarshal signature: %w", err)
	}
	return signature, nil
}

// SignatureStatus fetches the confirmation state of a signature.
// Returns nil when the node has not seen the transaction yet.
func (c *Client) SignatureStatus(ctx context.Context, signature string) (*SignatureStatus, error) {
	result, err := c.Call(ctx, "getSignatureStatuses", []any{
		[]string{signature},
		map[string]any{"searchTransactionHistory": true},
	})
	if err != nil {
		return nil, err
	}

	var wrapped contextValue
	if err := json.Unmarshal(result, &wrapped); err != nil {
		return nil, fmt.Errorf("unmarshal statuses: %w", err)
	}
	var statuses []*SignatureStatus
	if err := json.Unmarshal(wrapped.Value, &statuses); err != nil {
		return nil, fmt.Errorf("unmarshal statuses: %w", err)
	}
	if len(statuses) == 0 {
		return nil, nil
	}
	return statuses[0], nil
}

// ConfirmTransaction waits until the signature is confirmed, the ledger
// reports it failed, or the blockhash it was built on expires. The caller
// bounds the overall wait through ctx.
func (c *Client) ConfirmTransaction(ctx context.Context, signature string, lastValidBlockHeight uint64) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		status, err := c.SignatureStatus(ctx, signature)
		if err != nil {
			return err
		}
		if status != nil {
			if status.Failed() {
				return fmt.Errorf("%w: %s", ErrTransactionFailed, status.Err)
			}
			if status.ConfirmationStatus == "confirmed" || status.ConfirmationStatus == "finalized" {
				return nil
			}
		}

		height, err := c.BlockHeight(ctx)
		if err != nil {
			return err
		}
		if height > lastValidBlockHeight {
			return ErrBlockhashExpired
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Balance returns the lamport balance of an address.
func (c *Client) Balance(ctx context.Context, address string) (uint64, error) {
	result, err := c.Call(ctx, "getBalance", []any{
		address,
		map[string]any{"commitment": Commitment},
	})
	if err != nil {
		return 0, err
	}
	var wrapped struct {
		Value uint64 `json:"value"`
	}
	if err := json.Unmarshal(result, &wrapped); err != nil {
		return 0, fmt.Errorf("unmarshal balance: %w", err)
	}
	return wrapped.Value, nil
}
