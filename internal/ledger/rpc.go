package ledger

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RPCClient talks to a ledger RPC node over HTTP/JSON.
type RPCClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewRPCClient creates a ledger RPC client.
//
// baseURL is the RPC root, e.g. "http://127.0.0.1:8899".
func NewRPCClient(baseURL string, timeout time.Duration) *RPCClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RPCClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// RecentBlockhash fetches a fresh submission handle from the node.
func (c *RPCClient) RecentBlockhash(ctx context.Context) (string, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, "/blockhash", nil)
	if err != nil {
		return "", fmt.Errorf("ledger/rpc: recent blockhash: %w", err)
	}

	var result struct {
		Blockhash string `json:"blockhash"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("ledger/rpc: decode blockhash: %w", err)
	}
	if result.Blockhash == "" {
		return "", fmt.Errorf("ledger/rpc: node returned empty blockhash")
	}
	return result.Blockhash, nil
}

// Submit sends a transaction. Node-side rejection reasons are mapped onto
// the package sentinels so the bridge's retry policy can classify them.
func (c *RPCClient) Submit(ctx context.Context, tx Transaction) (string, error) {
	accounts := make([]string, len(tx.Accounts))
	for i, a := range tx.Accounts {
		accounts[i] = a.String()
	}
	body := map[string]any{
		"blockhash": tx.Blockhash,
		"accounts":  accounts,
		"payload":   hex.EncodeToString(tx.Payload),
	}

	respBody, err := c.doRequest(ctx, http.MethodPost, "/transactions", body)
	if err != nil {
		return "", fmt.Errorf("ledger/rpc: submit: %w", err)
	}

	var result struct {
		TxRef string `json:"tx_ref"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("ledger/rpc: decode submit response: %w", err)
	}
	if result.Error != "" {
		return result.TxRef, fmt.Errorf("ledger/rpc: submit rejected: %s: %w", result.Error, classify(result.Error))
	}
	return result.TxRef, nil
}

// Status polls a transaction's status. An unrecorded transaction reports
// TxStatusUnknown rather than an error.
func (c *RPCClient) Status(ctx context.Context, txRef string) (TxStatus, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, "/transactions/"+txRef, nil)
	if err != nil {
		return TxStatusUnknown, fmt.Errorf("ledger/rpc: status %s: %w", txRef, err)
	}

	var result struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return TxStatusUnknown, fmt.Errorf("ledger/rpc: decode status: %w", err)
	}
	switch TxStatus(result.Status) {
	case TxStatusPending, TxStatusConfirmed, TxStatusFailed:
		return TxStatus(result.Status), nil
	default:
		return TxStatusUnknown, nil
	}
}

// AccountBalance reads an account balance in micro-USD. Unknown accounts
// read as zero.
func (c *RPCClient) AccountBalance(ctx context.Context, addr Address) (int64, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, "/accounts/"+addr.String(), nil)
	if err != nil {
		return 0, fmt.Errorf("ledger/rpc: account %s: %w", addr, err)
	}

	var result struct {
		Balance int64 `json:"balance"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return 0, fmt.Errorf("ledger/rpc: decode balance: %w", err)
	}
	return result.Balance, nil
}

func (c *RPCClient) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrTxNotFound
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("status %d: %s: %w", resp.StatusCode, strings.TrimSpace(string(respBody)), classify(string(respBody)))
	}
	return respBody, nil
}

// classify maps a node error string onto a sentinel. Unmatched strings wrap
// nothing in particular and read as transient.
func classify(msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "blockhash"):
		return ErrStaleBlockhash
	case strings.Contains(lower, "insufficient"):
		return ErrInsufficientFunds
	default:
		return fmt.Errorf("node error")
	}
}

var _ Client = (*RPCClient)(nil)
