package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/registry-indexer/internal/retry"
	"golang.org/x/time/rate"
)

// Slot error codes returned by the ledger RPC when a block cannot be served
// because the slot was skipped or has been pruned from the node's history.
const (
	codeBlockNotAvailable = -32004
	codeSlotSkipped       = -32007
	codeSlotSkippedPurged = -32009
	codeBlockCleanedUp    = -32001

	defaultRequestsPerSec = 10
	defaultRequestTimeout = 30 * time.Second
)

// RPCClient is a JSON-RPC 2.0 client for the ledger endpoint. All calls are
// bounded by the configured request timeout and throttled by a client-side
// rate limiter so catch-up scans cannot hammer the endpoint.
type RPCClient struct {
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
	retryCfg   *retry.Config
}

// RPCClientConfig holds configuration for the RPC client
type RPCClientConfig struct {
	Endpoint       string
	RequestTimeout time.Duration
	RequestsPerSec int
}

// NewRPCClient creates a new ledger RPC client
func NewRPCClient(cfg *RPCClientConfig) (*RPCClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("rpc endpoint cannot be empty")
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = defaultRequestsPerSec
	}

	return &RPCClient{
		endpoint:   cfg.Endpoint,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), rps),
		retryCfg:   retry.DefaultConfig(),
	}, nil
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// rpcBlock mirrors the getBlock response shape
type rpcBlock struct {
	BlockTime    *int64 `json:"blockTime"`
	Transactions []struct {
		Transaction struct {
			Signatures []string `json:"signatures"`
		} `json:"transaction"`
		Meta *struct {
			Err         interface{} `json:"err"`
			LogMessages []string    `json:"logMessages"`
		} `json:"meta"`
	} `json:"transactions"`
}

// GetTip returns the current tip slot at confirmed commitment
func (c *RPCClient) GetTip(ctx context.Context) (uint64, error) {
	result, err := c.call(ctx, "getSlot", []interface{}{
		map[string]interface{}{"commitment": "confirmed"},
	})
	if err != nil {
		return 0, err
	}

	var slot uint64
	if err := json.Unmarshal(result, &slot); err != nil {
		return 0, fmt.Errorf("failed to decode slot: %w", err)
	}
	return slot, nil
}

// GetBlock fetches the block at the given slot. A skipped or pruned slot maps
// to ErrSlotSkipped so callers can tell it apart from transport failures.
func (c *RPCClient) GetBlock(ctx context.Context, slot uint64) (*Block, error) {
	result, err := c.call(ctx, "getBlock", []interface{}{
		slot,
		map[string]interface{}{
			"encoding":                       "json",
			"transactionDetails":             "full",
			"rewards":                        false,
			"commitment":                     "confirmed",
			"maxSupportedTransactionVersion": 0,
		},
	})
	if err != nil {
		if rpcErr, ok := err.(*rpcError); ok && isSkippedSlotCode(rpcErr.Code) {
			return nil, ErrSlotSkipped
		}
		return nil, err
	}

	var raw rpcBlock
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode block for slot %d: %w", slot, err)
	}

	block := &Block{}
	if raw.BlockTime != nil {
		t := time.Unix(*raw.BlockTime, 0).UTC()
		block.BlockTime = &t
	}

	for _, tx := range raw.Transactions {
		if len(tx.Transaction.Signatures) == 0 || tx.Meta == nil {
			continue
		}
		block.Transactions = append(block.Transactions, Transaction{
			Signature: tx.Transaction.Signatures[0],
			Succeeded: tx.Meta.Err == nil,
			Logs:      tx.Meta.LogMessages,
		})
	}

	return block, nil
}

func isSkippedSlotCode(code int) bool {
	switch code {
	case codeBlockNotAvailable, codeSlotSkipped, codeSlotSkippedPurged, codeBlockCleanedUp:
		return true
	}
	return false
}

// call performs one JSON-RPC request, retrying transport-level failures with
// exponential backoff. RPC-level errors (the error member of the response)
// are returned as-is and never retried.
func (c *RPCClient) call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode rpc request: %w", err)
	}

	var result json.RawMessage
	var rpcErr *rpcError

	retryErr := retry.WithExponentialBackoff(ctx, c.retryCfg, func(ctx context.Context, attempt int) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("rpc endpoint returned status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("rpc endpoint returned status %d: %s", resp.StatusCode, string(respBody))
		}

		var decoded rpcResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return fmt.Errorf("failed to decode rpc response: %w", err)
		}

		if decoded.Error != nil {
			// Not a transport failure; stop retrying and surface it
			rpcErr = decoded.Error
			return nil
		}

		result = decoded.Result
		return nil
	})

	if retryErr != nil {
		return nil, retryErr
	}
	if rpcErr != nil {
		return nil, rpcErr
	}
	return result, nil
}
