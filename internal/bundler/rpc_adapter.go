package bundler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// RPCAdapter talks ERC-4337 JSON-RPC to one bundler endpoint. Both
// providers speak the same method set, so a single implementation
// covers primary and secondary.
type RPCAdapter struct {
	name    string
	url     string
	client  *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
	reqID   atomic.Int64
}

// NewRPCAdapter creates an adapter for one bundler endpoint. rps
// bounds outbound request rate; zero disables limiting.
func NewRPCAdapter(name, url string, rps float64, log zerolog.Logger) *RPCAdapter {
	var limiter *rate.Limiter
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
	}
	return &RPCAdapter{
		name:    name,
		url:     url,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: limiter,
		log:     log.With().Str("component", "bundler").Str("provider", name).Logger(),
	}
}

// Name returns the provider's configured name.
func (a *RPCAdapter) Name() string { return a.name }

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (a *RPCAdapter) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      a.reqID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%s returned 429 too many requests", method)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%s returned 5xx (%d)", method, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned unexpected status %d", method, resp.StatusCode)
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", method, err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(payload, &rpcResp); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("%s rpc error %d: %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
	}
	return nil
}

// EstimateGas asks the provider for a gas quote.
func (a *RPCAdapter) EstimateGas(ctx context.Context, op UserOp) (*GasEstimate, error) {
	var est GasEstimate
	if err := a.call(ctx, "eth_estimateUserOperationGas", []interface{}{op}, &est); err != nil {
		return nil, err
	}
	return &est, nil
}

// SendUserOperation submits the user operation and returns its hash.
func (a *RPCAdapter) SendUserOperation(ctx context.Context, op UserOp) (*SendResult, error) {
	var hash string
	if err := a.call(ctx, "eth_sendUserOperation", []interface{}{op}, &hash); err != nil {
		return nil, err
	}
	a.log.Debug().Str("user_op_hash", hash).Msg("User operation accepted")
	return &SendResult{UserOpHash: hash, Provider: a.name}, nil
}

// receiptEnvelope mirrors eth_getUserOperationReceipt's result shape.
type receiptEnvelope struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason"`
	Receipt struct {
		TransactionHash string `json:"transactionHash"`
	} `json:"receipt"`
}

// GetReceipt polls the provider for inclusion. A nil result from the
// provider means not yet included, not an error.
func (a *RPCAdapter) GetReceipt(ctx context.Context, userOpHash string) (*Receipt, error) {
	var env *receiptEnvelope
	if err := a.call(ctx, "eth_getUserOperationReceipt", []interface{}{userOpHash}, &env); err != nil {
		return nil, err
	}
	if env == nil {
		return &Receipt{Included: false}, nil
	}
	return &Receipt{
		Included: true,
		TxHash:   env.Receipt.TransactionHash,
		Success:  env.Success,
		Reason:   env.Reason,
	}, nil
}
