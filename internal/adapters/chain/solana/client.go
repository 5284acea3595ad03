package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/mr-tron/base58"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	domainerrors "github.com/custody-service/custody_service/internal/domain/errors"
)

// SignatureStatus is the status of one transaction signature.
type SignatureStatus struct {
	Slot               uint64      `json:"slot"`
	Confirmations      *uint64     `json:"confirmations"`
	ConfirmationStatus *string     `json:"confirmationStatus"`
	Err                interface{} `json:"err"`
}

// SignatureInfo is one entry from getSignaturesForAddress.
type SignatureInfo struct {
	Signature          string      `json:"signature"`
	Slot               uint64      `json:"slot"`
	Err                interface{} `json:"err"`
	ConfirmationStatus *string     `json:"confirmationStatus"`
}

// TransactionDetail is the subset of a parsed transaction the adapter reads:
// lamport deltas per account and token balance deltas per owner.
type TransactionDetail struct {
	Slot              uint64
	BlockTime         *int64
	Failed            bool
	AccountKeys       []string
	PreBalances       []uint64
	PostBalances      []uint64
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
}

// TokenBalance is one entry of pre/postTokenBalances.
type TokenBalance struct {
	AccountIndex  int    `json:"accountIndex"`
	Mint          string `json:"mint"`
	Owner         string `json:"owner"`
	UITokenAmount struct {
		Amount   string `json:"amount"`
		Decimals int32  `json:"decimals"`
	} `json:"uiTokenAmount"`
}

// Client is a Solana JSON-RPC client with round-robin endpoint selection
// and a circuit breaker guarding the node pool.
type Client struct {
	httpClient *http.Client
	rpcURLs    []string
	currentIdx int
	mu         sync.Mutex
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger
}

// NewClient creates a Solana JSON-RPC client.
func NewClient(rpcURLs []string, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		rpcURLs:    rpcURLs,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "solana-rpc",
			MaxRequests: 3,
			Interval:    30 * time.Second,
			Timeout:     60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
		}),
		logger: logger,
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

func (c *Client) nextURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	url := c.rpcURLs[c.currentIdx%len(c.rpcURLs)]
	c.currentIdx++
	return url
}

func (c *Client) doRPC(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		url := c.nextURL()

		body, err := json.Marshal(rpcRequest{
			JSONRPC: "2.0",
			ID:      1,
			Method:  method,
			Params:  params,
		})
		if err != nil {
			return nil, fmt.Errorf("marshal RPC request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create RPC request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("execute RPC request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("RPC HTTP %d from %s", resp.StatusCode, url)
		}

		var rpcResp rpcResponse
		if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
			return nil, fmt.Errorf("decode RPC response: %w", err)
		}
		if rpcResp.Error != nil {
			return nil, fmt.Errorf("RPC error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
		}

		return rpcResp.Result, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, domainerrors.ChainUnavailableError("solana", err)
		}
		return nil, err
	}

	return result.(json.RawMessage), nil
}

// GetBalance fetches the confirmed SOL balance in lamports.
func (c *Client) GetBalance(ctx context.Context, address string) (uint64, error) {
	result, err := c.doRPC(ctx, "getBalance", []interface{}{
		address,
		map[string]string{"commitment": "confirmed"},
	})
	if err != nil {
		return 0, fmt.Errorf("getBalance for %s: %w", address, err)
	}

	var parsed struct {
		Value uint64 `json:"value"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return 0, fmt.Errorf("parse getBalance: %w", err)
	}

	return parsed.Value, nil
}

// GetTokenBalance sums the owner's token accounts for one mint, in base units.
func (c *Client) GetTokenBalance(ctx context.Context, owner, mint string) (uint64, error) {
	result, err := c.doRPC(ctx, "getTokenAccountsByOwner", []interface{}{
		owner,
		map[string]string{"mint": mint},
		map[string]string{"encoding": "jsonParsed", "commitment": "confirmed"},
	})
	if err != nil {
		return 0, fmt.Errorf("getTokenAccountsByOwner for %s: %w", owner, err)
	}

	var parsed struct {
		Value []struct {
			Account struct {
				Data struct {
					Parsed struct {
						Info struct {
							TokenAmount struct {
								Amount string `json:"amount"`
							} `json:"tokenAmount"`
						} `json:"info"`
					} `json:"parsed"`
				} `json:"data"`
			} `json:"account"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return 0, fmt.Errorf("parse getTokenAccountsByOwner: %w", err)
	}

	var total uint64
	for _, v := range parsed.Value {
		var amount uint64
		if _, err := fmt.Sscan(v.Account.Data.Parsed.Info.TokenAmount.Amount, &amount); err != nil {
			return 0, fmt.Errorf("parse token amount: %w", err)
		}
		total += amount
	}

	return total, nil
}

// GetLatestBlockhash fetches a recent blockhash for transaction building.
func (c *Client) GetLatestBlockhash(ctx context.Context) ([32]byte, error) {
	result, err := c.doRPC(ctx, "getLatestBlockhash", []interface{}{
		map[string]string{"commitment": "confirmed"},
	})
	if err != nil {
		return [32]byte{}, fmt.Errorf("getLatestBlockhash: %w", err)
	}

	var parsed struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return [32]byte{}, fmt.Errorf("parse getLatestBlockhash: %w", err)
	}

	hashBytes, err := base58.Decode(parsed.Value.Blockhash)
	if err != nil {
		return [32]byte{}, fmt.Errorf("decode blockhash: %w", err)
	}
	if len(hashBytes) != 32 {
		return [32]byte{}, fmt.Errorf("invalid blockhash length: %d", len(hashBytes))
	}

	var blockhash [32]byte
	copy(blockhash[:], hashBytes)
	return blockhash, nil
}

// SendTransaction broadcasts a base64-encoded signed transaction.
func (c *Client) SendTransaction(ctx context.Context, txBase64 string) (string, error) {
	result, err := c.doRPC(ctx, "sendTransaction", []interface{}{
		txBase64,
		map[string]interface{}{
			"encoding":            "base64",
			"preflightCommitment": "confirmed",
		},
	})
	if err != nil {
		return "", fmt.Errorf("sendTransaction: %w", err)
	}

	var signature string
	if err := json.Unmarshal(result, &signature); err != nil {
		return "", fmt.Errorf("parse sendTransaction result: %w", err)
	}

	c.logger.Info("solana transaction sent", zap.String("signature", signature))
	return signature, nil
}

// GetSignatureStatuses fetches the status of transaction signatures.
func (c *Client) GetSignatureStatuses(ctx context.Context, signatures []string) ([]SignatureStatus, error) {
	result, err := c.doRPC(ctx, "getSignatureStatuses", []interface{}{
		signatures,
		map[string]bool{"searchTransactionHistory": true},
	})
	if err != nil {
		return nil, fmt.Errorf("getSignatureStatuses: %w", err)
	}

	var parsed struct {
		Value []*SignatureStatus `json:"value"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, fmt.Errorf("parse getSignatureStatuses: %w", err)
	}

	statuses := make([]SignatureStatus, len(parsed.Value))
	for i, s := range parsed.Value {
		if s != nil {
			statuses[i] = *s
		}
	}

	return statuses, nil
}

// GetSignaturesForAddress lists recent transaction signatures touching an
// address, newest first.
func (c *Client) GetSignaturesForAddress(ctx context.Context, address string, limit int) ([]SignatureInfo, error) {
	result, err := c.doRPC(ctx, "getSignaturesForAddress", []interface{}{
		address,
		map[string]interface{}{"limit": limit, "commitment": "confirmed"},
	})
	if err != nil {
		return nil, fmt.Errorf("getSignaturesForAddress for %s: %w", address, err)
	}

	var infos []SignatureInfo
	if err := json.Unmarshal(result, &infos); err != nil {
		return nil, fmt.Errorf("parse getSignaturesForAddress: %w", err)
	}

	return infos, nil
}

// GetTransaction fetches one transaction with parsed balance metadata.
func (c *Client) GetTransaction(ctx context.Context, signature string) (*TransactionDetail, error) {
	result, err := c.doRPC(ctx, "getTransaction", []interface{}{
		signature,
		map[string]interface{}{
			"encoding":                       "jsonParsed",
			"commitment":                     "confirmed",
			"maxSupportedTransactionVersion": 0,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("getTransaction %s: %w", signature, err)
	}

	var parsed struct {
		Slot        uint64 `json:"slot"`
		BlockTime   *int64 `json:"blockTime"`
		Meta        *struct {
			Err               interface{}    `json:"err"`
			PreBalances       []uint64       `json:"preBalances"`
			PostBalances      []uint64       `json:"postBalances"`
			PreTokenBalances  []TokenBalance `json:"preTokenBalances"`
			PostTokenBalances []TokenBalance `json:"postTokenBalances"`
		} `json:"meta"`
		Transaction struct {
			Message struct {
				AccountKeys []struct {
					Pubkey string `json:"pubkey"`
				} `json:"accountKeys"`
			} `json:"message"`
		} `json:"transaction"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, fmt.Errorf("parse getTransaction: %w", err)
	}
	if parsed.Meta == nil {
		return nil, fmt.Errorf("transaction %s has no metadata", signature)
	}

	detail := &TransactionDetail{
		Slot:              parsed.Slot,
		BlockTime:         parsed.BlockTime,
		Failed:            parsed.Meta.Err != nil,
		PreBalances:       parsed.Meta.PreBalances,
		PostBalances:      parsed.Meta.PostBalances,
		PreTokenBalances:  parsed.Meta.PreTokenBalances,
		PostTokenBalances: parsed.Meta.PostTokenBalances,
	}
	for _, k := range parsed.Transaction.Message.AccountKeys {
		detail.AccountKeys = append(detail.AccountKeys, k.Pubkey)
	}

	return detail, nil
}

// GetSlot fetches the current confirmed slot.
func (c *Client) GetSlot(ctx context.Context) (uint64, error) {
	result, err := c.doRPC(ctx, "getSlot", []interface{}{
		map[string]string{"commitment": "confirmed"},
	})
	if err != nil {
		return 0, fmt.Errorf("getSlot: %w", err)
	}

	var slot uint64
	if err := json.Unmarshal(result, &slot); err != nil {
		return 0, fmt.Errorf("parse getSlot: %w", err)
	}

	return slot, nil
}

// AccountExists checks whether an account is initialized on-chain.
func (c *Client) AccountExists(ctx context.Context, address string) (bool, error) {
	result, err := c.doRPC(ctx, "getAccountInfo", []interface{}{
		address,
		map[string]string{"encoding": "base64"},
	})
	if err != nil {
		return false, fmt.Errorf("getAccountInfo for %s: %w", address, err)
	}

	var parsed struct {
		Value *struct {
			Lamports uint64 `json:"lamports"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return false, fmt.Errorf("parse getAccountInfo: %w", err)
	}

	return parsed.Value != nil, nil
}
