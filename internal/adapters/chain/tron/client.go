package tron

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	domainerrors "github.com/custody-service/custody_service/internal/domain/errors"
)

// UnsignedTransaction is a node-built transaction awaiting a signature.
// RawDataHex is the canonical signing payload; TxID is sha256 of it.
type UnsignedTransaction struct {
	TxID       string          `json:"txID"`
	RawData    json.RawMessage `json:"raw_data"`
	RawDataHex string          `json:"raw_data_hex"`
}

// SignedTransaction carries the signature alongside the node-built body.
type SignedTransaction struct {
	TxID       string          `json:"txID"`
	RawData    json.RawMessage `json:"raw_data"`
	RawDataHex string          `json:"raw_data_hex"`
	Signature  []string        `json:"signature"`
}

// TransactionInfo is the confirmation record of a broadcast transaction.
type TransactionInfo struct {
	ID          string `json:"id"`
	BlockNumber int64  `json:"blockNumber"`
	Result      string `json:"result"`
}

// NativeTransferEvent is one TRX transfer from the account history API.
type NativeTransferEvent struct {
	TxHash      string
	From        string
	To          string
	AmountSun   int64
	BlockNumber int64
	Timestamp   int64
}

// TRC20TransferEvent is one token transfer from the account history API.
type TRC20TransferEvent struct {
	TxHash    string
	From      string
	To        string
	Contract  string
	Value     *big.Int
	Timestamp int64
}

// Client talks to a Tron node's HTTP API with round-robin endpoint
// selection and a circuit breaker guarding the node pool.
type Client struct {
	httpClient *http.Client
	baseURLs   []string
	currentIdx int
	mu         sync.Mutex
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger
}

// NewClient creates a Tron HTTP API client.
func NewClient(baseURLs []string, logger *zap.Logger) *Client {
	trimmed := make([]string, len(baseURLs))
	for i, u := range baseURLs {
		trimmed[i] = strings.TrimRight(u, "/")
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURLs:   trimmed,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "tron-api",
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

func (c *Client) nextURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	url := c.baseURLs[c.currentIdx%len(c.baseURLs)]
	c.currentIdx++
	return url
}

func (c *Client) do(ctx context.Context, method, path string, payload interface{}, out interface{}) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		url := c.nextURL() + path

		var body []byte
		if payload != nil {
			var err error
			body, err = json.Marshal(payload)
			if err != nil {
				return nil, fmt.Errorf("marshal request: %w", err)
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("execute request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, path)
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return nil, fmt.Errorf("decode response from %s: %w", path, err)
			}
		}
		return nil, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return domainerrors.ChainUnavailableError("tron", err)
		}
		return err
	}
	return nil
}

// GetBalance fetches the TRX balance of an address in sun.
func (c *Client) GetBalance(ctx context.Context, address string) (int64, error) {
	var out struct {
		Balance int64 `json:"balance"`
	}
	err := c.do(ctx, http.MethodPost, "/wallet/getaccount", map[string]interface{}{
		"address": address,
		"visible": true,
	}, &out)
	if err != nil {
		return 0, fmt.Errorf("getaccount for %s: %w", address, err)
	}
	// An uncreated account returns an empty object; balance stays zero.
	return out.Balance, nil
}

// GetTokenBalance calls balanceOf(address) on a TRC20 contract.
func (c *Client) GetTokenBalance(ctx context.Context, contract, address string) (*big.Int, error) {
	hexAddr, err := AddressToHex(address)
	if err != nil {
		return nil, err
	}

	var out struct {
		ConstantResult []string `json:"constant_result"`
	}
	err = c.do(ctx, http.MethodPost, "/wallet/triggerconstantcontract", map[string]interface{}{
		"owner_address":     address,
		"contract_address":  contract,
		"function_selector": "balanceOf(address)",
		"parameter":         strings.Repeat("0", 24) + strings.TrimPrefix(hexAddr, "41"),
		"visible":           true,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("balanceOf for %s: %w", address, err)
	}
	if len(out.ConstantResult) == 0 {
		return big.NewInt(0), nil
	}

	value, ok := new(big.Int).SetString(out.ConstantResult[0], 16)
	if !ok {
		return nil, fmt.Errorf("invalid balanceOf result %q", out.ConstantResult[0])
	}
	return value, nil
}

// CreateTransaction asks the node to build an unsigned TRX transfer.
func (c *Client) CreateTransaction(ctx context.Context, from, to string, amountSun int64) (*UnsignedTransaction, error) {
	var out struct {
		UnsignedTransaction
		Error string `json:"Error"`
	}
	err := c.do(ctx, http.MethodPost, "/wallet/createtransaction", map[string]interface{}{
		"owner_address": from,
		"to_address":    to,
		"amount":        amountSun,
		"visible":       true,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("createtransaction: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("createtransaction: %s", out.Error)
	}
	if out.RawDataHex == "" {
		return nil, fmt.Errorf("createtransaction returned no raw data")
	}
	return &out.UnsignedTransaction, nil
}

// TriggerSmartContract asks the node to build an unsigned TRC20 transfer.
func (c *Client) TriggerSmartContract(ctx context.Context, from, contract, to string, amount *big.Int, feeLimitSun int64) (*UnsignedTransaction, error) {
	hexTo, err := AddressToHex(to)
	if err != nil {
		return nil, err
	}

	amountWord := make([]byte, 32)
	amount.FillBytes(amountWord)
	parameter := strings.Repeat("0", 24) + strings.TrimPrefix(hexTo, "41") + hex.EncodeToString(amountWord)

	var out struct {
		Result struct {
			Result  bool   `json:"result"`
			Message string `json:"message"`
		} `json:"result"`
		Transaction *UnsignedTransaction `json:"transaction"`
	}
	err = c.do(ctx, http.MethodPost, "/wallet/triggersmartcontract", map[string]interface{}{
		"owner_address":     from,
		"contract_address":  contract,
		"function_selector": "transfer(address,uint256)",
		"parameter":         parameter,
		"fee_limit":         feeLimitSun,
		"call_value":        0,
		"visible":           true,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("triggersmartcontract: %w", err)
	}
	if !out.Result.Result || out.Transaction == nil {
		return nil, fmt.Errorf("triggersmartcontract rejected: %s", out.Result.Message)
	}
	return out.Transaction, nil
}

// BroadcastTransaction submits a signed transaction.
func (c *Client) BroadcastTransaction(ctx context.Context, tx *SignedTransaction) error {
	var out struct {
		Result  bool   `json:"result"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/wallet/broadcasttransaction", tx, &out); err != nil {
		return fmt.Errorf("broadcasttransaction: %w", err)
	}
	if !out.Result {
		return fmt.Errorf("broadcast rejected: %s %s", out.Code, out.Message)
	}

	c.logger.Info("tron transaction sent", zap.String("tx_id", tx.TxID))
	return nil
}

// GetTransactionInfo fetches the confirmation record, nil while pending.
func (c *Client) GetTransactionInfo(ctx context.Context, txID string) (*TransactionInfo, error) {
	var out TransactionInfo
	err := c.do(ctx, http.MethodPost, "/wallet/gettransactioninfobyid", map[string]interface{}{
		"value": txID,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("gettransactioninfobyid %s: %w", txID, err)
	}
	if out.ID == "" {
		return nil, nil
	}
	return &out, nil
}

// GetNowBlock returns the latest block number.
func (c *Client) GetNowBlock(ctx context.Context) (int64, error) {
	var out struct {
		BlockHeader struct {
			RawData struct {
				Number int64 `json:"number"`
			} `json:"raw_data"`
		} `json:"block_header"`
	}
	if err := c.do(ctx, http.MethodPost, "/wallet/getnowblock", map[string]interface{}{}, &out); err != nil {
		return 0, fmt.Errorf("getnowblock: %w", err)
	}
	return out.BlockHeader.RawData.Number, nil
}

// ListNativeTransfers fetches recent confirmed TRX transfers into an
// address from the account history API.
func (c *Client) ListNativeTransfers(ctx context.Context, address string, limit int) ([]NativeTransferEvent, error) {
	var out struct {
		Data []struct {
			TxID     string `json:"txID"`
			BlockNumber int64 `json:"blockNumber"`
			BlockTimestamp int64 `json:"block_timestamp"`
			RawData  struct {
				Contract []struct {
					Type      string `json:"type"`
					Parameter struct {
						Value struct {
							Amount       int64  `json:"amount"`
							OwnerAddress string `json:"owner_address"`
							ToAddress    string `json:"to_address"`
						} `json:"value"`
					} `json:"parameter"`
				} `json:"contract"`
			} `json:"raw_data"`
			Ret []struct {
				ContractRet string `json:"contractRet"`
			} `json:"ret"`
		} `json:"data"`
	}
	path := fmt.Sprintf("/v1/accounts/%s/transactions?only_to=true&only_confirmed=true&limit=%d", address, limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("list transactions for %s: %w", address, err)
	}

	var events []NativeTransferEvent
	for _, tx := range out.Data {
		if len(tx.Ret) > 0 && tx.Ret[0].ContractRet != "SUCCESS" {
			continue
		}
		for _, contract := range tx.RawData.Contract {
			if contract.Type != "TransferContract" {
				continue
			}
			value := contract.Parameter.Value
			events = append(events, NativeTransferEvent{
				TxHash:      tx.TxID,
				From:        hexToBase58Lenient(value.OwnerAddress),
				To:          hexToBase58Lenient(value.ToAddress),
				AmountSun:   value.Amount,
				BlockNumber: tx.BlockNumber,
				Timestamp:   tx.BlockTimestamp,
			})
		}
	}
	return events, nil
}

// ListTRC20Transfers fetches recent confirmed token transfers into an
// address for one contract.
func (c *Client) ListTRC20Transfers(ctx context.Context, address, contract string, limit int) ([]TRC20TransferEvent, error) {
	var out struct {
		Data []struct {
			TransactionID string `json:"transaction_id"`
			From          string `json:"from"`
			To            string `json:"to"`
			Value         string `json:"value"`
			BlockTimestamp int64 `json:"block_timestamp"`
			TokenInfo     struct {
				Address string `json:"address"`
			} `json:"token_info"`
		} `json:"data"`
	}
	path := fmt.Sprintf("/v1/accounts/%s/transactions/trc20?only_to=true&only_confirmed=true&contract_address=%s&limit=%d", address, contract, limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("list trc20 transfers for %s: %w", address, err)
	}

	var events []TRC20TransferEvent
	for _, t := range out.Data {
		value, ok := new(big.Int).SetString(t.Value, 10)
		if !ok {
			return nil, fmt.Errorf("invalid trc20 value %q in %s", t.Value, t.TransactionID)
		}
		events = append(events, TRC20TransferEvent{
			TxHash:    t.TransactionID,
			From:      t.From,
			To:        t.To,
			Contract:  t.TokenInfo.Address,
			Value:     value,
			Timestamp: t.BlockTimestamp,
		})
	}
	return events, nil
}

// hexToBase58Lenient converts a 41-prefixed hex address, passing through
// values that are already base58.
func hexToBase58Lenient(addr string) string {
	if strings.HasPrefix(addr, "41") && len(addr) == 42 {
		if b58, err := HexToAddress(addr); err == nil {
			return b58
		}
	}
	return addr
}
