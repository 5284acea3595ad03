package ethereum

import (
	"bytes"
	"context"
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

// Block is a fetched block with full transaction objects.
type Block struct {
	Number       int64
	Hash         string
	Transactions []BlockTransaction
}

// BlockTransaction is one transaction within a block.
type BlockTransaction struct {
	Hash  string
	From  string
	To    string
	Value *big.Int
}

// Log is one ERC20 Transfer event.
type Log struct {
	TxHash      string
	BlockNumber int64
	Address     string
	From        string
	To          string
	Value       *big.Int
}

// Receipt is a transaction receipt.
type Receipt struct {
	TxHash      string
	BlockNumber int64
	Success     bool
}

// Client is an Ethereum JSON-RPC client with round-robin endpoint selection
// and a circuit breaker guarding the node pool.
type Client struct {
	httpClient *http.Client
	rpcURLs    []string
	currentIdx int
	mu         sync.Mutex
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger
}

// NewClient creates an Ethereum JSON-RPC client.
func NewClient(rpcURLs []string, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		rpcURLs:    rpcURLs,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "ethereum-rpc",
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

		body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
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
			return nil, domainerrors.ChainUnavailableError("ethereum", err)
		}
		return nil, err
	}

	return result.(json.RawMessage), nil
}

func (c *Client) callForBigInt(ctx context.Context, method string, params []interface{}) (*big.Int, error) {
	result, err := c.doRPC(ctx, method, params)
	if err != nil {
		return nil, err
	}

	var hexValue string
	if err := json.Unmarshal(result, &hexValue); err != nil {
		return nil, fmt.Errorf("parse %s result: %w", method, err)
	}

	return parseHexBig(hexValue)
}

// BlockNumber returns the latest block number.
func (c *Client) BlockNumber(ctx context.Context) (int64, error) {
	n, err := c.callForBigInt(ctx, "eth_blockNumber", []interface{}{})
	if err != nil {
		return 0, fmt.Errorf("eth_blockNumber: %w", err)
	}
	return n.Int64(), nil
}

// GetBalance fetches an address balance in wei at the latest block.
func (c *Client) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	wei, err := c.callForBigInt(ctx, "eth_getBalance", []interface{}{address, "latest"})
	if err != nil {
		return nil, fmt.Errorf("eth_getBalance for %s: %w", address, err)
	}
	return wei, nil
}

// GetTokenBalance calls balanceOf(address) on an ERC20 contract.
func (c *Client) GetTokenBalance(ctx context.Context, contract, address string) (*big.Int, error) {
	data := "0x70a08231" + leftPadAddress(address)
	result, err := c.doRPC(ctx, "eth_call", []interface{}{
		map[string]string{"to": contract, "data": data},
		"latest",
	})
	if err != nil {
		return nil, fmt.Errorf("eth_call balanceOf for %s: %w", address, err)
	}

	var hexValue string
	if err := json.Unmarshal(result, &hexValue); err != nil {
		return nil, fmt.Errorf("parse balanceOf result: %w", err)
	}

	return parseHexBig(hexValue)
}

// GetTransactionCount returns the pending nonce for an address.
func (c *Client) GetTransactionCount(ctx context.Context, address string) (uint64, error) {
	n, err := c.callForBigInt(ctx, "eth_getTransactionCount", []interface{}{address, "pending"})
	if err != nil {
		return 0, fmt.Errorf("eth_getTransactionCount for %s: %w", address, err)
	}
	return n.Uint64(), nil
}

// GasPrice returns the node's suggested gas price in wei.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	price, err := c.callForBigInt(ctx, "eth_gasPrice", []interface{}{})
	if err != nil {
		return nil, fmt.Errorf("eth_gasPrice: %w", err)
	}
	return price, nil
}

// ChainID returns the network chain id.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	id, err := c.callForBigInt(ctx, "eth_chainId", []interface{}{})
	if err != nil {
		return nil, fmt.Errorf("eth_chainId: %w", err)
	}
	return id, nil
}

// SendRawTransaction broadcasts a signed raw transaction.
func (c *Client) SendRawTransaction(ctx context.Context, rawTxHex string) (string, error) {
	result, err := c.doRPC(ctx, "eth_sendRawTransaction", []interface{}{rawTxHex})
	if err != nil {
		return "", fmt.Errorf("eth_sendRawTransaction: %w", err)
	}

	var txHash string
	if err := json.Unmarshal(result, &txHash); err != nil {
		return "", fmt.Errorf("parse eth_sendRawTransaction result: %w", err)
	}

	c.logger.Info("ethereum transaction sent", zap.String("tx_hash", txHash))
	return txHash, nil
}

// GetBlockByNumber fetches a block with full transaction objects.
func (c *Client) GetBlockByNumber(ctx context.Context, number int64) (*Block, error) {
	result, err := c.doRPC(ctx, "eth_getBlockByNumber", []interface{}{hexInt(number), true})
	if err != nil {
		return nil, fmt.Errorf("eth_getBlockByNumber %d: %w", number, err)
	}

	var parsed struct {
		Number       string `json:"number"`
		Hash         string `json:"hash"`
		Transactions []struct {
			Hash  string `json:"hash"`
			From  string `json:"from"`
			To    string `json:"to"`
			Value string `json:"value"`
		} `json:"transactions"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, fmt.Errorf("parse block %d: %w", number, err)
	}
	if parsed.Hash == "" {
		return nil, fmt.Errorf("block %d not available", number)
	}

	block := &Block{Number: number, Hash: parsed.Hash}
	for _, tx := range parsed.Transactions {
		value, err := parseHexBig(tx.Value)
		if err != nil {
			return nil, fmt.Errorf("parse tx value in block %d: %w", number, err)
		}
		block.Transactions = append(block.Transactions, BlockTransaction{
			Hash:  tx.Hash,
			From:  strings.ToLower(tx.From),
			To:    strings.ToLower(tx.To),
			Value: value,
		})
	}

	return block, nil
}

// erc20TransferTopic is keccak256("Transfer(address,address,uint256)").
const erc20TransferTopic = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

// GetTransferLogs fetches ERC20 Transfer events into an address within a
// block range.
func (c *Client) GetTransferLogs(ctx context.Context, contract, toAddress string, fromBlock, toBlock int64) ([]Log, error) {
	result, err := c.doRPC(ctx, "eth_getLogs", []interface{}{
		map[string]interface{}{
			"address":   contract,
			"fromBlock": hexInt(fromBlock),
			"toBlock":   hexInt(toBlock),
			"topics": []interface{}{
				erc20TransferTopic,
				nil,
				"0x" + leftPadAddress(toAddress),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("eth_getLogs: %w", err)
	}

	var parsed []struct {
		TransactionHash string   `json:"transactionHash"`
		BlockNumber     string   `json:"blockNumber"`
		Address         string   `json:"address"`
		Topics          []string `json:"topics"`
		Data            string   `json:"data"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, fmt.Errorf("parse eth_getLogs: %w", err)
	}

	var logs []Log
	for _, l := range parsed {
		if len(l.Topics) < 3 {
			continue
		}
		blockNumber, err := parseHexBig(l.BlockNumber)
		if err != nil {
			return nil, fmt.Errorf("parse log block number: %w", err)
		}
		value, err := parseHexBig(l.Data)
		if err != nil {
			return nil, fmt.Errorf("parse log value: %w", err)
		}
		logs = append(logs, Log{
			TxHash:      l.TransactionHash,
			BlockNumber: blockNumber.Int64(),
			Address:     strings.ToLower(l.Address),
			From:        topicToAddress(l.Topics[1]),
			To:          topicToAddress(l.Topics[2]),
			Value:       value,
		})
	}

	return logs, nil
}

// GetTransactionReceipt fetches a receipt, returning nil while pending.
func (c *Client) GetTransactionReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	result, err := c.doRPC(ctx, "eth_getTransactionReceipt", []interface{}{txHash})
	if err != nil {
		return nil, fmt.Errorf("eth_getTransactionReceipt %s: %w", txHash, err)
	}

	if string(result) == "null" || len(result) == 0 {
		return nil, nil
	}

	var parsed struct {
		BlockNumber string `json:"blockNumber"`
		Status      string `json:"status"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, fmt.Errorf("parse receipt: %w", err)
	}

	blockNumber, err := parseHexBig(parsed.BlockNumber)
	if err != nil {
		return nil, fmt.Errorf("parse receipt block number: %w", err)
	}

	return &Receipt{
		TxHash:      txHash,
		BlockNumber: blockNumber.Int64(),
		Success:     parsed.Status == "0x1",
	}, nil
}

func parseHexBig(s string) (*big.Int, error) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return big.NewInt(0), nil
	}
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return nil, fmt.Errorf("invalid hex quantity %q", s)
	}
	return n, nil
}

func hexInt(n int64) string {
	return fmt.Sprintf("0x%x", n)
}

// leftPadAddress strips the 0x prefix and pads to a 32-byte ABI word.
func leftPadAddress(address string) string {
	addr := strings.ToLower(strings.TrimPrefix(address, "0x"))
	return strings.Repeat("0", 64-len(addr)) + addr
}

// topicToAddress extracts the trailing 20 bytes of an indexed address topic.
func topicToAddress(topic string) string {
	t := strings.TrimPrefix(topic, "0x")
	if len(t) < 40 {
		return ""
	}
	return "0x" + t[len(t)-40:]
}
