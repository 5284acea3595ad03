package ethereum

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/custody-service/custody_service/internal/infrastructure/config"
)

const depositAddress = "0x7e5f4552091a69125d5dfcb7b8c2659029395bdf"

// fakeNode is a scripted JSON-RPC endpoint recording which blocks and log
// ranges the adapter asked for.
type fakeNode struct {
	mu           sync.Mutex
	latest       int64
	transactions map[int64][]map[string]string
	blockFetches []int64
	logRanges    [][2]int64
}

func (n *fakeNode) setLatest(latest int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.latest = latest
}

func (n *fakeNode) addTransaction(block int64, hash, from, valueHex string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.transactions == nil {
		n.transactions = map[int64][]map[string]string{}
	}
	n.transactions[block] = append(n.transactions[block], map[string]string{
		"hash":  hash,
		"from":  from,
		"to":    depositAddress,
		"value": valueHex,
	})
}

func parseHexParam(t *testing.T, raw interface{}) int64 {
	t.Helper()
	s, ok := raw.(string)
	require.True(t, ok)
	n, err := strconv.ParseInt(strings.TrimPrefix(s, "0x"), 16, 64)
	require.NoError(t, err)
	return n
}

func (n *fakeNode) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string        `json:"method"`
			Params []interface{} `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		n.mu.Lock()
		defer n.mu.Unlock()

		var result interface{}
		switch req.Method {
		case "eth_blockNumber":
			result = fmt.Sprintf("0x%x", n.latest)
		case "eth_getBlockByNumber":
			number := parseHexParam(t, req.Params[0])
			n.blockFetches = append(n.blockFetches, number)
			txs := n.transactions[number]
			if txs == nil {
				txs = []map[string]string{}
			}
			result = map[string]interface{}{
				"number":       fmt.Sprintf("0x%x", number),
				"hash":         fmt.Sprintf("0xb%x", number),
				"transactions": txs,
			}
		case "eth_getLogs":
			filter, ok := req.Params[0].(map[string]interface{})
			require.True(t, ok)
			n.logRanges = append(n.logRanges, [2]int64{
				parseHexParam(t, filter["fromBlock"]),
				parseHexParam(t, filter["toBlock"]),
			})
			result = []interface{}{}
		default:
			t.Fatalf("unexpected RPC method %s", req.Method)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      1,
			"result":  result,
		})
	}
}

func TestListInboundTransfersNarrowsToNewBlocks(t *testing.T) {
	node := &fakeNode{latest: 100}
	node.addTransaction(98, "0xaaa", "0x1111111111111111111111111111111111111111", "0xde0b6b3a7640000")
	server := httptest.NewServer(node.handler(t))
	defer server.Close()

	adapter := NewAdapter(config.ChainConfig{
		RPCURLs:       []string{server.URL},
		Confirmations: 1,
	}, zap.NewNop())

	transfers, err := adapter.ListInboundTransfers(context.Background(), depositAddress, 3)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, "0xaaa", transfers[0].TxHash)
	assert.Equal(t, int64(98), transfers[0].BlockNumber)
	assert.True(t, transfers[0].Amount.Equal(decimal.NewFromInt(1)))

	// Two new blocks arrive; the rescan must start past the last scanned
	// block instead of re-reading 99 and 100.
	node.setLatest(102)
	node.addTransaction(101, "0xbbb", "0x2222222222222222222222222222222222222222", "0xde0b6b3a7640000")

	transfers, err = adapter.ListInboundTransfers(context.Background(), depositAddress, 3)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, "0xbbb", transfers[0].TxHash)

	node.mu.Lock()
	defer node.mu.Unlock()
	assert.Equal(t, []int64{98, 99, 100, 101, 102}, node.blockFetches)
	require.Len(t, node.logRanges, 2)
	assert.Equal(t, [2]int64{98, 100}, node.logRanges[0])
	assert.Equal(t, [2]int64{101, 102}, node.logRanges[1])
}

func TestListInboundTransfersSkipsWhenNoNewBlocks(t *testing.T) {
	node := &fakeNode{latest: 100}
	server := httptest.NewServer(node.handler(t))
	defer server.Close()

	adapter := NewAdapter(config.ChainConfig{
		RPCURLs:       []string{server.URL},
		Confirmations: 1,
	}, zap.NewNop())

	_, err := adapter.ListInboundTransfers(context.Background(), depositAddress, 3)
	require.NoError(t, err)

	node.mu.Lock()
	firstFetches := len(node.blockFetches)
	node.mu.Unlock()

	// Tip unchanged: the second scan ends before touching any block
	transfers, err := adapter.ListInboundTransfers(context.Background(), depositAddress, 3)
	require.NoError(t, err)
	assert.Empty(t, transfers)

	node.mu.Lock()
	defer node.mu.Unlock()
	assert.Len(t, node.blockFetches, firstFetches)
	assert.Len(t, node.logRanges, 1)
}
