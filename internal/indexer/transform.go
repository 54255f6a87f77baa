package indexer

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type logFilter struct {
	Address   []common.Address `json:"address,omitempty"`
	FromBlock string           `json:"fromBlock"`
	ToBlock   string           `json:"toBlock"`
	Topics    [][]common.Hash  `json:"topics,omitempty"`
}

// BuildGetLogsBody renders the eth_getLogs request a provider fetch job posts.
func BuildGetLogsBody(id uint64, blocks BlockRange, addresses []common.Address, topic0 []common.Hash) ([]byte, error) {
	filter := logFilter{
		Address:   addresses,
		FromBlock: hexutil.EncodeUint64(blocks.From),
		ToBlock:   hexutil.EncodeUint64(blocks.To),
	}
	if len(topic0) > 0 {
		filter.Topics = [][]common.Hash{topic0}
	}
	return json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "eth_getLogs",
		Params:  []any{filter},
	})
}
