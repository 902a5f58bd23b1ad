package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// LogFilterer 日志查询所需的最小接口
type LogFilterer interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// GetBatchBlockLogs 批量获取区块范围内指定合约和事件的日志
func GetBatchBlockLogs(ctx context.Context, client LogFilterer, contractAddresses []common.Address, topics []common.Hash, fromBlock, toBlock uint64) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: contractAddresses,
	}
	if len(topics) > 0 {
		query.Topics = [][]common.Hash{topics}
	}
	return client.FilterLogs(ctx, query)
}
