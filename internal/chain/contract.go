package chain

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/blues/fundledger/internal/config"
	"github.com/blues/fundledger/internal/logger"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const (
	// FundingContractName 资金合约在配置中的名称
	FundingContractName = "FundingContract"

	EventProjectCreated   = "ProjectCreated"
	EventContributionMade = "ContributionMade"
)

//go:embed FundingContract.abi.json
var fundingContractABI []byte

// Contract 合约工具类
type Contract struct {
	address  common.Address // 合约地址
	abi      abi.ABI        // 合约ABI
	name     string         // 合约名称
	blockNum int64          // 合约部署的区块号
	chainId  int64          // 链ID
}

// ContributionEvent ContributionMade 事件
type ContributionEvent struct {
	Address        common.Address // 合约地址
	ChainProjectId int64
	Contributor    common.Address
	AmountWei      *big.Int
	TxHash         string
	LogIndex       uint
	BlockNumber    uint64
}

// ProjectDetails projects(uint256) 的返回值
type ProjectDetails struct {
	Name        string
	Description string
	Creator     common.Address
	Goal        *big.Int
	Raised      *big.Int
	Deadline    time.Time
	Funded      bool
	Exists      bool
}

// NewContract 创建合约实例, 未配置 ABI 文件时使用内置的资金合约 ABI
func NewContract(name string, contractCfg config.ContractConfig, chainCfg config.ChainConfig) (*Contract, error) {
	abiData := fundingContractABI
	if contractCfg.ABIPath != "" {
		data, err := os.ReadFile(contractCfg.ABIPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load ABI from %s: %w", contractCfg.ABIPath, err)
		}
		abiData = data
	}

	parsedABI, err := parseABI(abiData)
	if err != nil {
		return nil, err
	}

	if !common.IsHexAddress(contractCfg.Address) {
		return nil, fmt.Errorf("invalid contract address %q", contractCfg.Address)
	}

	return &Contract{
		address:  common.HexToAddress(contractCfg.Address),
		abi:      parsedABI,
		name:     name,
		blockNum: contractCfg.BlockNum,
		chainId:  chainCfg.ChainId,
	}, nil
}

// parseABI 同时支持完整编译输出和纯 ABI 数组
func parseABI(data []byte) (abi.ABI, error) {
	var compiledOutput struct {
		ABI json.RawMessage `json:"abi"`
	}
	if err := json.Unmarshal(data, &compiledOutput); err == nil && compiledOutput.ABI != nil {
		parsed, err := abi.JSON(bytes.NewReader(compiledOutput.ABI))
		if err != nil {
			return abi.ABI{}, fmt.Errorf("failed to parse ABI from compiled output: %w", err)
		}
		return parsed, nil
	}
	parsed, err := abi.JSON(bytes.NewReader(data))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to parse ABI: %w", err)
	}
	return parsed, nil
}

// GetAddress 获取合约地址
func (c *Contract) GetAddress() common.Address {
	return c.address
}

// GetABI 获取合约ABI
func (c *Contract) GetABI() abi.ABI {
	return c.abi
}

// GetName 获取合约名称
func (c *Contract) GetName() string {
	return c.name
}

// GetBlockNum 获取合约部署区块号
func (c *Contract) GetBlockNum() int64 {
	return c.blockNum
}

// GetChainId 获取链ID
func (c *Contract) GetChainId() int64 {
	return c.chainId
}

// EventID 事件签名
func (c *Contract) EventID(name string) (common.Hash, error) {
	event, ok := c.abi.Events[name]
	if !ok {
		return common.Hash{}, fmt.Errorf("event %s not in ABI of %s", name, c.name)
	}
	return event.ID, nil
}

// ParseEvent 解析事件日志
func (c *Contract) ParseEvent(log types.Log) (map[string]interface{}, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("log without topics in tx %s", log.TxHash.Hex())
	}
	eventSignature := log.Topics[0]

	for eventName, event := range c.abi.Events {
		if event.ID == eventSignature {
			return c.parseEvent(eventName, log, event)
		}
	}

	// 未知事件
	logger.Warn("Unknown event signature: %s in contract %s", eventSignature.Hex(), c.name)
	return map[string]interface{}{
		"eventName":   "Unknown",
		"signature":   eventSignature.Hex(),
		"contract":    c.name,
		"txHash":      log.TxHash.Hex(),
		"blockNumber": log.BlockNumber,
		"logIndex":    log.Index,
	}, nil
}

// parseEvent 解析事件
func (c *Contract) parseEvent(eventName string, log types.Log, event abi.Event) (map[string]interface{}, error) {
	result := make(map[string]interface{})
	result["eventName"] = eventName
	result["contract"] = c.name
	result["txHash"] = log.TxHash.Hex()
	result["blockNumber"] = log.BlockNumber
	result["logIndex"] = log.Index

	// 解析索引参数, topic 序号只对 indexed 参数递增
	topicIdx := 1
	for _, input := range event.Inputs {
		if !input.Indexed {
			continue
		}
		if topicIdx >= len(log.Topics) {
			return nil, fmt.Errorf("event %s missing topic for %s", eventName, input.Name)
		}
		result[input.Name] = parseTopicValue(log.Topics[topicIdx], input.Type)
		topicIdx++
	}

	// 解析非索引参数
	nonIndexed := event.Inputs.NonIndexed()
	if len(nonIndexed) > 0 {
		values, err := c.abi.Unpack(eventName, log.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to unpack %s data: %w", eventName, err)
		}
		for i, input := range nonIndexed {
			if i < len(values) {
				result[input.Name] = values[i]
			}
		}
	}

	return result, nil
}

// parseTopicValue 解析主题值
func parseTopicValue(topic common.Hash, t abi.Type) interface{} {
	switch t.T {
	case abi.UintTy, abi.IntTy:
		return new(big.Int).SetBytes(topic.Bytes())
	case abi.AddressTy:
		return common.BytesToAddress(topic.Bytes())
	case abi.BoolTy:
		return new(big.Int).SetBytes(topic.Bytes()).Sign() > 0
	case abi.BytesTy, abi.FixedBytesTy:
		return topic.Bytes()
	default:
		return topic.Hex()
	}
}

// ParseContribution 将日志解析为 ContributionMade 事件
func (c *Contract) ParseContribution(log types.Log) (*ContributionEvent, error) {
	fields, err := c.ParseEvent(log)
	if err != nil {
		return nil, err
	}
	if fields["eventName"] != EventContributionMade {
		return nil, fmt.Errorf("log %s#%d is %v, not %s", log.TxHash.Hex(), log.Index, fields["eventName"], EventContributionMade)
	}

	projectId, ok1 := fields["projectId"].(*big.Int)
	contributor, ok2 := fields["contributor"].(common.Address)
	amount, ok3 := fields["amount"].(*big.Int)
	if !ok1 || !ok2 || !ok3 {
		return nil, fmt.Errorf("malformed %s log in tx %s", EventContributionMade, log.TxHash.Hex())
	}
	if !projectId.IsInt64() {
		return nil, fmt.Errorf("project id %s out of range", projectId)
	}

	return &ContributionEvent{
		Address:        log.Address,
		ChainProjectId: projectId.Int64(),
		Contributor:    contributor,
		AmountWei:      amount,
		TxHash:         log.TxHash.Hex(),
		LogIndex:       log.Index,
		BlockNumber:    log.BlockNumber,
	}, nil
}

// ParseProjectCreated 从回执日志中读取新项目的链上 Id
func (c *Contract) ParseProjectCreated(logs []*types.Log) (int64, error) {
	for _, l := range logs {
		if l == nil || l.Address != c.address || len(l.Topics) == 0 {
			continue
		}
		fields, err := c.ParseEvent(*l)
		if err != nil || fields["eventName"] != EventProjectCreated {
			continue
		}
		id, ok := fields["projectId"].(*big.Int)
		if !ok || !id.IsInt64() {
			return 0, fmt.Errorf("malformed %s log in tx %s", EventProjectCreated, l.TxHash.Hex())
		}
		return id.Int64(), nil
	}
	return 0, fmt.Errorf("no %s event in receipt", EventProjectCreated)
}

// decodeProject 解析 projects(uint256) 的返回值
func decodeProject(out []interface{}) (*ProjectDetails, error) {
	if len(out) != 8 {
		return nil, fmt.Errorf("projects() returned %d values, want 8", len(out))
	}
	name, ok0 := out[0].(string)
	desc, ok1 := out[1].(string)
	creator, ok2 := out[2].(common.Address)
	goal, ok3 := out[3].(*big.Int)
	raised, ok4 := out[4].(*big.Int)
	deadline, ok5 := out[5].(*big.Int)
	funded, ok6 := out[6].(bool)
	exists, ok7 := out[7].(bool)
	if !(ok0 && ok1 && ok2 && ok3 && ok4 && ok5 && ok6 && ok7) {
		return nil, fmt.Errorf("unexpected projects() output types")
	}
	return &ProjectDetails{
		Name:        name,
		Description: desc,
		Creator:     creator,
		Goal:        goal,
		Raised:      raised,
		Deadline:    time.Unix(deadline.Int64(), 0).UTC(),
		Funded:      funded,
		Exists:      exists,
	}, nil
}
