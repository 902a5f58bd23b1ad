package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/blues/fundledger/internal/config"
	"github.com/blues/fundledger/internal/logger"
	"github.com/blues/fundledger/internal/metrics"
	"github.com/blues/fundledger/internal/money"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// 等待注册交易打包的超时, 为单次调用超时的倍数
const mineTimeoutFactor = 10

// Backend 链节点能力, ethclient.Client 满足该接口
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	BlockNumber(ctx context.Context) (uint64, error)
}

// Gateway 链上结算网关
type Gateway interface {
	RegisterProject(ctx context.Context, name, description string, goalWei *big.Int, durationSeconds int64) (*Registration, error)
	PrepareContribution(ctx context.Context, chainProjectId int64, valueWei *big.Int, from common.Address) (*UnsignedTx, error)
	ComputeFee(amountWei *big.Int) *big.Int
	GetProjectDetails(ctx context.Context, chainProjectId int64) (*ProjectDetails, error)
	VerifyContribution(ctx context.Context, txHash string, chainProjectId int64, from common.Address, valueWei *big.Int) (*Settlement, error)
	ScanContributions(ctx context.Context, fromBlock, toBlock uint64) ([]ContributionEvent, error)
	LatestBlock(ctx context.Context) (uint64, error)
}

// Registration 链上注册结果
type Registration struct {
	ChainProjectId int64
	TxHash         string
	BlockNumber    uint64
}

// UnsignedTx 由捐款人钱包签名并发送的交易
type UnsignedTx struct {
	From     common.Address `json:"from"`
	To       common.Address `json:"to"`
	Value    *hexutil.Big   `json:"value"`
	Gas      hexutil.Uint64 `json:"gas"`
	GasPrice *hexutil.Big   `json:"gasPrice,omitempty"`
	Nonce    hexutil.Uint64 `json:"nonce"`
	ChainId  *hexutil.Big   `json:"chainId"`
	Data     hexutil.Bytes  `json:"data"`
}

// Settlement 已确认的链上捐款
type Settlement struct {
	TxHash         string
	BlockNumber    uint64
	ChainProjectId int64
	Contributor    common.Address
	ValueWei       *big.Int
}

// EthGateway 基于 go-ethereum 的网关实现
type EthGateway struct {
	backend       Backend
	contract      *Contract
	bound         *bind.BoundContract
	key           *ecdsa.PrivateKey
	platform      common.Address
	chainId       *big.Int
	feeBps        int64
	timeout       time.Duration
	confirmations uint64
	gasFallback   uint64
	gasBuffer     uint64
}

// NewEthGateway 创建网关
func NewEthGateway(backend Backend, contract *Contract, cfg config.ChainConfig, feeBps int64) (*EthGateway, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid platform private key: %w", err)
	}

	confirmations := uint64(1)
	if cfg.Confirmations > 1 {
		confirmations = uint64(cfg.Confirmations)
	}
	gasFallback := cfg.GasLimitFallback
	if gasFallback == 0 {
		gasFallback = 300000
	}
	timeout := cfg.CallTimeoutDuration()
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &EthGateway{
		backend:       backend,
		contract:      contract,
		bound:         bind.NewBoundContract(contract.GetAddress(), contract.GetABI(), backend, backend, backend),
		key:           key,
		platform:      crypto.PubkeyToAddress(key.PublicKey),
		chainId:       big.NewInt(cfg.ChainId),
		feeBps:        feeBps,
		timeout:       timeout,
		confirmations: confirmations,
		gasFallback:   gasFallback,
		gasBuffer:     uint64(max(cfg.GasBufferPercent, 0)),
	}, nil
}

// NewGatewayFromManager 使用管理器中的客户端与资金合约创建网关
func NewGatewayFromManager(m *Manager, feeBps int64) (*EthGateway, error) {
	contract, err := m.GetContract(FundingContractName)
	if err != nil {
		return nil, err
	}
	return NewEthGateway(m.GetClient(), contract, m.GetConfig(), feeBps)
}

// PlatformAddress 平台签名地址
func (g *EthGateway) PlatformAddress() common.Address {
	return g.platform
}

// RegisterProject 以平台账户调用 createProject 并等待打包
func (g *EthGateway) RegisterProject(ctx context.Context, name, description string, goalWei *big.Int, durationSeconds int64) (reg *Registration, err error) {
	start := time.Now()
	defer func() { metrics.ObserveChainCall("register_project", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, g.timeout*mineTimeoutFactor)
	defer cancel()

	opts, err := bind.NewKeyedTransactorWithChainID(g.key, g.chainId)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	opts.Context = ctx

	tx, err := g.bound.Transact(opts, "createProject", name, description, goalWei, big.NewInt(durationSeconds))
	if err != nil {
		return nil, unavailable("createProject", err)
	}
	logger.Info("Project registration sent: %s", tx.Hash().Hex())

	receipt, err := bind.WaitMined(ctx, g.backend, tx)
	if err != nil {
		return nil, unavailable("wait createProject", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: createProject reverted in tx %s", ErrTxRejected, tx.Hash().Hex())
	}

	projectId, err := g.contract.ParseProjectCreated(receipt.Logs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTxRejected, err)
	}

	logger.Info("Project registered on chain: id=%d tx=%s block=%d", projectId, tx.Hash().Hex(), receipt.BlockNumber.Uint64())
	return &Registration{
		ChainProjectId: projectId,
		TxHash:         tx.Hash().Hex(),
		BlockNumber:    receipt.BlockNumber.Uint64(),
	}, nil
}

// GetProjectDetails 读取链上项目状态
func (g *EthGateway) GetProjectDetails(ctx context.Context, chainProjectId int64) (details *ProjectDetails, err error) {
	start := time.Now()
	defer func() { metrics.ObserveChainCall("get_project_details", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var out []interface{}
	if err := g.bound.Call(&bind.CallOpts{Context: ctx}, &out, "projects", big.NewInt(chainProjectId)); err != nil {
		return nil, unavailable("projects", err)
	}
	return decodeProject(out)
}

// PrepareContribution 构造 contribute(projectId) 交易, 不签名不发送
func (g *EthGateway) PrepareContribution(ctx context.Context, chainProjectId int64, valueWei *big.Int, from common.Address) (utx *UnsignedTx, err error) {
	details, err := g.GetProjectDetails(ctx, chainProjectId)
	if err != nil {
		return nil, err
	}
	if !details.Exists {
		return nil, fmt.Errorf("%w: project %d does not exist", ErrProjectUnavailable, chainProjectId)
	}
	if details.Funded {
		return nil, fmt.Errorf("%w: project %d is already fully funded", ErrProjectUnavailable, chainProjectId)
	}

	start := time.Now()
	defer func() { metrics.ObserveChainCall("prepare_contribution", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	data, err := g.contract.GetABI().Pack("contribute", big.NewInt(chainProjectId))
	if err != nil {
		return nil, fmt.Errorf("failed to pack contribute: %w", err)
	}
	to := g.contract.GetAddress()

	gas, err := g.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: valueWei, Data: data})
	if err != nil {
		logger.Warn("Gas estimation failed for project %d, using fallback %d: %v", chainProjectId, g.gasFallback, err)
		gas = g.gasFallback
	} else {
		gas = gas * (100 + g.gasBuffer) / 100
	}

	nonce, err := g.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, unavailable("nonce", err)
	}
	gasPrice, err := g.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, unavailable("gas price", err)
	}

	logger.Info("Contribution transaction prepared: project=%d gas=%d value=%s wei", chainProjectId, gas, valueWei)
	return &UnsignedTx{
		From:     from,
		To:       to,
		Value:    (*hexutil.Big)(new(big.Int).Set(valueWei)),
		Gas:      hexutil.Uint64(gas),
		GasPrice: (*hexutil.Big)(gasPrice),
		Nonce:    hexutil.Uint64(nonce),
		ChainId:  (*hexutil.Big)(new(big.Int).Set(g.chainId)),
		Data:     data,
	}, nil
}

// ComputeFee 平台费
func (g *EthGateway) ComputeFee(amountWei *big.Int) *big.Int {
	return money.FeeWei(amountWei, g.feeBps)
}

// VerifyContribution 校验交易回执: 成功, 确认数足够, 且包含匹配的 ContributionMade 事件
func (g *EthGateway) VerifyContribution(ctx context.Context, txHash string, chainProjectId int64, from common.Address, valueWei *big.Int) (s *Settlement, err error) {
	start := time.Now()
	defer func() {
		// 业务层面的不匹配不算链调用失败
		callErr := err
		if errors.Is(err, ErrTxRejected) || errors.Is(err, ErrTxNotFound) {
			callErr = nil
		}
		metrics.ObserveChainCall("verify_contribution", start, callErr)
	}()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	hash := common.HexToHash(txHash)
	receipt, err := g.backend.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTxNotFound, txHash)
		}
		return nil, unavailable("receipt", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: tx %s reverted", ErrTxRejected, txHash)
	}

	latest, err := g.backend.BlockNumber(ctx)
	if err != nil {
		return nil, unavailable("block number", err)
	}
	mined := receipt.BlockNumber.Uint64()
	if latest < mined || latest-mined+1 < g.confirmations {
		return nil, fmt.Errorf("%w: tx %s has not reached %d confirmations", ErrTxNotFound, txHash, g.confirmations)
	}

	for _, l := range receipt.Logs {
		if l == nil || l.Address != g.contract.GetAddress() {
			continue
		}
		event, err := g.contract.ParseContribution(*l)
		if err != nil {
			continue
		}
		if event.ChainProjectId != chainProjectId || event.Contributor != from {
			continue
		}
		if event.AmountWei.Cmp(valueWei) != 0 {
			return nil, fmt.Errorf("%w: tx %s transferred %s wei, expected %s", ErrTxRejected, txHash, event.AmountWei, valueWei)
		}
		return &Settlement{
			TxHash:         hash.Hex(),
			BlockNumber:    mined,
			ChainProjectId: chainProjectId,
			Contributor:    from,
			ValueWei:       event.AmountWei,
		}, nil
	}
	return nil, fmt.Errorf("%w: tx %s has no matching %s event", ErrTxRejected, txHash, EventContributionMade)
}

// ScanContributions 扫描区块范围内的 ContributionMade 事件
func (g *EthGateway) ScanContributions(ctx context.Context, fromBlock, toBlock uint64) (events []ContributionEvent, err error) {
	start := time.Now()
	defer func() { metrics.ObserveChainCall("scan_contributions", start, err) }()

	eventId, err := g.contract.EventID(EventContributionMade)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	logs, err := GetBatchBlockLogs(ctx, g.backend, []common.Address{g.contract.GetAddress()}, []common.Hash{eventId}, fromBlock, toBlock)
	if err != nil {
		return nil, unavailable("filter logs", err)
	}

	events = make([]ContributionEvent, 0, len(logs))
	for _, l := range logs {
		if l.Removed {
			continue
		}
		event, err := g.contract.ParseContribution(l)
		if err != nil {
			logger.Warn("Skipping malformed contribution log %s#%d: %v", l.TxHash.Hex(), l.Index, err)
			continue
		}
		events = append(events, *event)
	}
	return events, nil
}

// LatestBlock 最新区块号
func (g *EthGateway) LatestBlock(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	block, err := g.backend.BlockNumber(ctx)
	if err != nil {
		return 0, unavailable("block number", err)
	}
	return block, nil
}
