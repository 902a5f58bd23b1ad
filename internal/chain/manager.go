package chain

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/blues/fundledger/internal/config"
	"github.com/blues/fundledger/internal/logger"
	"github.com/ethereum/go-ethereum/ethclient"
)

var supportedChainTypes = map[string]bool{
	"ethereum":  true,
	"avalanche": true,
	"polygon":   true,
	"bsc":       true,
	"arbitrum":  true,
	"optimism":  true,
}

// Manager 单链管理器
type Manager struct {
	mu        sync.RWMutex
	contracts map[string]*Contract // 合约映射: "contractName" -> Contract
	client    *ethclient.Client    // 链客户端
	config    config.ChainConfig   // 存储链配置
}

// NewManager 创建单链管理器
func NewManager(ctx context.Context, cfg config.ChainConfig) (*Manager, error) {
	manager := &Manager{
		contracts: make(map[string]*Contract),
		config:    cfg,
	}

	// 初始化客户端
	if err := manager.initClient(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize client: %w", err)
	}

	// 初始化所有启用的合约
	if err := manager.initContracts(cfg); err != nil {
		manager.client.Close()
		return nil, fmt.Errorf("failed to initialize contracts: %w", err)
	}

	return manager, nil
}

// initClient 初始化客户端
func (m *Manager) initClient(ctx context.Context, cfg config.ChainConfig) error {
	logger.Info("Initializing chain client (type: %s, id: %d)", cfg.ChainType, cfg.ChainId)

	if cfg.RpcUrl == "" {
		return fmt.Errorf("no RPC URL configured")
	}
	if !supportedChainTypes[cfg.ChainType] {
		return fmt.Errorf("unsupported chain type %s", cfg.ChainType)
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.CallTimeoutDuration())
	defer cancel()

	client, err := ethclient.DialContext(dialCtx, cfg.RpcUrl)
	if err != nil {
		return fmt.Errorf("failed to create %s client: %w", cfg.ChainType, err)
	}

	// 测试连接并校验链ID
	chainId, err := client.ChainID(dialCtx)
	if err != nil {
		client.Close()
		return fmt.Errorf("client connection test failed (%s): %w", cfg.ChainType, err)
	}
	if cfg.ChainId != 0 && chainId.Int64() != cfg.ChainId {
		client.Close()
		return fmt.Errorf("chain id mismatch: configured %d, node reports %s", cfg.ChainId, chainId)
	}

	m.client = client
	logger.Info("Successfully created %s client", cfg.ChainType)
	return nil
}

// initContracts 初始化所有合约
func (m *Manager) initContracts(cfg config.ChainConfig) error {
	for contractName, contractCfg := range cfg.Contracts {
		if !contractCfg.Enabled {
			logger.Info("Skipping disabled contract: %s", contractName)
			continue
		}

		logger.Info("Initializing contract: %s (address: %s)", contractName, contractCfg.Address)
		contract, err := NewContract(contractName, contractCfg, cfg)
		if err != nil {
			return fmt.Errorf("failed to create contract %s: %w", contractName, err)
		}
		m.contracts[strings.ToLower(contractName)] = contract
	}

	// viper 读取的 map 键为小写
	if _, ok := m.contracts[strings.ToLower(FundingContractName)]; !ok {
		return fmt.Errorf("contract %s is not configured", FundingContractName)
	}

	logger.Info("Successfully initialized %d contracts", len(m.contracts))
	return nil
}

// GetClient 获取客户端
func (m *Manager) GetClient() *ethclient.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

// GetContract 获取指定合约
func (m *Manager) GetContract(contractName string) (*Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	contract, exists := m.contracts[strings.ToLower(contractName)]
	if !exists {
		return nil, fmt.Errorf("contract %s not found", contractName)
	}
	return contract, nil
}

// GetConfig 获取链配置
func (m *Manager) GetConfig() config.ChainConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetHealthStatus 获取健康状态
func (m *Manager) GetHealthStatus(ctx context.Context) map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	health := map[string]interface{}{
		"chain_type":    m.config.ChainType,
		"chain_id":      m.config.ChainId,
		"client_status": "connected",
	}

	if m.client == nil {
		health["client_status"] = "not_initialized"
	} else {
		checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if block, err := m.client.BlockNumber(checkCtx); err != nil {
			health["client_status"] = "disconnected"
		} else {
			health["latest_block"] = block
		}
	}

	contracts := make(map[string]interface{}, len(m.contracts))
	for contractName, contract := range m.contracts {
		contracts[contractName] = map[string]interface{}{
			"address":   contract.GetAddress().Hex(),
			"chain_id":  contract.GetChainId(),
			"block_num": contract.GetBlockNum(),
		}
	}
	health["contracts"] = contracts

	return health
}

// Close 关闭管理器
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil {
		m.client.Close()
		m.client = nil
	}

	logger.Info("Chain manager closed")
	return nil
}
