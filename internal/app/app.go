// Package app 组装服务依赖, 供 server 和 fundctl 共用
package app

import (
	"context"
	"fmt"

	"github.com/blues/fundledger/internal/chain"
	"github.com/blues/fundledger/internal/config"
	"github.com/blues/fundledger/internal/database"
	"github.com/blues/fundledger/internal/handler"
	"github.com/blues/fundledger/internal/logger"
	"github.com/blues/fundledger/internal/logic"
	"github.com/blues/fundledger/internal/repository"
	"github.com/blues/fundledger/internal/task"
	"gorm.io/gorm"
)

// App 已初始化的服务组件
type App struct {
	Config *config.Config
	DB     *gorm.DB

	ChainManager *chain.Manager // 未启用链上结算时为 nil
	Gateway      chain.Gateway  // 未启用链上结算时为 nil

	Projects *repository.ProjectRepository
	Ledger   *repository.LedgerRepository

	ProjectLogic    *logic.ProjectLogic
	ContributeLogic *logic.ContributeRecordLogic
	FundingLogic    *logic.FundingLogic
}

// Open 连接数据库与链节点并创建业务组件
func Open(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := database.Init(cfg.Database)
	if err != nil {
		return nil, err
	}

	var manager *chain.Manager
	var gateway chain.Gateway
	if cfg.Chain.Enabled {
		manager, err = chain.NewManager(ctx, cfg.Chain)
		if err != nil {
			_ = database.Close(db)
			return nil, fmt.Errorf("failed to initialize chain manager: %w", err)
		}
		gw, err := chain.NewGatewayFromManager(manager, cfg.Funding.FeeRateBps)
		if err != nil {
			_ = manager.Close()
			_ = database.Close(db)
			return nil, fmt.Errorf("failed to initialize chain gateway: %w", err)
		}
		gateway = gw
		logger.Info("On-chain settlement enabled, platform address %s", gw.PlatformAddress().Hex())
	} else {
		logger.Info("On-chain settlement disabled, running as off-chain ledger")
	}

	a := New(cfg, db, gateway)
	a.ChainManager = manager
	return a, nil
}

// New 基于已有连接创建业务组件, gateway 可为 nil
func New(cfg *config.Config, db *gorm.DB, gateway chain.Gateway) *App {
	projects := repository.NewProjectRepository(db)
	ledger := repository.NewLedgerRepository(db)
	contribute := logic.NewContributeRecordLogic(projects, ledger, cfg.Funding)
	return &App{
		Config:          cfg,
		DB:              db,
		Gateway:         gateway,
		Projects:        projects,
		Ledger:          ledger,
		ProjectLogic:    logic.NewProjectLogic(projects, ledger, gateway, cfg.Funding),
		ContributeLogic: contribute,
		FundingLogic:    logic.NewFundingLogic(projects, ledger, contribute, gateway, cfg.Funding),
	}
}

// ChainHealth 健康检查使用, 未启用时返回 nil 接口
func (a *App) ChainHealth() handler.ChainHealth {
	if a.ChainManager == nil {
		return nil
	}
	return a.ChainManager
}

// TaskDependencies 定时任务依赖
func (a *App) TaskDependencies() task.Dependencies {
	return task.Dependencies{
		Config:   a.Config,
		Projects: a.ProjectLogic,
		Funding:  a.FundingLogic,
		Ledger:   a.Ledger,
		Gateway:  a.Gateway,
	}
}

// Close 释放链客户端和数据库连接
func (a *App) Close() {
	if a.ChainManager != nil {
		_ = a.ChainManager.Close()
	}
	if err := database.Close(a.DB); err != nil {
		logger.Error("Failed to close database: %v", err)
	}
}
