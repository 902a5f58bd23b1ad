package logic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blues/fundledger/internal/apperr"
	"github.com/blues/fundledger/internal/config"
	"github.com/blues/fundledger/internal/logger"
	"github.com/blues/fundledger/internal/model"
	"github.com/blues/fundledger/internal/money"
	"github.com/blues/fundledger/internal/repository"
	"github.com/shopspring/decimal"
)

// RecordRequest 一次捐款登记
type RecordRequest struct {
	ProjectId   string
	Contributor *model.Principal
	Amount      int64 // 最小单位
	// RequireWallet 为 true 时捐款人必须绑定钱包
	RequireWallet bool
	// Address 链上付款地址, 链下项目可为空
	Address string
}

// ContributeStats 项目捐款统计
type ContributeStats struct {
	TotalContributions int64           `json:"total_contributions"`
	PendingCount       int64           `json:"pending_count"`
	CompletedCount     int64           `json:"completed_count"`
	Pledged            decimal.Decimal `json:"pledged"`
	Settled            decimal.Decimal `json:"settled"`
	UniqueContributors int64           `json:"unique_contributors"`
	AverageAmount      decimal.Decimal `json:"average_amount"`
}

// ContributeRecordLogic 捐款登记, 项目 funds_raised 只经由这里增加
type ContributeRecordLogic struct {
	projects *repository.ProjectRepository
	ledger   *repository.LedgerRepository
	cfg      config.FundingConfig
	now      func() time.Time
}

// NewContributeRecordLogic 创建捐款登记业务逻辑
func NewContributeRecordLogic(projects *repository.ProjectRepository, ledger *repository.LedgerRepository, cfg config.FundingConfig) *ContributeRecordLogic {
	return &ContributeRecordLogic{
		projects: projects,
		ledger:   ledger,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Validate 按固定顺序校验捐款前置条件: 状态, 自捐, 钱包, 目标金额
func (c *ContributeRecordLogic) Validate(project *model.ProjectModel, contributor *model.Principal, amount int64, requireWallet bool) error {
	if project.Status != model.ProjectStatusActive {
		return errProjectInactive
	}
	if contributor.Id == project.CreatedBy {
		return errSelfFunding
	}
	if requireWallet && !contributor.HasWallet() {
		return errWalletRequired
	}
	if amount > project.Remaining() {
		return errGoalExceeded
	}
	return nil
}

// Record 校验并登记一笔 pending 捐款, 额度占用与记录追加在同一事务中完成
func (c *ContributeRecordLogic) Record(ctx context.Context, req RecordRequest) (*model.ContributionModel, error) {
	if req.Amount <= 0 {
		return nil, errInvalidAmount
	}
	if req.Contributor == nil || req.Contributor.Id == "" {
		return nil, apperr.Unauthorized("请先登录")
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		project, err := c.projects.Get(ctx, req.ProjectId)
		if err != nil {
			return nil, projectError("get project", err)
		}
		if err := c.Validate(project, req.Contributor, req.Amount, req.RequireWallet); err != nil {
			return nil, err
		}

		contribution := &model.ContributionModel{
			ProjectId:          req.ProjectId,
			ContributorId:      req.Contributor.Id,
			ContributorName:    req.Contributor.DisplayName,
			ContributorAddress: req.Address,
			Amount:             req.Amount,
			ExpiresAt:          c.now().Add(c.cfg.PledgeTTLDuration()),
		}
		err = c.ledger.Reserve(ctx, contribution)
		if err == nil {
			logger.Info("Pledge %d recorded: project=%s contributor=%s amount=%d", contribution.Id, req.ProjectId, req.Contributor.Id, req.Amount)
			return contribution, nil
		}

		switch {
		case errors.Is(err, repository.ErrReserveRejected):
			// 读取后状态已变化, 重新读取以给出准确原因
			lastErr = err
		case errors.Is(err, repository.ErrConflict):
			logger.Warn("Reserve conflict on project %s (attempt %d/%d): %v", req.ProjectId, attempt, c.cfg.MaxRetries, err)
			lastErr = err
		default:
			logger.Error("Reserve on project %s failed: %v", req.ProjectId, err)
			return nil, apperr.Unexpected(err)
		}
	}

	return nil, apperr.Conflict("项目正在被并发修改，请稍后重试", fmt.Errorf("reserve on %s: %w", req.ProjectId, lastErr))
}

// ListProjectContributions 按时间顺序分页列出项目捐款
func (c *ContributeRecordLogic) ListProjectContributions(ctx context.Context, projectId string, status model.ContributionStatus, page, pageSize int) ([]model.ContributionModel, int64, error) {
	if _, err := c.projects.Get(ctx, projectId); err != nil {
		return nil, 0, projectError("get project", err)
	}
	list, total, err := c.ledger.ListByProject(ctx, projectId, status, page, pageSize)
	if err != nil {
		logger.Error("List contributions of %s failed: %v", projectId, err)
		return nil, 0, apperr.Unexpected(err)
	}
	return list, total, nil
}

// GetContributeStats 获取捐款统计信息
func (c *ContributeRecordLogic) GetContributeStats(ctx context.Context, projectId string) (*ContributeStats, error) {
	if _, err := c.projects.Get(ctx, projectId); err != nil {
		return nil, projectError("get project", err)
	}
	totals, err := c.ledger.Totals(ctx, projectId)
	if err != nil {
		logger.Error("Totals of %s failed: %v", projectId, err)
		return nil, apperr.Unexpected(err)
	}

	stats := &ContributeStats{
		TotalContributions: totals.PendingCount + totals.CompletedCount,
		PendingCount:       totals.PendingCount,
		CompletedCount:     totals.CompletedCount,
		Pledged:            money.ToDecimal(totals.Pledged),
		Settled:            money.ToDecimal(totals.Settled),
		UniqueContributors: totals.Contributors,
		AverageAmount:      decimal.Zero,
	}
	if stats.TotalContributions > 0 {
		stats.AverageAmount = stats.Pledged.Div(decimal.NewFromInt(stats.TotalContributions)).Round(money.Decimals)
	}
	return stats, nil
}
