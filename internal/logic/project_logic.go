package logic

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/blues/fundledger/internal/apperr"
	"github.com/blues/fundledger/internal/chain"
	"github.com/blues/fundledger/internal/config"
	"github.com/blues/fundledger/internal/logger"
	"github.com/blues/fundledger/internal/model"
	"github.com/blues/fundledger/internal/money"
	"github.com/blues/fundledger/internal/repository"
	"github.com/shopspring/decimal"
)

const (
	maxTitleLength       = 200
	maxDescriptionLength = 20000
)

// CreateProjectRequest 创建项目参数
type CreateProjectRequest struct {
	Title       string
	Description string
	Citations   string
	GoalAmount  decimal.Decimal
	TeamMembers []string
}

// UpdateProjectRequest 更新项目参数, nil 字段不修改
type UpdateProjectRequest struct {
	Title       *string
	Description *string
	Citations   *string
	GoalAmount  *decimal.Decimal
	TeamMembers *[]string
}

// ProjectDetail 项目及团队
type ProjectDetail struct {
	Project *model.ProjectModel
	Team    []model.ProjectTeamModel
}

// ProjectStats 项目统计
type ProjectStats struct {
	ProjectId   string                  `json:"project_id"`
	Status      model.ProjectStatus     `json:"status"`
	GoalAmount  decimal.Decimal         `json:"goal_amount"`
	FundsRaised decimal.Decimal         `json:"funds_raised"`
	Remaining   decimal.Decimal         `json:"remaining"`
	Progress    decimal.Decimal         `json:"progress"` // 百分比
	OnChain     bool                    `json:"on_chain"`
	Ledger      *repository.Totals      `json:"ledger"`
	LastAudit   *model.AuditRecordModel `json:"last_audit,omitempty"`
}

// ProjectLogic 项目业务逻辑
type ProjectLogic struct {
	projects *repository.ProjectRepository
	ledger   *repository.LedgerRepository
	gateway  chain.Gateway // 未启用链上结算时为 nil
	cfg      config.FundingConfig
	now      func() time.Time
}

// NewProjectLogic 创建项目业务逻辑
func NewProjectLogic(projects *repository.ProjectRepository, ledger *repository.LedgerRepository, gateway chain.Gateway, cfg config.FundingConfig) *ProjectLogic {
	return &ProjectLogic{
		projects: projects,
		ledger:   ledger,
		gateway:  gateway,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (p *ProjectLogic) durationSeconds() int64 {
	return int64(p.cfg.ProjectDurationDays) * 24 * 60 * 60
}

// CreateProject 创建项目, 链上注册失败时按 require_chain_registration 决定是否中止
func (p *ProjectLogic) CreateProject(ctx context.Context, owner *model.Principal, req CreateProjectRequest) (*ProjectDetail, error) {
	if owner == nil || owner.Id == "" {
		return nil, apperr.Unauthorized("请先登录")
	}
	req.Title = strings.TrimSpace(req.Title)
	if err := validateProjectText(req.Title, req.Description); err != nil {
		return nil, err
	}
	goal, err := money.Parse(req.GoalAmount)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, apperr.CodeInvalidAmount, "目标金额必须大于0且最多6位小数", err)
	}

	project := &model.ProjectModel{
		Title:       req.Title,
		Description: req.Description,
		Citations:   req.Citations,
		GoalAmount:  goal,
		CreatedBy:   owner.Id,
		CreatorName: owner.DisplayName,
		Status:      model.ProjectStatusActive,
	}

	if p.gateway != nil {
		reg, err := p.gateway.RegisterProject(ctx, project.Title, project.Description, money.ToWei(goal), p.durationSeconds())
		switch {
		case err == nil:
			project.ChainProjectId = &reg.ChainProjectId
			project.ChainTxHash = reg.TxHash
		case p.cfg.RequireChainRegistration:
			return nil, chainError("register project", err)
		default:
			logger.Warn("Project %q created off-chain, registration will be retried: %v", project.Title, err)
			project.RegistrationError = err.Error()
		}
	} else if p.cfg.RequireChainRegistration {
		return nil, errChainDisabled
	}

	if err := p.projects.Create(ctx, project, req.TeamMembers); err != nil {
		if project.ChainProjectId != nil {
			logger.Error("Project registered on chain as %d but store create failed: %v", *project.ChainProjectId, err)
		}
		return nil, projectError("create project", err)
	}
	logger.Info("Project %s created by %s (goal=%d, on_chain=%v)", project.Id, owner.Id, goal, project.OnChain())

	return p.GetProject(ctx, project.Id)
}

func validateProjectText(title, description string) error {
	if title == "" {
		return apperr.Validation(apperr.CodeInvalidInput, "项目标题不能为空")
	}
	if len(title) > maxTitleLength {
		return apperr.Validation(apperr.CodeInvalidInput, "项目标题过长")
	}
	if len(description) > maxDescriptionLength {
		return apperr.Validation(apperr.CodeInvalidInput, "项目描述过长")
	}
	return nil
}

// GetProject 获取项目详情
func (p *ProjectLogic) GetProject(ctx context.Context, id string) (*ProjectDetail, error) {
	project, err := p.projects.Get(ctx, id)
	if err != nil {
		return nil, projectError("get project", err)
	}
	team, err := p.projects.Team(ctx, id)
	if err != nil {
		return nil, projectError("get team", err)
	}
	return &ProjectDetail{Project: project, Team: team}, nil
}

// ListProjects 搜索项目
func (p *ProjectLogic) ListProjects(ctx context.Context, q repository.ProjectQuery) ([]model.ProjectModel, int64, error) {
	switch q.SortBy {
	case "", "recent", "goal", "progress":
	default:
		return nil, 0, apperr.Validation(apperr.CodeInvalidInput, "排序方式只支持 recent, goal, progress")
	}
	switch q.Status {
	case "", model.ProjectStatusActive, model.ProjectStatusInactive:
	default:
		return nil, 0, apperr.Validation(apperr.CodeInvalidInput, "项目状态只支持 active, inactive")
	}
	projects, total, err := p.projects.List(ctx, q)
	if err != nil {
		return nil, 0, projectError("list projects", err)
	}
	return projects, total, nil
}

// UpdateProject 项目创建者修改元数据, 版本冲突时重试, funds_raised 不受影响
func (p *ProjectLogic) UpdateProject(ctx context.Context, owner *model.Principal, id string, req UpdateProjectRequest) (*ProjectDetail, error) {
	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxRetries; attempt++ {
		project, err := p.projects.Get(ctx, id)
		if err != nil {
			return nil, projectError("get project", err)
		}
		if owner == nil || project.CreatedBy != owner.Id {
			return nil, errNotOwner
		}

		fields, err := p.updateFields(project, req)
		if err != nil {
			return nil, err
		}
		if len(fields) == 0 {
			break
		}

		err = p.projects.Update(ctx, id, project.Version, fields)
		if err == nil {
			lastErr = nil
			break
		}
		if !errors.Is(err, repository.ErrConflict) {
			return nil, projectError("update project", err)
		}
		lastErr = err
		logger.Warn("Update conflict on project %s (attempt %d/%d)", id, attempt, p.cfg.MaxRetries)
	}
	if lastErr != nil {
		return nil, apperr.Conflict("项目正在被并发修改，请稍后重试", lastErr)
	}

	if req.TeamMembers != nil {
		if err := p.projects.ReplaceTeam(ctx, id, owner.Id, *req.TeamMembers); err != nil {
			return nil, projectError("replace team", err)
		}
	}
	return p.GetProject(ctx, id)
}

func (p *ProjectLogic) updateFields(project *model.ProjectModel, req UpdateProjectRequest) (map[string]interface{}, error) {
	fields := map[string]interface{}{}
	title, description := project.Title, project.Description
	if req.Title != nil {
		title = strings.TrimSpace(*req.Title)
		fields["title"] = title
	}
	if req.Description != nil {
		description = *req.Description
		fields["description"] = description
	}
	if err := validateProjectText(title, description); err != nil {
		return nil, err
	}
	if req.Citations != nil {
		fields["citations"] = *req.Citations
	}
	if req.GoalAmount != nil {
		goal, err := money.Parse(*req.GoalAmount)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, apperr.CodeInvalidAmount, "目标金额必须大于0且最多6位小数", err)
		}
		if goal != project.GoalAmount {
			if project.OnChain() {
				return nil, apperr.BusinessRule(apperr.CodeInvalidInput, "已上链项目不能修改目标金额")
			}
			if goal < project.FundsRaised {
				return nil, apperr.BusinessRule(apperr.CodeGoalBelowRaised, "目标金额不能低于已筹金额")
			}
			fields["goal_amount"] = goal
		}
	}
	return fields, nil
}

// DeactivateProject 停用项目, 已有捐款记录保留
func (p *ProjectLogic) DeactivateProject(ctx context.Context, owner *model.Principal, id string) (*ProjectDetail, error) {
	project, err := p.projects.Get(ctx, id)
	if err != nil {
		return nil, projectError("get project", err)
	}
	if owner == nil || project.CreatedBy != owner.Id {
		return nil, errNotOwner
	}
	if err := p.projects.Deactivate(ctx, id, p.now()); err != nil {
		return nil, projectError("deactivate project", err)
	}
	logger.Info("Project %s deactivated by %s", id, owner.Id)
	return p.GetProject(ctx, id)
}

// GetProjectStats 获取项目统计信息
func (p *ProjectLogic) GetProjectStats(ctx context.Context, id string) (*ProjectStats, error) {
	project, err := p.projects.Get(ctx, id)
	if err != nil {
		return nil, projectError("get project", err)
	}
	totals, err := p.ledger.Totals(ctx, id)
	if err != nil {
		return nil, projectError("ledger totals", err)
	}

	goal := money.ToDecimal(project.GoalAmount)
	raised := money.ToDecimal(project.FundsRaised)
	stats := &ProjectStats{
		ProjectId:   project.Id,
		Status:      project.Status,
		GoalAmount:  goal,
		FundsRaised: raised,
		Remaining:   money.ToDecimal(project.Remaining()),
		Progress:    raised.Div(goal).Mul(decimal.NewFromInt(100)).Round(2),
		OnChain:     project.OnChain(),
		Ledger:      totals,
	}
	if audit, err := p.ledger.LatestAudit(ctx, id); err == nil {
		stats.LastAudit = audit
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, projectError("latest audit", err)
	}
	return stats, nil
}

// RegisterProject 为链下项目补做链上注册
func (p *ProjectLogic) RegisterProject(ctx context.Context, id string) (*model.ProjectModel, error) {
	if p.gateway == nil {
		return nil, errChainDisabled
	}
	project, err := p.projects.Get(ctx, id)
	if err != nil {
		return nil, projectError("get project", err)
	}
	if project.OnChain() {
		return project, nil
	}
	if err := p.register(ctx, project); err != nil {
		return nil, err
	}
	return p.projects.Get(ctx, id)
}

func (p *ProjectLogic) register(ctx context.Context, project *model.ProjectModel) error {
	reg, err := p.gateway.RegisterProject(ctx, project.Title, project.Description, money.ToWei(project.GoalAmount), p.durationSeconds())
	if err != nil {
		if saveErr := p.projects.SetRegistrationError(ctx, project.Id, err.Error()); saveErr != nil {
			logger.Error("Failed to store registration error for %s: %v", project.Id, saveErr)
		}
		return chainError("register project", err)
	}
	if err := p.projects.SetChainRegistration(ctx, project.Id, reg.ChainProjectId, reg.TxHash); err != nil {
		logger.Error("Project %s registered on chain as %d but store update failed: %v", project.Id, reg.ChainProjectId, err)
		return projectError("set chain registration", err)
	}
	logger.Info("Project %s registered on chain as %d", project.Id, reg.ChainProjectId)
	return nil
}

// RetryRegistration 重试尚未上链的项目, 返回成功数量
func (p *ProjectLogic) RetryRegistration(ctx context.Context, limit int) (int, error) {
	if p.gateway == nil {
		return 0, nil
	}
	projects, err := p.projects.ListUnregistered(ctx, limit)
	if err != nil {
		return 0, projectError("list unregistered", err)
	}

	registered := 0
	for i := range projects {
		if ctx.Err() != nil {
			return registered, ctx.Err()
		}
		if err := p.register(ctx, &projects[i]); err != nil {
			logger.Warn("Registration retry for project %s failed: %v", projects[i].Id, err)
			continue
		}
		registered++
	}
	return registered, nil
}
