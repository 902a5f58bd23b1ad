package handler

import (
	"time"

	"github.com/blues/fundledger/internal/chain"
	"github.com/blues/fundledger/internal/logic"
	"github.com/blues/fundledger/internal/model"
	"github.com/blues/fundledger/internal/money"
	"github.com/shopspring/decimal"
)

// 通用响应结构
type Response struct {
	Success bool        `json:"success"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// 分页信息结构
type Pagination struct {
	Page      int   `json:"page"`
	PageSize  int   `json:"pageSize"`
	Total     int64 `json:"total"`
	TotalPage int64 `json:"totalPage"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}
	return Pagination{
		Page:      page,
		PageSize:  pageSize,
		Total:     total,
		TotalPage: (total + int64(pageSize) - 1) / int64(pageSize),
	}
}

// 项目相关请求模型

// CreateProjectRequest 创建项目请求
type CreateProjectRequest struct {
	Title       string          `json:"title" binding:"required"`
	Description string          `json:"description"`
	Citations   string          `json:"citations"`
	GoalAmount  decimal.Decimal `json:"goalAmount"`
	TeamMembers []string        `json:"teamMembers"`
}

// UpdateProjectRequest 更新项目请求, 省略的字段不修改
type UpdateProjectRequest struct {
	Title       *string          `json:"title"`
	Description *string          `json:"description"`
	Citations   *string          `json:"citations"`
	GoalAmount  *decimal.Decimal `json:"goalAmount"`
	TeamMembers *[]string        `json:"teamMembers"`
}

// 项目相关响应模型

// ProjectResponse 项目响应模型
type ProjectResponse struct {
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Citations      string          `json:"citations"`
	GoalAmount     decimal.Decimal `json:"goalAmount"`
	FundsRaised    decimal.Decimal `json:"fundsRaised"`
	Status         string          `json:"status"`
	CreatedBy      string          `json:"createdBy"`
	CreatorName    string          `json:"creatorName"`
	TeamMembers    []string        `json:"teamMembers,omitempty"`
	OnChain        bool            `json:"onChain"`
	ChainProjectID *int64          `json:"chainProjectId,omitempty"`
	ChainTxHash    string          `json:"chainTxHash,omitempty"`
	DeactivatedAt  *time.Time      `json:"deactivatedAt,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// GetProjectsResponse 获取项目列表响应
type GetProjectsResponse struct {
	Projects   []ProjectResponse `json:"projects"`
	Pagination Pagination        `json:"pagination"`
}

// 捐款相关模型

// DonateRequest 认捐请求
type DonateRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// DonateResponse 认捐响应, 链下项目 transaction 为空
type DonateResponse struct {
	Success      bool                 `json:"success"`
	Message      string               `json:"message"`
	Transaction  *chain.UnsignedTx    `json:"transaction"`
	Contribution ContributionResponse `json:"contribution"`
	Amount       decimal.Decimal      `json:"amount"`
	PlatformFees decimal.Decimal      `json:"platformFees"`
	TotalAmount  decimal.Decimal      `json:"totalAmount"`
}

// ConfirmRequest 确认请求
type ConfirmRequest struct {
	ContributionID  int64           `json:"contributionId"`
	Amount          decimal.Decimal `json:"amount"`
	PlatformFees    decimal.Decimal `json:"platformFees"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	TransactionHash string          `json:"transactionHash" binding:"required"`
}

// ContributionResponse 捐款记录响应模型
type ContributionResponse struct {
	ID              int64           `json:"id"`
	ProjectID       string          `json:"projectId"`
	ContributorID   string          `json:"contributorId"`
	ContributorName string          `json:"contributorName"`
	Address         string          `json:"address,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Status          string          `json:"status"`
	TxHash          string          `json:"txHash,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
	ExpiresAt       time.Time       `json:"expiresAt"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty"`
	ReleasedAt      *time.Time      `json:"releasedAt,omitempty"`
}

// GetProjectContributionsResponse 获取项目捐款记录响应
type GetProjectContributionsResponse struct {
	Contributions []ContributionResponse `json:"contributions"`
	Pagination    Pagination             `json:"pagination"`
}

// GetProjectStatsResponse 获取项目统计响应
type GetProjectStatsResponse struct {
	Stats         *logic.ProjectStats    `json:"stats"`
	Contributions *logic.ContributeStats `json:"contributions"`
}

// 转换函数

// ToProjectResponse 将数据库模型转换为响应模型
func ToProjectResponse(project *model.ProjectModel, team []model.ProjectTeamModel) ProjectResponse {
	resp := ProjectResponse{
		ID:             project.Id,
		Title:          project.Title,
		Description:    project.Description,
		Citations:      project.Citations,
		GoalAmount:     money.ToDecimal(project.GoalAmount),
		FundsRaised:    money.ToDecimal(project.FundsRaised),
		Status:         string(project.Status),
		CreatedBy:      project.CreatedBy,
		CreatorName:    project.CreatorName,
		OnChain:        project.OnChain(),
		ChainProjectID: project.ChainProjectId,
		ChainTxHash:    project.ChainTxHash,
		DeactivatedAt:  project.DeactivatedAt,
		CreatedAt:      project.CreatedAt,
		UpdatedAt:      project.UpdatedAt,
	}
	for _, m := range team {
		resp.TeamMembers = append(resp.TeamMembers, m.MemberId)
	}
	return resp
}

// ToProjectResponseList 将数据库模型列表转换为响应模型列表
func ToProjectResponseList(projects []model.ProjectModel) []ProjectResponse {
	result := make([]ProjectResponse, len(projects))
	for i := range projects {
		result[i] = ToProjectResponse(&projects[i], nil)
	}
	return result
}

// ToContributionResponse 将捐款记录数据库模型转换为响应模型
func ToContributionResponse(record *model.ContributionModel) ContributionResponse {
	return ContributionResponse{
		ID:              record.Id,
		ProjectID:       record.ProjectId,
		ContributorID:   record.ContributorId,
		ContributorName: record.ContributorName,
		Address:         record.ContributorAddress,
		Amount:          money.ToDecimal(record.Amount),
		Status:          string(record.Status),
		TxHash:          record.Hash(),
		Timestamp:       record.CreatedAt,
		ExpiresAt:       record.ExpiresAt,
		CompletedAt:     record.CompletedAt,
		ReleasedAt:      record.ReleasedAt,
	}
}

// ToContributionResponseList 将捐款记录数据库模型列表转换为响应模型列表
func ToContributionResponseList(records []model.ContributionModel) []ContributionResponse {
	result := make([]ContributionResponse, len(records))
	for i := range records {
		result[i] = ToContributionResponse(&records[i])
	}
	return result
}
