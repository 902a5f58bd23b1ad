package handler

import (
	"net/http"
	"strconv"

	"github.com/blues/fundledger/internal/apperr"
	"github.com/blues/fundledger/internal/logic"
	"github.com/blues/fundledger/internal/middleware"
	"github.com/blues/fundledger/internal/model"
	"github.com/blues/fundledger/internal/money"
	"github.com/blues/fundledger/internal/repository"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type ProjectHandler struct {
	projectLogic    *logic.ProjectLogic
	contributeLogic *logic.ContributeRecordLogic
	fundingLogic    *logic.FundingLogic
}

func NewProjectHandler(projectLogic *logic.ProjectLogic, contributeLogic *logic.ContributeRecordLogic, fundingLogic *logic.FundingLogic) *ProjectHandler {
	return &ProjectHandler{
		projectLogic:    projectLogic,
		contributeLogic: contributeLogic,
		fundingLogic:    fundingLogic,
	}
}

// CreateProject 创建项目
func (h *ProjectHandler) CreateProject(c *gin.Context) {
	var req CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "请求参数格式错误")
		return
	}

	detail, err := h.projectLogic.CreateProject(c.Request.Context(), middleware.Principal(c), logic.CreateProjectRequest{
		Title:       req.Title,
		Description: req.Description,
		Citations:   req.Citations,
		GoalAmount:  req.GoalAmount,
		TeamMembers: req.TeamMembers,
	})
	if err != nil {
		ErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusCreated, "项目创建成功", ToProjectResponse(detail.Project, detail.Team))
}

// GetProjects 搜索项目列表
func (h *ProjectHandler) GetProjects(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	q := repository.ProjectQuery{
		Q:         c.Query("q"),
		Status:    model.ProjectStatus(c.Query("status")),
		CreatedBy: c.Query("creator"),
		SortBy:    c.Query("sort"),
		Page:      page,
		PageSize:  pageSize,
	}
	var err error
	if q.MinGoal, err = goalBound(c.Query("min_goal")); err != nil {
		BadRequest(c, "min_goal 格式错误")
		return
	}
	if q.MaxGoal, err = goalBound(c.Query("max_goal")); err != nil {
		BadRequest(c, "max_goal 格式错误")
		return
	}

	projects, total, err := h.projectLogic.ListProjects(c.Request.Context(), q)
	if err != nil {
		ErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "获取项目列表成功", GetProjectsResponse{
		Projects:   ToProjectResponseList(projects),
		Pagination: newPagination(page, pageSize, total),
	})
}

// goalBound 解析金额筛选条件, 空值表示不限
func goalBound(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return money.Parse(d)
}

// GetProject 获取单个项目详情
func (h *ProjectHandler) GetProject(c *gin.Context) {
	detail, err := h.projectLogic.GetProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		ErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "获取项目详情成功", ToProjectResponse(detail.Project, detail.Team))
}

// UpdateProject 更新项目
func (h *ProjectHandler) UpdateProject(c *gin.Context) {
	var req UpdateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "请求参数格式错误")
		return
	}

	detail, err := h.projectLogic.UpdateProject(c.Request.Context(), middleware.Principal(c), c.Param("id"), logic.UpdateProjectRequest{
		Title:       req.Title,
		Description: req.Description,
		Citations:   req.Citations,
		GoalAmount:  req.GoalAmount,
		TeamMembers: req.TeamMembers,
	})
	if err != nil {
		ErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "项目更新成功", ToProjectResponse(detail.Project, detail.Team))
}

// DeactivateProject 停用项目
func (h *ProjectHandler) DeactivateProject(c *gin.Context) {
	detail, err := h.projectLogic.DeactivateProject(c.Request.Context(), middleware.Principal(c), c.Param("id"))
	if err != nil {
		ErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "项目已停用", ToProjectResponse(detail.Project, detail.Team))
}

// GetProjectContributions 按时间顺序获取项目捐款记录
func (h *ProjectHandler) GetProjectContributions(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))
	status := model.ContributionStatus(c.Query("status"))

	records, total, err := h.contributeLogic.ListProjectContributions(c.Request.Context(), c.Param("id"), status, page, pageSize)
	if err != nil {
		ErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "获取项目捐款记录成功", GetProjectContributionsResponse{
		Contributions: ToContributionResponseList(records),
		Pagination:    newPagination(page, pageSize, total),
	})
}

// GetProjectStats 获取项目统计信息
func (h *ProjectHandler) GetProjectStats(c *gin.Context) {
	id := c.Param("id")
	stats, err := h.projectLogic.GetProjectStats(c.Request.Context(), id)
	if err != nil {
		ErrorResponse(c, err)
		return
	}
	contributions, err := h.contributeLogic.GetContributeStats(c.Request.Context(), id)
	if err != nil {
		ErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "获取项目统计信息成功", GetProjectStatsResponse{
		Stats:         stats,
		Contributions: contributions,
	})
}

// AuditProject 项目创建者触发链上对账
func (h *ProjectHandler) AuditProject(c *gin.Context) {
	p := middleware.Principal(c)
	if p == nil {
		ErrorResponse(c, apperr.Unauthorized("请先登录"))
		return
	}

	record, err := h.fundingLogic.Audit(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		ErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "对账完成", record)
}
