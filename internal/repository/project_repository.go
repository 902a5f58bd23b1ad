package repository

import (
	"context"
	"strings"
	"time"

	"github.com/blues/fundledger/internal/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProjectQuery 项目搜索条件
type ProjectQuery struct {
	Q         string
	Status    model.ProjectStatus
	MinGoal   int64
	MaxGoal   int64
	CreatedBy string
	SortBy    string // recent, goal, progress
	Page      int
	PageSize  int
}

// 不允许通过 Update 修改的字段, funds_raised 只能由 LedgerRepository 修改
var protectedFields = map[string]bool{
	"id":           true,
	"funds_raised": true,
	"version":      true,
	"created_at":   true,
}

// ProjectRepository 项目存储
type ProjectRepository struct {
	db *gorm.DB
}

func NewProjectRepository(db *gorm.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// Create 创建项目及团队成员, Id 由存储生成
func (r *ProjectRepository) Create(ctx context.Context, project *model.ProjectModel, members []string) error {
	project.Id = uuid.NewString()
	project.FundsRaised = 0
	project.Version = 1
	if project.Status == "" {
		project.Status = model.ProjectStatusActive
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(project).Error; err != nil {
			return err
		}
		return tx.Create(teamRows(project.Id, project.CreatedBy, members)).Error
	})
	return classify(err)
}

func teamRows(projectId, creator string, members []string) []model.ProjectTeamModel {
	rows := []model.ProjectTeamModel{{ProjectId: projectId, MemberId: creator, MemberRole: model.TeamRoleCreator}}
	seen := map[string]bool{creator: true}
	for _, m := range members {
		m = strings.TrimSpace(m)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		rows = append(rows, model.ProjectTeamModel{ProjectId: projectId, MemberId: m, MemberRole: model.TeamRoleMember})
	}
	return rows
}

// Get 按 Id 查询
func (r *ProjectRepository) Get(ctx context.Context, id string) (*model.ProjectModel, error) {
	var project model.ProjectModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&project).Error; err != nil {
		return nil, classify(err)
	}
	return &project, nil
}

// GetByChainId 按链上项目 Id 查询
func (r *ProjectRepository) GetByChainId(ctx context.Context, chainProjectId int64) (*model.ProjectModel, error) {
	var project model.ProjectModel
	if err := r.db.WithContext(ctx).Where("chain_project_id = ?", chainProjectId).First(&project).Error; err != nil {
		return nil, classify(err)
	}
	return &project, nil
}

// List 搜索项目
func (r *ProjectRepository) List(ctx context.Context, q ProjectQuery) ([]model.ProjectModel, int64, error) {
	var (
		projects []model.ProjectModel
		total    int64
	)

	query := r.db.WithContext(ctx).Model(&model.ProjectModel{})
	if q.Q != "" {
		like := "%" + strings.ToLower(q.Q) + "%"
		query = query.Where("LOWER(title) LIKE ? OR LOWER(description) LIKE ?", like, like)
	}
	if q.Status != "" {
		query = query.Where("status = ?", q.Status)
	}
	if q.MinGoal > 0 {
		query = query.Where("goal_amount >= ?", q.MinGoal)
	}
	if q.MaxGoal > 0 {
		query = query.Where("goal_amount <= ?", q.MaxGoal)
	}
	if q.CreatedBy != "" {
		query = query.Where("created_by = ?", q.CreatedBy)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, classify(err)
	}

	switch q.SortBy {
	case "goal":
		query = query.Order("goal_amount DESC")
	case "progress":
		query = query.Order("funds_raised * 1.0 / goal_amount DESC")
	default:
		query = query.Order("created_at DESC")
	}

	page, pageSize := normalizePage(q.Page, q.PageSize)
	if err := query.Offset((page - 1) * pageSize).Limit(pageSize).Find(&projects).Error; err != nil {
		return nil, 0, classify(err)
	}
	return projects, total, nil
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}
	return page, pageSize
}

// Update 带版本号的元数据更新, 版本不匹配返回 ErrConflict
func (r *ProjectRepository) Update(ctx context.Context, id string, version int64, fields map[string]interface{}) error {
	for k := range fields {
		if protectedFields[k] {
			return ErrProtectedField
		}
	}
	updates := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		updates[k] = v
	}
	updates["version"] = gorm.Expr("version + 1")

	db := r.db.WithContext(ctx)
	res := db.Model(&model.ProjectModel{}).Where("id = ? AND version = ?", id, version).Updates(updates)
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := db.Model(&model.ProjectModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return classify(err)
		}
		if count == 0 {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

// Team 项目团队成员
func (r *ProjectRepository) Team(ctx context.Context, projectId string) ([]model.ProjectTeamModel, error) {
	var team []model.ProjectTeamModel
	if err := r.db.WithContext(ctx).Where("project_id = ?", projectId).Order("id ASC").Find(&team).Error; err != nil {
		return nil, classify(err)
	}
	return team, nil
}

// ReplaceTeam 替换除创建者以外的成员
func (r *ProjectRepository) ReplaceTeam(ctx context.Context, projectId, creator string, members []string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("project_id = ? AND member_role <> ?", projectId, model.TeamRoleCreator).
			Delete(&model.ProjectTeamModel{}).Error; err != nil {
			return err
		}
		rows := teamRows(projectId, creator, members)[1:]
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(rows).Error
	})
	return classify(err)
}

// ListUnregistered 尚未上链的活跃项目
func (r *ProjectRepository) ListUnregistered(ctx context.Context, limit int) ([]model.ProjectModel, error) {
	var projects []model.ProjectModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND chain_project_id IS NULL", model.ProjectStatusActive).
		Order("created_at ASC").
		Limit(limit).
		Find(&projects).Error
	return projects, classify(err)
}

// ListRegistered 已上链的项目
func (r *ProjectRepository) ListRegistered(ctx context.Context) ([]model.ProjectModel, error) {
	var projects []model.ProjectModel
	err := r.db.WithContext(ctx).Where("chain_project_id IS NOT NULL").Order("created_at ASC").Find(&projects).Error
	return projects, classify(err)
}

// SetChainRegistration 记录链上注册结果, 只在尚未注册时生效
func (r *ProjectRepository) SetChainRegistration(ctx context.Context, id string, chainProjectId int64, txHash string) error {
	res := r.db.WithContext(ctx).Model(&model.ProjectModel{}).
		Where("id = ? AND chain_project_id IS NULL", id).
		Updates(map[string]interface{}{
			"chain_project_id":   chainProjectId,
			"chain_tx_hash":      txHash,
			"registration_error": "",
			"version":            gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// SetRegistrationError 记录最近一次注册失败原因
func (r *ProjectRepository) SetRegistrationError(ctx context.Context, id string, reason string) error {
	err := r.db.WithContext(ctx).Model(&model.ProjectModel{}).
		Where("id = ? AND chain_project_id IS NULL", id).
		Update("registration_error", reason).Error
	return classify(err)
}

// Deactivate 停用项目, 停用为终态
func (r *ProjectRepository) Deactivate(ctx context.Context, id string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&model.ProjectModel{}).
		Where("id = ? AND status = ?", id, model.ProjectStatusActive).
		Updates(map[string]interface{}{
			"status":         model.ProjectStatusInactive,
			"deactivated_at": at,
			"version":        gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
