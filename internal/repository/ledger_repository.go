package repository

import (
	"context"
	"errors"
	"time"

	"github.com/blues/fundledger/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Totals 项目账本汇总, 金额为最小单位
type Totals struct {
	Pledged        int64 `json:"pledged"` // pending + completed
	Settled        int64 `json:"settled"` // completed
	PendingCount   int64 `json:"pending_count"`
	CompletedCount int64 `json:"completed_count"`
	Contributors   int64 `json:"contributors"`
}

// LedgerRepository 捐款账本, funds_raised 只在这里修改
type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Reserve 在同一事务内占用项目额度并追加 pending 捐款
// 项目不存在, 非 active 或额度不足时返回 ErrReserveRejected
func (r *LedgerRepository) Reserve(ctx context.Context, c *model.ContributionModel) error {
	c.Status = model.ContributionStatusPending
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.ProjectModel{}).
			Where("id = ? AND status = ? AND funds_raised + ? <= goal_amount", c.ProjectId, model.ProjectStatusActive, c.Amount).
			Updates(map[string]interface{}{
				"funds_raised": gorm.Expr("funds_raised + ?", c.Amount),
				"version":      gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrReserveRejected
		}
		return tx.Create(c).Error
	})
	if errors.Is(err, ErrReserveRejected) {
		return err
	}
	return classify(err)
}

// Confirm pending -> completed, 同一哈希重复确认返回已完成的记录
func (r *LedgerRepository) Confirm(ctx context.Context, id int64, txHash string, at time.Time) (*model.ContributionModel, error) {
	var result model.ContributionModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.ContributionModel
		err := tx.Where("tx_hash = ?", txHash).First(&existing).Error
		switch {
		case err == nil:
			if existing.Id != id {
				return ErrTxHashInUse
			}
			result = existing
			return nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		res := tx.Model(&model.ContributionModel{}).
			Where("id = ? AND status = ?", id, model.ContributionStatusPending).
			Updates(map[string]interface{}{
				"status":       model.ContributionStatusCompleted,
				"tx_hash":      txHash,
				"completed_at": at,
			})
		if res.Error != nil {
			if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
				return ErrTxHashInUse
			}
			return res.Error
		}
		if err := tx.Where("id = ?", id).First(&result).Error; err != nil {
			return err
		}
		if res.RowsAffected == 0 {
			return ErrNotPending
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrTxHashInUse) || errors.Is(err, ErrNotPending) {
			return &result, err
		}
		return nil, classify(err)
	}
	return &result, nil
}

// Release pending -> expired/cancelled, 同时释放项目额度
func (r *LedgerRepository) Release(ctx context.Context, id int64, status model.ContributionStatus, at time.Time) (*model.ContributionModel, error) {
	if status != model.ContributionStatusExpired && status != model.ContributionStatusCancelled {
		return nil, ErrProtectedField
	}

	var c model.ContributionModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&c).Error; err != nil {
			return err
		}
		res := tx.Model(&model.ContributionModel{}).
			Where("id = ? AND status = ?", id, model.ContributionStatusPending).
			Updates(map[string]interface{}{
				"status":      status,
				"released_at": at,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotPending
		}
		c.Status = status
		c.ReleasedAt = &at

		return tx.Model(&model.ProjectModel{}).
			Where("id = ?", c.ProjectId).
			Updates(map[string]interface{}{
				"funds_raised": gorm.Expr("funds_raised - ?", c.Amount),
				"version":      gorm.Expr("version + 1"),
			}).Error
	})
	if errors.Is(err, ErrNotPending) {
		return &c, err
	}
	if err != nil {
		return nil, classify(err)
	}
	return &c, nil
}

// Get 按 Id 查询捐款
func (r *LedgerRepository) Get(ctx context.Context, id int64) (*model.ContributionModel, error) {
	var c model.ContributionModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, classify(err)
	}
	return &c, nil
}

// GetByTxHash 按交易哈希查询捐款
func (r *LedgerRepository) GetByTxHash(ctx context.Context, txHash string) (*model.ContributionModel, error) {
	var c model.ContributionModel
	if err := r.db.WithContext(ctx).Where("tx_hash = ?", txHash).First(&c).Error; err != nil {
		return nil, classify(err)
	}
	return &c, nil
}

// ListByProject 按插入顺序分页列出项目捐款, status 为空时返回全部
func (r *LedgerRepository) ListByProject(ctx context.Context, projectId string, status model.ContributionStatus, page, pageSize int) ([]model.ContributionModel, int64, error) {
	var (
		contributions []model.ContributionModel
		total         int64
	)
	query := r.db.WithContext(ctx).Model(&model.ContributionModel{}).Where("project_id = ?", projectId)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, classify(err)
	}
	page, pageSize = normalizePage(page, pageSize)
	if err := query.Order("id ASC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&contributions).Error; err != nil {
		return nil, 0, classify(err)
	}
	return contributions, total, nil
}

// FindPending 同一项目, 捐款人, 金额下最早的 pending 记录
func (r *LedgerRepository) FindPending(ctx context.Context, projectId, contributorId string, amount int64) (*model.ContributionModel, error) {
	var c model.ContributionModel
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND contributor_id = ? AND amount = ? AND status = ?",
			projectId, contributorId, amount, model.ContributionStatusPending).
		Order("id ASC").
		First(&c).Error
	if err != nil {
		return nil, classify(err)
	}
	return &c, nil
}

// FindPendingByAddress 按钱包地址匹配 pending 记录, 供链上事件监控使用
func (r *LedgerRepository) FindPendingByAddress(ctx context.Context, projectId, address string, amount int64) (*model.ContributionModel, error) {
	var c model.ContributionModel
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND LOWER(contributor_address) = LOWER(?) AND amount = ? AND status = ?",
			projectId, address, amount, model.ContributionStatusPending).
		Order("id ASC").
		First(&c).Error
	if err != nil {
		return nil, classify(err)
	}
	return &c, nil
}

// ListExpired 已过期仍为 pending 的记录
func (r *LedgerRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]model.ContributionModel, error) {
	var contributions []model.ContributionModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", model.ContributionStatusPending, now).
		Order("id ASC").
		Limit(limit).
		Find(&contributions).Error
	return contributions, classify(err)
}

// Totals 汇总项目账本
func (r *LedgerRepository) Totals(ctx context.Context, projectId string) (*Totals, error) {
	var rows []struct {
		Status model.ContributionStatus
		Total  int64
		Count  int64
	}
	db := r.db.WithContext(ctx)
	if err := db.Model(&model.ContributionModel{}).
		Select("status, COALESCE(SUM(amount), 0) AS total, COUNT(*) AS count").
		Where("project_id = ?", projectId).
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, classify(err)
	}

	var t Totals
	for _, row := range rows {
		switch row.Status {
		case model.ContributionStatusPending:
			t.Pledged += row.Total
			t.PendingCount = row.Count
		case model.ContributionStatusCompleted:
			t.Pledged += row.Total
			t.Settled = row.Total
			t.CompletedCount = row.Count
		}
	}

	if err := db.Model(&model.ContributionModel{}).
		Where("project_id = ? AND status IN ?", projectId,
			[]model.ContributionStatus{model.ContributionStatusPending, model.ContributionStatusCompleted}).
		Distinct("contributor_id").
		Count(&t.Contributors).Error; err != nil {
		return nil, classify(err)
	}
	return &t, nil
}

// SaveEvent 记录链上事件, 已存在时返回 false
func (r *LedgerRepository) SaveEvent(ctx context.Context, e *model.ChainEventModel) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(e)
	if res.Error != nil {
		return false, classify(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// LastEventBlock 已处理事件的最高区块, 没有记录返回 0
func (r *LedgerRepository) LastEventBlock(ctx context.Context) (int64, error) {
	var block int64
	err := r.db.WithContext(ctx).Model(&model.ChainEventModel{}).
		Select("COALESCE(MAX(block_num), 0)").
		Scan(&block).Error
	return block, classify(err)
}

// SaveAudit 记录对账快照
func (r *LedgerRepository) SaveAudit(ctx context.Context, a *model.AuditRecordModel) error {
	return classify(r.db.WithContext(ctx).Create(a).Error)
}

// LatestAudit 最近一次对账结果
func (r *LedgerRepository) LatestAudit(ctx context.Context, projectId string) (*model.AuditRecordModel, error) {
	var a model.AuditRecordModel
	if err := r.db.WithContext(ctx).Where("project_id = ?", projectId).Order("id DESC").First(&a).Error; err != nil {
		return nil, classify(err)
	}
	return &a, nil
}
