package model

import (
	"time"
)

// ProjectModel 众筹项目模型, 金额均为最小单位(1e-6)
type ProjectModel struct {
	Id        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
	UpdatedAt time.Time `json:"updated_at"`

	// 基本信息
	Title       string `json:"title" gorm:"not null"`
	Description string `json:"description" gorm:"type:text"`
	Citations   string `json:"citations" gorm:"type:text"`

	// 众筹信息
	GoalAmount  int64 `json:"goal_amount" gorm:"not null"`
	FundsRaised int64 `json:"funds_raised" gorm:"not null;default:0"`

	// 状态
	Status        ProjectStatus `json:"status" gorm:"not null;default:'active';index"`
	DeactivatedAt *time.Time    `json:"deactivated_at"`

	// 创建者信息
	CreatedBy   string `json:"created_by" gorm:"not null;index"`
	CreatorName string `json:"creator_name"`

	// 区块链信息
	ChainProjectId    *int64 `json:"chain_project_id" gorm:"uniqueIndex"`
	ChainTxHash       string `json:"chain_tx_hash"`
	RegistrationError string `json:"-" gorm:"type:text"`

	// 乐观锁版本号, 每次写入递增
	Version int64 `json:"version" gorm:"not null;default:1"`
}

// ProjectStatus 项目状态
type ProjectStatus string

const (
	ProjectStatusActive   ProjectStatus = "active"   // 接受捐款
	ProjectStatusInactive ProjectStatus = "inactive" // 已停用, 不再接受新资金
)

// TableName 自定义表名
func (ProjectModel) TableName() string {
	return "project"
}

// OnChain 是否已在链上注册
func (p *ProjectModel) OnChain() bool {
	return p.ChainProjectId != nil
}

// Remaining 距离目标金额的剩余额度
func (p *ProjectModel) Remaining() int64 {
	return p.GoalAmount - p.FundsRaised
}
