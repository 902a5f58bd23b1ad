package model

import (
	"time"
)

// ContributionModel 捐款记录, 自增 Id 即插入顺序
type ContributionModel struct {
	Id        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	CreatedAt time.Time `json:"timestamp"`
	UpdatedAt time.Time `json:"updated_at"`

	ProjectId          string `json:"project_id" gorm:"type:varchar(36);not null;index:idx_contribution_match"`
	ContributorId      string `json:"contributor_id" gorm:"not null;index:idx_contribution_match"`
	ContributorName    string `json:"contributor_name"` // 捐款时的显示名, 之后不再更新
	ContributorAddress string `json:"contributor_address" gorm:"index"`
	Amount             int64  `json:"amount" gorm:"not null"`

	Status ContributionStatus `json:"status" gorm:"not null;default:'pending';index"`
	TxHash *string            `json:"tx_hash" gorm:"uniqueIndex"`

	ExpiresAt   time.Time  `json:"expires_at" gorm:"index"`
	CompletedAt *time.Time `json:"completed_at"`
	ReleasedAt  *time.Time `json:"released_at"`
}

// ContributionStatus 捐款状态
type ContributionStatus string

const (
	ContributionStatusPending   ContributionStatus = "pending"   // 已认捐, 占用额度
	ContributionStatusCompleted ContributionStatus = "completed" // 已上链确认, 终态
	ContributionStatusExpired   ContributionStatus = "expired"   // 超时释放
	ContributionStatusCancelled ContributionStatus = "cancelled" // 捐款人取消
)

// TableName 自定义表名
func (ContributionModel) TableName() string {
	return "contribution"
}

// Reserved 是否计入 funds_raised
func (c *ContributionModel) Reserved() bool {
	return c.Status == ContributionStatusPending || c.Status == ContributionStatusCompleted
}

// Hash 交易哈希, 未确认时为空字符串
func (c *ContributionModel) Hash() string {
	if c.TxHash == nil {
		return ""
	}
	return *c.TxHash
}
