package model

import (
	"time"
)

// AuditRecordModel 链上与链下账本对账快照
type AuditRecordModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"checked_at" gorm:"index"`

	ProjectId      string `json:"project_id" gorm:"type:varchar(36);not null;index"`
	ChainProjectId int64  `json:"chain_project_id"`

	// 链上状态 (wei 字符串)
	ChainGoal     string    `json:"chain_goal"`
	ChainRaised   string    `json:"chain_raised"`
	ChainFunded   bool      `json:"chain_funded"`
	ChainExists   bool      `json:"chain_exists"`
	ChainDeadline time.Time `json:"chain_deadline"`

	// 链下状态 (最小单位)
	LedgerPledged int64 `json:"ledger_pledged"`
	LedgerSettled int64 `json:"ledger_settled"`

	// 链上已托管与链下已结算之差 (wei)
	DriftWei string `json:"drift_wei"`
	Balanced bool   `json:"balanced"`
}

// TableName 自定义表名
func (AuditRecordModel) TableName() string {
	return "audit_record"
}
