package model

import (
	"time"
)

// ChainEventModel 已处理的链上 ContributionMade 事件
type ChainEventModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	ContractAddress string `json:"contract_address" gorm:"not null"`
	EventType       string `json:"event_type" gorm:"not null"`
	TxHash          string `json:"tx_hash" gorm:"not null;uniqueIndex:idx_event_log"`
	LogIndex        int64  `json:"log_index" gorm:"uniqueIndex:idx_event_log"`
	BlockNum        int64  `json:"block_num" gorm:"not null;index"`
	ChainProjectId  int64  `json:"chain_project_id"`
	Contributor     string `json:"contributor"`
	AmountWei       string `json:"amount_wei"`
	ContributionId  *int64 `json:"contribution_id"` // 匹配到的捐款记录, 未匹配为空
}

// TableName 自定义表名
func (ChainEventModel) TableName() string {
	return "chain_event"
}
