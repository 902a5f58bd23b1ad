package model

import (
	"time"
)

// ProjectTeamModel 项目团队成员
type ProjectTeamModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	ProjectId  string   `json:"project_id" gorm:"type:varchar(36);not null;uniqueIndex:idx_team_member"`
	MemberId   string   `json:"member_id" gorm:"not null;uniqueIndex:idx_team_member"`
	MemberRole TeamRole `json:"member_role" gorm:"not null"`
}

// TeamRole 团队角色
type TeamRole string

const (
	TeamRoleCreator TeamRole = "creator" // 创建者
	TeamRoleMember  TeamRole = "member"  // 成员
)

// TableName 自定义表名
func (ProjectTeamModel) TableName() string {
	return "project_team"
}
