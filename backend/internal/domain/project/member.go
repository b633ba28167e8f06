package project

import "time"

// Member 记录用户在某个项目下的角色，用于判定是否可以编辑该项目的更新日志。
type Member struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ProjectID string    `gorm:"size:64;not null;uniqueIndex:idx_project_member,priority:1" json:"project_id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_project_member,priority:2" json:"user_id"`
	Role      string    `gorm:"size:32;not null;default:editor" json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName 指定数据库表名。
func (Member) TableName() string {
	return "project_members"
}
