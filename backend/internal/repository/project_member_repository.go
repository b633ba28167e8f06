package repository

import (
	"context"
	"errors"

	"releasedock/backend/internal/domain/project"

	"gorm.io/gorm"
)

// ProjectMemberRepository 读取 project_members 表，成员维护由外部工作区服务负责。
type ProjectMemberRepository struct {
	db *gorm.DB
}

// NewProjectMemberRepository 构造仓储实例。
func NewProjectMemberRepository(db *gorm.DB) *ProjectMemberRepository {
	return &ProjectMemberRepository{db: db}
}

// FindMember 查询用户在项目中的成员记录，不存在时返回 (nil, nil)。
func (r *ProjectMemberRepository) FindMember(ctx context.Context, projectID string, userID uint) (*project.Member, error) {
	var member project.Member
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND user_id = ?", projectID, userID).
		First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &member, nil
}

// Upsert 写入成员关系，主要用于本地模式的种子数据与测试。
func (r *ProjectMemberRepository) Upsert(ctx context.Context, member *project.Member) error {
	existing, err := r.FindMember(ctx, member.ProjectID, member.UserID)
	if err != nil {
		return err
	}
	if existing == nil {
		return r.db.WithContext(ctx).Create(member).Error
	}
	return r.db.WithContext(ctx).
		Model(existing).
		Update("role", member.Role).Error
}
