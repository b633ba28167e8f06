package changelog

import (
	"context"
	"fmt"
	"strings"

	"releasedock/backend/internal/domain/project"
)

// Permission 区分只读与可写操作。
type Permission int

const (
	PermissionRead Permission = iota
	PermissionWrite
)

// 项目角色，成员数据由外部工作区服务维护。
const (
	RoleOwner  = "owner"
	RoleEditor = "editor"
	RoleViewer = "viewer"
)

// Actor 是发起请求的调用者，由鉴权中间件注入。
type Actor struct {
	UserID  uint
	IsAdmin bool
}

// Authorizer 判断调用者能否在项目下执行操作，拒绝时返回 ErrForbidden。
type Authorizer interface {
	AuthorizeProject(ctx context.Context, actor Actor, projectID string, perm Permission) error
}

// MemberFinder 读取项目成员关系。
type MemberFinder interface {
	FindMember(ctx context.Context, projectID string, userID uint) (*project.Member, error)
}

// ProjectAccess 基于 project_members 表做授权，管理员直接放行。
type ProjectAccess struct {
	members MemberFinder
}

// NewProjectAccess 构造授权器。
func NewProjectAccess(members MemberFinder) *ProjectAccess {
	return &ProjectAccess{members: members}
}

// AuthorizeProject 实现 Authorizer。
func (a *ProjectAccess) AuthorizeProject(ctx context.Context, actor Actor, projectID string, perm Permission) error {
	if actor.IsAdmin {
		return nil
	}
	if actor.UserID == 0 || strings.TrimSpace(projectID) == "" {
		return ErrForbidden
	}

	member, err := a.members.FindMember(ctx, projectID, actor.UserID)
	if err != nil {
		return fmt.Errorf("load project member: %w", err)
	}
	if member == nil {
		return ErrForbidden
	}

	switch member.Role {
	case RoleOwner, RoleEditor:
		return nil
	case RoleViewer:
		if perm == PermissionRead {
			return nil
		}
	}
	return ErrForbidden
}
