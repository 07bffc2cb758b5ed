package authz

import (
	"fmt"
)

// 权限码
const (
	PermChangeCreate = "change.create"
	PermChangeRead   = "change.read"
	PermChangeUpdate = "change.update"
	PermChangeReview = "change.review"

	PermPartCreate = "part.create"
	PermPartRead   = "part.read"
	PermPartRevise = "part.revise"
	PermPartUpdate = "part.update"

	PermValidationCreate = "partval.create"
	PermValidationRead   = "partval.read"
	PermValidationUpdate = "partval.update"
	PermValidationReview = "partval.review"

	PermFamilyCreate = "family.create"
	PermFamilyRead   = "family.read"

	// PermAll 通配权限
	PermAll = "*"
)

// Caller 调用方身份与权限，由外部认证系统提供
type Caller struct {
	UserID      string
	Permissions []string
}

// Has 是否持有权限
func (c Caller) Has(permission string) bool {
	for _, p := range c.Permissions {
		if p == permission || p == PermAll {
			return true
		}
	}
	return false
}

// HasAny 是否持有任一权限
func (c Caller) HasAny(permissions ...string) bool {
	for _, p := range permissions {
		if c.Has(p) {
			return true
		}
	}
	return false
}

// MissingPermissionError 缺少权限
type MissingPermissionError struct {
	Permission string
}

func (e *MissingPermissionError) Error() string {
	return fmt.Sprintf("missing permission %s", e.Permission)
}

// Require 校验调用方持有权限；给出多个时任一满足即可，报错时使用第一个
func Require(c Caller, permissions ...string) error {
	if len(permissions) == 0 {
		return nil
	}
	if c.HasAny(permissions...) {
		return nil
	}
	return &MissingPermissionError{Permission: permissions[0]}
}
