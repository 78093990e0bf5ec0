package models

import (
	"sort"
	"strings"
	"time"
)

// ChangesToken 健康数据存储签发的变更令牌
type ChangesToken string

// ChangesResponse 变更查询结果
type ChangesResponse struct {
	TokenExpired bool `json:"changes_token_expired"`
	HasMore      bool `json:"has_more"`
}

// TimeRange 半开区间 [Start, End)
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains 判断时间是否落在区间内
func (t TimeRange) Contains(at time.Time) bool {
	return !at.Before(t.Start) && at.Before(t.End)
}

// Permission 读写权限，如 READ_STEPS / WRITE_HEART_RATE
type Permission string

// ReadPermission 类别的读权限
func ReadPermission(c Category) Permission {
	return Permission("READ_" + strings.ToUpper(string(c)))
}

// WritePermission 类别的写权限
func WritePermission(c Category) Permission {
	return Permission("WRITE_" + strings.ToUpper(string(c)))
}

// PermissionSet 已授予的权限集合
type PermissionSet map[Permission]struct{}

// NewPermissionSet 创建权限集合
func NewPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// Has 是否包含权限
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Missing 返回 required 中未授予的权限（已排序）
func (s PermissionSet) Missing(required []Permission) []Permission {
	var out []Permission
	for _, p := range required {
		if !s.Has(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// List 权限列表（已排序）
func (s PermissionSet) List() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ReadPermissions 一组类别的读权限
func ReadPermissions(categories []Category) []Permission {
	out := make([]Permission, 0, len(categories))
	for _, c := range categories {
		out = append(out, ReadPermission(c))
	}
	return out
}
