package repository

import (
	"context"
	"errors"
	"time"

	"wisefido-vitals/internal/models"
)

// ErrTokenNotFound 变更令牌不存在（视为过期）
var ErrTokenNotFound = errors.New("changes token not found")

// DefaultTokenTTL 变更令牌有效期
const DefaultTokenTTL = 30 * 24 * time.Hour

// HealthStore 外部健康数据存储的读写与变更轮询接口
type HealthStore interface {
	// ReadRecords 查询类别在 [Start, End) 内开始的记录
	ReadRecords(ctx context.Context, category models.Category, tr models.TimeRange) ([]models.Record, error)
	// InsertRecords 写入记录（整体成功或失败）
	InsertRecords(ctx context.Context, records []models.Record) error
	// GetChangesToken 为类别集合签发变更令牌，代表“截至当前”的状态
	GetChangesToken(ctx context.Context, categories []models.Category) (models.ChangesToken, error)
	// GetChanges 查询令牌之后是否有新变更
	GetChanges(ctx context.Context, token models.ChangesToken) (models.ChangesResponse, error)
	// GetGrantedPermissions 当前已授予的权限
	GetGrantedPermissions(ctx context.Context) (models.PermissionSet, error)
}

func categoryStrings(categories []models.Category) []string {
	out := make([]string, 0, len(categories))
	for _, c := range categories {
		out = append(out, string(c))
	}
	return out
}
