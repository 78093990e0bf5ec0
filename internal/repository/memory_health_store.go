package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"wisefido-vitals/internal/models"

	"github.com/google/uuid"
)

type memoryChange struct {
	seq      int64
	category models.Category
}

type memoryToken struct {
	categories map[models.Category]struct{}
	lastSeq    int64
	issuedAt   time.Time
}

// MemoryHealthStore 内存实现（数据库不可用时的开发模式 + 单元测试）
type MemoryHealthStore struct {
	mu         sync.RWMutex
	records    []models.Record
	changes    []memoryChange
	seq        int64
	tokens     map[models.ChangesToken]memoryToken
	granted    models.PermissionSet
	readErrors map[models.Category]error
	changesErr error
	tokenTTL   time.Duration
	now        func() time.Time
}

// NewMemoryHealthStore 创建内存存储，默认授予所有类别的读写权限
func NewMemoryHealthStore() *MemoryHealthStore {
	granted := models.NewPermissionSet()
	for _, c := range models.AllCategories {
		granted[models.ReadPermission(c)] = struct{}{}
		granted[models.WritePermission(c)] = struct{}{}
	}
	return &MemoryHealthStore{
		tokens:     make(map[models.ChangesToken]memoryToken),
		granted:    granted,
		readErrors: make(map[models.Category]error),
		tokenTTL:   DefaultTokenTTL,
		now:        time.Now,
	}
}

func (m *MemoryHealthStore) ReadRecords(ctx context.Context, category models.Category, tr models.TimeRange) ([]models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.readErrors[category]; err != nil {
		return nil, err
	}

	var out []models.Record
	for _, rec := range m.records {
		if rec.Category == category && tr.Contains(rec.StartTime) {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *MemoryHealthStore) InsertRecords(ctx context.Context, records []models.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range records {
		if rec.Metadata.LastModified.IsZero() {
			rec.Metadata.LastModified = m.now()
		}
		m.records = append(m.records, rec)
		m.seq++
		m.changes = append(m.changes, memoryChange{seq: m.seq, category: rec.Category})
	}
	return nil
}

func (m *MemoryHealthStore) GetChangesToken(ctx context.Context, categories []models.Category) (models.ChangesToken, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	set := make(map[models.Category]struct{}, len(categories))
	for _, c := range categories {
		set[c] = struct{}{}
	}
	token := models.ChangesToken(uuid.NewString())
	m.tokens[token] = memoryToken{categories: set, lastSeq: m.seq, issuedAt: m.now()}
	return token, nil
}

func (m *MemoryHealthStore) GetChanges(ctx context.Context, token models.ChangesToken) (models.ChangesResponse, error) {
	if err := ctx.Err(); err != nil {
		return models.ChangesResponse{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.changesErr != nil {
		return models.ChangesResponse{}, m.changesErr
	}

	state, ok := m.tokens[token]
	if !ok || m.now().Sub(state.issuedAt) > m.tokenTTL {
		return models.ChangesResponse{TokenExpired: true}, nil
	}
	for _, ch := range m.changes {
		if ch.seq <= state.lastSeq {
			continue
		}
		if _, tracked := state.categories[ch.category]; tracked {
			return models.ChangesResponse{HasMore: true}, nil
		}
	}
	return models.ChangesResponse{}, nil
}

func (m *MemoryHealthStore) GetGrantedPermissions(ctx context.Context) (models.PermissionSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(models.PermissionSet, len(m.granted))
	for p := range m.granted {
		out[p] = struct{}{}
	}
	return out, nil
}

// SetPermissions 替换已授予的权限
func (m *MemoryHealthStore) SetPermissions(perms ...models.Permission) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.granted = models.NewPermissionSet(perms...)
}

// SetReadError 让某类别的读取失败（err 为 nil 时恢复）
func (m *MemoryHealthStore) SetReadError(c models.Category, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.readErrors, c)
		return
	}
	m.readErrors[c] = err
}

// SetChangesError 让 GetChanges 返回错误（err 为 nil 时恢复）
func (m *MemoryHealthStore) SetChangesError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changesErr = err
}

// ExpireToken 使令牌立即失效
func (m *MemoryHealthStore) ExpireToken(token models.ChangesToken) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, token)
}

// Len 记录总数
func (m *MemoryHealthStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
