package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"wisefido-vitals/internal/models"
	"wisefido-vitals/internal/repository"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Response 平台 API 响应信封
type Response struct {
	Status int             `json:"status"`
	Msg    string          `json:"msg"`
	Data   json.RawMessage `json:"data"`
}

// Options 客户端参数
type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	RetryCount int
}

// Client 远程健康数据平台客户端（实现 repository.HealthStore）
type Client struct {
	httpClient *resty.Client
	// 写入不是幂等的，单独一个不重试的 client
	insertClient *resty.Client
	logger       *zap.Logger
}

// NewClient 创建平台客户端
func NewClient(opts Options, logger *zap.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Client{
		httpClient:   newRestyClient(opts, opts.RetryCount),
		insertClient: newRestyClient(opts, 0),
		logger:       logger,
	}
}

func newRestyClient(opts Options, retries int) *resty.Client {
	client := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(3*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if opts.APIKey != "" {
		client.SetAuthToken(opts.APIKey)
	}
	return client
}

type readRequest struct {
	Category models.Category `json:"category"`
	Start    time.Time       `json:"start"`
	End      time.Time       `json:"end"`
}

type insertRequest struct {
	Records []models.Record `json:"records"`
}

type tokenRequest struct {
	Categories []models.Category `json:"categories"`
}

type tokenResponse struct {
	Token models.ChangesToken `json:"token"`
}

type changesRequest struct {
	Token models.ChangesToken `json:"token"`
}

// ReadRecords 读取类别在时间范围内的记录
func (c *Client) ReadRecords(ctx context.Context, category models.Category, tr models.TimeRange) ([]models.Record, error) {
	var records []models.Record
	err := c.call(ctx, "/records/read", readRequest{Category: category, Start: tr.Start, End: tr.End}, &records)
	if err != nil {
		return nil, err
	}
	return records, nil
}

// InsertRecords 批量写入记录
func (c *Client) InsertRecords(ctx context.Context, records []models.Record) error {
	return c.callWith(ctx, c.insertClient, "/records/insert", insertRequest{Records: records}, nil)
}

// GetChangesToken 获取变更令牌
func (c *Client) GetChangesToken(ctx context.Context, categories []models.Category) (models.ChangesToken, error) {
	var out tokenResponse
	if err := c.call(ctx, "/changes/token", tokenRequest{Categories: categories}, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", fmt.Errorf("platform returned empty changes token")
	}
	return out.Token, nil
}

// GetChanges 查询令牌之后的变更
func (c *Client) GetChanges(ctx context.Context, token models.ChangesToken) (models.ChangesResponse, error) {
	var out models.ChangesResponse
	if err := c.call(ctx, "/changes", changesRequest{Token: token}, &out); err != nil {
		// 平台不认识的令牌按过期处理
		if errors.Is(err, repository.ErrTokenNotFound) {
			return models.ChangesResponse{TokenExpired: true}, nil
		}
		return models.ChangesResponse{}, err
	}
	return out, nil
}

// GetGrantedPermissions 查询已授予权限
func (c *Client) GetGrantedPermissions(ctx context.Context) (models.PermissionSet, error) {
	var perms []models.Permission
	if err := c.call(ctx, "/permissions", struct{}{}, &perms); err != nil {
		return nil, err
	}
	return models.NewPermissionSet(perms...), nil
}

// call POST 请求并解析信封；result 为 nil 时忽略 data
func (c *Client) call(ctx context.Context, path string, body any, result any) error {
	return c.callWith(ctx, c.httpClient, path, body, result)
}

func (c *Client) callWith(ctx context.Context, client *resty.Client, path string, body any, result any) error {
	var response Response
	resp, err := client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&response).
		SetError(&response).
		Post(path)
	if err != nil {
		c.logger.Error("Health platform call failed",
			zap.String("path", path),
			zap.Error(err),
		)
		return fmt.Errorf("failed to call health platform %s: %w", path, err)
	}

	if resp.StatusCode() == http.StatusNotFound && path == "/changes" {
		return repository.ErrTokenNotFound
	}
	if resp.IsError() {
		return fmt.Errorf("health platform %s: http %d: %s", path, resp.StatusCode(), response.Msg)
	}
	if response.Status != 0 {
		c.logger.Warn("Health platform returned error",
			zap.String("path", path),
			zap.Int("status", response.Status),
			zap.String("msg", response.Msg),
		)
		return fmt.Errorf("health platform error: %s (status: %d)", response.Msg, response.Status)
	}

	if result == nil || len(response.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(response.Data, result); err != nil {
		return fmt.Errorf("failed to unmarshal %s response: %w", path, err)
	}
	return nil
}
