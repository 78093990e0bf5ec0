package cli

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
)

// apiResult 服务端统一返回结构
type apiResult struct {
	Code    int             `json:"code"`
	Type    string          `json:"type"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

const resultSuccess = 2000

// apiClient vitals HTTP API 客户端
type apiClient struct {
	http *resty.Client
}

func newAPIClient(server string, timeout time.Duration) *apiClient {
	c := resty.New().
		SetBaseURL(server).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &apiClient{http: c}
}

func (c *apiClient) get(path string, query url.Values, out any) error {
	req := c.http.R()
	if len(query) > 0 {
		req.SetQueryParamsFromValues(query)
	}
	resp, err := req.Get(path)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	return decodeResult(path, resp, out)
}

func (c *apiClient) post(path string, query url.Values, body any, out any) error {
	req := c.http.R().SetHeader("Content-Type", "application/json")
	if len(query) > 0 {
		req.SetQueryParamsFromValues(query)
	}
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Post(path)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	return decodeResult(path, resp, out)
}

// download 获取原始响应体（xlsx 导出）
func (c *apiClient) download(path string, query url.Values) ([]byte, error) {
	req := c.http.R().SetHeader("Accept", "*/*")
	if len(query) > 0 {
		req.SetQueryParamsFromValues(query)
	}
	resp, err := req.Get(path)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	if resp.IsError() {
		var res apiResult
		if json.Unmarshal(resp.Body(), &res) == nil && res.Message != "" {
			return nil, fmt.Errorf("GET %s: http %d: %s", path, resp.StatusCode(), res.Message)
		}
		return nil, fmt.Errorf("GET %s: http %d", path, resp.StatusCode())
	}
	return resp.Body(), nil
}

func decodeResult(path string, resp *resty.Response, out any) error {
	var res apiResult
	if err := json.Unmarshal(resp.Body(), &res); err != nil {
		return fmt.Errorf("%s: http %d: invalid response: %w", path, resp.StatusCode(), err)
	}
	if resp.IsError() || res.Code != resultSuccess {
		return fmt.Errorf("%s: http %d: %s", path, resp.StatusCode(), res.Message)
	}
	if out == nil || len(res.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(res.Result, out); err != nil {
		return fmt.Errorf("%s: failed to decode result: %w", path, err)
	}
	return nil
}
