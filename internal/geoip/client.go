package geoip

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCacheSize = 1024

// Client 查询 IP 所属国家的 HTTP 客户端
// 查询按 {api_url}/{ip} 发起，返回 ISO 3166-1 alpha-2 国家代码
// 成功结果进入 LRU 缓存，失败不缓存
type Client struct {
	apiURL string
	client *http.Client
	cache  *lru.Cache[string, string]
}

type lookupResponse struct {
	CountryCode string `json:"country_code"`
}

func NewClient(apiURL string, timeout time.Duration, cacheSize int) (*Client, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create lookup cache: %w", err)
	}

	return &Client{
		apiURL: strings.TrimRight(apiURL, "/"),
		client: &http.Client{Timeout: timeout},
		cache:  cache,
	}, nil
}

// CountryForIP 解析国家代码，同一地址的重复查询命中缓存
func (c *Client) CountryForIP(ctx context.Context, ip string) (string, error) {
	if country, ok := c.cache.Get(ip); ok {
		return country, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/"+ip, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build lookup request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to query country for ip: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("lookup service returned status %d", resp.StatusCode)
	}

	var decoded lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("failed to decode lookup response: %w", err)
	}
	if decoded.CountryCode == "" {
		return "", fmt.Errorf("lookup response missing country_code")
	}

	c.cache.Add(ip, decoded.CountryCode)
	return decoded.CountryCode, nil
}

// CacheLen 当前缓存条目数
func (c *Client) CacheLen() int {
	return c.cache.Len()
}
