package stats

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxRedirects 上报时允许跟随的重定向次数上限
const maxRedirects = 10

// Sender 将小时报告以 JSON POST 到收集端
// 重定向自行处理：标准库会把 301/302/303 改写为 GET 并丢弃请求体
type Sender struct {
	url    string
	client *http.Client
}

func NewSender(url string, timeout time.Duration) *Sender {
	return &Sender{
		url: url,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Send 上报一份报告，跨重定向保持 POST 方法与原请求体，非 2xx 视为失败
func (s *Sender) Send(ctx context.Context, report *HourlyReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	url := s.url
	for i := 0; i <= maxRedirects; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to build report request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to post report: %w", err)
		}

		if isRedirect(resp.StatusCode) {
			location := resp.Header.Get("Location")
			drain(resp)
			if location == "" {
				return fmt.Errorf("redirect %d without location header", resp.StatusCode)
			}
			next, err := resp.Request.URL.Parse(location)
			if err != nil {
				return fmt.Errorf("failed to parse redirect location: %w", err)
			}
			url = next.String()
			continue
		}

		status := resp.StatusCode
		drain(resp)

		if status < 200 || status >= 300 {
			return fmt.Errorf("collector returned status %d", status)
		}
		return nil
	}

	return fmt.Errorf("too many redirects posting report")
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
