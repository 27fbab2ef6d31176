package stats

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"gkipass/telemetry/internal/metrics"
	"gkipass/telemetry/pkg/logger"
)

// lookupFailed 查询失败时写入报告的占位国家代码
const lookupFailed = "ERROR"

// UserReport 单个用户的匿名小时数据
type UserReport struct {
	UserID           string   `json:"userId"`
	BytesTransferred int64    `json:"bytesTransferred"`
	Countries        []string `json:"countries"`
}

// HourlyReport 上报给收集端的小时报告
// 字段名是上报线路格式的一部分，不可改动
type HourlyReport struct {
	ServerID    string       `json:"serverId"`
	StartUTCMs  int64        `json:"startUtcMs"`
	EndUTCMs    int64        `json:"endUtcMs"`
	UserReports []UserReport `json:"userReports"`
}

// CountryResolver 将匿名化后的地址解析为国家代码
type CountryResolver interface {
	CountryForIP(ctx context.Context, ip string) (string, error)
}

// ReportBuilder 基于窗口快照生成小时报告
type ReportBuilder struct {
	resolver CountryResolver
}

func NewReportBuilder(resolver CountryResolver) *ReportBuilder {
	return &ReportBuilder{resolver: resolver}
}

// Build 生成报告，过滤后没有任何可上报用户时返回 nil
// 只读取快照，不回写聚合器
func (b *ReportBuilder) Build(ctx context.Context, serverID string, snap Snapshot) *HourlyReport {
	var reports []UserReport
	for id, user := range snap.Users {
		countries := filterSanctioned(b.resolveCountries(ctx, user.IPs))
		if len(countries) == 0 {
			continue
		}
		reports = append(reports, UserReport{
			UserID:           id,
			BytesTransferred: user.Bytes,
			Countries:        countries,
		})
	}

	if len(reports) == 0 {
		return nil
	}

	return &HourlyReport{
		ServerID:    serverID,
		StartUTCMs:  snap.Start.UnixMilli(),
		EndUTCMs:    snap.End.UnixMilli(),
		UserReports: reports,
	}
}

// resolveCountries 并发解析全部地址后合并，按输入顺序去重
// 单个地址查询失败以占位代码记入，不影响其余地址
func (b *ReportBuilder) resolveCountries(ctx context.Context, ips []string) []string {
	results := make([]string, len(ips))

	var wg sync.WaitGroup
	for i, ip := range ips {
		wg.Add(1)
		go func(i int, ip string) {
			defer wg.Done()

			country, err := b.resolver.CountryForIP(ctx, ip)
			if err != nil {
				logger.Warn("国家代码查询失败", zap.String("ip", ip), zap.Error(err))
				metrics.LookupErrors.Inc()
				results[i] = lookupFailed
				return
			}
			results[i] = country
		}(i, ip)
	}
	wg.Wait()

	seen := make(map[string]struct{}, len(results))
	countries := make([]string, 0, len(results))
	for _, c := range results {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		countries = append(countries, c)
	}
	return countries
}
