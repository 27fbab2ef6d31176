package stats

// 受制裁地区不参与上报，对应条目整体丢弃
var sanctionedCountries = map[string]struct{}{
	"CU": {},
	"IR": {},
	"KP": {},
	"SY": {},
}

// filterSanctioned 去除受制裁国家代码，保持原有顺序
func filterSanctioned(countries []string) []string {
	out := make([]string, 0, len(countries))
	for _, c := range countries {
		if _, ok := sanctionedCountries[c]; ok {
			continue
		}
		out = append(out, c)
	}
	return out
}
