package intent

import (
	"regexp"
	"strings"

	"github.com/joescharf/opsassist/internal/models"
)

// resourceTypes is ordered so the first listed key wins.
var resourceTypes = []struct{ key, name string }{
	{"cpu", "cpu usage"},
	{"memory", "memory usage"},
	{"内存", "memory usage"},
	{"磁盘", "disk usage"},
	{"disk", "disk usage"},
	{"网络", "network status"},
	{"network", "network status"},
	{"进程", "process info"},
	{"process", "process info"},
	{"负载", "system load"},
	{"load", "system load"},
}

var errorDescPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(错误|异常|失败)\s*(.+)`),
	regexp.MustCompile(`(问题|故障)\s*(.+)`),
	regexp.MustCompile(`(error|failure|failed)\s+(.+)`),
}

var actionVerbs = []string{
	"启动", "停止", "重启", "删除", "创建", "执行", "运行",
	"restart", "start", "stop", "delete", "execute", "run", "kill",
}

// extractParams pulls intent-specific hints out of a normalized query.
func extractParams(q string, in models.Intent) map[string]string {
	params := map[string]string{}
	switch in {
	case models.IntentSystemInfo, models.IntentPerformance:
		for _, rt := range resourceTypes {
			if strings.Contains(q, rt.key) {
				params["resource_type"] = rt.key
				params["resource_name"] = rt.name
				break
			}
		}
	case models.IntentTroubleshoot:
		for _, re := range errorDescPatterns {
			if m := re.FindStringSubmatch(q); m != nil {
				if desc := strings.TrimSpace(m[2]); desc != "" {
					params["error_description"] = desc
				}
				break
			}
		}
	case models.IntentCommandExec:
		for _, v := range actionVerbs {
			if strings.Contains(q, v) {
				params["action"] = v
				break
			}
		}
	}
	if len(params) == 0 {
		return nil
	}
	return params
}
