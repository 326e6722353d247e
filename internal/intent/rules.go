package intent

import (
	"regexp"

	"github.com/joescharf/opsassist/internal/models"
)

// Audit phrases. Any of these forces a full system check.
var forceCheckPhrases = []string{
	"检查系统", "系统检查", "巡检", "全面检查", "健康检查", "状态检查",
	"check system", "system check", "full inspection", "health check",
}

// Conversational phrases. CJK phrases match as substrings, latin phrases on
// word boundaries so "hi" never fires inside "this".
var chatPhrases = []string{
	"你好", "谢谢", "再见", "帮助", "介绍",
	"hello", "hi", "hey", "thanks", "thank you", "bye", "goodbye", "help",
}

const (
	literalWeight = 1.0
	patternWeight = 0.8
)

// rule is one weighted pattern of the scoring tier.
type rule struct {
	name   string
	re     *regexp.Regexp
	weight float64
}

// intentRules is one intent's pattern set.
type intentRules struct {
	intent models.Intent
	rules  []rule
}

// scoringOrder is also the tie-break order.
var scoringOrder = []models.Intent{
	models.IntentSystemInfo,
	models.IntentTroubleshoot,
	models.IntentPerformance,
	models.IntentCommandExec,
}

var patternSources = map[models.Intent][]string{
	models.IntentSystemInfo: {
		`cpu.*(使用率|情况|状态|是多少|怎么样)`,
		`内存.*(使用率|情况|状态|是多少|怎么样)`,
		`磁盘.*(使用率|情况|状态|空间)`,
		`网络.*(状态|情况)`,
		`负载.*(情况|状态)`,
		`进程.*(情况|状态)`,
		`当前.*状态`,
		`显示.*信息`,
		`查看.*(cpu|内存|磁盘|网络)`,
		`获取.*(cpu|内存|磁盘|网络|指标|数据)`,
		`cpu使用率`, `内存使用率`, `磁盘使用率`, `网络状态`,
		`\b(cpu|memory|disk|network|load)\s+(usage|utilization|status|info)\b`,
		`\bhow much (memory|disk|cpu)\b`,
		`\bshow\b.*\b(metrics|stats|info)\b`,
	},
	models.IntentTroubleshoot: {
		`故障`, `问题`, `错误`, `异常`, `失败`, `不能`, `无法`, `解决`, `修复`, `排查`,
		`诊断.*问题`,
		`\b(error|errors|failure|failed|failing|broken|crash\w*|troubleshoot\w*|unable)\b`,
		`\bnot working\b`,
	},
	models.IntentPerformance: {
		`性能`, `优化`, `慢`, `卡顿`, `延迟`, `速度`, `效率`, `瓶颈`, `压力测试`, `负载测试`, `调优`,
		`\b(performance|slow|slowness|latency|bottleneck\w*|optimi[sz]\w*|tuning)\b`,
	},
	models.IntentCommandExec: {
		`执行`, `运行`, `启动`, `停止`, `重启`, `删除`, `创建`, `修改`, `命令`, `操作`,
		`\b(run|execute|start|stop|restart|delete|kill)\b`,
	},
}

// compileRules builds the scoring tier in tie-break order. Plain literals
// weigh more than regular expressions.
func compileRules() []intentRules {
	out := make([]intentRules, 0, len(scoringOrder))
	for _, in := range scoringOrder {
		ir := intentRules{intent: in}
		for _, src := range patternSources[in] {
			w := patternWeight
			if regexp.QuoteMeta(src) == src {
				w = literalWeight
			}
			ir.rules = append(ir.rules, rule{
				name:   string(in) + ":" + src,
				re:     regexp.MustCompile(src),
				weight: w,
			})
		}
		out = append(out, ir)
	}
	return out
}
