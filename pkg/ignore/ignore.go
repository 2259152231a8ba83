package ignore

import (
	"os"

	gitignore "github.com/sabhiram/go-gitignore"
)

// Matcher 封装了清单排除逻辑
// 它负责判断一个源端 key 是否应该被排除在迁移清单之外
type Matcher struct {
	ignorer *gitignore.GitIgnore
}

// NewMatcher 初始化排除匹配器
// excludeFile: 可选的 gitignore 语法规则文件 (空字符串表示只用默认规则)
func NewMatcher(excludeFile string) (*Matcher, error) {
	// 1. 系统级默认排除规则 (Hardcoded Defaults)
	// 这些规则强制生效：以下工件永远不是待迁移的 shard
	defaultRules := []string{
		"*.idx", // side index 工件，由 copy 阶段重新生成，不迁移
		"*.tmp", // 半成品上传残留
	}

	var ignorer *gitignore.GitIgnore
	var err error

	// 2. 检查调用方是否提供了规则文件
	if excludeFile != "" {
		if _, errStat := os.Stat(excludeFile); errStat != nil {
			return nil, errStat
		}
		// 情况 A: 用户定义了排除文件
		// 我们把"文件内容"和"默认规则"合并编译
		ignorer, err = gitignore.CompileIgnoreFileAndLines(excludeFile, defaultRules...)
	} else {
		// 情况 B: 仅编译默认规则
		ignorer = gitignore.CompileIgnoreLines(defaultRules...)
	}

	if err != nil {
		return nil, err
	}

	return &Matcher{ignorer: ignorer}, nil
}

// Matches 检查给定的 key 是否匹配排除规则
// key: 源端对象 key (例如 "complete/bagy...car")
// 返回: true 表示应该排除 (Skip), false 表示应该进清单 (Keep)
func (m *Matcher) Matches(key string) bool {
	if m.ignorer == nil {
		return false
	}
	return m.ignorer.MatchesPath(key)
}
