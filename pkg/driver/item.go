// Package driver 实现迁移的批量执行侧:
// 从 stdin 读 ndjson 任务、按并发度扇出到 worker 操作、
// 给每个任务独立重试、把逐项结果以 ndjson 写回 stdout。
//
// 单个任务的失败只记录不中断，幂等性保证整批重跑是安全的。
package driver

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"carmover/pkg/types"

	"github.com/ipfs/go-cid"
)

// Item 是一条待处理任务。字段名按 ndjson 清单的约定；
// encoding/json 的大小写不敏感匹配让 {"Key":...} 也能直接解。
type Item struct {
	Region string `json:"region,omitempty"`
	Bucket string `json:"bucket,omitempty"`
	Key    string `json:"key"`
	Shard  string `json:"shard,omitempty"`
	Root   string `json:"root,omitempty"`
	Size   int64  `json:"size,omitempty"`
}

// Result 是一条任务的产出，ndjson 一行。
// 不相关的字段置零值即可被 omitempty 吞掉。
type Result struct {
	Key     string `json:"key"`
	Ok      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Cid     string `json:"cid,omitempty"`
	Shard   string `json:"shard,omitempty"`
	Skipped bool   `json:"skipped,omitempty"`
	Updated int    `json:"updated,omitempty"`
	Exists  *bool  `json:"exists,omitempty"`
}

// ReadItems 产出任务流。
// 有位置参数时每个参数是一个 key；否则从 r 逐行读 ndjson。
// 空行跳过；坏行直接报错，半截清单悄悄跑完比报错危险得多。
func ReadItems(args []string, r io.Reader, fn func(Item) error) error {
	if len(args) > 0 {
		for _, key := range args {
			if err := fn(Item{Key: key}); err != nil {
				return err
			}
		}
		return nil
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var item Item
		if err := json.Unmarshal([]byte(text), &item); err != nil {
			return fmt.Errorf("stdin line %d is not valid json: %w", line, err)
		}
		if item.Key == "" {
			return fmt.Errorf("stdin line %d has no key", line)
		}
		if err := fn(item); err != nil {
			return err
		}
	}
	return sc.Err()
}

// RootFromKey 从 key 的路径里找 root cid。
// 清单通常形如 "complete/{root}.car" 或 "raw/{root}/{...}.car"，
// 逐段尝试解析，取第一个能解出来的。找不到返回错误，调用方
// 必须显式提供 root。
func RootFromKey(key string) (cid.Cid, error) {
	for _, seg := range strings.Split(key, "/") {
		seg = strings.TrimSuffix(seg, ".car")
		if seg == "" {
			continue
		}
		if c, err := types.ParseRootCID(seg); err == nil {
			return c, nil
		}
	}
	return cid.Undef, fmt.Errorf("cannot derive root cid from key %q", key)
}
