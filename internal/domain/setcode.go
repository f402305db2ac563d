package domain

import (
	"fmt"
	"strings"
)

// GlobalSetCode 把区域 set code 转成去掉区域标记的全球形态：
// "LOB-EN001" -> "LOB-001"。
//
// 规则：按 '-' 切分，取第一段 + 第二段去掉前两个字符；少于两段视为非法输入。
// 第二段不足两个字符时后缀为空。
func GlobalSetCode(setCode string) (string, error) {
	parts := strings.Split(setCode, "-")
	if len(parts) < 2 {
		return "", fmt.Errorf("set code %q 缺少 '-' 分隔", setCode)
	}
	suffix := parts[1]
	if len(suffix) >= 2 {
		suffix = suffix[2:]
	} else {
		suffix = ""
	}
	return parts[0] + "-" + suffix, nil
}

// CacheKey 去掉 set code 末尾的 'r' 与 'b' 标记，得到 lookup 缓存键。
// 顺序固定：先剥 'r' 再剥 'b'。
func CacheKey(setCode string) string {
	return strings.TrimRight(strings.TrimRight(strings.TrimSpace(setCode), "r"), "b")
}
