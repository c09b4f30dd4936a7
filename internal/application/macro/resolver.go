// Package macro 提供提示词文本中的宏展开能力。
// 解析是纯函数式的：除调用方显式传入的变量表外不依赖任何跨调用状态。
package macro

import (
	"math/rand"
	"strconv"
	"strings"
	"time"
)

// Vars 调用方变量表，键为宏名（不含花括号）
type Vars map[string]string

// Resolver 宏解析器
type Resolver struct {
	// now 便于测试注入固定时间
	now func() time.Time
	// intn 便于测试注入确定性随机数
	intn func(n int) int
}

// NewResolver 创建宏解析器
func NewResolver() *Resolver {
	return &Resolver{
		now:  time.Now,
		intn: rand.Intn,
	}
}

// Resolve 展开文本中的所有 {{...}} 宏。
// 从左到右单遍扫描，展开产物不会被二次扫描，未识别的宏原样保留。
func (r *Resolver) Resolve(text string, vars Vars) string {
	if !strings.Contains(text, "{{") {
		return text
	}

	var sb strings.Builder
	sb.Grow(len(text))

	rest := text
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			sb.WriteString(rest)
			break
		}

		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			sb.WriteString(rest)
			break
		}
		end += start

		sb.WriteString(rest[:start])

		name := rest[start+2 : end]
		if expanded, ok := r.expand(name, vars); ok {
			sb.WriteString(expanded)
		} else {
			// 未识别的宏原样保留
			sb.WriteString(rest[start : end+2])
		}

		rest = rest[end+2:]
	}

	return sb.String()
}

// expand 展开单个宏，返回 (结果, 是否识别)
func (r *Resolver) expand(name string, vars Vars) (string, bool) {
	name = strings.TrimSpace(name)

	switch name {
	case "time":
		return r.now().Format("15:04:05"), true
	case "date":
		return r.now().Format("2006-01-02"), true
	case "datetime":
		return r.now().Format("2006-01-02 15:04:05"), true
	}

	if arg, ok := strings.CutPrefix(name, "random:"); ok {
		return r.expandRandom(arg)
	}
	if arg, ok := strings.CutPrefix(name, "choose:"); ok {
		return r.expandChoose(arg)
	}
	if arg, ok := strings.CutPrefix(name, "upper:"); ok {
		return strings.ToUpper(arg), true
	}
	if arg, ok := strings.CutPrefix(name, "lower:"); ok {
		return strings.ToLower(arg), true
	}

	if vars != nil {
		if val, ok := vars[name]; ok {
			return val, true
		}
	}

	return "", false
}

// expandRandom 解析 {{random:a-b}}，闭区间取随机整数
func (r *Resolver) expandRandom(arg string) (string, bool) {
	lo, hi, ok := strings.Cut(arg, "-")
	if !ok {
		return "", false
	}

	min, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return "", false
	}
	max, err := strconv.Atoi(strings.TrimSpace(hi))
	if err != nil {
		return "", false
	}
	if max < min {
		min, max = max, min
	}

	return strconv.Itoa(min + r.intn(max-min+1)), true
}

// expandChoose 解析 {{choose:x|y|z}}，等概率选取一项
func (r *Resolver) expandChoose(arg string) (string, bool) {
	options := strings.Split(arg, "|")
	if len(options) == 0 {
		return "", false
	}
	return strings.TrimSpace(options[r.intn(len(options))]), true
}
