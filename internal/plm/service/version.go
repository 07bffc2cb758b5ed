package service

import (
	"strings"
)

const maxVersionLen = 8

// ValidVersion 版本号为 1-8 位大写字母或 1-8 位数字
func ValidVersion(token string) bool {
	if token == "" || len(token) > maxVersionLen {
		return false
	}
	return isAlpha(token) || isNumeric(token)
}

// NextVersion 计算下一个版本号：A→B，Z→AA，AZ→BA，01→02，99→100
func NextVersion(token string) string {
	if isNumeric(token) {
		return nextNumeric(token)
	}
	return nextAlpha(token)
}

// DefaultForkVersion 从最新版本开始递增，跳过已占用的版本号
func DefaultForkVersion(latest string, taken map[string]bool) string {
	next := NextVersion(latest)
	for taken[next] {
		next = NextVersion(next)
	}
	return next
}

func nextAlpha(token string) string {
	if token == "" {
		return "A"
	}
	b := []byte(token)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 'Z' {
			b[i]++
			return string(b)
		}
		b[i] = 'A'
	}
	return "A" + string(b)
}

func nextNumeric(token string) string {
	b := []byte(token)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < '9' {
			b[i]++
			return string(b)
		}
		b[i] = '0'
	}
	return "1" + string(b)
}

func isAlpha(s string) bool {
	return s != "" && strings.IndexFunc(s, func(r rune) bool { return r < 'A' || r > 'Z' }) < 0
}

func isNumeric(s string) bool {
	return s != "" && strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' }) < 0
}
