package cache

import (
	"time"
)

// MaxAge 是缓存条目的最大存活时长；Disabled 表示永不过期。
type MaxAge time.Duration

const (
	// Disabled 关闭过期判断，所有条目永久有效。
	Disabled MaxAge = -1
	// DefaultMaxAge 为 30 天。
	DefaultMaxAge = MaxAge(30 * 24 * time.Hour)
)

// Enabled 返回是否启用过期判断。
func (m MaxAge) Enabled() bool {
	return m >= 0
}

// Duration 返回对应的 time.Duration；禁用时返回 0。
func (m MaxAge) Duration() time.Duration {
	if !m.Enabled() {
		return 0
	}
	return time.Duration(m)
}

func (m MaxAge) String() string {
	if !m.Enabled() {
		return "disabled"
	}
	return time.Duration(m).String()
}

// IsExpired 判断 createdAtMs（毫秒时间戳）在当前时刻是否已超过 maxAge。
func IsExpired(createdAtMs int64, maxAge MaxAge) bool {
	return IsExpiredAt(time.Now(), createdAtMs, maxAge)
}

// IsExpiredAt 以给定时刻判断是否过期，使用严格大于：年龄恰好等于 maxAge 时仍视为有效。
func IsExpiredAt(now time.Time, createdAtMs int64, maxAge MaxAge) bool {
	if !maxAge.Enabled() {
		return false
	}
	return now.UnixMilli()-createdAtMs > time.Duration(maxAge).Milliseconds()
}
