package logging

import (
	"github.com/sirupsen/logrus"

	"github.com/og-card/og-card/internal/config"
)

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// LinkFields 描述单个链接的处理结果，供转换流程日志复用。
func LinkFields(runID, url string, fromBuildCache bool) logrus.Fields {
	return logrus.Fields{
		"run_id":          runID,
		"url":             url,
		"build_cache_hit": fromBuildCache,
	}
}

// CacheFields 汇总缓存层配置，便于启动日志一次性输出。
func CacheFields(cfg config.CacheConfig) logrus.Fields {
	fields := logrus.Fields{
		"server_cache": cfg.ServerCache,
		"build_cache":  cfg.BuildCache,
		"cache_modes":  cfg.CacheModes(),
	}
	if cfg.ServerCache {
		fields["server_cache_dir"] = cfg.ServerCacheDir()
	}
	if cfg.BuildCache {
		fields["build_cache_dir"] = cfg.BuildCacheDir()
	}
	return fields
}
