package proxy

import (
	"log/slog"
	"os"
)

// Logger 全局结构化日志器
var Logger *slog.Logger = slog.Default()

// InitLogger 初始化结构化日志
func InitLogger(level, format string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	// 文本格式便于开发调试，JSON 格式便于日志收集系统处理
	if format == "text" {
		Logger = slog.New(slog.NewTextHandler(os.Stdout, opts))
	} else {
		Logger = slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}

	slog.SetDefault(Logger)
}

// LogEndpointQuarantined 记录端点被隔离
func LogEndpointQuarantined(endpoint string, lagCount int, until string) {
	Logger.Warn("endpoint_quarantined",
		slog.String("endpoint", MaskURL(endpoint)),
		slog.Int("lag_count", lagCount),
		slog.String("quarantined_until", until),
	)
}

// LogEndpointReinstated 记录端点恢复调度
func LogEndpointReinstated(endpoint string) {
	Logger.Info("endpoint_reinstated",
		slog.String("endpoint", MaskURL(endpoint)),
	)
}

// MaskURL 掩码 URL（保护密钥）
func MaskURL(url string) string {
	if len(url) > 20 {
		return url[:10] + "..." + url[len(url)-10:]
	}
	return url
}
