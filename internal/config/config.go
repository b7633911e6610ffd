package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port    string
	RPCURLs []string // 支持多个RPC URL

	// Lag / quarantine tuning
	LagToleranceSlots uint64 // 容忍的slot落后量，超过即判定lag
	LagThreshold      int    // 连续lag多少轮后隔离
	FailureLagWeight  int    // 一次调用失败等价于多少轮lag

	// Quarantine backoff
	BaseBackoff   time.Duration
	BackoffGrowth float64
	MaxBackoff    time.Duration
	BackoffWindow time.Duration // 隔离次数的滚动统计窗口

	// Timing
	RequestTimeout time.Duration // 客户端整体超时
	CallTimeout    time.Duration // 单次上游调用超时
	StragglerWait  time.Duration // 赢家返回后等待掉队者的时长
	ProbeInterval  time.Duration

	EndpointRPS float64 // 每个上游的限速，0表示不限

	DatabaseURL string // 可选：健康事件审计日志
	LogLevel    string
	LogFormat   string
}

func Load() *Config {
	_ = godotenv.Load() // .env文件是可选的

	// 解析RPC URL列表（支持逗号分隔）
	rpcUrlsStr := getEnv("RPC_URLS", "https://api.mainnet-beta.solana.com")
	rpcUrls := strings.Split(rpcUrlsStr, ",")
	for i, url := range rpcUrls {
		rpcUrls[i] = strings.TrimSpace(url)
	}

	return &Config{
		Port:    getEnv("PROXY_PORT", "8080"),
		RPCURLs: rpcUrls,

		LagToleranceSlots: uint64(getEnvAsInt64("LAG_TOLERANCE_SLOTS", 7)),
		LagThreshold:      int(getEnvAsInt64("LAG_THRESHOLD", 3)),
		FailureLagWeight:  int(getEnvAsInt64("FAILURE_LAG_WEIGHT", 2)),

		BaseBackoff:   time.Duration(getEnvAsInt64("BASE_BACKOFF_SECONDS", 30)) * time.Second,
		BackoffGrowth: getEnvAsFloat("BACKOFF_GROWTH", 2.0),
		MaxBackoff:    time.Duration(getEnvAsInt64("MAX_BACKOFF_SECONDS", 600)) * time.Second,
		BackoffWindow: time.Duration(getEnvAsInt64("BACKOFF_WINDOW_MINUTES", 30)) * time.Minute,

		RequestTimeout: time.Duration(getEnvAsInt64("REQUEST_TIMEOUT_SECONDS", 10)) * time.Second,
		CallTimeout:    time.Duration(getEnvAsInt64("CALL_TIMEOUT_SECONDS", 5)) * time.Second,
		StragglerWait:  time.Duration(getEnvAsInt64("STRAGGLER_WAIT_MS", 1500)) * time.Millisecond,
		ProbeInterval:  time.Duration(getEnvAsInt64("PROBE_INTERVAL_SECONDS", 15)) * time.Second,

		EndpointRPS: getEnvAsFloat("ENDPOINT_RPS", 0),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		log.Printf("Invalid %s: %s, using default %d", key, valueStr, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		log.Printf("Invalid %s: %s, using default %g", key, valueStr, defaultValue)
		return defaultValue
	}
	return value
}
