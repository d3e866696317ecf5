package config

import (
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	// DatabaseURLが空の場合はインメモリバックエンドで起動する。
	DatabaseURL string

	// Fetch
	FetchTimeout       time.Duration
	FetchMaxSize       int64
	FetchMaxConcurrent int
	FetchInterval      time.Duration

	// Archive
	ArchiveMode             string
	ArchiveMaxArticleAge    int
	ArchiveMaxArticleNumber int
	ArchiveKeepImportant    bool
	ExpiryInterval          time.Duration

	// Server
	ServerPort string
}

// Load は環境変数からConfigを読み込む。
// すべての項目に既定値があり、未設定でも起動できる。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 30*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 10*1024*1024)
	cfg.FetchMaxConcurrent = getEnvInt("FETCH_MAX_CONCURRENT", 6)
	cfg.FetchInterval = getEnvDuration("FETCH_INTERVAL", 30*time.Minute)

	cfg.ArchiveMode = getEnvString("ARCHIVE_MODE", "keepAllArticles")
	cfg.ArchiveMaxArticleAge = getEnvInt("ARCHIVE_MAX_ARTICLE_AGE", 60)
	cfg.ArchiveMaxArticleNumber = getEnvInt("ARCHIVE_MAX_ARTICLE_NUMBER", 1000)
	cfg.ArchiveKeepImportant = getEnvBool("ARCHIVE_KEEP_IMPORTANT", true)
	cfg.ExpiryInterval = getEnvDuration("EXPIRY_INTERVAL", 24*time.Hour)

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
