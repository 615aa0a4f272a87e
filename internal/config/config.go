package config

import (
	"fmt"
	"os"
	"strconv"
)

// Configはアプリ全体の設定
type Config struct {
	Port string // サーバーポート（8080）

	PostgresUser     string // DBユーザー
	PostgresPassword string // DBパスワード
	PostgresDB       string // DB名
	PostgresHost     string // DBホスト（localhost）
	PostgresPort     int    // DBポート（5433）

	JWTSecret string // JWT署名シークレット

	GoEnv string // dev/prod

	RedisAddr string // 空ならキャッシュとキューは無効

	GatewayBaseURL       string // 空ならモック決済のみ
	GatewayAPIKey        string
	GatewayWebhookSecret string // 空ならWebhook署名検証をスキップ

	PaymentExpireMinutes int // 支払い有効時間（デフォルト15分）
	SweepIntervalMinutes int // 期限切れ掃除の間隔（デフォルト5分）
	QueueConcurrency     int // asynqワーカー数（デフォルト4）
}

// Loadは環境変数
func Load() (Config, error) {
	pgPort, err := mustAtoi("POSTGRES_PORT")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Port: os.Getenv("PORT"),

		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresHost:     os.Getenv("POSTGRES_HOST"),
		PostgresPort:     pgPort,

		JWTSecret: os.Getenv("JWT_SECRET"),

		GoEnv: os.Getenv("GO_ENV"),

		RedisAddr: os.Getenv("REDIS_ADDR"),

		GatewayBaseURL:       os.Getenv("GATEWAY_BASE_URL"),
		GatewayAPIKey:        os.Getenv("GATEWAY_API_KEY"),
		GatewayWebhookSecret: os.Getenv("GATEWAY_WEBHOOK_SECRET"),
	}

	cfg.PaymentExpireMinutes, err = atoiOrDefault("PAYMENT_EXPIRE_MINUTES", 15)
	if err != nil {
		return Config{}, err
	}
	cfg.SweepIntervalMinutes, err = atoiOrDefault("SWEEP_INTERVAL_MINUTES", 5)
	if err != nil {
		return Config{}, err
	}
	cfg.QueueConcurrency, err = atoiOrDefault("QUEUE_CONCURRENCY", 4)
	if err != nil {
		return Config{}, err
	}

	//必須チェック
	if cfg.Port == "" {
		return Config{}, fmt.Errorf("PORT is required")
	}
	if cfg.PostgresUser == "" {
		return Config{}, fmt.Errorf("POSTGRES_USER is required")
	}
	if cfg.PostgresPassword == "" {
		return Config{}, fmt.Errorf("POSTGRES_PASSWORD is required")
	}
	if cfg.PostgresDB == "" {
		return Config{}, fmt.Errorf("POSTGRES_DB is required")
	}
	if cfg.PostgresHost == "" {
		return Config{}, fmt.Errorf("POSTGRES_HOST is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.GoEnv == "" {
		return Config{}, fmt.Errorf("GO_ENV is required")
	}
	if cfg.GatewayBaseURL != "" && cfg.GatewayAPIKey == "" {
		return Config{}, fmt.Errorf("GATEWAY_API_KEY is required when GATEWAY_BASE_URL is set")
	}

	return cfg, nil
}

func mustAtoi(key string) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be number: %w", key, err)
	}
	return i, nil
}

func atoiOrDefault(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be number: %w", key, err)
	}
	if i <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return i, nil
}
