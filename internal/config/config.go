package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// CascadePolicy はカスケード削除の部分失敗をどう扱うかを表す。
type CascadePolicy string

const (
	// CascadePolicyReport は部分失敗を呼び出し元に報告する。
	CascadePolicyReport CascadePolicy = "report"
	// CascadePolicyIgnore は部分失敗をログに記録するのみで成功として扱う。
	CascadePolicyIgnore CascadePolicy = "ignore"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`

	// Identity Provider
	ProviderURL        string        `env:"SUPABASE_URL"`
	ProviderAnonKey    string        `env:"SUPABASE_ANON_KEY"`
	ProviderServiceKey string        `env:"SUPABASE_SERVICE_ROLE_KEY"`
	IdentityTimeout    time.Duration `env:"IDENTITY_TIMEOUT" envDefault:"10s"`

	// Session
	SessionCookieName    string        `env:"SESSION_COOKIE_NAME" envDefault:"sb-session"`
	SessionMaxAge        int           `env:"SESSION_MAX_AGE" envDefault:"604800"`
	SessionRefreshLeeway time.Duration `env:"SESSION_REFRESH_LEEWAY" envDefault:"30s"`

	// Account deletion
	DeletionCascadePolicy  CascadePolicy `env:"DELETION_CASCADE_POLICY" envDefault:"report"`
	DeletionRequireOwner   bool          `env:"DELETION_REQUIRE_OWNER" envDefault:"true"`
	DeletionResumeInterval time.Duration `env:"DELETION_RESUME_INTERVAL" envDefault:"10m"`
	DeletionResumeGrace    time.Duration `env:"DELETION_RESUME_GRACE" envDefault:"5m"`

	// Rate Limit
	RateLimitDelete int `env:"RATE_LIMIT_DELETE" envDefault:"10"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Server
	ServerPort  string `env:"SERVER_PORT" envDefault:"8080"`
	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"` // workerのメトリクス公開用
	BaseURL     string `env:"BASE_URL" envDefault:"http://localhost:8080"`

	// Cookie
	CookieSecure bool
	CookieDomain string `env:"COOKIE_DOMAIN"`

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:3000"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	switch cfg.DeletionCascadePolicy {
	case CascadePolicyReport, CascadePolicyIgnore:
	default:
		return nil, fmt.Errorf("invalid DELETION_CASCADE_POLICY: %q", cfg.DeletionCascadePolicy)
	}

	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	return &cfg, nil
}

// ProviderSettings はIdentity Providerの利用可否を表す。
// 実体は ProviderConfigured か ProviderUnconfigured のいずれか。
type ProviderSettings interface {
	providerSettings()
}

// ProviderConfigured はIdentity Providerの接続情報が揃っている状態。
type ProviderConfigured struct {
	URL        string
	AnonKey    string
	ServiceKey string // 空の場合、管理者操作（ユーザー削除）は設定エラーになる
	Timeout    time.Duration
}

// ProviderUnconfigured はIdentity Providerの接続情報が不足している状態。
// 認証ゲートはこの状態で全リクエストを通過させる。
type ProviderUnconfigured struct {
	Missing []string
}

func (ProviderConfigured) providerSettings()   {}
func (ProviderUnconfigured) providerSettings() {}

// Provider は設定からIdentity Providerの利用可否を判定する。
// URLと公開キーの両方が揃っている場合のみ ProviderConfigured を返す。
func (c *Config) Provider() ProviderSettings {
	var missing []string
	if c.ProviderURL == "" {
		missing = append(missing, "SUPABASE_URL")
	}
	if c.ProviderAnonKey == "" {
		missing = append(missing, "SUPABASE_ANON_KEY")
	}
	if len(missing) > 0 {
		return ProviderUnconfigured{Missing: missing}
	}
	return ProviderConfigured{
		URL:        strings.TrimRight(c.ProviderURL, "/"),
		AnonKey:    c.ProviderAnonKey,
		ServiceKey: c.ProviderServiceKey,
		Timeout:    c.IdentityTimeout,
	}
}
