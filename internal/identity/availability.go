package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/bookshelf/internal/config"
	"github.com/hitoshi/bookshelf/internal/model"
)

// SessionResolver はセッションからPrincipalを解決するインターフェース。
type SessionResolver interface {
	Resolve(ctx context.Context, session *model.Session) (*Resolution, error)
}

// Availability はIdentity Providerが利用可能かどうかを表す。
// 実体は Configured か Unconfigured のいずれか。
type Availability interface {
	availability()
}

// Configured はIdentity Providerが設定済みの状態。
type Configured struct {
	Sessions SessionResolver
	Client   *Client
}

// Unconfigured はIdentity Providerが未設定の状態。
// 認証ゲートは無条件に通過させ、削除処理は設定エラーを返す。
type Unconfigured struct {
	Missing []string
}

func (Configured) availability()   {}
func (Unconfigured) availability() {}

// DeleteUser は常に設定エラーを返す。
func (u Unconfigured) DeleteUser(ctx context.Context, userID string) error {
	return fmt.Errorf("%w: missing %v", model.ErrProviderUnconfigured, u.Missing)
}

// New は設定からAvailabilityを構築する。
func New(settings config.ProviderSettings, refreshLeeway time.Duration) Availability {
	switch s := settings.(type) {
	case config.ProviderConfigured:
		client := NewClient(Config{
			URL:        s.URL,
			AnonKey:    s.AnonKey,
			ServiceKey: s.ServiceKey,
			Timeout:    s.Timeout,
		})
		return Configured{
			Sessions: NewResolver(client, refreshLeeway),
			Client:   client,
		}
	case config.ProviderUnconfigured:
		return Unconfigured{Missing: s.Missing}
	default:
		return Unconfigured{}
	}
}

// UserDeleter はPrincipalを削除するインターフェース。
type UserDeleter interface {
	DeleteUser(ctx context.Context, userID string) error
}

// Deleter は退会処理で使う削除APIを返す。
// 未設定の場合は常に設定エラーを返すUnconfiguredそのものを返す。
func Deleter(a Availability) UserDeleter {
	switch p := a.(type) {
	case Configured:
		if p.Client != nil {
			return p.Client
		}
	case Unconfigured:
		return p
	}
	return Unconfigured{}
}
