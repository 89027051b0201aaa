package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/bookshelf/internal/model"
)

// SessionAPI はセッション解決に必要なIdentity Provider APIのインターフェース。
// Clientの部分集合として定義する。
type SessionAPI interface {
	GetUser(ctx context.Context, accessToken string) (*model.Principal, error)
	RefreshSession(ctx context.Context, refreshToken string) (*model.Session, *model.Principal, error)
}

// Resolution はセッション解決の結果。
type Resolution struct {
	Principal *model.Principal
	// Rotated はIdentity Providerがセッションを更新した場合の新しいセッション。
	// 更新がなかった場合はnil。
	Rotated *model.Session
}

// Resolver はセッションからPrincipalを解決する。
// アクセストークンの有効期限が近い場合はリフレッシュし、ローテーション後のセッションを返す。
type Resolver struct {
	api    SessionAPI
	leeway time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

// NewResolver はResolverを生成する。
// leewayは有効期限のどれだけ前からリフレッシュを行うかを指定する。
func NewResolver(api SessionAPI, leeway time.Duration) *Resolver {
	return &Resolver{
		api:    api,
		leeway: leeway,
		now:    time.Now,
		parser: jwt.NewParser(),
	}
}

// Resolve はセッションを検証し、Principalを返す。
//
//   - アクセストークンが期限切れ（またはleeway以内）ならリフレッシュする
//   - それ以外はユーザー情報エンドポイントで検証し、無効ならリフレッシュを1回試みる
//
// 戻り値のエラーは ErrInvalidSession（匿名扱い）か ErrUnavailable（フェイルオープン）を包む。
// リフレッシュ後のユーザー取得に失敗した場合は、エラーと共に Rotated のみを持つResolutionを返す。
// プロバイダー側では旧リフレッシュトークンが既に失効しているため、呼び出し側は必ず保存すること。
func (r *Resolver) Resolve(ctx context.Context, session *model.Session) (*Resolution, error) {
	if session == nil || (session.AccessToken == "" && session.RefreshToken == "") {
		return nil, ErrInvalidSession
	}

	if r.needsRefresh(session) {
		return r.refresh(ctx, session)
	}

	principal, err := r.api.GetUser(ctx, session.AccessToken)
	if err == nil {
		return &Resolution{Principal: principal}, nil
	}
	if errors.Is(err, ErrInvalidSession) && session.RefreshToken != "" {
		slog.Debug("access token rejected, trying refresh", slog.String("error", err.Error()))
		return r.refresh(ctx, session)
	}
	return nil, err
}

// refresh はリフレッシュトークンでセッションをローテーションする。
func (r *Resolver) refresh(ctx context.Context, session *model.Session) (*Resolution, error) {
	if session.RefreshToken == "" {
		return nil, fmt.Errorf("access token expired without refresh token: %w", ErrInvalidSession)
	}

	rotated, principal, err := r.api.RefreshSession(ctx, session.RefreshToken)
	if err != nil {
		return nil, err
	}

	// トークンレスポンスにユーザー情報が含まれない場合は新しいアクセストークンで取得する
	if principal == nil {
		principal, err = r.api.GetUser(ctx, rotated.AccessToken)
		if err != nil {
			return &Resolution{Rotated: rotated}, err
		}
	}

	return &Resolution{Principal: principal, Rotated: rotated}, nil
}

// needsRefresh はアクセストークンの有効期限がleeway以内かどうかを判定する。
// 有効期限はJWTのexpクレームを優先し、読めない場合はセッションのExpiresAtを使う。
// どちらも不明な場合はリフレッシュせず、ユーザー情報エンドポイントの判定に任せる。
func (r *Resolver) needsRefresh(session *model.Session) bool {
	if session.AccessToken == "" {
		return true
	}

	expiresAt := session.ExpiresAt
	if exp, ok := r.tokenExpiry(session.AccessToken); ok {
		expiresAt = exp
	}
	if expiresAt.IsZero() {
		return false
	}

	return !r.now().Add(r.leeway).Before(expiresAt)
}

// tokenExpiry はアクセストークンのexpクレームを署名検証なしで読み取る。
// 署名の検証はIdentity Provider側で行われる。
func (r *Resolver) tokenExpiry(accessToken string) (time.Time, bool) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := r.parser.ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
