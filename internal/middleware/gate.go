// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/bookshelf/internal/identity"
	"github.com/hitoshi/bookshelf/internal/model"
	"github.com/hitoshi/bookshelf/internal/session"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// principalContextKey はリクエストコンテキストにPrincipalを格納するためのキー。
var principalContextKey = contextKey("principal")

// failOpenContextKey はゲートがフェイルオープンしたことを示すキー。
var failOpenContextKey = contextKey("fail_open")

// GateMetrics は認証ゲートが記録するメトリクスのインターフェース。
type GateMetrics interface {
	RecordGateDecision(outcome string)
	RecordGateDegraded()
	RecordSessionRotation()
}

// GateConfig は認証ゲートの設定。
type GateConfig struct {
	Routes RouteTable
	Cookie session.CookieConfig
}

// NewAuthSessionGate は全リクエストの前段でセッションを解決し、
// ルート分類に従って通過またはリダイレクトを行うミドルウェアを返す。
//
// Identity Providerが未設定の場合、またはセッション検証中に到達できない場合は
// 全リクエストを通過させる（フェイルオープン）。
// セッションがローテーションされた場合は、通過・リダイレクトのどちらでも新しいCookieを付与する。
func NewAuthSessionGate(provider identity.Availability, config GateConfig, metrics GateMetrics) func(next http.Handler) http.Handler {
	if config.Routes == nil {
		config.Routes = DefaultRouteTable()
	}
	if metrics == nil {
		metrics = noopGateMetrics{}
	}

	configured, ok := provider.(identity.Configured)
	if !ok {
		slog.Warn("identity provider is not configured; auth gate allows all requests",
			slog.Any("missing", missingSettings(provider)),
		)
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				metrics.RecordGateDecision("fail_open")
				annotateRequest(r.Context(), "", "fail_open")
				next.ServeHTTP(w, r.WithContext(contextWithFailOpen(r.Context())))
			})
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. セッションからPrincipalを解決（1リクエストにつき1回）
			store := session.NewStore(w, r, config.Cookie)
			principal, err := resolvePrincipal(r.Context(), store, configured.Sessions, metrics)
			if err != nil {
				// プロバイダー障害時はフェイルオープン
				slog.Warn("identity provider unavailable; allowing request",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				metrics.RecordGateDegraded()
				metrics.RecordGateDecision("fail_open")
				annotateRequest(r.Context(), "", "fail_open")
				next.ServeHTTP(w, r.WithContext(contextWithFailOpen(r.Context())))
				return
			}

			// 2. パス分類と判定
			class := config.Routes.Classify(r.URL.Path)
			outcome := Decide(principal, class, r.URL.Path)
			metrics.RecordGateDecision(outcome.Label())
			annotateRequest(r.Context(), principalID(principal), outcome.Label())

			if outcome.Kind == OutcomeRedirect {
				http.Redirect(w, r, outcome.Target, http.StatusFound)
				return
			}

			// 3. 認証済みPrincipalをコンテキストに注入
			if principal != nil {
				r = r.WithContext(ContextWithPrincipal(r.Context(), principal))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// resolvePrincipal はStoreのセッションを検証し、Principalを返す。
// セッションがない・無効な場合は (nil, nil) を返す。
// Identity Providerに到達できない、または応答を解釈できない場合はエラーを返す。
// ローテーション後のセッションは検証結果に関わらず書き込む。
func resolvePrincipal(ctx context.Context, store *session.Store, resolver identity.SessionResolver, metrics GateMetrics) (*model.Principal, error) {
	current, err := store.Read()
	if errors.Is(err, session.ErrMalformedToken) {
		slog.Debug("session cookie is malformed; clearing", slog.String("error", err.Error()))
		store.Clear()
		return nil, nil
	}
	if current == nil {
		return nil, nil
	}

	res, err := resolver.Resolve(ctx, current)

	rotated := res != nil && res.Rotated != nil
	if rotated {
		if werr := store.Write(res.Rotated); werr != nil {
			slog.Error("failed to persist rotated session", slog.String("error", werr.Error()))
		} else {
			metrics.RecordSessionRotation()
		}
	}

	switch {
	case err == nil:
		return res.Principal, nil
	case errors.Is(err, identity.ErrInvalidSession):
		slog.Debug("session is invalid; treating request as anonymous", slog.String("error", err.Error()))
		if !rotated {
			store.Clear()
		}
		return nil, nil
	default:
		// ErrUnavailable および解釈できない応答はプロバイダー障害として扱う
		return nil, err
	}
}

func principalID(p *model.Principal) string {
	if p == nil {
		return ""
	}
	return p.ID
}

func missingSettings(provider identity.Availability) []string {
	if u, ok := provider.(identity.Unconfigured); ok {
		return u.Missing
	}
	return nil
}

// PrincipalFromContext はリクエストコンテキストからPrincipalを取得する。
// 匿名リクエスト、またはゲートがフェイルオープンした場合はfalseを返す。
func PrincipalFromContext(ctx context.Context) (*model.Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(*model.Principal)
	if !ok || p == nil || p.ID == "" {
		return nil, false
	}
	return p, true
}

// GateFailedOpen はゲートがPrincipalを判定できずに通過させたリクエストかどうかを返す。
func GateFailedOpen(ctx context.Context) bool {
	v, _ := ctx.Value(failOpenContextKey).(bool)
	return v
}

func contextWithFailOpen(ctx context.Context) context.Context {
	return context.WithValue(ctx, failOpenContextKey, true)
}

// ContextWithPrincipal はコンテキストにPrincipalを注入する。
func ContextWithPrincipal(ctx context.Context, p *model.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// UserIDFromContext はリクエストコンテキストから認証済みユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return "", fmt.Errorf("user ID not found in context")
	}
	return p.ID, nil
}

// ContextWithUserID はコンテキストにユーザーIDのみを持つPrincipalを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return ContextWithPrincipal(ctx, &model.Principal{ID: userID})
}

type noopGateMetrics struct{}

func (noopGateMetrics) RecordGateDecision(string) {}
func (noopGateMetrics) RecordGateDegraded()       {}
func (noopGateMetrics) RecordSessionRotation()    {}
