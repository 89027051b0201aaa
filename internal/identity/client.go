// Package identity は外部Identity Provider（GoTrue互換API）との通信と、
// セッショントークンの検証・更新を提供する。
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/bookshelf/internal/model"
)

var (
	// ErrUnavailable はIdentity Providerに到達できない、または5xxを返したことを表す。
	// 認証ゲートはこのエラーでフェイルオープンする。
	ErrUnavailable = errors.New("identity provider unavailable")

	// ErrInvalidSession はセッショントークンが無効または期限切れであることを表す。
	ErrInvalidSession = errors.New("invalid or expired session")
)

// ProviderError はIdentity Providerが返したエラーレスポンスを表す。
type ProviderError struct {
	StatusCode int
	Message    string
}

// Error はerrorインターフェースを実装する。
func (e *ProviderError) Error() string {
	return fmt.Sprintf("identity provider returned status %d: %s", e.StatusCode, e.Message)
}

// Config はIdentity Providerクライアントの設定。
type Config struct {
	URL        string // 例: https://xxxx.supabase.co
	AnonKey    string // 公開キー。セッション検証・更新に使用する
	ServiceKey string // 特権キー。ユーザー削除にのみ使用する
	Timeout    time.Duration

	// テスト用にオーバーライド可能なHTTPクライアント
	HTTPClient *http.Client
}

// Client はGoTrue互換のIdentity Provider APIクライアント。
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient はClientを生成する。
func NewClient(config Config) *Client {
	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{config: config, httpClient: httpClient}
}

// gotrueUser はユーザー情報エンドポイントのレスポンス。
type gotrueUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// gotrueSession はトークンエンドポイントのレスポンス。
type gotrueSession struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	ExpiresIn    int        `json:"expires_in"`
	ExpiresAt    int64      `json:"expires_at"`
	User         gotrueUser `json:"user"`
}

// gotrueError はエラーレスポンス。エンドポイントによってフィールド名が異なる。
type gotrueError struct {
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// GetUser はアクセストークンを検証し、対応するPrincipalを返す。
// GET /auth/v1/user
func (c *Client) GetUser(ctx context.Context, accessToken string) (*model.Principal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.URL+"/auth/v1/user", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user request: %w", err)
	}
	req.Header.Set("apikey", c.config.AnonKey)
	req.Header.Set("Authorization", "Bearer "+accessToken)

	body, err := c.do(req)
	if err != nil {
		return nil, classifySessionError(err)
	}

	var user gotrueUser
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("failed to parse user response: %w", err)
	}
	if user.ID == "" {
		return nil, fmt.Errorf("empty id in user response: %w", ErrInvalidSession)
	}

	return &model.Principal{ID: user.ID, Email: user.Email}, nil
}

// RefreshSession はリフレッシュトークンで新しいセッションを発行する。
// 返されるセッションは元のセッションを置き換える（ローテーション）。
// POST /auth/v1/token?grant_type=refresh_token
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*model.Session, *model.Principal, error) {
	payload, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode refresh request: %w", err)
	}

	endpoint := c.config.URL + "/auth/v1/token?" + url.Values{"grant_type": {"refresh_token"}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("apikey", c.config.AnonKey)
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, nil, classifySessionError(err)
	}

	var resp gotrueSession
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, nil, fmt.Errorf("failed to parse refresh response: %w", err)
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		return nil, nil, fmt.Errorf("empty tokens in refresh response: %w", ErrInvalidSession)
	}

	session := &model.Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
	}
	switch {
	case resp.ExpiresAt > 0:
		session.ExpiresAt = time.Unix(resp.ExpiresAt, 0)
	case resp.ExpiresIn > 0:
		session.ExpiresAt = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}

	var principal *model.Principal
	if resp.User.ID != "" {
		principal = &model.Principal{ID: resp.User.ID, Email: resp.User.Email}
	}

	return session, principal, nil
}

// DeleteUser は特権キーでPrincipalを削除する。
// DELETE /auth/v1/admin/users/{id}
func (c *Client) DeleteUser(ctx context.Context, userID string) error {
	if c.config.ServiceKey == "" {
		return fmt.Errorf("service role key is not set: %w", model.ErrProviderUnconfigured)
	}

	endpoint := c.config.URL + "/auth/v1/admin/users/" + url.PathEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create delete request: %w", err)
	}
	req.Header.Set("apikey", c.config.ServiceKey)
	req.Header.Set("Authorization", "Bearer "+c.config.ServiceKey)

	if _, err := c.do(req); err != nil {
		return err
	}
	return nil
}

// do はリクエストを送信し、2xxの場合はボディを返す。
// 通信エラーは ErrUnavailable、非2xxは *ProviderError として返す。
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ProviderError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(body, resp.Status),
		}
	}

	return body, nil
}

// classifySessionError はセッション系APIのエラーを ErrInvalidSession / ErrUnavailable に分類する。
// 4xxはトークン不正、5xxはプロバイダー障害として扱う。
func classifySessionError(err error) error {
	var perr *ProviderError
	if errors.As(err, &perr) {
		if perr.StatusCode >= 500 {
			return fmt.Errorf("%w: %v", ErrUnavailable, perr)
		}
		return fmt.Errorf("%w: %v", ErrInvalidSession, perr)
	}
	return err
}

// errorMessage はエラーレスポンスから人間が読めるメッセージを取り出す。
func errorMessage(body []byte, fallback string) string {
	var e gotrueError
	if err := json.Unmarshal(body, &e); err == nil {
		for _, m := range []string{e.Msg, e.Message, e.ErrorDescription, e.Error} {
			if m != "" {
				return m
			}
		}
	}
	if len(body) > 0 && len(body) <= 512 {
		return string(body)
	}
	return fallback
}
