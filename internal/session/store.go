// Package session はリクエスト/レスポンスのCookieに載せるセッショントークンの読み書きを提供する。
package session

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/bookshelf/internal/model"
)

// DefaultCookieName はセッションCookieのデフォルト名。
const DefaultCookieName = "sb-session"

// ErrMalformedToken はCookieの値がセッショントークンとして解釈できないことを表す。
var ErrMalformedToken = errors.New("malformed session token")

// CookieConfig はセッションCookieの属性。
type CookieConfig struct {
	Name   string
	Domain string
	MaxAge int // 秒
	Secure bool
}

func (c CookieConfig) name() string {
	if c.Name == "" {
		return DefaultCookieName
	}
	return c.Name
}

// tokenPayload はCookieに格納するトークンの内部表現。
type tokenPayload struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
}

// Encode はセッションを不透明なCookie値にエンコードする。
func Encode(s *model.Session) (string, error) {
	p := tokenPayload{AccessToken: s.AccessToken, RefreshToken: s.RefreshToken}
	if !s.ExpiresAt.IsZero() {
		p.ExpiresAt = s.ExpiresAt.Unix()
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode session: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Decode はCookie値をセッションにデコードする。
func Decode(value string) (*model.Session, error) {
	b, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	var p tokenPayload
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if p.AccessToken == "" && p.RefreshToken == "" {
		return nil, ErrMalformedToken
	}

	s := &model.Session{AccessToken: p.AccessToken, RefreshToken: p.RefreshToken}
	if p.ExpiresAt > 0 {
		s.ExpiresAt = time.Unix(p.ExpiresAt, 0)
	}
	return s, nil
}

// Store は1リクエスト分のセッショントークンの読み書きを行う。
// 書き込みは即座にレスポンスヘッダー（Set-Cookie）に反映されるため、
// 後続のハンドラーやリダイレクトのどちらのレスポンスにも含まれる。
type Store struct {
	w      http.ResponseWriter
	r      *http.Request
	config CookieConfig
}

// NewStore はリクエスト/レスポンスに束縛されたStoreを生成する。
func NewStore(w http.ResponseWriter, r *http.Request, config CookieConfig) *Store {
	return &Store{w: w, r: r, config: config}
}

// Read は現在のセッションを返す。Cookieがない場合は (nil, nil) を返す。
// Cookieの値を解釈できない場合は ErrMalformedToken を包んだエラーを返す。
func (s *Store) Read() (*model.Session, error) {
	cookie, err := s.r.Cookie(s.config.name())
	if err != nil || cookie.Value == "" {
		return nil, nil
	}
	return Decode(cookie.Value)
}

// Write はセッションをレスポンスのCookieに書き込む。
// 同じリクエスト内で以前に書き込んだ値は置き換えられる。
func (s *Store) Write(session *model.Session) error {
	value, err := Encode(session)
	if err != nil {
		return err
	}
	s.setCookie(value, s.config.MaxAge)

	// 後続のハンドラーが読むリクエスト側のCookieも更新する
	s.replaceRequestCookie(value)
	return nil
}

// Clear はセッションCookieを失効させる。
func (s *Store) Clear() {
	s.setCookie("", -1)
	s.replaceRequestCookie("")
}

func (s *Store) setCookie(value string, maxAge int) {
	name := s.config.name()
	removeSetCookie(s.w.Header(), name)
	http.SetCookie(s.w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   s.config.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Store) replaceRequestCookie(value string) {
	name := s.config.name()
	cookies := s.r.Cookies()
	s.r.Header.Del("Cookie")
	for _, c := range cookies {
		if c.Name == name {
			continue
		}
		s.r.AddCookie(c)
	}
	if value != "" {
		s.r.AddCookie(&http.Cookie{Name: name, Value: value})
	}
}

// removeSetCookie は指定名のSet-Cookieヘッダーを取り除く。
func removeSetCookie(h http.Header, name string) {
	values := h.Values("Set-Cookie")
	if len(values) == 0 {
		return
	}
	h.Del("Set-Cookie")
	prefix := name + "="
	for _, v := range values {
		if strings.HasPrefix(v, prefix) {
			continue
		}
		h.Add("Set-Cookie", v)
	}
}
