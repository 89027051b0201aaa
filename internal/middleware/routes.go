package middleware

import (
	"strings"

	"github.com/hitoshi/bookshelf/internal/model"
)

const (
	// LoginPath は未認証ユーザーのリダイレクト先。
	LoginPath = "/login"
	// HomePath はログイン済みユーザーが/loginにアクセスした際のリダイレクト先。
	HomePath = "/"
)

// RouteClass はパスがセッションを必要とするかどうかの分類。
type RouteClass int

const (
	// RouteProtected はセッションが必要なパス。
	RouteProtected RouteClass = iota
	// RouteExempt はセッションなしでアクセスできるパス。
	RouteExempt
)

// String はRouteClassの名前を返す。
func (c RouteClass) String() string {
	if c == RouteExempt {
		return "exempt"
	}
	return "protected"
}

// RouteRule はパスプレフィックスと分類の組。
type RouteRule struct {
	Prefix string
	Class  RouteClass
}

// RouteTable は順序付きのルート分類表。初期化後は読み取り専用として扱う。
type RouteTable []RouteRule

// DefaultRouteTable はセッション不要なパスプレフィックスの一覧を返す。
func DefaultRouteTable() RouteTable {
	return RouteTable{
		{Prefix: "/login", Class: RouteExempt},
		{Prefix: "/auth", Class: RouteExempt},
		{Prefix: "/forgot-password", Class: RouteExempt},
		{Prefix: "/user/", Class: RouteExempt},
		{Prefix: "/shelf/", Class: RouteExempt},
		{Prefix: "/api/", Class: RouteExempt},
	}
}

// Classify はパスを分類する。最初に一致したルールを採用し、どれにも一致しなければ保護対象とする。
func (t RouteTable) Classify(path string) RouteClass {
	for _, rule := range t {
		if strings.HasPrefix(path, rule.Prefix) {
			return rule.Class
		}
	}
	return RouteProtected
}

// OutcomeKind はゲートの判定種別。
type OutcomeKind int

const (
	// OutcomeAllow は後続のハンドラーに処理を渡す。
	OutcomeAllow OutcomeKind = iota
	// OutcomeRedirect はTargetへリダイレクトする。
	OutcomeRedirect
)

// Outcome はゲートの判定結果。
type Outcome struct {
	Kind   OutcomeKind
	Target string
}

// Label はメトリクス・ログ用の判定名を返す。
func (o Outcome) Label() string {
	if o.Kind == OutcomeRedirect {
		return "redirect"
	}
	return "allow"
}

// Decide はPrincipalとパス分類から判定を行う。
//
//	匿名     + 除外パス       → Allow
//	匿名     + 保護パス       → Redirect(/login)
//	認証済み + /login で始まる → Redirect(/)
//	認証済み + その他         → Allow
func Decide(principal *model.Principal, class RouteClass, path string) Outcome {
	if principal == nil {
		if class == RouteExempt {
			return Outcome{Kind: OutcomeAllow}
		}
		return Outcome{Kind: OutcomeRedirect, Target: LoginPath}
	}
	if strings.HasPrefix(path, LoginPath) {
		return Outcome{Kind: OutcomeRedirect, Target: HomePath}
	}
	return Outcome{Kind: OutcomeAllow}
}
