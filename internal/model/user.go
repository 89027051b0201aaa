// Package model はドメインモデルを定義する。
package model

import "time"

// Principal は認証基盤（Identity Provider）が発行した認証済みユーザーを表す。
type Principal struct {
	ID    string
	Email string
}

// Session はPrincipalに紐づくセッショントークンを表す。
// 有効期限の判定はIdentity Provider側で行われ、ここでは保持するのみ。
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}
