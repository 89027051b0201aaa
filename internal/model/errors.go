// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrProviderUnconfigured はIdentity Providerの接続情報が未設定であることを表す。
var ErrProviderUnconfigured = errors.New("identity provider is not configured")

// ValidationError は退会APIへの入力不備を表す。HTTP 400に対応する。
type ValidationError struct {
	Field   string
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *ValidationError) Error() string {
	return e.Message
}

// NewMissingUserIDError はuserId未指定エラーを生成する。
func NewMissingUserIDError() *ValidationError {
	return &ValidationError{Field: "userId", Message: "missing userId"}
}

// IdentityDeletionError はIdentity ProviderがPrincipalの削除を拒否または失敗したことを表す。
// 後続のデータ削除は行われない。
type IdentityDeletionError struct {
	UserID string
	Detail string // Identity Providerから返された詳細メッセージ
	Err    error
}

// Error はerrorインターフェースを実装する。
func (e *IdentityDeletionError) Error() string {
	return fmt.Sprintf("failed to delete user %s from identity provider: %s", e.UserID, e.Detail)
}

// Unwrap は元のエラーを返す。
func (e *IdentityDeletionError) Unwrap() error {
	return e.Err
}

// DataStoreDeletionError は従属コレクションの削除1件の失敗を表す。
type DataStoreDeletionError struct {
	Step string
	Err  error
}

// Error はerrorインターフェースを実装する。
func (e *DataStoreDeletionError) Error() string {
	return fmt.Sprintf("cascade step %s failed: %v", e.Step, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *DataStoreDeletionError) Unwrap() error {
	return e.Err
}

// CascadeError はPrincipal削除後のカスケード削除が部分的に失敗したことを表す。
// Identityは削除済みのため、再試行はチェックリストから再開される。
type CascadeError struct {
	UserID   string
	Failures []*DataStoreDeletionError
}

// Error はerrorインターフェースを実装する。
func (e *CascadeError) Error() string {
	msgs := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		msgs = append(msgs, f.Error())
	}
	return fmt.Sprintf("account %s partially deleted: %s", e.UserID, strings.Join(msgs, "; "))
}

// FailedSteps は失敗したステップ名を順に返す。
func (e *CascadeError) FailedSteps() []string {
	steps := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		steps = append(steps, f.Step)
	}
	return steps
}

// Unwrap は個々のステップのエラーを返す。
func (e *CascadeError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f)
	}
	return errs
}
