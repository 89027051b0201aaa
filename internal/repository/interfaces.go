// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/bookshelf/internal/model"
)

// ProfileRepository はプロフィールの永続化インターフェース。
type ProfileRepository interface {
	// DeleteByUserID は指定ユーザーのプロフィールを削除し、削除件数を返す。
	DeleteByUserID(ctx context.Context, userID string) (int64, error)
}

// FollowRepository はフォロー関係の永続化インターフェース。
// エッジは有向のため、フォローする側とされる側を別々に削除する。
type FollowRepository interface {
	// DeleteByFollower は follower_id = userID のエッジを削除する。
	DeleteByFollower(ctx context.Context, userID string) (int64, error)
	// DeleteByFollowing は following_id = userID のエッジを削除する。
	DeleteByFollowing(ctx context.Context, userID string) (int64, error)
}

// RecommendationRepository はおすすめの永続化インターフェース。
type RecommendationRepository interface {
	// DeleteBySender は from_user_id = userID のおすすめを削除する。
	DeleteBySender(ctx context.Context, userID string) (int64, error)
	// DeleteByRecipient は to_user_id = userID のおすすめを削除する。
	DeleteByRecipient(ctx context.Context, userID string) (int64, error)
}

// NotificationRepository は通知の永続化インターフェース。
type NotificationRepository interface {
	// DeleteBySender は from_user_id = userID の通知を削除する。
	DeleteBySender(ctx context.Context, userID string) (int64, error)
}

// DeletionProgressRepository は退会処理チェックリストの永続化インターフェース。
type DeletionProgressRepository interface {
	// Find は指定ユーザーのチェックリストを取得する。見つからない場合はnilを返す。
	Find(ctx context.Context, userID string) (*model.DeletionProgress, error)

	// Begin はIdentity削除済みとしてチェックリストを作成する。
	// 既に存在する場合は既存の行を返す。
	Begin(ctx context.Context, userID string) (*model.DeletionProgress, error)

	// MarkStep はステップを完了済みとして記録する。記録済みの場合は何もしない。
	MarkStep(ctx context.Context, userID, step string) error

	// RecordError は直近の失敗内容を記録する。
	RecordError(ctx context.Context, userID, message string) error

	// Finish は全ステップ完了後にチェックリストを削除する。
	Finish(ctx context.Context, userID string) error

	// ListStalled は updated_at が before より古いチェックリストを古い順に最大limit件返す。
	ListStalled(ctx context.Context, before time.Time, limit int) ([]*model.DeletionProgress, error)
}
