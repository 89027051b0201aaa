package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// execDelete はDELETE文を実行し、削除件数を返す。
func execDelete(ctx context.Context, db *sql.DB, query, userID string) (int64, error) {
	result, err := db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// DeleteByUserID は指定ユーザーのプロフィールを削除する。
func (r *PostgresProfileRepo) DeleteByUserID(ctx context.Context, userID string) (int64, error) {
	n, err := execDelete(ctx, r.db, `DELETE FROM profiles WHERE id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete profile: %w", err)
	}
	return n, nil
}

// PostgresFollowRepo はPostgreSQLを使用したフォローリポジトリ。
type PostgresFollowRepo struct {
	db *sql.DB
}

// NewPostgresFollowRepo はPostgresFollowRepoを生成する。
func NewPostgresFollowRepo(db *sql.DB) *PostgresFollowRepo {
	return &PostgresFollowRepo{db: db}
}

// DeleteByFollower は follower_id = userID のエッジを削除する。
func (r *PostgresFollowRepo) DeleteByFollower(ctx context.Context, userID string) (int64, error) {
	n, err := execDelete(ctx, r.db, `DELETE FROM follows WHERE follower_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete follows by follower: %w", err)
	}
	return n, nil
}

// DeleteByFollowing は following_id = userID のエッジを削除する。
func (r *PostgresFollowRepo) DeleteByFollowing(ctx context.Context, userID string) (int64, error) {
	n, err := execDelete(ctx, r.db, `DELETE FROM follows WHERE following_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete follows by following: %w", err)
	}
	return n, nil
}

// PostgresRecommendationRepo はPostgreSQLを使用したおすすめリポジトリ。
type PostgresRecommendationRepo struct {
	db *sql.DB
}

// NewPostgresRecommendationRepo はPostgresRecommendationRepoを生成する。
func NewPostgresRecommendationRepo(db *sql.DB) *PostgresRecommendationRepo {
	return &PostgresRecommendationRepo{db: db}
}

// DeleteBySender は from_user_id = userID のおすすめを削除する。
func (r *PostgresRecommendationRepo) DeleteBySender(ctx context.Context, userID string) (int64, error) {
	n, err := execDelete(ctx, r.db, `DELETE FROM recommendations WHERE from_user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete recommendations by sender: %w", err)
	}
	return n, nil
}

// DeleteByRecipient は to_user_id = userID のおすすめを削除する。
func (r *PostgresRecommendationRepo) DeleteByRecipient(ctx context.Context, userID string) (int64, error) {
	n, err := execDelete(ctx, r.db, `DELETE FROM recommendations WHERE to_user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete recommendations by recipient: %w", err)
	}
	return n, nil
}

// PostgresNotificationRepo はPostgreSQLを使用した通知リポジトリ。
type PostgresNotificationRepo struct {
	db *sql.DB
}

// NewPostgresNotificationRepo はPostgresNotificationRepoを生成する。
func NewPostgresNotificationRepo(db *sql.DB) *PostgresNotificationRepo {
	return &PostgresNotificationRepo{db: db}
}

// DeleteBySender は from_user_id = userID の通知を削除する。
// 受信側（user_id）の通知は発信元ユーザーのものなので残す。
func (r *PostgresNotificationRepo) DeleteBySender(ctx context.Context, userID string) (int64, error) {
	n, err := execDelete(ctx, r.db, `DELETE FROM notifications WHERE from_user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete notifications by sender: %w", err)
	}
	return n, nil
}
