package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/bookshelf/internal/model"
	"github.com/lib/pq"
)

const deletionColumns = `user_id, run_id, completed_steps, COALESCE(last_error, ''), started_at, updated_at`

// PostgresDeletionProgressRepo はPostgreSQLを使用した退会チェックリストリポジトリ。
type PostgresDeletionProgressRepo struct {
	db *sql.DB
}

// NewPostgresDeletionProgressRepo はPostgresDeletionProgressRepoを生成する。
func NewPostgresDeletionProgressRepo(db *sql.DB) *PostgresDeletionProgressRepo {
	return &PostgresDeletionProgressRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProgress(row rowScanner) (*model.DeletionProgress, error) {
	p := &model.DeletionProgress{}
	err := row.Scan(&p.UserID, &p.RunID, pq.Array(&p.CompletedSteps), &p.LastError, &p.StartedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Find は指定ユーザーのチェックリストを取得する。見つからない場合はnilを返す。
func (r *PostgresDeletionProgressRepo) Find(ctx context.Context, userID string) (*model.DeletionProgress, error) {
	p, err := scanProgress(r.db.QueryRowContext(ctx,
		`SELECT `+deletionColumns+` FROM account_deletions WHERE user_id = $1`,
		userID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find deletion progress: %w", err)
	}
	return p, nil
}

// Begin はIdentity削除済みとしてチェックリストを作成する。
// 既存の行がある場合はupdated_atのみ更新して返す。
func (r *PostgresDeletionProgressRepo) Begin(ctx context.Context, userID string) (*model.DeletionProgress, error) {
	p, err := scanProgress(r.db.QueryRowContext(ctx,
		`INSERT INTO account_deletions (user_id, run_id, completed_steps, started_at, updated_at)
		 VALUES ($1, $2, $3, now(), now())
		 ON CONFLICT (user_id) DO UPDATE SET updated_at = now()
		 RETURNING `+deletionColumns,
		userID, uuid.NewString(), pq.Array([]string{model.StepIdentity}),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to begin deletion progress: %w", err)
	}
	return p, nil
}

// MarkStep はステップを完了済みとして記録する。
func (r *PostgresDeletionProgressRepo) MarkStep(ctx context.Context, userID, step string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE account_deletions
		 SET completed_steps = array_append(completed_steps, $2::text), updated_at = now()
		 WHERE user_id = $1 AND NOT ($2::text = ANY(completed_steps))`,
		userID, step,
	)
	if err != nil {
		return fmt.Errorf("failed to mark deletion step %s: %w", step, err)
	}
	return nil
}

// RecordError は直近の失敗内容を記録する。
func (r *PostgresDeletionProgressRepo) RecordError(ctx context.Context, userID, message string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE account_deletions SET last_error = $2, updated_at = now() WHERE user_id = $1`,
		userID, message,
	)
	if err != nil {
		return fmt.Errorf("failed to record deletion error: %w", err)
	}
	return nil
}

// Finish はチェックリストを削除する。
func (r *PostgresDeletionProgressRepo) Finish(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM account_deletions WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to finish deletion progress: %w", err)
	}
	return nil
}

// ListStalled は updated_at が before より古いチェックリストを古い順に返す。
func (r *PostgresDeletionProgressRepo) ListStalled(ctx context.Context, before time.Time, limit int) ([]*model.DeletionProgress, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+deletionColumns+` FROM account_deletions
		 WHERE updated_at < $1
		 ORDER BY updated_at
		 LIMIT $2`,
		before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stalled deletions: %w", err)
	}
	defer rows.Close()

	var result []*model.DeletionProgress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deletion progress: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate deletion progress: %w", err)
	}
	return result, nil
}
