// Package cleanup は中断された退会処理を再開するバックグラウンドジョブを提供する。
// Identity削除後にカスケード削除が完了しなかったチェックリストを定期的に拾い、
// 残りのステップを実行する。
package cleanup

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/bookshelf/internal/account"
	"github.com/hitoshi/bookshelf/internal/metrics"
	"github.com/hitoshi/bookshelf/internal/model"
)

const (
	defaultBatchSize      = 50
	defaultMaxConcurrency = 4
)

// StalledLister は中断されたチェックリストを取得するインターフェース。
type StalledLister interface {
	ListStalled(ctx context.Context, before time.Time, limit int) ([]*model.DeletionProgress, error)
}

// AccountDeleter は退会処理の実行インターフェース。
type AccountDeleter interface {
	DeleteAccount(ctx context.Context, userID string) (*account.Result, error)
}

// ResumeMetrics は再開結果を記録するインターフェース。
type ResumeMetrics interface {
	RecordDeletionResume(result string)
}

type noopMetrics struct{}

func (noopMetrics) RecordDeletionResume(string) {}

// Summary は1サイクル分の再開結果。
type Summary struct {
	Resumed   int
	Completed int
	Partial   int
	Failed    int
}

// ResumeJob は中断された退会処理の再開ジョブ。
// updated_atがGraceより古いチェックリストを対象とし、
// semaphoreパターンで最大並列数を制御しながら再実行する。
type ResumeJob struct {
	lister         StalledLister
	deleter        AccountDeleter
	logger         *slog.Logger
	metrics        ResumeMetrics
	Grace          time.Duration
	BatchSize      int
	MaxConcurrency int
	now            func() time.Time
}

// NewResumeJob は新しいResumeJobを生成する。
// metricsがnilの場合は記録しない。
func NewResumeJob(lister StalledLister, deleter AccountDeleter, logger *slog.Logger, m ResumeMetrics, grace time.Duration) *ResumeJob {
	if m == nil {
		m = noopMetrics{}
	}
	if grace <= 0 {
		grace = account.DefaultResumeGrace
	}
	return &ResumeJob{
		lister:         lister,
		deleter:        deleter,
		logger:         logger,
		metrics:        m,
		Grace:          grace,
		BatchSize:      defaultBatchSize,
		MaxConcurrency: defaultMaxConcurrency,
		now:            time.Now,
	}
}

// Start は指定間隔のティッカーで再開ジョブを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *ResumeJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("退会処理の再開ジョブを開始しました",
		slog.Duration("interval", interval),
		slog.Duration("grace", j.Grace),
	)

	// 起動直後に1回実行
	j.runLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("退会処理の再開ジョブを停止しました")
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

func (j *ResumeJob) runLogged(ctx context.Context) {
	if _, err := j.RunOnce(ctx); err != nil {
		j.logger.Error("退会処理の再開サイクルに失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce は中断されたチェックリストを1回取得し、並列で再開する。
// 個々の再開失敗はログとメトリクスに記録し、エラーとしては返さない。
func (j *ResumeJob) RunOnce(ctx context.Context) (Summary, error) {
	start := j.now()

	stalled, err := j.lister.ListStalled(ctx, start.Add(-j.Grace), j.BatchSize)
	if err != nil {
		return Summary{}, err
	}

	if len(stalled) == 0 {
		j.logger.Info("再開対象の退会処理はありません")
		return Summary{}, nil
	}

	j.logger.Info("退会処理の再開サイクルを開始します",
		slog.Int("count", len(stalled)),
	)

	var (
		mu      sync.Mutex
		summary = Summary{Resumed: len(stalled)}
		wg      sync.WaitGroup
	)
	maxConcurrency := j.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	sem := make(chan struct{}, maxConcurrency)

	for _, p := range stalled {
		wg.Add(1)
		sem <- struct{}{}

		go func(p *model.DeletionProgress) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome := j.resume(ctx, p)
			j.metrics.RecordDeletionResume(outcome)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case metrics.ResultSuccess:
				summary.Completed++
			case metrics.ResultPartial:
				summary.Partial++
			default:
				summary.Failed++
			}
		}(p)
	}

	wg.Wait()

	j.logger.Info("退会処理の再開サイクルが完了しました",
		slog.Int("resumed", summary.Resumed),
		slog.Int("completed", summary.Completed),
		slog.Int("partial", summary.Partial),
		slog.Int("failed", summary.Failed),
		slog.Float64("duration_ms", float64(j.now().Sub(start).Milliseconds())),
	)

	return summary, nil
}

// resume は1件のチェックリストを再開し、結果ラベルを返す。
func (j *ResumeJob) resume(ctx context.Context, p *model.DeletionProgress) string {
	result, err := j.deleter.DeleteAccount(ctx, p.UserID)

	var cascadeErr *model.CascadeError
	switch {
	case err == nil && (result == nil || len(result.Failures) == 0):
		return metrics.ResultSuccess
	case err == nil, errors.As(err, &cascadeErr):
		j.logger.Warn("退会処理の再開で一部のステップが失敗しました",
			slog.String("user_id", p.UserID),
			slog.String("run_id", p.RunID),
		)
		return metrics.ResultPartial
	default:
		j.logger.Error("退会処理の再開に失敗しました",
			slog.String("user_id", p.UserID),
			slog.String("run_id", p.RunID),
			slog.String("error", err.Error()),
		)
		return metrics.ResultFailure
	}
}
