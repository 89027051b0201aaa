// Package account は退会処理（アカウント削除）のドメインロジックを提供する。
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/bookshelf/internal/config"
	"github.com/hitoshi/bookshelf/internal/identity"
	"github.com/hitoshi/bookshelf/internal/metrics"
	"github.com/hitoshi/bookshelf/internal/model"
	"github.com/hitoshi/bookshelf/internal/repository"
)

// DefaultResumeGrace はチェックリストを再開可能とみなすまでの既定の猶予。
const DefaultResumeGrace = 5 * time.Minute

// IdentityDeleter はIdentity ProviderからPrincipalを削除するインターフェース。
type IdentityDeleter interface {
	DeleteUser(ctx context.Context, userID string) error
}

// Metrics は退会処理のメトリクス記録インターフェース。
type Metrics interface {
	RecordAccountDeletion(result string, duration time.Duration)
	RecordDeletionStepFailure(step string)
}

type noopMetrics struct{}

func (noopMetrics) RecordAccountDeletion(string, time.Duration) {}
func (noopMetrics) RecordDeletionStepFailure(string)            {}

// Repositories は削除対象の従属コレクションとチェックリストのリポジトリ群。
type Repositories struct {
	Profiles        repository.ProfileRepository
	Follows         repository.FollowRepository
	Recommendations repository.RecommendationRepository
	Notifications   repository.NotificationRepository
	Progress        repository.DeletionProgressRepository
}

// Options は退会処理の動作設定。
type Options struct {
	Policy      config.CascadePolicy
	ResumeGrace time.Duration
	Metrics     Metrics
}

// Result は退会処理の結果。
type Result struct {
	UserID  string
	RunID   string
	Resumed bool
	// Deleted はステップごとの削除件数。失敗したステップは含まない。
	Deleted  map[string]int64
	Failures []*model.DataStoreDeletionError
}

// Service は退会処理のサービス層。
// Identity Providerからの削除を先に行い、成功した場合のみ従属データを削除する。
type Service struct {
	identity IdentityDeleter
	repos    Repositories
	policy   config.CascadePolicy
	grace    time.Duration
	metrics  Metrics
	now      func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(deleter IdentityDeleter, repos Repositories, opts Options) *Service {
	if opts.Policy == "" {
		opts.Policy = config.CascadePolicyReport
	}
	if opts.ResumeGrace <= 0 {
		opts.ResumeGrace = DefaultResumeGrace
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	return &Service{
		identity: deleter,
		repos:    repos,
		policy:   opts.Policy,
		grace:    opts.ResumeGrace,
		metrics:  opts.Metrics,
		now:      time.Now,
	}
}

// DeleteAccount は指定ユーザーのアカウントを削除する。
//
// 1. Identity ProviderからPrincipalを削除する。失敗した場合は *model.IdentityDeletionError を返し、従属データには触れない。
// 2. プロフィール、フォロー（両方向）、おすすめ（送受信）、送信した通知を削除する。
//
// 2の一部が失敗した場合でも残りのステップはすべて実行する。
// ポリシーが report の場合は *model.CascadeError を返し、ignore の場合はログのみ記録して成功とする。
// 失敗したステップはチェックリストに残り、再実行時にIdentity削除を飛ばして再開される。
func (s *Service) DeleteAccount(ctx context.Context, userID string) (*Result, error) {
	start := s.now()

	if strings.TrimSpace(userID) == "" {
		s.metrics.RecordAccountDeletion(metrics.ResultInvalid, 0)
		return nil, model.NewMissingUserIDError()
	}

	result := &Result{UserID: userID, Deleted: make(map[string]int64)}

	progress := s.findResumable(ctx, userID)
	if progress != nil {
		result.Resumed = true
		slog.Info("退会処理を再開します",
			slog.String("user_id", userID),
			slog.String("run_id", progress.RunID),
			slog.Any("completed_steps", progress.CompletedSteps),
		)
	} else {
		slog.Info("退会処理を開始します", slog.String("user_id", userID))

		if err := s.identity.DeleteUser(ctx, userID); err != nil {
			s.metrics.RecordAccountDeletion(metrics.ResultIdentityFailure, s.now().Sub(start))
			slog.Error("Identity Providerからの削除に失敗しました",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
			return nil, &model.IdentityDeletionError{
				UserID: userID,
				Detail: identityDetail(err),
				Err:    err,
			}
		}

		progress = s.begin(ctx, userID)
	}
	result.RunID = progress.RunID

	for _, step := range progress.Pending() {
		n, err := s.runStep(ctx, step, userID)
		if err != nil {
			failure := &model.DataStoreDeletionError{Step: step, Err: err}
			result.Failures = append(result.Failures, failure)
			s.metrics.RecordDeletionStepFailure(step)
			slog.Error("従属データの削除に失敗しました",
				slog.String("user_id", userID),
				slog.String("run_id", result.RunID),
				slog.String("step", step),
				slog.String("error", err.Error()),
			)
			continue
		}
		result.Deleted[step] = n
		if err := s.repos.Progress.MarkStep(ctx, userID, step); err != nil {
			slog.Warn("チェックリストの更新に失敗しました",
				slog.String("user_id", userID),
				slog.String("step", step),
				slog.String("error", err.Error()),
			)
		}
	}

	if len(result.Failures) > 0 {
		return s.partial(ctx, result, start)
	}

	if err := s.repos.Progress.Finish(ctx, userID); err != nil {
		slog.Warn("チェックリストの削除に失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
	s.metrics.RecordAccountDeletion(metrics.ResultSuccess, s.now().Sub(start))
	slog.Info("退会処理が完了しました",
		slog.String("user_id", userID),
		slog.String("run_id", result.RunID),
		slog.Bool("resumed", result.Resumed),
	)
	return result, nil
}

// partial はカスケード削除の部分失敗を記録し、ポリシーに応じた戻り値を返す。
func (s *Service) partial(ctx context.Context, result *Result, start time.Time) (*Result, error) {
	cascadeErr := &model.CascadeError{UserID: result.UserID, Failures: result.Failures}

	if err := s.repos.Progress.RecordError(ctx, result.UserID, cascadeErr.Error()); err != nil {
		slog.Warn("チェックリストへのエラー記録に失敗しました",
			slog.String("user_id", result.UserID),
			slog.String("error", err.Error()),
		)
	}
	s.metrics.RecordAccountDeletion(metrics.ResultPartial, s.now().Sub(start))

	if s.policy == config.CascadePolicyIgnore {
		slog.Warn("従属データの一部が削除できませんでしたが、成功として扱います",
			slog.String("user_id", result.UserID),
			slog.String("run_id", result.RunID),
			slog.Any("failed_steps", cascadeErr.FailedSteps()),
		)
		return result, nil
	}
	return result, cascadeErr
}

// findResumable は再開可能なチェックリストを返す。
// 直前に失敗しているか猶予を過ぎて更新が止まっている場合のみ再開可能とみなす。
// 進行中の処理と同時に呼ばれた場合はnilを返し、Identity削除から実行させる。
func (s *Service) findResumable(ctx context.Context, userID string) *model.DeletionProgress {
	progress, err := s.repos.Progress.Find(ctx, userID)
	if err != nil {
		slog.Warn("チェックリストの取得に失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if progress == nil || !progress.Done(model.StepIdentity) {
		return nil
	}
	if progress.LastError == "" && s.now().Sub(progress.UpdatedAt) < s.grace {
		return nil
	}
	return progress
}

// begin はチェックリストを作成する。永続化に失敗してもメモリ上のチェックリストで処理を続ける。
func (s *Service) begin(ctx context.Context, userID string) *model.DeletionProgress {
	progress, err := s.repos.Progress.Begin(ctx, userID)
	if err != nil {
		slog.Warn("チェックリストの作成に失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		now := s.now()
		return &model.DeletionProgress{
			UserID:         userID,
			CompletedSteps: []string{model.StepIdentity},
			StartedAt:      now,
			UpdatedAt:      now,
		}
	}
	return progress
}

// runStep は1ステップ分の削除を実行する。
// 複数の削除を伴うステップは、途中で失敗しても残りを実行してからエラーをまとめて返す。
func (s *Service) runStep(ctx context.Context, step, userID string) (int64, error) {
	var passes []func(context.Context, string) (int64, error)
	switch step {
	case model.StepProfiles:
		passes = append(passes, s.repos.Profiles.DeleteByUserID)
	case model.StepFollows:
		passes = append(passes, s.repos.Follows.DeleteByFollower, s.repos.Follows.DeleteByFollowing)
	case model.StepRecommendations:
		passes = append(passes, s.repos.Recommendations.DeleteBySender, s.repos.Recommendations.DeleteByRecipient)
	case model.StepNotifications:
		passes = append(passes, s.repos.Notifications.DeleteBySender)
	default:
		return 0, fmt.Errorf("unknown deletion step: %s", step)
	}

	var total int64
	var errs []error
	for _, pass := range passes {
		n, err := pass(ctx, userID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		total += n
	}
	return total, errors.Join(errs...)
}

// identityDetail はIdentity Providerのエラーから利用者向けの詳細メッセージを取り出す。
func identityDetail(err error) string {
	var perr *identity.ProviderError
	if errors.As(err, &perr) && perr.Message != "" {
		return perr.Message
	}
	return err.Error()
}
