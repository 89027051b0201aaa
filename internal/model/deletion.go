package model

import (
	"slices"
	"time"
)

// 退会処理のステップ名。この順序で実行する。
const (
	StepIdentity        = "identity"
	StepProfiles        = "profiles"
	StepFollows         = "follows"
	StepRecommendations = "recommendations"
	StepNotifications   = "notifications"
)

// CascadeSteps はIdentity削除後に実行するデータ削除ステップの順序。
var CascadeSteps = []string{StepProfiles, StepFollows, StepRecommendations, StepNotifications}

// DeletionProgress は退会処理のチェックリスト。
// Identity削除後に作成され、全ステップ完了時に削除される。
type DeletionProgress struct {
	UserID         string
	RunID          string
	CompletedSteps []string
	LastError      string
	StartedAt      time.Time
	UpdatedAt      time.Time
}

// Done は指定ステップが完了済みかどうかを返す。
func (p *DeletionProgress) Done(step string) bool {
	if p == nil {
		return false
	}
	return slices.Contains(p.CompletedSteps, step)
}

// Pending は未完了のカスケードステップを実行順に返す。
func (p *DeletionProgress) Pending() []string {
	pending := make([]string, 0, len(CascadeSteps))
	for _, step := range CascadeSteps {
		if !p.Done(step) {
			pending = append(pending, step)
		}
	}
	return pending
}
