package service

import (
	"testing"
	"time"

	"qbank_backend/internal/model"
	"qbank_backend/internal/repository"
	"qbank_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newVettingService(t *testing.T, db *gorm.DB, dailyLimit int) *VettingService {
	t.Helper()
	return NewVettingService(db, repository.NewUserRepository(db), repository.NewQuestionRepository(db), dailyLimit)
}

func TestVoteDelta(t *testing.T) {
	tests := []struct {
		name      string
		action    model.VoteAction
		duplicate bool
		want      float64
	}{
		{"accept", model.ActionAccept, false, 0.10},
		{"accept on flagged duplicate", model.ActionAccept, true, 0.05},
		{"reject", model.ActionReject, false, -0.20},
		{"reject on flagged duplicate", model.ActionReject, true, -0.30},
		{"skip", model.ActionSkip, false, 0},
		{"skip on flagged duplicate", model.ActionSkip, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, voteDelta(tt.action, tt.duplicate), 1e-9)
		})
	}
}

func TestClampWeight(t *testing.T) {
	assert.InDelta(t, 0.2, clampWeight(0.1), 1e-9)
	assert.InDelta(t, 0.2, clampWeight(0.2), 1e-9)
	assert.InDelta(t, 1.0, clampWeight(1.0), 1e-9)
	assert.InDelta(t, 2.0, clampWeight(2.0), 1e-9)
	assert.InDelta(t, 2.0, clampWeight(2.3), 1e-9)
}

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name    string
		weight  float64
		accepts int
		rejects int
		want    model.VettingStatus
	}{
		{"fresh question", 1.0, 0, 0, model.StatusPending},
		{"approved at thresholds", 1.2, 2, 0, model.StatusApproved},
		{"high weight but single accept", 1.3, 1, 0, model.StatusPending},
		{"contested stays pending despite weight", 1.8, 3, 3, model.StatusPending},
		{"rejected at floor threshold", 0.6, 0, 2, model.StatusRejected},
		{"rejected below threshold", 0.3, 1, 4, model.StatusRejected},
		{"recovered above reject threshold", 0.7, 1, 2, model.StatusPending},
		{"approved despite some rejects", 1.5, 4, 2, model.StatusApproved},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, deriveStatus(tt.weight, tt.accepts, tt.rejects))
		})
	}
}

func TestVetApprovalLifecycle(t *testing.T) {
	db := newTestDB(t)
	svc := newVettingService(t, db, 50)
	q := seedQuestion(t, db, nil)
	u1 := seedUser(t, db, "u1")
	u2 := seedUser(t, db, "u2")

	res, err := svc.Vet(q.ID, u1.ID, model.ActionAccept, "")
	require.NoError(t, err)
	assert.InDelta(t, 1.1, res.Weight, 1e-9)
	assert.Equal(t, model.StatusPending, res.Status)

	res, err = svc.Vet(q.ID, u2.ID, model.ActionAccept, "solid question")
	require.NoError(t, err)
	assert.InDelta(t, 1.2, res.Weight, 1e-9)
	assert.Equal(t, 2, res.AcceptCount)
	assert.Equal(t, model.StatusApproved, res.Status)

	var stored model.Question
	require.NoError(t, db.First(&stored, "id = ?", q.ID).Error)
	assert.Equal(t, model.StatusApproved, stored.VettingStatus)

	var votes int64
	require.NoError(t, db.Model(&model.VoteEvent{}).Where("question_id = ?", q.ID).Count(&votes).Error)
	assert.EqualValues(t, 2, votes)
}

func TestVetRejectionAndRecovery(t *testing.T) {
	db := newTestDB(t)
	svc := newVettingService(t, db, 50)
	q := seedQuestion(t, db, func(q *model.Question) {
		q.Weight = 0.7
		q.RejectCount = 1
	})
	u1 := seedUser(t, db, "u1")
	u2 := seedUser(t, db, "u2")
	u3 := seedUser(t, db, "u3")

	res, err := svc.Vet(q.ID, u1.ID, model.ActionReject, "off syllabus")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, res.Weight, 1e-9)
	assert.Equal(t, model.StatusRejected, res.Status)

	// 后续接受把权重拉回0.6以上，状态应该回到pending
	res, err = svc.Vet(q.ID, u2.ID, model.ActionAccept, "")
	require.NoError(t, err)
	assert.InDelta(t, 0.6, res.Weight, 1e-9)
	assert.Equal(t, model.StatusRejected, res.Status)

	res, err = svc.Vet(q.ID, u3.ID, model.ActionAccept, "")
	require.NoError(t, err)
	assert.InDelta(t, 0.7, res.Weight, 1e-9)
	assert.Equal(t, model.StatusPending, res.Status)
}

func TestVetSkipLeavesWeightUntouched(t *testing.T) {
	db := newTestDB(t)
	svc := newVettingService(t, db, 50)
	q := seedQuestion(t, db, nil)
	u := seedUser(t, db, "u1")

	res, err := svc.Vet(q.ID, u.ID, model.ActionSkip, "")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, res.Weight, 1e-9)
	assert.Equal(t, 1, res.SkipCount)
	assert.Equal(t, model.StatusPending, res.Status)
}

func TestVetDuplicateWarningDeltas(t *testing.T) {
	db := newTestDB(t)
	svc := newVettingService(t, db, 50)
	q := seedQuestion(t, db, func(q *model.Question) {
		q.DuplicateWarning = true
	})
	u1 := seedUser(t, db, "u1")
	u2 := seedUser(t, db, "u2")

	res, err := svc.Vet(q.ID, u1.ID, model.ActionAccept, "")
	require.NoError(t, err)
	assert.InDelta(t, 1.05, res.Weight, 1e-9)

	res, err = svc.Vet(q.ID, u2.ID, model.ActionReject, "duplicate of an existing one")
	require.NoError(t, err)
	assert.InDelta(t, 0.75, res.Weight, 1e-9)
}

func TestVetWeightSaturation(t *testing.T) {
	db := newTestDB(t)
	svc := newVettingService(t, db, 50)
	q := seedQuestion(t, db, func(q *model.Question) {
		q.Weight = 0.25
		q.DuplicateWarning = true
	})
	u := seedUser(t, db, "u1")

	// 0.25 - 0.30 会穿底，必须停在0.2
	res, err := svc.Vet(q.ID, u.ID, model.ActionReject, "")
	require.NoError(t, err)
	assert.InDelta(t, 0.2, res.Weight, 1e-9)
	assert.Equal(t, model.StatusRejected, res.Status)
}

func TestVetOneVotePerUser(t *testing.T) {
	db := newTestDB(t)
	svc := newVettingService(t, db, 50)
	q := seedQuestion(t, db, nil)
	u := seedUser(t, db, "u1")

	_, err := svc.Vet(q.ID, u.ID, model.ActionAccept, "")
	require.NoError(t, err)

	_, err = svc.Vet(q.ID, u.ID, model.ActionReject, "changed my mind")
	assert.ErrorIs(t, err, util.ErrAlreadyVoted)

	// 重复投票不应该留下第二条日志或改动权重
	var stored model.Question
	require.NoError(t, db.First(&stored, "id = ?", q.ID).Error)
	assert.InDelta(t, 1.1, stored.Weight, 1e-9)
	var votes int64
	require.NoError(t, db.Model(&model.VoteEvent{}).Where("question_id = ?", q.ID).Count(&votes).Error)
	assert.EqualValues(t, 1, votes)
}

func TestFindForVoteLockedRead(t *testing.T) {
	db := newTestDB(t)
	repo := repository.NewQuestionRepository(db)
	svc := newVettingService(t, db, 50)
	q := seedQuestion(t, db, nil)
	u := seedUser(t, db, "u1")

	// 带行锁的条件读：未投票时返回题目本身
	err := db.Transaction(func(tx *gorm.DB) error {
		got, err := repo.FindForVote(tx, q.ID, u.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, q.ID, got.ID)
		return nil
	})
	require.NoError(t, err)

	_, err = svc.Vet(q.ID, u.ID, model.ActionAccept, "")
	require.NoError(t, err)

	// 投过票后同一用户的条件读落空
	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := repo.FindForVote(tx, q.ID, u.ID)
		return err
	})
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestVetUnknownQuestion(t *testing.T) {
	db := newTestDB(t)
	svc := newVettingService(t, db, 50)
	u := seedUser(t, db, "u1")

	_, err := svc.Vet("no-such-id", u.ID, model.ActionAccept, "")
	assert.ErrorIs(t, err, util.ErrQuestionNotFound)
}

func TestVetInvalidAction(t *testing.T) {
	db := newTestDB(t)
	svc := newVettingService(t, db, 50)

	_, err := svc.Vet("whatever", 1, model.VoteAction("upvote"), "")
	assert.ErrorIs(t, err, util.ErrInvalidVoteAction)
}

func TestVetDailyQuota(t *testing.T) {
	db := newTestDB(t)
	svc := newVettingService(t, db, 2)
	u := seedUser(t, db, "u1")
	q1 := seedQuestion(t, db, nil)
	q2 := seedQuestion(t, db, nil)
	q3 := seedQuestion(t, db, nil)

	_, err := svc.Vet(q1.ID, u.ID, model.ActionAccept, "")
	require.NoError(t, err)
	_, err = svc.Vet(q2.ID, u.ID, model.ActionSkip, "")
	require.NoError(t, err)

	// 配额用满，skip也占额度
	_, err = svc.Vet(q3.ID, u.ID, model.ActionAccept, "")
	assert.ErrorIs(t, err, util.ErrDailyQuotaExceeded)

	// 把最后投票时间拨回昨天，计数应当重置
	yesterday := time.Now().Add(-26 * time.Hour)
	require.NoError(t, db.Model(&model.User{}).Where("id = ?", u.ID).
		Update("last_vote_at", yesterday).Error)

	res, err := svc.Vet(q3.ID, u.ID, model.ActionAccept, "")
	require.NoError(t, err)
	assert.True(t, res.Success)

	var stored model.User
	require.NoError(t, db.First(&stored, u.ID).Error)
	assert.Equal(t, 1, stored.DailyVettedCount)
}

func TestSetDailyLimitHotReload(t *testing.T) {
	db := newTestDB(t)
	svc := newVettingService(t, db, 1)
	u := seedUser(t, db, "u1")
	q1 := seedQuestion(t, db, nil)
	q2 := seedQuestion(t, db, nil)

	_, err := svc.Vet(q1.ID, u.ID, model.ActionAccept, "")
	require.NoError(t, err)
	_, err = svc.Vet(q2.ID, u.ID, model.ActionAccept, "")
	assert.ErrorIs(t, err, util.ErrDailyQuotaExceeded)

	svc.SetDailyLimit(5)
	_, err = svc.Vet(q2.ID, u.ID, model.ActionAccept, "")
	require.NoError(t, err)
}

func TestGetQuestionsForVetting(t *testing.T) {
	db := newTestDB(t)
	svc := newVettingService(t, db, 50)
	u := seedUser(t, db, "u1")

	voted := seedQuestion(t, db, nil)
	_, err := svc.Vet(voted.ID, u.ID, model.ActionAccept, "")
	require.NoError(t, err)

	fresh := seedQuestion(t, db, func(q *model.Question) {
		q.QuestionText = "Explain priority inversion."
	})
	approved := seedQuestion(t, db, func(q *model.Question) {
		q.VettingStatus = model.StatusApproved
	})

	page, err := svc.GetQuestionsForVetting(u.ID, repository.VettingFilters{}, 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, page.VotedToday)
	assert.Equal(t, 49, page.Remaining)

	ids := make(map[string]bool)
	for _, q := range page.Questions {
		ids[q.ID] = true
	}
	assert.True(t, ids[voted.ID], "today's voted question should appear")
	assert.True(t, ids[fresh.ID], "unvoted pending question should appear")
	assert.False(t, ids[approved.ID], "approved question is out of the default feed")
}

func TestGetQuestionsForVettingPersonalDecisions(t *testing.T) {
	db := newTestDB(t)
	svc := newVettingService(t, db, 50)
	voter := seedUser(t, db, "voter")
	other1 := seedUser(t, db, "other1")
	other2 := seedUser(t, db, "other2")

	accepted := seedQuestion(t, db, nil)
	rejected := seedQuestion(t, db, func(q *model.Question) {
		q.QuestionText = "Define deadlock."
	})
	foreign := seedQuestion(t, db, func(q *model.Question) {
		q.QuestionText = "Explain paging."
	})

	_, err := svc.Vet(accepted.ID, voter.ID, model.ActionAccept, "")
	require.NoError(t, err)
	_, err = svc.Vet(rejected.ID, voter.ID, model.ActionReject, "bad options")
	require.NoError(t, err)

	// 别人把foreign投成了全局approved，不应混进voter的个人视图
	_, err = svc.Vet(foreign.ID, other1.ID, model.ActionAccept, "")
	require.NoError(t, err)
	res, err := svc.Vet(foreign.ID, other2.ID, model.ActionAccept, "")
	require.NoError(t, err)
	require.Equal(t, model.StatusApproved, res.Status)

	page, err := svc.GetQuestionsForVetting(voter.ID, repository.VettingFilters{Status: string(model.StatusApproved)}, 20, 0)
	require.NoError(t, err)
	require.Len(t, page.Questions, 1)
	assert.Equal(t, accepted.ID, page.Questions[0].ID)
	// 个人视图按自己的投票定，即使题目全局还是pending
	assert.Equal(t, model.StatusPending, page.Questions[0].VettingStatus)

	page, err = svc.GetQuestionsForVetting(voter.ID, repository.VettingFilters{Status: string(model.StatusRejected)}, 20, 0)
	require.NoError(t, err)
	require.Len(t, page.Questions, 1)
	assert.Equal(t, rejected.ID, page.Questions[0].ID)
}

func TestGetUserVettingStats(t *testing.T) {
	db := newTestDB(t)
	svc := newVettingService(t, db, 50)
	u := seedUser(t, db, "u1")
	q1 := seedQuestion(t, db, nil)
	q2 := seedQuestion(t, db, nil)

	_, err := svc.Vet(q1.ID, u.ID, model.ActionAccept, "")
	require.NoError(t, err)
	_, err = svc.Vet(q2.ID, u.ID, model.ActionReject, "")
	require.NoError(t, err)

	stats, err := svc.GetUserVettingStats(u.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.TotalVetted)
	assert.EqualValues(t, 1, stats.Accepted)
	assert.EqualValues(t, 1, stats.Rejected)
	assert.Equal(t, 50, stats.DailyTarget)
	// 注册当天就投了2票：1天额度50，欠账48
	assert.EqualValues(t, 48, stats.Incompletions)
}
