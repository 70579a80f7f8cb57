package service

import (
	"errors"
	"math"
	"sync/atomic"
	"time"

	"qbank_backend/internal/model"
	"qbank_backend/internal/repository"
	"qbank_backend/internal/util"
	"qbank_backend/pkg/logger"
	"qbank_backend/pkg/monitoring"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// VettingService 社区审核状态机。
// 每次投票把题目权重按动作表调整并重新推导状态，
// 同时保证单人单题一票、每日配额两条不变量。
type VettingService struct {
	db           *gorm.DB
	userRepo     *repository.UserRepository
	questionRepo *repository.QuestionRepository
	dailyLimit   atomic.Int32
}

func NewVettingService(db *gorm.DB, userRepo *repository.UserRepository, questionRepo *repository.QuestionRepository, dailyLimit int) *VettingService {
	s := &VettingService{
		db:           db,
		userRepo:     userRepo,
		questionRepo: questionRepo,
	}
	s.dailyLimit.Store(int32(dailyLimit))
	return s
}

// SetDailyLimit 配置热更新入口
func (s *VettingService) SetDailyLimit(limit int) {
	if limit > 0 {
		s.dailyLimit.Store(int32(limit))
	}
}

func (s *VettingService) DailyLimit() int {
	return int(s.dailyLimit.Load())
}

// voteDelta 权重调整表。带重复警告的题目：接受加得少、拒绝扣得多，
// 让疑似重复的题目更快出局，同时给误报留一条通过的路。
func voteDelta(action model.VoteAction, duplicateWarning bool) float64 {
	switch action {
	case model.ActionAccept:
		if duplicateWarning {
			return 0.05
		}
		return 0.10
	case model.ActionReject:
		if duplicateWarning {
			return -0.30
		}
		return -0.20
	default:
		return 0
	}
}

// clampWeight 饱和截断到 [0.2, 2.0]
func clampWeight(w float64) float64 {
	if w < model.WeightFloor {
		return model.WeightFloor
	}
	if w > model.WeightCeiling {
		return model.WeightCeiling
	}
	return w
}

// deriveStatus 每次投票后用新权重和新计数从头推导，不做增量修补，
// 这样权重回升的题目可以从 rejected 回到 pending。
// 争议题（拒绝数不少于接受数）无论权重多高都停在 pending。
func deriveStatus(weight float64, acceptCount, rejectCount int) model.VettingStatus {
	if weight >= model.ApproveWeightMin && acceptCount >= model.ApproveAcceptMin && rejectCount < acceptCount {
		return model.StatusApproved
	}
	if weight <= model.RejectWeightMax {
		return model.StatusRejected
	}
	return model.StatusPending
}

// VetResult 投票后的最新状态
type VetResult struct {
	Success     bool                `json:"success"`
	Weight      float64             `json:"weight"`
	Status      model.VettingStatus `json:"status"`
	AcceptCount int                 `json:"accept_count"`
	RejectCount int                 `json:"reject_count"`
	SkipCount   int                 `json:"skip_count"`
}

// Vet 处理一次投票。校验顺序：配额 -> 单票 -> 权重/状态更新。
// 配额以自然日为界，跨天时计数归零。
func (s *VettingService) Vet(questionID string, voterID uint, action model.VoteAction, reason string) (*VetResult, error) {
	if !action.Valid() {
		return nil, util.ErrInvalidVoteAction
	}

	user, err := s.userRepo.FindByID(voterID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrUserNotFound
		}
		return nil, err
	}

	now := time.Now()
	dayChanged := !sameCalendarDay(user.LastVoteAt, now)
	count := user.DailyVettedCount
	if dayChanged {
		count = 0
	}
	if count >= s.DailyLimit() {
		return nil, util.ErrDailyQuotaExceeded
	}

	var result *VetResult
	err = s.db.Transaction(func(tx *gorm.DB) error {
		q, err := s.questionRepo.FindForVote(tx, questionID, voterID)
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			// 区分"题目不存在"和"已投过票"
			var exists int64
			if err := tx.Model(&model.Question{}).Where("id = ?", questionID).Count(&exists).Error; err != nil {
				return err
			}
			if exists == 0 {
				return util.ErrQuestionNotFound
			}
			return util.ErrAlreadyVoted
		}

		// 权重差值基于条件读拿到的这份数据，不再二次读取
		delta := voteDelta(action, q.DuplicateWarning)
		newWeight := clampWeight(q.Weight + delta)

		acceptCount, rejectCount, skipCount := q.AcceptCount, q.RejectCount, q.SkipCount
		switch action {
		case model.ActionAccept:
			acceptCount++
		case model.ActionReject:
			rejectCount++
		case model.ActionSkip:
			skipCount++
		}

		status := deriveStatus(newWeight, acceptCount, rejectCount)

		if err := tx.Model(&model.Question{}).Where("id = ?", q.ID).Updates(map[string]interface{}{
			"weight":         newWeight,
			"accept_count":   acceptCount,
			"reject_count":   rejectCount,
			"skip_count":     skipCount,
			"vetting_status": status,
		}).Error; err != nil {
			return err
		}

		vote := model.VoteEvent{
			QuestionID: q.ID,
			VoterID:    voterID,
			Action:     action,
			Reason:     reason,
		}
		if err := tx.Create(&vote).Error; err != nil {
			return err
		}

		result = &VetResult{
			Success:     true,
			Weight:      newWeight,
			Status:      status,
			AcceptCount: acceptCount,
			RejectCount: rejectCount,
			SkipCount:   skipCount,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// 票已落库，计数更新失败只记日志：最多漂移一票，次日重置兜底
	if err := s.userRepo.RecordVote(voterID, dayChanged, now); err != nil {
		logger.Log.Warn("failed to update voter daily counter",
			zap.Uint("voter_id", voterID), zap.Error(err))
	}

	monitoring.VoteCounter.WithLabelValues(string(action)).Inc()

	return result, nil
}

// VettingPage 审核列表响应
type VettingPage struct {
	VotedToday int              `json:"voted_today"`
	Remaining  int              `json:"remaining"`
	DailyLimit int              `json:"daily_limit"`
	Questions  []model.Question `json:"questions"`
}

// GetQuestionsForVetting 两种模式：
// status为approved/rejected时返回该用户的个人决策视图（按其投票动作过滤）；
// 否则返回"今日已投"集合加未投票的补位，过滤条件只作用于补位部分。
func (s *VettingService) GetQuestionsForVetting(voterID uint, f repository.VettingFilters, limit, skip int) (*VettingPage, error) {
	now := time.Now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	votedTodayCount, err := s.questionRepo.CountVotesSince(voterID, startOfDay)
	if err != nil {
		return nil, err
	}

	dailyLimit := s.DailyLimit()
	page := &VettingPage{
		VotedToday: int(votedTodayCount),
		Remaining:  maxInt(0, dailyLimit-int(votedTodayCount)),
		DailyLimit: dailyLimit,
	}

	switch f.Status {
	case string(model.StatusApproved):
		page.Questions, err = s.questionRepo.FindVotedByAction(voterID, model.ActionAccept, limit, skip)
		return page, err
	case string(model.StatusRejected):
		page.Questions, err = s.questionRepo.FindVotedByAction(voterID, model.ActionReject, limit, skip)
		return page, err
	}

	// 今日已投的题目优先返回，保证翻页会话的连续性
	voted, err := s.questionRepo.FindVotedSince(voterID, startOfDay)
	if err != nil {
		return nil, err
	}
	if len(voted) > limit {
		voted = voted[:limit]
	}

	fill := limit - len(voted)
	if fill > 0 {
		unvoted, err := s.questionRepo.FindUnvoted(voterID, f, fill, skip)
		if err != nil {
			return nil, err
		}
		voted = append(voted, unvoted...)
	}

	page.Questions = voted
	return page, nil
}

// VettingStats 审核参与度统计
type VettingStats struct {
	TotalVetted   int64 `json:"total_vetted"`
	Accepted      int64 `json:"accepted"`
	Rejected      int64 `json:"rejected"`
	DaysActive    int   `json:"days_active"`
	DailyTarget   int   `json:"daily_target"`
	Incompletions int64 `json:"incompletions"`
}

// GetUserVettingStats 计算累计投票和"欠账"指标：
// 活跃天数（注册以来小时数/24向上取整）乘每日目标，减去累计投票，下限0。
// 只是参与度参考，不做强制。
func (s *VettingService) GetUserVettingStats(voterID uint) (*VettingStats, error) {
	user, err := s.userRepo.FindByID(voterID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrUserNotFound
		}
		return nil, err
	}

	accepts, rejects, total, err := s.questionRepo.CountVotesByAction(voterID)
	if err != nil {
		return nil, err
	}

	daysActive := int(math.Ceil(time.Since(user.CreatedAt).Hours() / 24))
	dailyLimit := s.DailyLimit()

	incompletions := int64(daysActive)*int64(dailyLimit) - total
	if incompletions < 0 {
		incompletions = 0
	}

	return &VettingStats{
		TotalVetted:   total,
		Accepted:      accepts,
		Rejected:      rejects,
		DaysActive:    daysActive,
		DailyTarget:   dailyLimit,
		Incompletions: incompletions,
	}, nil
}

func sameCalendarDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
