package repository

import (
	"time"

	"qbank_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type QuestionRepository struct {
	DB *gorm.DB
}

func NewQuestionRepository(db *gorm.DB) *QuestionRepository {
	return &QuestionRepository{DB: db}
}

// VettingFilters 审核列表的可选过滤条件，只作用于未投票的补位集合
type VettingFilters struct {
	Status         string
	CourseCode     string
	Topic          string
	DuplicatesOnly bool
}

func (r *QuestionRepository) Create(q *model.Question) error {
	return r.DB.Create(q).Error
}

func (r *QuestionRepository) CreateBatch(qs []model.Question) error {
	if len(qs) == 0 {
		return nil
	}
	return r.DB.Create(&qs).Error
}

func (r *QuestionRepository) FindByID(id string) (*model.Question, error) {
	var q model.Question
	err := r.DB.First(&q, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (r *QuestionRepository) Exists(id string) (bool, error) {
	var count int64
	err := r.DB.Model(&model.Question{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

// FindForVote 条件读：题目存在且该用户没有投过票，一条SQL完成。
// 对题目行加排他锁，同一题的并发投票事务在此串行化，
// 否则 REPEATABLE READ 下两个同人同题事务都能通过 NOT EXISTS 检查。
// 返回 gorm.ErrRecordNotFound 时由调用方区分"不存在"和"已投过"。
func (r *QuestionRepository) FindForVote(tx *gorm.DB, questionID string, voterID uint) (*model.Question, error) {
	var q model.Question
	err := tx.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", questionID).
		Where("NOT EXISTS (SELECT 1 FROM vote_events WHERE vote_events.question_id = questions.id AND vote_events.voter_id = ? AND vote_events.deleted_at IS NULL)", voterID).
		First(&q).Error
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// FindVotedSince 用户在since之后投过票的题目，用于审核页"今日已投"集合
func (r *QuestionRepository) FindVotedSince(voterID uint, since time.Time) ([]model.Question, error) {
	var qs []model.Question
	err := r.DB.
		Joins("JOIN vote_events ON vote_events.question_id = questions.id").
		Where("vote_events.voter_id = ? AND vote_events.created_at >= ? AND vote_events.deleted_at IS NULL", voterID, since).
		Order("vote_events.created_at DESC").
		Find(&qs).Error
	return qs, err
}

// FindVotedByAction 用户投过指定动作的全部题目（个人决策视图）
func (r *QuestionRepository) FindVotedByAction(voterID uint, action model.VoteAction, limit, skip int) ([]model.Question, error) {
	var qs []model.Question
	err := r.DB.
		Joins("JOIN vote_events ON vote_events.question_id = questions.id").
		Where("vote_events.voter_id = ? AND vote_events.action = ? AND vote_events.deleted_at IS NULL", voterID, action).
		Order("vote_events.created_at DESC").
		Offset(skip).
		Limit(limit).
		Find(&qs).Error
	return qs, err
}

// FindUnvoted 该用户没投过票的待审题目，最新的在前
func (r *QuestionRepository) FindUnvoted(voterID uint, f VettingFilters, limit, skip int) ([]model.Question, error) {
	query := r.DB.
		Where("vetting_status = ?", model.StatusPending).
		Where("NOT EXISTS (SELECT 1 FROM vote_events WHERE vote_events.question_id = questions.id AND vote_events.voter_id = ? AND vote_events.deleted_at IS NULL)", voterID)

	if f.CourseCode != "" {
		query = query.Where("course_code = ?", f.CourseCode)
	}
	if f.Topic != "" {
		query = query.Where("topic = ?", f.Topic)
	}
	if f.DuplicatesOnly {
		query = query.Where("duplicate_warning = ?", true)
	}

	var qs []model.Question
	err := query.Order("created_at DESC").Offset(skip).Limit(limit).Find(&qs).Error
	return qs, err
}

// CountVotesSince 用户在since之后的投票数
func (r *QuestionRepository) CountVotesSince(voterID uint, since time.Time) (int64, error) {
	var count int64
	err := r.DB.Model(&model.VoteEvent{}).
		Where("voter_id = ? AND created_at >= ?", voterID, since).
		Count(&count).Error
	return count, err
}

// CountVotesByAction 用户的累计投票统计
func (r *QuestionRepository) CountVotesByAction(voterID uint) (accepts, rejects, total int64, err error) {
	type row struct {
		Action model.VoteAction
		N      int64
	}
	var rows []row
	err = r.DB.Model(&model.VoteEvent{}).
		Select("action, COUNT(*) AS n").
		Where("voter_id = ?", voterID).
		Group("action").
		Scan(&rows).Error
	if err != nil {
		return
	}
	for _, r := range rows {
		total += r.N
		switch r.Action {
		case model.ActionAccept:
			accepts = r.N
		case model.ActionReject:
			rejects = r.N
		}
	}
	return
}

// FindEmbedded 已有嵌入向量的题目，供查重比对
func (r *QuestionRepository) FindEmbedded(courseCode, excludeID string) ([]model.Question, error) {
	query := r.DB.
		Select("id", "question_text", "embedding").
		Where("embedding IS NOT NULL").
		Where("id <> ?", excludeID)
	if courseCode != "" {
		query = query.Where("course_code = ?", courseCode)
	}
	var qs []model.Question
	err := query.Find(&qs).Error
	return qs, err
}

// FindMissingEmbedding 没有嵌入向量的题目，后台回填用
func (r *QuestionRepository) FindMissingEmbedding(limit int) ([]model.Question, error) {
	var qs []model.Question
	err := r.DB.
		Where("embedding IS NULL").
		Order("created_at ASC").
		Limit(limit).
		Find(&qs).Error
	return qs, err
}

// FindMissingAnnotation 没有语义标注的题目，后台回填用
func (r *QuestionRepository) FindMissingAnnotation(limit int) ([]model.Question, error) {
	var qs []model.Question
	err := r.DB.
		Where("concepts IS NULL").
		Order("created_at ASC").
		Limit(limit).
		Find(&qs).Error
	return qs, err
}

func (r *QuestionRepository) UpdateColumns(id string, updates map[string]interface{}) error {
	return r.DB.Model(&model.Question{}).Where("id = ?", id).Updates(updates).Error
}

// List 通用分页列表
func (r *QuestionRepository) List(f VettingFilters, page, limit int) ([]model.Question, int64, error) {
	query := r.DB.Model(&model.Question{})
	if f.Status != "" {
		query = query.Where("vetting_status = ?", f.Status)
	}
	if f.CourseCode != "" {
		query = query.Where("course_code = ?", f.CourseCode)
	}
	if f.Topic != "" {
		query = query.Where("topic = ?", f.Topic)
	}
	if f.DuplicatesOnly {
		query = query.Where("duplicate_warning = ?", true)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var qs []model.Question
	offset := (page - 1) * limit
	err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&qs).Error
	return qs, total, err
}
