package service

import (
	"context"

	"qbank_backend/internal/model"
	"qbank_backend/internal/repository"
	"qbank_backend/pkg/logger"

	"go.uber.org/zap"
)

// DuplicateService 对新入库的题目做相似度查重：
// 找出最相似的已嵌入题目，超过阈值就打上重复警告并记录指向。
// 嵌入不可用时静默跳过，查重只是一个信号，不阻塞入库。
type DuplicateService struct {
	questionRepo *repository.QuestionRepository
	ai           embeddingClient
	threshold    float64
}

func NewDuplicateService(questionRepo *repository.QuestionRepository, ai embeddingClient, threshold float64) *DuplicateService {
	return &DuplicateService{
		questionRepo: questionRepo,
		ai:           ai,
		threshold:    threshold,
	}
}

// Check 为题目回填嵌入向量并做查重标记。
// 返回error仅代表数据库写入失败，AI失败一律降级为跳过。
func (s *DuplicateService) Check(ctx context.Context, q *model.Question, modelTag string) error {
	vec := []float64(q.Embedding)
	if vec == nil {
		embedded, err := s.ai.Embed(ctx, q.QuestionText)
		if err != nil {
			logger.Log.Warn("embedding failed, skipping duplicate check",
				zap.String("question_id", q.ID), zap.Error(err))
			return nil
		}
		if embedded == nil {
			return nil
		}
		vec = embedded
		if err := s.questionRepo.UpdateColumns(q.ID, map[string]interface{}{
			"embedding":       model.Vector(vec),
			"embedding_model": modelTag,
		}); err != nil {
			return err
		}
	}

	bestID, bestScore, err := s.mostSimilar(q, vec)
	if err != nil {
		return err
	}
	if bestID == "" || bestScore < s.threshold {
		return nil
	}

	logger.Log.Info("duplicate warning flagged",
		zap.String("question_id", q.ID),
		zap.String("similar_to", bestID),
		zap.Float64("score", bestScore))

	return s.questionRepo.UpdateColumns(q.ID, map[string]interface{}{
		"duplicate_warning":   true,
		"similar_question_id": bestID,
		"similarity_score":    bestScore,
	})
}

func (s *DuplicateService) mostSimilar(q *model.Question, vec []float64) (string, float64, error) {
	candidates, err := s.questionRepo.FindEmbedded(q.CourseCode, q.ID)
	if err != nil {
		return "", 0, err
	}

	bestID := ""
	bestScore := 0.0
	for _, c := range candidates {
		score := CosineSimilarity(vec, c.Embedding)
		if score > bestScore {
			bestScore = score
			bestID = c.ID
		}
	}
	return bestID, bestScore, nil
}
