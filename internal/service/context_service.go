package service

import (
	"context"
	"math"
	"sort"

	"qbank_backend/internal/model"
	"qbank_backend/internal/repository"
	"qbank_backend/pkg/logger"

	"go.uber.org/zap"
)

// embeddingClient 出题/查重需要的嵌入能力，便于测试注入假实现
type embeddingClient interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// ContextService 根据课程和主题检索相关资料切片，出题时作为RAG上下文。
// 嵌入不可用时返回空结果，调用方按"无上下文"继续。
type ContextService struct {
	chunkRepo *repository.MaterialChunkRepository
	ai        embeddingClient
}

func NewContextService(chunkRepo *repository.MaterialChunkRepository, ai embeddingClient) *ContextService {
	return &ContextService{chunkRepo: chunkRepo, ai: ai}
}

// FindSimilarChunks 按余弦相似度降序返回该课程下最相关的资料切片
func (s *ContextService) FindSimilarChunks(ctx context.Context, query, courseCode string, limit int) ([]model.MaterialChunk, error) {
	queryVec, err := s.ai.Embed(ctx, query)
	if err != nil {
		logger.Log.Warn("query embedding failed, skipping context retrieval",
			zap.String("course", courseCode), zap.Error(err))
		return nil, nil
	}
	if queryVec == nil {
		return nil, nil
	}

	chunks, err := s.chunkRepo.FindEmbeddedByCourse(courseCode)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	type scored struct {
		chunk model.MaterialChunk
		score float64
	}
	ranked := make([]scored, 0, len(chunks))
	for _, c := range chunks {
		ranked = append(ranked, scored{chunk: c, score: CosineSimilarity(queryVec, c.Embedding)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	if limit > 0 && limit < len(ranked) {
		ranked = ranked[:limit]
	}

	result := make([]model.MaterialChunk, 0, len(ranked))
	for _, r := range ranked {
		result = append(result, r.chunk)
	}
	return result, nil
}

// CosineSimilarity 余弦相似度，长度不一致或零向量时返回0
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
