package service

import (
	"context"
	"testing"

	"qbank_backend/internal/model"
	"qbank_backend/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder 返回固定向量，nil表示嵌入未配置
type fakeEmbedder struct {
	vec []float64
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	return f.vec, nil
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float64{1, 0}, []float64{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float64{1, 0}, []float64{-1, 0}), 1e-9)

	// 退化输入一律返回0
	assert.InDelta(t, 0.0, CosineSimilarity(nil, []float64{1}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float64{1, 2}, []float64{1}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float64{0, 0}, []float64{1, 1}), 1e-9)
}

func TestFindSimilarChunks(t *testing.T) {
	db := newTestDB(t)
	chunkRepo := repository.NewMaterialChunkRepository(db)

	seed := []model.MaterialChunk{
		{CourseCode: "PYTHON", Text: "lists are mutable", Embedding: model.Vector{1, 0}, EmbeddingModel: "test"},
		{CourseCode: "PYTHON", Text: "tuples are immutable", Embedding: model.Vector{0.9, 0.1}, EmbeddingModel: "test"},
		{CourseCode: "PYTHON", Text: "dicts map keys", Embedding: model.Vector{0, 1}, EmbeddingModel: "test"},
		{CourseCode: "OTHER", Text: "different course", Embedding: model.Vector{1, 0}, EmbeddingModel: "test"},
		{CourseCode: "PYTHON", Text: "no embedding yet"},
	}
	require.NoError(t, db.Create(&seed).Error)

	svc := NewContextService(chunkRepo, &fakeEmbedder{vec: []float64{1, 0}})

	chunks, err := svc.FindSimilarChunks(context.Background(), "mutability", "PYTHON", 2)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "lists are mutable", chunks[0].Text)
	assert.Equal(t, "tuples are immutable", chunks[1].Text)
}

func TestFindSimilarChunksWithoutEmbedding(t *testing.T) {
	db := newTestDB(t)
	svc := NewContextService(repository.NewMaterialChunkRepository(db), &fakeEmbedder{vec: nil})

	chunks, err := svc.FindSimilarChunks(context.Background(), "anything", "PYTHON", 3)
	require.NoError(t, err)
	assert.Nil(t, chunks)
}
