package repository

import (
	"qbank_backend/internal/model"

	"gorm.io/gorm"
)

type MaterialChunkRepository struct {
	DB *gorm.DB
}

func NewMaterialChunkRepository(db *gorm.DB) *MaterialChunkRepository {
	return &MaterialChunkRepository{DB: db}
}

func (r *MaterialChunkRepository) CreateBatch(chunks []model.MaterialChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return r.DB.Create(&chunks).Error
}

// FindEmbeddedByCourse 该课程下已有嵌入向量的资料切片
func (r *MaterialChunkRepository) FindEmbeddedByCourse(courseCode string) ([]model.MaterialChunk, error) {
	var chunks []model.MaterialChunk
	err := r.DB.
		Where("course_code = ? AND embedding IS NOT NULL", courseCode).
		Find(&chunks).Error
	return chunks, err
}

// FindMissingEmbedding 没有嵌入向量的切片，后台回填用
func (r *MaterialChunkRepository) FindMissingEmbedding(limit int) ([]model.MaterialChunk, error) {
	var chunks []model.MaterialChunk
	err := r.DB.
		Where("embedding IS NULL").
		Order("created_at ASC").
		Limit(limit).
		Find(&chunks).Error
	return chunks, err
}

func (r *MaterialChunkRepository) UpdateEmbedding(id uint, vec model.Vector, modelTag string) error {
	return r.DB.Model(&model.MaterialChunk{}).Where("id = ?", id).Updates(map[string]interface{}{
		"embedding":       vec,
		"embedding_model": modelTag,
	}).Error
}
