package repository

import (
	"qbank_backend/internal/model"

	"gorm.io/gorm"
)

type UploadBatchRepository struct {
	DB *gorm.DB
}

func NewUploadBatchRepository(db *gorm.DB) *UploadBatchRepository {
	return &UploadBatchRepository{DB: db}
}

func (r *UploadBatchRepository) Create(batch *model.UploadBatch) error {
	return r.DB.Create(batch).Error
}

func (r *UploadBatchRepository) Update(batch *model.UploadBatch) error {
	return r.DB.Save(batch).Error
}

func (r *UploadBatchRepository) FindByID(id string) (*model.UploadBatch, error) {
	var batch model.UploadBatch
	err := r.DB.First(&batch, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &batch, nil
}
