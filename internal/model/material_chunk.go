package model

// MaterialChunk 课程资料切片，出题时作为RAG上下文来源。
// 嵌入向量为空的切片不参与相似检索。
// swagger:model MaterialChunk
type MaterialChunk struct {
	BaseModel
	CourseCode   string `gorm:"size:30;index;not null" json:"course_code"`
	MaterialName string `gorm:"size:200" json:"material_name"`
	PageRef      string `gorm:"size:50" json:"page_ref"`
	Text         string `gorm:"type:text;not null" json:"text"`

	Embedding      Vector `gorm:"type:json" json:"-"`
	EmbeddingModel string `gorm:"size:60" json:"-"`
}

func (MaterialChunk) TableName() string {
	return "material_chunks"
}
