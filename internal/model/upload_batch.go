package model

// UploadBatch 一次CSV上传或一次出卷调用产生的题目共享同一个批次ID
// swagger:model UploadBatch
type UploadBatch struct {
	UUIDBase
	Source     QuestionSource `gorm:"size:10;not null" json:"source"`
	CourseCode string         `gorm:"size:30;index" json:"course_code,omitempty"`
	Topic      string         `gorm:"size:100" json:"topic,omitempty"`
	UploaderID uint           `gorm:"index" json:"uploader_id"`
	FileName   string         `gorm:"size:255" json:"file_name,omitempty"`
	FileURL    string         `gorm:"size:500" json:"file_url,omitempty"`
	Total      int            `gorm:"default:0" json:"total"`
	Inserted   int            `gorm:"default:0" json:"inserted"`
	Failed     int            `gorm:"default:0" json:"failed"`
}

func (UploadBatch) TableName() string {
	return "upload_batches"
}
