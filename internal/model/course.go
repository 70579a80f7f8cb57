package model

// Course 课程目录，题目可以挂到某门课程下（也可以不挂）
// swagger:model Course
type Course struct {
	BaseModel
	Code      string `gorm:"size:30;unique;not null" json:"code"`
	Name      string `gorm:"size:200;not null" json:"name"`
	CreatedBy uint   `gorm:"index" json:"created_by"`

	Topics []CourseTopic `gorm:"foreignKey:CourseCode;references:Code" json:"topics,omitempty"`
}

func (Course) TableName() string {
	return "courses"
}

// CourseTopic 课程下的主题，出卷时按主题轮转分配生成槽位
// swagger:model CourseTopic
type CourseTopic struct {
	BaseModel
	CourseCode string `gorm:"size:30;index;not null" json:"course_code"`
	Name       string `gorm:"size:100;not null" json:"name"`
	Position   int    `gorm:"default:0" json:"position"`
}

func (CourseTopic) TableName() string {
	return "course_topics"
}
