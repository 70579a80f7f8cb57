package model

type QuestionType string

const (
	MultipleChoice QuestionType = "multiple_choice"
	Essay          QuestionType = "essay"
	ShortAnswer    QuestionType = "short_answer"
)

type QuestionSource string

const (
	SourceCSV QuestionSource = "csv"
	SourceAI  QuestionSource = "ai"
)

type VettingStatus string

const (
	StatusPending  VettingStatus = "pending"
	StatusApproved VettingStatus = "approved"
	StatusRejected VettingStatus = "rejected"
)

// 权重边界与状态阈值，审核状态机的核心常数
const (
	WeightFloor      = 0.2
	WeightCeiling    = 2.0
	InitialWeight    = 1.0
	ApproveWeightMin = 1.2
	RejectWeightMax  = 0.6
	ApproveAcceptMin = 2
)

// Question 题库的中心实体。
// 审核状态（weight/counters/status）只由 VettingService 修改；
// 语义标注和嵌入向量由后台 EnrichmentService 异步回填。
// swagger:model Question
type Question struct {
	UUIDBase
	QuestionType QuestionType `gorm:"size:30;not null" json:"question_type"`
	QuestionText string       `gorm:"type:text;not null" json:"question_text"`

	// 选择题载荷
	Options       OptionMap `gorm:"type:json" json:"options,omitempty"`
	CorrectAnswer string    `gorm:"size:10" json:"correct_answer,omitempty"`
	// 简答/论述题载荷
	ExpectedPoints int        `gorm:"default:0" json:"expected_points,omitempty"`
	WordLimit      int        `gorm:"default:0" json:"word_limit,omitempty"`
	KeyPoints      StringList `gorm:"type:json" json:"key_points,omitempty"`

	// 分类维度
	COMap      COMap      `gorm:"type:json" json:"co_map"`
	LOList     StringList `gorm:"type:json" json:"lo_list"`
	Difficulty string     `gorm:"size:10;index" json:"difficulty"`
	Marks      float64    `gorm:"default:1" json:"marks"`

	// 来源信息。CourseCode/Topic 允许为空：未挂课程的题目合法，不做目录校验
	Source        QuestionSource `gorm:"size:10;index" json:"source"`
	CourseCode    string         `gorm:"size:30;index" json:"course_code,omitempty"`
	Topic         string         `gorm:"size:100" json:"topic,omitempty"`
	UploaderID    uint           `gorm:"index" json:"uploader_id"`
	UploadBatchID string         `gorm:"size:36;index" json:"upload_batch_id,omitempty"`

	// 查重信号
	DuplicateWarning  bool     `gorm:"default:false;index" json:"duplicate_warning"`
	SimilarQuestionID *string  `gorm:"size:36" json:"similar_question_id,omitempty"`
	SimilarityScore   *float64 `json:"similarity_score,omitempty"`

	// 审核状态
	Weight        float64       `gorm:"default:1" json:"weight"`
	AcceptCount   int           `gorm:"default:0" json:"accept_count"`
	RejectCount   int           `gorm:"default:0" json:"reject_count"`
	SkipCount     int           `gorm:"default:0" json:"skip_count"`
	VettingStatus VettingStatus `gorm:"size:10;index;default:'pending'" json:"vetting_status"`

	// 语义标注（异步回填，核心逻辑不依赖）
	Concepts         StringList `gorm:"type:json" json:"concepts,omitempty"`
	AbstractionLevel *int       `json:"abstraction_level,omitempty"`
	ReasoningSteps   *int       `json:"reasoning_steps,omitempty"`

	// 嵌入向量（异步回填，仅用于查重与相似检索）
	Embedding      Vector `gorm:"type:json" json:"-"`
	EmbeddingModel string `gorm:"size:60" json:"-"`

	Votes []VoteEvent `gorm:"foreignKey:QuestionID" json:"votes,omitempty"`
}

func (Question) TableName() string {
	return "questions"
}
