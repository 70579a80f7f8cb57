package model

type VoteAction string

const (
	ActionAccept VoteAction = "accept"
	ActionReject VoteAction = "reject"
	ActionSkip   VoteAction = "skip"
)

func (a VoteAction) Valid() bool {
	switch a {
	case ActionAccept, ActionReject, ActionSkip:
		return true
	}
	return false
}

// VoteEvent 审核投票日志，只追加不修改。
// 单人单题只投一次的约束在投票时校验，不依赖唯一索引。
// swagger:model VoteEvent
type VoteEvent struct {
	BaseModel
	QuestionID string     `gorm:"size:36;index;not null" json:"question_id"`
	VoterID    uint       `gorm:"index;not null" json:"voter_id"`
	Action     VoteAction `gorm:"size:10;not null" json:"action"`
	Reason     string     `gorm:"size:500" json:"reason,omitempty"`
}

func (VoteEvent) TableName() string {
	return "vote_events"
}
