package entity

import (
	"time"
)

// ApprovalSubject 审批对象类型
type ApprovalSubject string

const (
	ApprovalSubjectChangeRequest  ApprovalSubject = "change_request"
	ApprovalSubjectPartValidation ApprovalSubject = "part_validation"
)

// ApprovalState 审批汇总状态
type ApprovalState string

const (
	ApprovalStatePending  ApprovalState = "pending"
	ApprovalStateApproved ApprovalState = "approved"
	ApprovalStateRejected ApprovalState = "rejected"
)

// ApprovalDecisionValue 单个审核人的决定
type ApprovalDecisionValue string

const (
	DecisionPending  ApprovalDecisionValue = "pending"
	DecisionApproved ApprovalDecisionValue = "approved"
	DecisionRejected ApprovalDecisionValue = "rejected"
	DecisionReserved ApprovalDecisionValue = "reserved"
)

// Valid 是否为合法决定
func (d ApprovalDecisionValue) Valid() bool {
	switch d {
	case DecisionPending, DecisionApproved, DecisionRejected, DecisionReserved:
		return true
	}
	return false
}

// ApprovalSet 审批集合，按 (subject_type, subject_id) 挂在变更请求或零件验证上
type ApprovalSet struct {
	ID          string          `json:"id" gorm:"primaryKey;size:36"`
	SubjectType ApprovalSubject `json:"subject_type" gorm:"size:32;not null;uniqueIndex:idx_approval_sets_subject"`
	SubjectID   string          `json:"subject_id" gorm:"size:36;not null;uniqueIndex:idx_approval_sets_subject"`
	State       ApprovalState   `json:"state" gorm:"size:16;not null;default:pending"`
	Round       int             `json:"round" gorm:"not null;default:0"`
	Open        bool            `json:"open" gorm:"not null;default:false"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`

	// 关联
	Decisions []ApprovalDecision `json:"decisions,omitempty" gorm:"foreignKey:ApprovalSetID"`
}

func (ApprovalSet) TableName() string {
	return "approval_sets"
}

// ApprovalDecision 审核人决定
type ApprovalDecision struct {
	ID            string                `json:"id" gorm:"primaryKey;size:36"`
	ApprovalSetID string                `json:"approval_set_id" gorm:"size:36;not null;uniqueIndex:idx_approval_decisions_assignee"`
	AssigneeID    string                `json:"assignee_id" gorm:"size:36;not null;uniqueIndex:idx_approval_decisions_assignee"`
	Sequence      int                   `json:"sequence" gorm:"not null;default:0"`
	Decision      ApprovalDecisionValue `json:"decision" gorm:"size:16;not null;default:pending"`
	Comments      string                `json:"comments" gorm:"type:text"`
	Round         int                   `json:"round" gorm:"not null;default:0"`
	DecidedAt     *time.Time            `json:"decided_at"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`

	// 关联
	Assignee *User `json:"assignee,omitempty" gorm:"foreignKey:AssigneeID"`
}

func (ApprovalDecision) TableName() string {
	return "approval_decisions"
}

// ApprovalDecisionHistory 归档的历史轮次决定
type ApprovalDecisionHistory struct {
	ID            string                `json:"id" gorm:"primaryKey;size:36"`
	ApprovalSetID string                `json:"approval_set_id" gorm:"size:36;not null;index"`
	AssigneeID    string                `json:"assignee_id" gorm:"size:36;not null"`
	Decision      ApprovalDecisionValue `json:"decision" gorm:"size:16;not null"`
	Comments      string                `json:"comments" gorm:"type:text"`
	Round         int                   `json:"round" gorm:"not null"`
	DecidedAt     *time.Time            `json:"decided_at"`
	ArchivedAt    time.Time             `json:"archived_at"`
}

func (ApprovalDecisionHistory) TableName() string {
	return "approval_decision_histories"
}
