package entity

import (
	"time"
)

// PartValidationState 零件验证状态
type PartValidationState string

const (
	ValidationStateOpen   PartValidationState = "open"
	ValidationStateClosed PartValidationState = "closed"
)

// PartValidationResult 零件验证结论
type PartValidationResult string

const (
	ValidationResultRelease  PartValidationResult = "release"
	ValidationResultTryAgain PartValidationResult = "try_again"
)

// PartValidation 针对单个零件修订的独立审批轮次
type PartValidation struct {
	ID             string                `json:"id" gorm:"primaryKey;size:36"`
	PartRevisionID string                `json:"part_revision_id" gorm:"size:36;not null;index"`
	State          PartValidationState   `json:"state" gorm:"size:16;not null;default:open"`
	Result         *PartValidationResult `json:"result" gorm:"size:16"`
	Comments       string                `json:"comments" gorm:"type:text"`
	CreatedBy      string                `json:"created_by" gorm:"size:36;not null"`
	ClosedAt       *time.Time            `json:"closed_at"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`

	// 关联
	PartRevision *PartRevision `json:"part_revision,omitempty" gorm:"foreignKey:PartRevisionID"`

	// 非数据库字段
	ApprovalState ApprovalState      `json:"approval_state,omitempty" gorm:"-"`
	Reviews       []ApprovalDecision `json:"reviews,omitempty" gorm:"-"`
}

func (PartValidation) TableName() string {
	return "part_validations"
}
