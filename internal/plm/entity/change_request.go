package entity

import (
	"time"

	"gorm.io/datatypes"
)

// ChangeRequestCycle 变更请求生命周期
type ChangeRequestCycle string

const (
	ChangeCyclePreparation ChangeRequestCycle = "preparation"
	ChangeCycleEvaluation  ChangeRequestCycle = "evaluation"
	ChangeCycleEngineering ChangeRequestCycle = "engineering"
	ChangeCycleCancelled   ChangeRequestCycle = "cancelled"
)

// Terminal 是否为终止状态
func (c ChangeRequestCycle) Terminal() bool {
	return c == ChangeCycleEngineering || c == ChangeCycleCancelled
}

// ChangeRequest 变更请求：一批待提交的零件创建/派生/修订
type ChangeRequest struct {
	ID          string             `json:"id" gorm:"primaryKey;size:36"`
	Name        string             `json:"name" gorm:"size:32;not null;uniqueIndex"`
	Description string             `json:"description" gorm:"type:text"`
	Cycle       ChangeRequestCycle `json:"cycle" gorm:"size:16;not null;default:preparation;index"`
	CreatedBy   string             `json:"created_by" gorm:"size:36;not null;index"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`

	// 关联
	Creator       *User                `json:"creator,omitempty" gorm:"foreignKey:CreatedBy"`
	PartCreations []ChangePartCreation `json:"part_creations,omitempty" gorm:"foreignKey:RequestID"`
	PartForks     []ChangePartFork     `json:"part_forks,omitempty" gorm:"foreignKey:RequestID"`
	PartRevisions []ChangePartRevision `json:"part_revisions,omitempty" gorm:"foreignKey:RequestID"`

	// 非数据库字段
	State        ApprovalState      `json:"state,omitempty" gorm:"-"`
	Reviews      []ApprovalDecision `json:"reviews,omitempty" gorm:"-"`
	CreatedParts []PartRevision     `json:"created_parts,omitempty" gorm:"-"`
	RevisedParts []PartRevision     `json:"revised_parts,omitempty" gorm:"-"`
}

func (ChangeRequest) TableName() string {
	return "change_requests"
}

// ChangePartCreation 待创建零件
type ChangePartCreation struct {
	ID          string    `json:"id" gorm:"primaryKey;size:36"`
	RequestID   string    `json:"request_id" gorm:"size:36;not null;index"`
	Sequence    int       `json:"sequence" gorm:"not null;default:0"`
	FamilyID    string    `json:"family_id" gorm:"size:36;not null"`
	Version     string    `json:"version" gorm:"size:16;not null"`
	Designation string    `json:"designation" gorm:"size:256"`
	Comments    string    `json:"comments" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"`

	Family *PartFamily `json:"family,omitempty" gorm:"foreignKey:FamilyID"`
}

func (ChangePartCreation) TableName() string {
	return "change_part_creations"
}

// ChangePartFork 待派生零件（同一基础下的新版本）
type ChangePartFork struct {
	ID          string    `json:"id" gorm:"primaryKey;size:36"`
	RequestID   string    `json:"request_id" gorm:"size:36;not null;index"`
	Sequence    int       `json:"sequence" gorm:"not null;default:0"`
	PartID      string    `json:"part_id" gorm:"size:36;not null"`
	Version     string    `json:"version" gorm:"size:16;not null"`
	Designation string    `json:"designation" gorm:"size:256"`
	Comments    string    `json:"comments" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"`

	Part *Part `json:"part,omitempty" gorm:"foreignKey:PartID"`
}

func (ChangePartFork) TableName() string {
	return "change_part_forks"
}

// ChangePartRevision 待修订零件
type ChangePartRevision struct {
	ID          string    `json:"id" gorm:"primaryKey;size:36"`
	RequestID   string    `json:"request_id" gorm:"size:36;not null;index"`
	Sequence    int       `json:"sequence" gorm:"not null;default:0"`
	PartID      string    `json:"part_id" gorm:"size:36;not null"`
	Designation string    `json:"designation" gorm:"size:256"`
	Comments    string    `json:"comments" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"`

	Part *Part `json:"part,omitempty" gorm:"foreignKey:PartID"`
}

func (ChangePartRevision) TableName() string {
	return "change_part_revisions"
}

// ChangeRequestHistory 变更请求操作历史
type ChangeRequestHistory struct {
	ID        string            `json:"id" gorm:"primaryKey;size:36"`
	RequestID string            `json:"request_id" gorm:"size:36;not null;index"`
	Action    string            `json:"action" gorm:"size:32;not null"`
	UserID    string            `json:"user_id" gorm:"size:36;not null"`
	Detail    datatypes.JSONMap `json:"detail"`
	CreatedAt time.Time         `json:"created_at"`

	User *User `json:"user,omitempty" gorm:"foreignKey:UserID"`
}

func (ChangeRequestHistory) TableName() string {
	return "change_request_histories"
}

// 变更请求历史动作
const (
	ChangeHistoryCreated   = "created"
	ChangeHistoryUpdated   = "updated"
	ChangeHistorySubmitted = "submitted"
	ChangeHistoryReviewed  = "reviewed"
	ChangeHistoryWithdrawn = "withdrawn"
	ChangeHistoryApproved  = "approved"
	ChangeHistoryCancelled = "cancelled"
)
