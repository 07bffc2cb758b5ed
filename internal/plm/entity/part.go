package entity

import (
	"time"
)

// PartFamily 零件族，每个族维护独立的编号计数器
type PartFamily struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	Code      string    `json:"code" gorm:"size:16;not null;uniqueIndex"`
	Name      string    `json:"name" gorm:"size:128;not null"`
	Counter   int       `json:"counter" gorm:"not null;default:0"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (PartFamily) TableName() string {
	return "part_families"
}

// PartBase 零件基础标识（与版本无关）
type PartBase struct {
	ID          string    `json:"id" gorm:"primaryKey;size:36"`
	BaseRef     string    `json:"base_ref" gorm:"size:32;not null;uniqueIndex"`
	FamilyID    string    `json:"family_id" gorm:"size:36;not null;index"`
	Designation string    `json:"designation" gorm:"size:256"`
	CreatedBy   string    `json:"created_by" gorm:"size:36;not null"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// 关联
	Family *PartFamily `json:"family,omitempty" gorm:"foreignKey:FamilyID"`
}

func (PartBase) TableName() string {
	return "part_bases"
}

// Part 零件的某一个版本，ref = baseRef.version
type Part struct {
	ID          string    `json:"id" gorm:"primaryKey;size:36"`
	BaseID      string    `json:"base_id" gorm:"size:36;not null;uniqueIndex:idx_parts_base_version"`
	Version     string    `json:"version" gorm:"size:16;not null;uniqueIndex:idx_parts_base_version"`
	Ref         string    `json:"ref" gorm:"size:64;not null;uniqueIndex"`
	Designation string    `json:"designation" gorm:"size:256"`
	CreatedBy   string    `json:"created_by" gorm:"size:36;not null"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// 关联
	Base *PartBase `json:"base,omitempty" gorm:"foreignKey:BaseID"`

	// 非数据库字段
	LatestRevision *PartRevision `json:"latest_revision,omitempty" gorm:"-"`
}

func (Part) TableName() string {
	return "parts"
}

// PartRevision 零件修订，编辑中(edition)或已发布(release)
type PartRevision struct {
	ID              string    `json:"id" gorm:"primaryKey;size:36"`
	PartID          string    `json:"part_id" gorm:"size:36;not null;uniqueIndex:idx_part_revisions_part_revision"`
	Revision        int       `json:"revision" gorm:"not null;uniqueIndex:idx_part_revisions_part_revision"`
	Designation     string    `json:"designation" gorm:"size:256"`
	CycleState      string    `json:"cycle_state" gorm:"size:16;not null;default:edition"`
	ChangeRequestID *string   `json:"change_request_id" gorm:"size:36;index"`
	CreatedBy       string    `json:"created_by" gorm:"size:36;not null"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	// 关联
	Part *Part `json:"part,omitempty" gorm:"foreignKey:PartID"`
}

func (PartRevision) TableName() string {
	return "part_revisions"
}

// 修订周期状态
const (
	PartCycleEdition = "edition"
	PartCycleRelease = "release"
)

// ValidPartCycle 是否为合法的周期状态
func ValidPartCycle(state string) bool {
	return state == PartCycleEdition || state == PartCycleRelease
}

// Sequence 命名序列（变更请求编号等）
type Sequence struct {
	Name  string `json:"name" gorm:"primaryKey;size:64"`
	Value int64  `json:"value" gorm:"not null;default:0"`
}

func (Sequence) TableName() string {
	return "sequences"
}
