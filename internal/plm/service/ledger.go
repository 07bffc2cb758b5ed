package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-change/internal/pkg/dbctx"
	"github.com/bitfantasy/nimo-change/internal/plm/entity"
	"github.com/bitfantasy/nimo-change/internal/plm/repository"
	"github.com/google/uuid"
)

// Ledger 零件台账：创建、派生、修订与周期状态
// 所有方法都在调用方的事务内执行
type Ledger struct {
	parts     *repository.PartRepository
	allocator *ReferenceAllocator
}

// NewLedger 创建零件台账
func NewLedger(parts *repository.PartRepository, allocator *ReferenceAllocator) *Ledger {
	return &Ledger{parts: parts, allocator: allocator}
}

// CreateNew 分配新的基础编号，创建 PartBase、Part 与编辑中的修订 1
func (l *Ledger) CreateNew(dbc dbctx.Context, userID, familyID, version, designation string, changeRequestID *string) (*entity.PartRevision, error) {
	if !ValidVersion(version) {
		return nil, invalidError("invalid version %q", version)
	}

	baseRef, family, err := l.allocator.Allocate(dbc, familyID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	base := &entity.PartBase{
		ID:          uuid.New().String(),
		BaseRef:     baseRef,
		FamilyID:    family.ID,
		Designation: designation,
		CreatedBy:   userID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := l.parts.CreateBase(dbc, base); err != nil {
		return nil, fmt.Errorf("create part base: %w", err)
	}
	base.Family = family

	return l.createVersion(dbc, userID, base, version, designation, changeRequestID)
}

// Fork 在同一基础标识下创建新版本，version 为空时取默认下一个版本
func (l *Ledger) Fork(dbc dbctx.Context, userID, partID, version, designation string, changeRequestID *string) (*entity.PartRevision, error) {
	part, err := l.parts.FindPart(dbc, partID)
	if err != nil {
		return nil, lookupError(err, "part", partID)
	}

	if version == "" {
		version, err = l.DefaultForkVersion(dbc, part.BaseID, nil)
		if err != nil {
			return nil, err
		}
	}
	if !ValidVersion(version) {
		return nil, invalidError("invalid version %q", version)
	}
	if err := l.ensureVersionFree(dbc, part.Base, version); err != nil {
		return nil, err
	}
	if designation == "" {
		designation = part.Designation
	}

	return l.createVersion(dbc, userID, part.Base, version, designation, changeRequestID)
}

// Revise 最新修订已发布时创建下一个编辑中的修订
func (l *Ledger) Revise(dbc dbctx.Context, userID, partID, designation string, changeRequestID *string) (*entity.PartRevision, error) {
	part, err := l.parts.FindPartForUpdate(dbc, partID)
	if err != nil {
		return nil, lookupError(err, "part", partID)
	}
	latest, err := l.ensureRevisable(dbc, part)
	if err != nil {
		return nil, err
	}
	if designation == "" {
		designation = latest.Designation
	}

	now := time.Now()
	rev := &entity.PartRevision{
		ID:              uuid.New().String(),
		PartID:          part.ID,
		Revision:        latest.Revision + 1,
		Designation:     designation,
		CycleState:      entity.PartCycleEdition,
		ChangeRequestID: changeRequestID,
		CreatedBy:       userID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := l.parts.CreateRevision(dbc, rev); err != nil {
		return nil, fmt.Errorf("create part revision: %w", err)
	}
	rev.Part = part
	return rev, nil
}

// UpdateCycle 在编辑与发布之间切换修订状态
func (l *Ledger) UpdateCycle(dbc dbctx.Context, revisionID, cycle string) (*entity.PartRevision, error) {
	if !entity.ValidPartCycle(cycle) {
		return nil, invalidError("invalid cycle state %q", cycle)
	}
	rev, err := l.parts.FindRevision(dbc, revisionID)
	if err != nil {
		return nil, lookupError(err, "part revision", revisionID)
	}

	// 与 Revise 在零件行上串行，加锁后重新读取修订
	part, err := l.parts.FindPartForUpdate(dbc, rev.PartID)
	if err != nil {
		return nil, lookupError(err, "part", rev.PartID)
	}
	if rev, err = l.parts.FindRevision(dbc, revisionID); err != nil {
		return nil, lookupError(err, "part revision", revisionID)
	}
	rev.Part = part
	if rev.CycleState == cycle {
		return rev, nil
	}

	if cycle == entity.PartCycleEdition {
		revs, err := l.parts.ListRevisions(dbc, rev.PartID)
		if err != nil {
			return nil, fmt.Errorf("list part revisions: %w", err)
		}
		for _, other := range revs {
			if other.ID != rev.ID && other.CycleState == entity.PartCycleEdition {
				return nil, preconditionError("part %s already has revision %d in edition", part.Ref, other.Revision)
			}
			if other.Revision > rev.Revision {
				return nil, preconditionError("part %s revision %d cannot return to edition: revision %d is newer",
					part.Ref, rev.Revision, other.Revision)
			}
		}
	}

	if err := l.parts.UpdateRevisionCycle(dbc, rev.ID, cycle); err != nil {
		return nil, fmt.Errorf("update revision cycle: %w", err)
	}
	rev.CycleState = cycle
	return rev, nil
}

// DefaultForkVersion 基础标识最新版本的下一个版本，reserved 中的版本视为已占用
func (l *Ledger) DefaultForkVersion(dbc dbctx.Context, baseID string, reserved []string) (string, error) {
	parts, err := l.parts.ListBaseVersions(dbc, baseID)
	if err != nil {
		return "", fmt.Errorf("list base versions: %w", err)
	}
	if len(parts) == 0 {
		return "", notFoundError("part base", baseID)
	}
	taken := make(map[string]bool, len(parts)+len(reserved))
	for _, p := range parts {
		taken[p.Version] = true
	}
	for _, v := range reserved {
		taken[v] = true
	}
	return DefaultForkVersion(parts[len(parts)-1].Version, taken), nil
}

// ensureVersionFree 版本在基础标识上未被占用，否则返回指明冲突零件的 Conflict
func (l *Ledger) ensureVersionFree(dbc dbctx.Context, base *entity.PartBase, version string) error {
	existing, err := l.parts.FindPartByVersion(dbc, base.ID, version)
	if err == nil {
		return conflictError("version %s already exists on %s: %s", version, base.BaseRef, existing.Ref)
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("find part version: %w", err)
	}
	return nil
}

// ensureRevisable 最新修订必须已发布
func (l *Ledger) ensureRevisable(dbc dbctx.Context, part *entity.Part) (*entity.PartRevision, error) {
	latest, err := l.parts.LatestRevision(dbc, part.ID)
	if err != nil {
		return nil, lookupError(err, "part revision of", part.Ref)
	}
	if latest.CycleState == entity.PartCycleEdition {
		return nil, preconditionError("part %s revision %d is still in edition", part.Ref, latest.Revision)
	}
	return latest, nil
}

func (l *Ledger) createVersion(dbc dbctx.Context, userID string, base *entity.PartBase, version, designation string, changeRequestID *string) (*entity.PartRevision, error) {
	now := time.Now()
	part := &entity.Part{
		ID:          uuid.New().String(),
		BaseID:      base.ID,
		Version:     version,
		Ref:         PartRef(base.BaseRef, version),
		Designation: designation,
		CreatedBy:   userID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := l.parts.CreatePart(dbc, part); err != nil {
		return nil, fmt.Errorf("create part: %w", err)
	}
	part.Base = base

	rev := &entity.PartRevision{
		ID:              uuid.New().String(),
		PartID:          part.ID,
		Revision:        1,
		Designation:     designation,
		CycleState:      entity.PartCycleEdition,
		ChangeRequestID: changeRequestID,
		CreatedBy:       userID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := l.parts.CreateRevision(dbc, rev); err != nil {
		return nil, fmt.Errorf("create part revision: %w", err)
	}
	rev.Part = part
	return rev, nil
}
