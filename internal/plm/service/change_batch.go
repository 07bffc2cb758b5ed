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

// applyBatch 对待提交批次应用增删，并按结果批次整体校验
// 校验失败时返回错误，由外层事务回滚全部写入
func (s *ChangeService) applyBatch(dbc dbctx.Context, cr *entity.ChangeRequest, set *entity.ApprovalSet, in UpdateChangeRequestInput) (map[string]interface{}, error) {
	detail := map[string]interface{}{}
	seq := maxSequence(cr)

	// 删除：不存在的ID忽略
	remCreations := toSet(in.PartCreationsRem)
	keptCreations := make([]entity.ChangePartCreation, 0, len(cr.PartCreations))
	var removedCreations []string
	for _, c := range cr.PartCreations {
		if remCreations[c.ID] {
			removedCreations = append(removedCreations, c.ID)
			continue
		}
		keptCreations = append(keptCreations, c)
	}

	remForks := toSet(in.PartForksRem)
	keptForks := make([]entity.ChangePartFork, 0, len(cr.PartForks))
	var removedForks []string
	for _, f := range cr.PartForks {
		if remForks[f.ID] {
			removedForks = append(removedForks, f.ID)
			continue
		}
		keptForks = append(keptForks, f)
	}

	remRevisions := toSet(in.PartRevisionsRem)
	keptRevisions := make([]entity.ChangePartRevision, 0, len(cr.PartRevisions))
	var removedRevisions []string
	for _, r := range cr.PartRevisions {
		if remRevisions[r.ID] {
			removedRevisions = append(removedRevisions, r.ID)
			continue
		}
		keptRevisions = append(keptRevisions, r)
	}

	// 新增：逐条校验
	now := time.Now()
	newCreations := make([]entity.ChangePartCreation, 0, len(in.PartCreationsAdd))
	for _, c := range in.PartCreationsAdd {
		family, err := s.families.FindByID(dbc, c.FamilyID)
		if err != nil {
			return nil, lookupError(err, "family", c.FamilyID)
		}
		if !ValidVersion(c.Version) {
			return nil, invalidError("invalid version %q for new part in family %s", c.Version, family.Code)
		}
		seq++
		newCreations = append(newCreations, entity.ChangePartCreation{
			ID:          uuid.New().String(),
			RequestID:   cr.ID,
			Sequence:    seq,
			FamilyID:    family.ID,
			Version:     c.Version,
			Designation: c.Designation,
			Comments:    c.Comments,
			CreatedAt:   now,
			Family:      family,
		})
	}

	newForks := make([]entity.ChangePartFork, 0, len(in.PartForksAdd))
	for _, f := range in.PartForksAdd {
		part, err := s.parts.FindPart(dbc, f.PartID)
		if err != nil {
			return nil, lookupError(err, "part", f.PartID)
		}
		version := f.Version
		if version == "" {
			version, err = s.ledger.DefaultForkVersion(dbc, part.BaseID, pendingVersions(part.BaseID, keptForks, newForks))
			if err != nil {
				return nil, err
			}
		}
		if !ValidVersion(version) {
			return nil, invalidError("invalid version %q for fork of %s", version, part.Ref)
		}
		if err := s.ledger.ensureVersionFree(dbc, part.Base, version); err != nil {
			return nil, err
		}
		seq++
		newForks = append(newForks, entity.ChangePartFork{
			ID:          uuid.New().String(),
			RequestID:   cr.ID,
			Sequence:    seq,
			PartID:      part.ID,
			Version:     version,
			Designation: f.Designation,
			Comments:    f.Comments,
			CreatedAt:   now,
			Part:        part,
		})
	}

	newRevisions := make([]entity.ChangePartRevision, 0, len(in.PartRevisionsAdd))
	for _, r := range in.PartRevisionsAdd {
		part, err := s.parts.FindPart(dbc, r.PartID)
		if err != nil {
			return nil, lookupError(err, "part", r.PartID)
		}
		if _, err := s.ledger.ensureRevisable(dbc, part); err != nil {
			return nil, err
		}
		seq++
		newRevisions = append(newRevisions, entity.ChangePartRevision{
			ID:          uuid.New().String(),
			RequestID:   cr.ID,
			Sequence:    seq,
			PartID:      part.ID,
			Designation: r.Designation,
			Comments:    r.Comments,
			CreatedAt:   now,
			Part:        part,
		})
	}

	// 结果批次校验
	if err := checkForkTargets(append(append([]entity.ChangePartFork(nil), keptForks...), newForks...)); err != nil {
		return nil, err
	}
	if err := checkRevisionTargets(append(append([]entity.ChangePartRevision(nil), keptRevisions...), newRevisions...)); err != nil {
		return nil, err
	}

	// 审核人
	var addReviewers []string
	for _, uid := range in.ReviewerIDsAdd {
		if _, err := s.users.FindByID(dbc, uid); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, invalidError("unknown reviewer %s", uid)
			}
			return nil, fmt.Errorf("find reviewer: %w", err)
		}
		addReviewers = append(addReviewers, uid)
	}

	// 写入
	for _, id := range removedCreations {
		if err := s.repo.RemoveCreation(dbc, cr.ID, id); err != nil {
			return nil, fmt.Errorf("remove part creation: %w", err)
		}
	}
	for _, id := range removedForks {
		if err := s.repo.RemoveFork(dbc, cr.ID, id); err != nil {
			return nil, fmt.Errorf("remove part fork: %w", err)
		}
	}
	for _, id := range removedRevisions {
		if err := s.repo.RemoveRevision(dbc, cr.ID, id); err != nil {
			return nil, fmt.Errorf("remove part revision: %w", err)
		}
	}
	for i := range newCreations {
		if err := s.repo.AddCreation(dbc, &newCreations[i]); err != nil {
			return nil, fmt.Errorf("add part creation: %w", err)
		}
	}
	for i := range newForks {
		if err := s.repo.AddFork(dbc, &newForks[i]); err != nil {
			return nil, fmt.Errorf("add part fork: %w", err)
		}
	}
	for i := range newRevisions {
		if err := s.repo.AddRevision(dbc, &newRevisions[i]); err != nil {
			return nil, fmt.Errorf("add part revision: %w", err)
		}
	}
	if err := s.approvals.RemoveAssignees(dbc, set, in.ReviewerIDsRem); err != nil {
		return nil, err
	}
	if err := s.approvals.AddAssignees(dbc, set, addReviewers); err != nil {
		return nil, err
	}

	cr.PartCreations = append(keptCreations, newCreations...)
	cr.PartForks = append(keptForks, newForks...)
	cr.PartRevisions = append(keptRevisions, newRevisions...)

	if n := len(newCreations) + len(newForks) + len(newRevisions); n > 0 {
		detail["added"] = n
	}
	if n := len(removedCreations) + len(removedForks) + len(removedRevisions); n > 0 {
		detail["removed"] = n
	}
	if len(addReviewers) > 0 {
		detail["reviewers_added"] = addReviewers
	}
	if len(in.ReviewerIDsRem) > 0 {
		detail["reviewers_removed"] = in.ReviewerIDsRem
	}
	return detail, nil
}

// checkForkTargets 批次内不能有两个派生指向同一基础标识的同一版本
func checkForkTargets(forks []entity.ChangePartFork) error {
	seen := make(map[string]bool, len(forks))
	for _, f := range forks {
		if f.Part == nil {
			continue
		}
		key := f.Part.BaseID + "|" + f.Version
		if seen[key] {
			return conflictError("part %s is forked twice to version %s in this change request: %s",
				f.Part.Ref, f.Version, PartRef(baseRefOf(f.Part), f.Version))
		}
		seen[key] = true
	}
	return nil
}

// checkRevisionTargets 批次内每个零件最多一个待修订
func checkRevisionTargets(revisions []entity.ChangePartRevision) error {
	seen := make(map[string]bool, len(revisions))
	for _, r := range revisions {
		if seen[r.PartID] {
			ref := r.PartID
			if r.Part != nil {
				ref = r.Part.Ref
			}
			return conflictError("part %s already has a pending revision in this change request", ref)
		}
		seen[r.PartID] = true
	}
	return nil
}

func pendingVersions(baseID string, groups ...[]entity.ChangePartFork) []string {
	var versions []string
	for _, forks := range groups {
		for _, f := range forks {
			if f.Part != nil && f.Part.BaseID == baseID {
				versions = append(versions, f.Version)
			}
		}
	}
	return versions
}

func baseRefOf(part *entity.Part) string {
	if part.Base != nil {
		return part.Base.BaseRef
	}
	return part.Ref[:len(part.Ref)-len(part.Version)-1]
}

func maxSequence(cr *entity.ChangeRequest) int {
	seq := 0
	for _, c := range cr.PartCreations {
		if c.Sequence > seq {
			seq = c.Sequence
		}
	}
	for _, f := range cr.PartForks {
		if f.Sequence > seq {
			seq = f.Sequence
		}
	}
	for _, r := range cr.PartRevisions {
		if r.Sequence > seq {
			seq = r.Sequence
		}
	}
	return seq
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
