package service

import (
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-change/internal/pkg/dbctx"
	"github.com/bitfantasy/nimo-change/internal/plm/entity"
	"github.com/bitfantasy/nimo-change/internal/plm/repository"
	"github.com/google/uuid"
)

// Aggregate 汇总审批状态：任一拒绝即拒绝；全部同意（含无审核人）即同意；否则待定
func Aggregate(decisions []entity.ApprovalDecision) entity.ApprovalState {
	approved := 0
	for _, d := range decisions {
		switch d.Decision {
		case entity.DecisionRejected:
			return entity.ApprovalStateRejected
		case entity.DecisionApproved:
			approved++
		}
	}
	if approved == len(decisions) {
		return entity.ApprovalStateApproved
	}
	return entity.ApprovalStatePending
}

// ApprovalSets 通用审批集合，变更请求与零件验证共用
type ApprovalSets struct {
	repo *repository.ApprovalRepository
}

// NewApprovalSets 创建审批集合组件
func NewApprovalSets(repo *repository.ApprovalRepository) *ApprovalSets {
	return &ApprovalSets{repo: repo}
}

// Create 为审批对象创建关闭状态的集合，assignees 按顺序成为审核人
func (a *ApprovalSets) Create(dbc dbctx.Context, subjectType entity.ApprovalSubject, subjectID string, assignees []string) (*entity.ApprovalSet, error) {
	now := time.Now()
	set := &entity.ApprovalSet{
		ID:          uuid.New().String(),
		SubjectType: subjectType,
		SubjectID:   subjectID,
		State:       entity.ApprovalStatePending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.repo.CreateSet(dbc, set); err != nil {
		return nil, fmt.Errorf("create approval set: %w", err)
	}
	if err := a.AddAssignees(dbc, set, assignees); err != nil {
		return nil, err
	}
	return set, nil
}

// Get 读取审批集合
func (a *ApprovalSets) Get(dbc dbctx.Context, subjectType entity.ApprovalSubject, subjectID string) (*entity.ApprovalSet, error) {
	set, err := a.repo.FindBySubject(dbc, subjectType, subjectID)
	if err != nil {
		return nil, lookupError(err, "approval set of", subjectID)
	}
	return set, nil
}

// Lock 读取审批集合并加行锁，决定写入前必须调用
func (a *ApprovalSets) Lock(dbc dbctx.Context, subjectType entity.ApprovalSubject, subjectID string) (*entity.ApprovalSet, error) {
	set, err := a.repo.FindBySubjectForUpdate(dbc, subjectType, subjectID)
	if err != nil {
		return nil, lookupError(err, "approval set of", subjectID)
	}
	return set, nil
}

// AddAssignees 添加审核人，已存在的忽略
func (a *ApprovalSets) AddAssignees(dbc dbctx.Context, set *entity.ApprovalSet, assignees []string) error {
	seq := 0
	present := make(map[string]bool, len(set.Decisions))
	for _, d := range set.Decisions {
		present[d.AssigneeID] = true
		if d.Sequence > seq {
			seq = d.Sequence
		}
	}
	now := time.Now()
	for _, id := range assignees {
		if id == "" || present[id] {
			continue
		}
		seq++
		d := entity.ApprovalDecision{
			ID:            uuid.New().String(),
			ApprovalSetID: set.ID,
			AssigneeID:    id,
			Sequence:      seq,
			Decision:      entity.DecisionPending,
			Round:         set.Round,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := a.repo.AddDecision(dbc, &d); err != nil {
			return fmt.Errorf("add approval assignee: %w", err)
		}
		set.Decisions = append(set.Decisions, d)
		present[id] = true
	}
	return nil
}

// RemoveAssignees 移除审核人，不存在的忽略
func (a *ApprovalSets) RemoveAssignees(dbc dbctx.Context, set *entity.ApprovalSet, assignees []string) error {
	remove := make(map[string]bool, len(assignees))
	for _, id := range assignees {
		remove[id] = true
	}
	kept := set.Decisions[:0]
	for _, d := range set.Decisions {
		if !remove[d.AssigneeID] {
			kept = append(kept, d)
			continue
		}
		if err := a.repo.RemoveDecision(dbc, set.ID, d.AssigneeID); err != nil {
			return fmt.Errorf("remove approval assignee: %w", err)
		}
	}
	set.Decisions = kept
	return nil
}

// Record 写入审核人的决定并重新汇总，只能在集合开放时由审核人本人写入
// displayName 用于错误信息中指明调用方
func (a *ApprovalSets) Record(dbc dbctx.Context, set *entity.ApprovalSet, assigneeID, displayName string, decision entity.ApprovalDecisionValue, comments string) (*entity.ApprovalDecision, error) {
	if !decision.Valid() || decision == entity.DecisionPending {
		return nil, invalidError("invalid decision %q", decision)
	}
	idx := -1
	for i := range set.Decisions {
		if set.Decisions[i].AssigneeID == assigneeID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ownershipError(displayName, "review: not an assigned reviewer")
	}
	if !set.Open {
		return nil, newError(KindState, "approval set is closed")
	}

	now := time.Now()
	d := &set.Decisions[idx]
	d.Decision = decision
	d.Comments = comments
	d.Round = set.Round
	d.DecidedAt = &now
	if err := a.repo.SaveDecision(dbc, d); err != nil {
		return nil, fmt.Errorf("save approval decision: %w", err)
	}

	set.State = Aggregate(set.Decisions)
	if err := a.repo.UpdateSet(dbc, set); err != nil {
		return nil, fmt.Errorf("update approval set: %w", err)
	}
	out := *d
	return &out, nil
}

// Reset 归档当前轮次，全部决定重置为待定并开放新一轮
func (a *ApprovalSets) Reset(dbc dbctx.Context, set *entity.ApprovalSet) error {
	if set.Round > 0 {
		if err := a.repo.ArchiveRound(dbc, set); err != nil {
			return fmt.Errorf("archive approval round: %w", err)
		}
	}
	set.Round++
	if err := a.repo.ResetDecisions(dbc, set.ID, set.Round); err != nil {
		return fmt.Errorf("reset approval decisions: %w", err)
	}
	for i := range set.Decisions {
		set.Decisions[i].Decision = entity.DecisionPending
		set.Decisions[i].Comments = ""
		set.Decisions[i].Round = set.Round
		set.Decisions[i].DecidedAt = nil
	}
	set.Open = true
	set.State = Aggregate(set.Decisions)
	if err := a.repo.UpdateSet(dbc, set); err != nil {
		return fmt.Errorf("update approval set: %w", err)
	}
	return nil
}

// Close 关闭集合，冻结当前轮次的决定
func (a *ApprovalSets) Close(dbc dbctx.Context, set *entity.ApprovalSet) error {
	set.Open = false
	set.State = Aggregate(set.Decisions)
	if err := a.repo.UpdateSet(dbc, set); err != nil {
		return fmt.Errorf("update approval set: %w", err)
	}
	return nil
}
