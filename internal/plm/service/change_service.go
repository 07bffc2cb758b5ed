package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-change/internal/pkg/dbctx"
	"github.com/bitfantasy/nimo-change/internal/plm/authz"
	"github.com/bitfantasy/nimo-change/internal/plm/entity"
	"github.com/bitfantasy/nimo-change/internal/plm/events"
	"github.com/bitfantasy/nimo-change/internal/plm/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const changeRequestSequence = "change_request"

// ChangeService 变更请求服务
type ChangeService struct {
	store     *repository.Store
	repo      *repository.ChangeRequestRepository
	parts     *repository.PartRepository
	families  *repository.FamilyRepository
	users     *repository.UserRepository
	sequences *repository.SequenceRepository
	approvals *ApprovalSets
	ledger    *Ledger
	executor  *CommitExecutor
	prefix    string
	logger    *zap.Logger
	metrics   *Metrics
	events    *events.Dispatcher
}

// PartCreationInput 待创建零件
type PartCreationInput struct {
	FamilyID    string `json:"family_id" binding:"required"`
	Version     string `json:"version" binding:"required"`
	Designation string `json:"designation"`
	Comments    string `json:"comments"`
}

// PartForkInput 待派生零件，Version 为空时使用默认下一个版本
type PartForkInput struct {
	PartID      string `json:"part_id" binding:"required"`
	Version     string `json:"version"`
	Designation string `json:"designation"`
	Comments    string `json:"comments"`
}

// PartRevisionInput 待修订零件
type PartRevisionInput struct {
	PartID      string `json:"part_id" binding:"required"`
	Designation string `json:"designation"`
	Comments    string `json:"comments"`
}

// CreateChangeRequestInput 创建变更请求
type CreateChangeRequestInput struct {
	Description   string              `json:"description"`
	PartCreations []PartCreationInput `json:"part_creations"`
	PartForks     []PartForkInput     `json:"part_forks"`
	PartRevisions []PartRevisionInput `json:"part_revisions"`
	ReviewerIDs   []string            `json:"reviewer_ids"`
}

// UpdateChangeRequestInput 编辑变更请求，增删均为幂等操作
type UpdateChangeRequestInput struct {
	Description      *string             `json:"description"`
	PartCreationsAdd []PartCreationInput `json:"part_creations_add"`
	PartCreationsRem []string            `json:"part_creations_rem"`
	PartForksAdd     []PartForkInput     `json:"part_forks_add"`
	PartForksRem     []string            `json:"part_forks_rem"`
	PartRevisionsAdd []PartRevisionInput `json:"part_revisions_add"`
	PartRevisionsRem []string            `json:"part_revisions_rem"`
	ReviewerIDsAdd   []string            `json:"reviewer_ids_add"`
	ReviewerIDsRem   []string            `json:"reviewer_ids_rem"`
}

// ReviewInput 审核决定
type ReviewInput struct {
	Decision entity.ApprovalDecisionValue `json:"decision" binding:"required"`
	Comments string                       `json:"comments"`
}

// ChangeRequestListResult 变更请求列表结果
type ChangeRequestListResult struct {
	Items      []entity.ChangeRequest `json:"items"`
	Total      int64                  `json:"total"`
	Page       int                    `json:"page"`
	PageSize   int                    `json:"page_size"`
	TotalPages int                    `json:"total_pages"`
}

var changeOpPermissions = map[ChangeOp]string{
	OpUpdate:   authz.PermChangeUpdate,
	OpSubmit:   authz.PermChangeUpdate,
	OpReview:   authz.PermChangeReview,
	OpWithdraw: authz.PermChangeUpdate,
	OpApprove:  authz.PermChangeUpdate,
	OpCancel:   authz.PermChangeUpdate,
}

var changeOpHistory = map[ChangeOp]string{
	OpUpdate:   entity.ChangeHistoryUpdated,
	OpSubmit:   entity.ChangeHistorySubmitted,
	OpReview:   entity.ChangeHistoryReviewed,
	OpWithdraw: entity.ChangeHistoryWithdrawn,
	OpApprove:  entity.ChangeHistoryApproved,
	OpCancel:   entity.ChangeHistoryCancelled,
}

// changeOpFunc 在事务内执行操作的具体变更，返回写入历史的详情
type changeOpFunc func(dbc dbctx.Context, cr *entity.ChangeRequest) (map[string]interface{}, error)

// Create 创建变更请求，可附带初始批次（按编辑规则校验）
func (s *ChangeService) Create(ctx context.Context, caller authz.Caller, input CreateChangeRequestInput) (*entity.ChangeRequest, error) {
	if err := authz.Require(caller, authz.PermChangeCreate); err != nil {
		return nil, authorizationError(err)
	}

	var cr *entity.ChangeRequest
	err := s.store.InTx(ctx, func(dbc dbctx.Context) error {
		seq, err := s.sequences.Next(dbc, changeRequestSequence)
		if err != nil {
			return fmt.Errorf("next change request number: %w", err)
		}

		now := time.Now()
		cr = &entity.ChangeRequest{
			ID:          uuid.New().String(),
			Name:        fmt.Sprintf("%s-%03d", s.prefix, seq),
			Description: input.Description,
			Cycle:       entity.ChangeCyclePreparation,
			CreatedBy:   caller.UserID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.repo.Create(dbc, cr); err != nil {
			return fmt.Errorf("create change request: %w", err)
		}

		set, err := s.approvals.Create(dbc, entity.ApprovalSubjectChangeRequest, cr.ID, nil)
		if err != nil {
			return err
		}

		detail, err := s.applyBatch(dbc, cr, set, UpdateChangeRequestInput{
			PartCreationsAdd: input.PartCreations,
			PartForksAdd:     input.PartForks,
			PartRevisionsAdd: input.PartRevisions,
			ReviewerIDsAdd:   input.ReviewerIDs,
		})
		if err != nil {
			return err
		}
		detail["name"] = cr.Name
		return s.addHistory(dbc, cr.ID, caller.UserID, entity.ChangeHistoryCreated, detail)
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, caller, cr, "create")
	return s.load(ctx, cr.ID)
}

// Update 编辑描述与待提交批次，仅准备阶段的所有者可操作
func (s *ChangeService) Update(ctx context.Context, caller authz.Caller, id string, input UpdateChangeRequestInput) (*entity.ChangeRequest, error) {
	cr, err := s.run(ctx, caller, id, OpUpdate, func(dbc dbctx.Context, cr *entity.ChangeRequest) (map[string]interface{}, error) {
		if input.Description != nil {
			if err := s.repo.UpdateDescription(dbc, cr.ID, *input.Description); err != nil {
				return nil, fmt.Errorf("update description: %w", err)
			}
		}
		set, err := s.approvals.Lock(dbc, entity.ApprovalSubjectChangeRequest, cr.ID)
		if err != nil {
			return nil, err
		}
		detail, err := s.applyBatch(dbc, cr, set, input)
		if err != nil {
			return nil, err
		}
		if input.Description != nil {
			detail["description"] = *input.Description
		}
		return detail, nil
	})
	if err != nil {
		return nil, err
	}
	return s.load(ctx, cr.ID)
}

// Submit 提交评审：开启新一轮审批，全部决定重置为待定
func (s *ChangeService) Submit(ctx context.Context, caller authz.Caller, id string) (*entity.ChangeRequest, error) {
	cr, err := s.run(ctx, caller, id, OpSubmit, func(dbc dbctx.Context, cr *entity.ChangeRequest) (map[string]interface{}, error) {
		set, err := s.approvals.Lock(dbc, entity.ApprovalSubjectChangeRequest, cr.ID)
		if err != nil {
			return nil, err
		}
		if err := s.approvals.Reset(dbc, set); err != nil {
			return nil, err
		}
		return map[string]interface{}{"round": set.Round, "reviewers": len(set.Decisions)}, nil
	})
	if err != nil {
		return nil, err
	}
	return s.load(ctx, cr.ID)
}

// Review 审核人记录自己的决定，返回该决定
func (s *ChangeService) Review(ctx context.Context, caller authz.Caller, id string, input ReviewInput) (*entity.ApprovalDecision, error) {
	var decision *entity.ApprovalDecision
	_, err := s.run(ctx, caller, id, OpReview, func(dbc dbctx.Context, cr *entity.ChangeRequest) (map[string]interface{}, error) {
		set, err := s.approvals.Lock(dbc, entity.ApprovalSubjectChangeRequest, cr.ID)
		if err != nil {
			return nil, err
		}
		decision, err = s.approvals.Record(dbc, set, caller.UserID, s.displayName(dbc, caller.UserID), input.Decision, input.Comments)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"decision": string(decision.Decision),
			"round":    set.Round,
			"state":    string(set.State),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return decision, nil
}

// Withdraw 撤回到准备阶段，批次保持不变，审批集合关闭
func (s *ChangeService) Withdraw(ctx context.Context, caller authz.Caller, id string) (*entity.ChangeRequest, error) {
	cr, err := s.run(ctx, caller, id, OpWithdraw, func(dbc dbctx.Context, cr *entity.ChangeRequest) (map[string]interface{}, error) {
		set, err := s.approvals.Lock(dbc, entity.ApprovalSubjectChangeRequest, cr.ID)
		if err != nil {
			return nil, err
		}
		if err := s.approvals.Close(dbc, set); err != nil {
			return nil, err
		}
		return map[string]interface{}{"round": set.Round, "state": string(set.State)}, nil
	})
	if err != nil {
		return nil, err
	}
	return s.load(ctx, cr.ID)
}

// Approve 审批汇总为同意时提交批次并进入工程阶段
func (s *ChangeService) Approve(ctx context.Context, caller authz.Caller, id string) (*entity.ChangeRequest, error) {
	var result *CommitResult
	cr, err := s.run(ctx, caller, id, OpApprove, func(dbc dbctx.Context, cr *entity.ChangeRequest) (map[string]interface{}, error) {
		set, err := s.approvals.Lock(dbc, entity.ApprovalSubjectChangeRequest, cr.ID)
		if err != nil {
			return nil, err
		}
		if state := Aggregate(set.Decisions); state != entity.ApprovalStateApproved {
			return nil, newError(KindApprovalIncomplete,
				"cannot approve change request %s: approval state is %s", cr.Name, state)
		}

		start := time.Now()
		result, err = s.executor.Execute(dbc, cr, caller.UserID)
		s.metrics.ObserveCommit(start, err)
		if err != nil {
			s.logger.Warn("change request commit failed",
				zap.String("change_request", cr.Name),
				zap.String("user_id", caller.UserID),
				zap.Error(err),
			)
			return nil, err
		}

		if err := s.approvals.Close(dbc, set); err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"created_parts": revisionRefs(result.Created),
			"revised_parts": revisionRefs(result.Revised),
		}, nil
	})
	if err != nil {
		return nil, err
	}

	for _, code := range result.Families {
		s.metrics.IncAllocation(code)
	}
	for _, rev := range append(append([]entity.PartRevision(nil), result.Created...), result.Revised...) {
		s.events.Dispatch(ctx, partEvent(&rev, "committed", caller.UserID))
	}
	return s.load(ctx, cr.ID)
}

// Cancel 取消变更请求
func (s *ChangeService) Cancel(ctx context.Context, caller authz.Caller, id string) (*entity.ChangeRequest, error) {
	cr, err := s.run(ctx, caller, id, OpCancel, func(dbc dbctx.Context, cr *entity.ChangeRequest) (map[string]interface{}, error) {
		set, err := s.approvals.Lock(dbc, entity.ApprovalSubjectChangeRequest, cr.ID)
		if err != nil {
			return nil, err
		}
		if set.Open {
			if err := s.approvals.Close(dbc, set); err != nil {
				return nil, err
			}
		}
		return map[string]interface{}{"from": string(cr.Cycle)}, nil
	})
	if err != nil {
		return nil, err
	}
	return s.load(ctx, cr.ID)
}

// Get 获取变更请求详情（含批次、审核人与提交产出）
func (s *ChangeService) Get(ctx context.Context, caller authz.Caller, id string) (*entity.ChangeRequest, error) {
	if err := authz.Require(caller, authz.PermChangeRead); err != nil {
		return nil, authorizationError(err)
	}
	return s.load(ctx, id)
}

// List 获取变更请求列表
func (s *ChangeService) List(ctx context.Context, caller authz.Caller, filter repository.ChangeRequestFilter, page, pageSize int) (*ChangeRequestListResult, error) {
	if err := authz.Require(caller, authz.PermChangeRead); err != nil {
		return nil, authorizationError(err)
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	items, total, err := s.repo.List(s.store.Read(ctx), filter, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("list change requests: %w", err)
	}
	if err := s.fillStates(ctx, items); err != nil {
		return nil, err
	}

	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}

	return &ChangeRequestListResult{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}

// ListMyPending 获取待调用方审核的变更请求
func (s *ChangeService) ListMyPending(ctx context.Context, caller authz.Caller) ([]entity.ChangeRequest, error) {
	if err := authz.Require(caller, authz.PermChangeRead); err != nil {
		return nil, authorizationError(err)
	}
	items, err := s.repo.ListPendingForAssignee(s.store.Read(ctx), caller.UserID)
	if err != nil {
		return nil, fmt.Errorf("list pending change requests: %w", err)
	}
	if err := s.fillStates(ctx, items); err != nil {
		return nil, err
	}
	return items, nil
}

// ListHistory 获取操作历史
func (s *ChangeService) ListHistory(ctx context.Context, caller authz.Caller, id string) ([]entity.ChangeRequestHistory, error) {
	if err := authz.Require(caller, authz.PermChangeRead); err != nil {
		return nil, authorizationError(err)
	}
	return s.repo.ListHistory(s.store.Read(ctx), id)
}

// run 执行生命周期操作：鉴权、加锁读取、查转换表、校验所有者、执行、写历史，全部在一个事务内
func (s *ChangeService) run(ctx context.Context, caller authz.Caller, id string, op ChangeOp, fn changeOpFunc) (*entity.ChangeRequest, error) {
	if err := authz.Require(caller, changeOpPermissions[op]); err != nil {
		return nil, authorizationError(err)
	}

	var cr *entity.ChangeRequest
	err := s.store.InTx(ctx, func(dbc dbctx.Context) error {
		var err error
		cr, err = s.repo.FindByIDForUpdate(dbc, id)
		if err != nil {
			return lookupError(err, "change request", id)
		}

		to, err := NextCycle(cr.Cycle, op)
		if err != nil {
			return err
		}
		// 审核只要求是审核人，其余操作要求是所有者
		if op != OpReview && cr.CreatedBy != caller.UserID {
			return ownershipError(s.displayName(dbc, caller.UserID),
				fmt.Sprintf("%s change request %s: not the owner", op, cr.Name))
		}

		detail, err := fn(dbc, cr)
		if err != nil {
			return err
		}

		if to != cr.Cycle {
			if err := s.repo.UpdateCycle(dbc, cr.ID, to); err != nil {
				return fmt.Errorf("update change request cycle: %w", err)
			}
			if detail == nil {
				detail = map[string]interface{}{}
			}
			detail["from"] = string(cr.Cycle)
			detail["to"] = string(to)
			cr.Cycle = to
		} else if err := s.repo.Touch(dbc, cr.ID); err != nil {
			return fmt.Errorf("touch change request: %w", err)
		}

		return s.addHistory(dbc, cr.ID, caller.UserID, changeOpHistory[op], detail)
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, caller, cr, string(op))
	return cr, nil
}

func (s *ChangeService) afterCommit(ctx context.Context, caller authz.Caller, cr *entity.ChangeRequest, op string) {
	s.metrics.IncTransition(op)
	s.logger.Info("change request "+op,
		zap.String("change_request", cr.Name),
		zap.String("cycle", string(cr.Cycle)),
		zap.String("user_id", caller.UserID),
	)
	s.events.Dispatch(ctx, events.Event{
		Type:      events.TypeChangeRequest,
		Action:    op,
		SubjectID: cr.ID,
		Name:      cr.Name,
		State:     string(cr.Cycle),
		UserID:    caller.UserID,
	})
}

// load 读取变更请求并填充审批状态、审核人与提交产出
func (s *ChangeService) load(ctx context.Context, id string) (*entity.ChangeRequest, error) {
	dbc := s.store.Read(ctx)
	cr, err := s.repo.FindByID(dbc, id)
	if err != nil {
		return nil, lookupError(err, "change request", id)
	}

	set, err := s.approvals.Get(dbc, entity.ApprovalSubjectChangeRequest, cr.ID)
	if err != nil {
		return nil, err
	}
	cr.State = set.State
	cr.Reviews = set.Decisions

	revs, err := s.parts.ListRevisionsByChangeRequest(dbc, cr.ID)
	if err != nil {
		return nil, fmt.Errorf("list committed revisions: %w", err)
	}
	for _, rev := range revs {
		if rev.Revision == 1 {
			cr.CreatedParts = append(cr.CreatedParts, rev)
		} else {
			cr.RevisedParts = append(cr.RevisedParts, rev)
		}
	}
	return cr, nil
}

func (s *ChangeService) fillStates(ctx context.Context, items []entity.ChangeRequest) error {
	ids := make([]string, 0, len(items))
	for _, cr := range items {
		ids = append(ids, cr.ID)
	}
	sets, err := s.approvals.repo.FindSetsBySubjects(s.store.Read(ctx), entity.ApprovalSubjectChangeRequest, ids)
	if err != nil {
		return fmt.Errorf("load approval sets: %w", err)
	}
	for i := range items {
		if set, ok := sets[items[i].ID]; ok {
			items[i].State = set.State
			items[i].Reviews = set.Decisions
		}
	}
	return nil
}

func (s *ChangeService) addHistory(dbc dbctx.Context, requestID, userID, action string, detail map[string]interface{}) error {
	history := &entity.ChangeRequestHistory{
		ID:        uuid.New().String(),
		RequestID: requestID,
		Action:    action,
		UserID:    userID,
		Detail:    datatypes.JSONMap(detail),
		CreatedAt: time.Now(),
	}
	if err := s.repo.AddHistory(dbc, history); err != nil {
		return fmt.Errorf("add change request history: %w", err)
	}
	return nil
}

func (s *ChangeService) displayName(dbc dbctx.Context, userID string) string {
	return displayName(dbc, s.users, userID)
}

func displayName(dbc dbctx.Context, users *repository.UserRepository, userID string) string {
	user, err := users.FindByID(dbc, userID)
	if err != nil {
		return userID
	}
	return user.DisplayName()
}

func revisionRefs(revs []entity.PartRevision) []string {
	refs := make([]string, 0, len(revs))
	for _, rev := range revs {
		if rev.Part != nil {
			refs = append(refs, fmt.Sprintf("%s/%d", rev.Part.Ref, rev.Revision))
		}
	}
	return refs
}

func partEvent(rev *entity.PartRevision, action, userID string) events.Event {
	e := events.Event{
		Type:      events.TypePart,
		Action:    action,
		SubjectID: rev.PartID,
		State:     rev.CycleState,
		UserID:    userID,
	}
	if rev.Part != nil {
		e.Name = fmt.Sprintf("%s/%d", rev.Part.Ref, rev.Revision)
	}
	return e
}
