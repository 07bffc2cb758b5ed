package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-change/internal/pkg/dbctx"
	"github.com/bitfantasy/nimo-change/internal/plm/authz"
	"github.com/bitfantasy/nimo-change/internal/plm/entity"
	"github.com/bitfantasy/nimo-change/internal/plm/events"
	"github.com/bitfantasy/nimo-change/internal/plm/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ValidationService 零件验证：针对编辑中修订的独立审批轮次
type ValidationService struct {
	store     *repository.Store
	repo      *repository.ValidationRepository
	parts     *repository.PartRepository
	users     *repository.UserRepository
	approvals *ApprovalSets
	ledger    *Ledger
	logger    *zap.Logger
	events    *events.Dispatcher
}

// StartValidationInput 发起零件验证
type StartValidationInput struct {
	ReviewerIDs []string `json:"reviewer_ids"`
	Comments    string   `json:"comments"`
}

// CloseValidationInput 关闭零件验证
type CloseValidationInput struct {
	Result   entity.PartValidationResult `json:"result" binding:"required"`
	Comments string                      `json:"comments"`
}

// Start 对编辑中的修订发起验证，同一修订同时只能有一个进行中的验证
func (s *ValidationService) Start(ctx context.Context, caller authz.Caller, revisionID string, input StartValidationInput) (*entity.PartValidation, error) {
	if err := authz.Require(caller, authz.PermValidationCreate); err != nil {
		return nil, authorizationError(err)
	}

	var v *entity.PartValidation
	err := s.store.InTx(ctx, func(dbc dbctx.Context) error {
		rev, err := s.parts.FindRevision(dbc, revisionID)
		if err != nil {
			return lookupError(err, "part revision", revisionID)
		}
		if rev.CycleState != entity.PartCycleEdition {
			return preconditionError("part %s revision %d is not in edition", revisionRef(rev), rev.Revision)
		}
		if open, err := s.repo.FindOpenByRevision(dbc, rev.ID); err == nil {
			return conflictError("part %s revision %d already has open validation %s", revisionRef(rev), rev.Revision, open.ID)
		} else if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("find open validation: %w", err)
		}
		if err := s.checkReviewers(dbc, input.ReviewerIDs); err != nil {
			return err
		}

		now := time.Now()
		v = &entity.PartValidation{
			ID:             uuid.New().String(),
			PartRevisionID: rev.ID,
			State:          entity.ValidationStateOpen,
			Comments:       input.Comments,
			CreatedBy:      caller.UserID,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.repo.Create(dbc, v); err != nil {
			return fmt.Errorf("create part validation: %w", err)
		}
		v.PartRevision = rev

		set, err := s.approvals.Create(dbc, entity.ApprovalSubjectPartValidation, v.ID, input.ReviewerIDs)
		if err != nil {
			return err
		}
		if err := s.approvals.Reset(dbc, set); err != nil {
			return err
		}
		v.ApprovalState = set.State
		v.Reviews = set.Decisions
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, caller, v, "started")
	return v, nil
}

// Review 审核人记录对验证的决定
func (s *ValidationService) Review(ctx context.Context, caller authz.Caller, id string, input ReviewInput) (*entity.ApprovalDecision, error) {
	if err := authz.Require(caller, authz.PermValidationReview); err != nil {
		return nil, authorizationError(err)
	}

	var (
		v        *entity.PartValidation
		decision *entity.ApprovalDecision
	)
	err := s.store.InTx(ctx, func(dbc dbctx.Context) error {
		var err error
		v, err = s.repo.FindByIDForUpdate(dbc, id)
		if err != nil {
			return lookupError(err, "part validation", id)
		}
		if v.State != entity.ValidationStateOpen {
			return stateError(v.State, "review part validation")
		}
		set, err := s.approvals.Lock(dbc, entity.ApprovalSubjectPartValidation, v.ID)
		if err != nil {
			return err
		}
		decision, err = s.approvals.Record(dbc, set, caller.UserID, displayName(dbc, s.users, caller.UserID), input.Decision, input.Comments)
		if err != nil {
			return err
		}
		v.ApprovalState = set.State
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, caller, v, "reviewed")
	return decision, nil
}

// Close 创建人关闭验证：release 要求审批已同意并发布修订，try_again 保持修订为编辑中
func (s *ValidationService) Close(ctx context.Context, caller authz.Caller, id string, input CloseValidationInput) (*entity.PartValidation, error) {
	if err := authz.Require(caller, authz.PermValidationUpdate); err != nil {
		return nil, authorizationError(err)
	}
	if input.Result != entity.ValidationResultRelease && input.Result != entity.ValidationResultTryAgain {
		return nil, invalidError("invalid validation result %q", input.Result)
	}

	var v *entity.PartValidation
	err := s.store.InTx(ctx, func(dbc dbctx.Context) error {
		var err error
		v, err = s.repo.FindByIDForUpdate(dbc, id)
		if err != nil {
			return lookupError(err, "part validation", id)
		}
		if v.State != entity.ValidationStateOpen {
			return stateError(v.State, "close part validation")
		}
		if v.CreatedBy != caller.UserID {
			return ownershipError(displayName(dbc, s.users, caller.UserID), "close part validation: not the creator")
		}

		set, err := s.approvals.Lock(dbc, entity.ApprovalSubjectPartValidation, v.ID)
		if err != nil {
			return err
		}
		if input.Result == entity.ValidationResultRelease {
			if state := Aggregate(set.Decisions); state != entity.ApprovalStateApproved {
				return newError(KindApprovalIncomplete,
					"cannot release part validation %s: approval state is %s", v.ID, state)
			}
			rev, err := s.ledger.UpdateCycle(dbc, v.PartRevisionID, entity.PartCycleRelease)
			if err != nil {
				return err
			}
			v.PartRevision = rev
		}
		if err := s.approvals.Close(dbc, set); err != nil {
			return err
		}

		now := time.Now()
		result := input.Result
		v.State = entity.ValidationStateClosed
		v.Result = &result
		if input.Comments != "" {
			v.Comments = input.Comments
		}
		v.ClosedAt = &now
		v.UpdatedAt = now
		if err := s.repo.Close(dbc, v); err != nil {
			return fmt.Errorf("close part validation: %w", err)
		}
		v.ApprovalState = set.State
		v.Reviews = set.Decisions
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, caller, v, "closed")
	if input.Result == entity.ValidationResultRelease && v.PartRevision != nil {
		s.events.Dispatch(ctx, partEvent(v.PartRevision, "released", caller.UserID))
	}
	return v, nil
}

// Get 获取验证详情（含审批状态与审核人）
func (s *ValidationService) Get(ctx context.Context, caller authz.Caller, id string) (*entity.PartValidation, error) {
	if err := authz.Require(caller, authz.PermValidationRead); err != nil {
		return nil, authorizationError(err)
	}
	dbc := s.store.Read(ctx)
	v, err := s.repo.FindByID(dbc, id)
	if err != nil {
		return nil, lookupError(err, "part validation", id)
	}
	set, err := s.approvals.Get(dbc, entity.ApprovalSubjectPartValidation, v.ID)
	if err != nil {
		return nil, err
	}
	v.ApprovalState = set.State
	v.Reviews = set.Decisions
	return v, nil
}

// ListByRevision 获取修订的全部验证
func (s *ValidationService) ListByRevision(ctx context.Context, caller authz.Caller, revisionID string) ([]entity.PartValidation, error) {
	if err := authz.Require(caller, authz.PermValidationRead); err != nil {
		return nil, authorizationError(err)
	}
	dbc := s.store.Read(ctx)
	items, err := s.repo.ListByRevision(dbc, revisionID)
	if err != nil {
		return nil, fmt.Errorf("list part validations: %w", err)
	}
	ids := make([]string, 0, len(items))
	for _, v := range items {
		ids = append(ids, v.ID)
	}
	sets, err := s.approvals.repo.FindSetsBySubjects(dbc, entity.ApprovalSubjectPartValidation, ids)
	if err != nil {
		return nil, fmt.Errorf("load approval sets: %w", err)
	}
	for i := range items {
		if set, ok := sets[items[i].ID]; ok {
			items[i].ApprovalState = set.State
			items[i].Reviews = set.Decisions
		}
	}
	return items, nil
}

func (s *ValidationService) checkReviewers(dbc dbctx.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	users, err := s.users.FindByIDs(dbc, ids)
	if err != nil {
		return fmt.Errorf("find reviewers: %w", err)
	}
	known := make(map[string]bool, len(users))
	for _, u := range users {
		known[u.ID] = true
	}
	for _, id := range ids {
		if !known[id] {
			return invalidError("unknown reviewer %s", id)
		}
	}
	return nil
}

func (s *ValidationService) afterCommit(ctx context.Context, caller authz.Caller, v *entity.PartValidation, action string) {
	s.logger.Info("part validation "+action,
		zap.String("validation_id", v.ID),
		zap.String("state", string(v.State)),
		zap.String("user_id", caller.UserID),
	)
	s.events.Dispatch(ctx, events.Event{
		Type:      events.TypePartValidation,
		Action:    action,
		SubjectID: v.ID,
		Name:      revisionRef(v.PartRevision),
		State:     string(v.State),
		UserID:    caller.UserID,
	})
}

func revisionRef(rev *entity.PartRevision) string {
	if rev == nil {
		return ""
	}
	if rev.Part == nil {
		return rev.PartID
	}
	return rev.Part.Ref
}
