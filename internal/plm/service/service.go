package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bitfantasy/nimo-change/internal/config"
	"github.com/bitfantasy/nimo-change/internal/plm/authz"
	"github.com/bitfantasy/nimo-change/internal/plm/entity"
	"github.com/bitfantasy/nimo-change/internal/plm/events"
	"github.com/bitfantasy/nimo-change/internal/plm/repository"
	"go.uber.org/zap"
)

// ServiceConfig 服务依赖
type ServiceConfig struct {
	PLM       config.PLMConfig
	Logger    *zap.Logger
	Metrics   *Metrics
	Publisher events.Publisher
}

// Services 服务集合
type Services struct {
	User       *UserService
	Change     *ChangeService
	Part       *PartService
	Validation *ValidationService
	Approvals  *ApprovalSets
	Allocator  *ReferenceAllocator
}

// NewServices 创建服务集合
func NewServices(repos *repository.Repositories, cfg ServiceConfig) *Services {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := cfg.PLM.ChangeRequestPrefix
	if prefix == "" {
		prefix = "CR"
	}
	dispatcher := events.NewDispatcher(cfg.Publisher, logger)

	allocator := NewReferenceAllocator(repos.Family, cfg.PLM.RefDigits)
	ledger := NewLedger(repos.Part, allocator)
	approvals := NewApprovalSets(repos.Approval)

	return &Services{
		User: &UserService{
			store: repos.Store,
			repo:  repos.User,
		},
		Change: &ChangeService{
			store:     repos.Store,
			repo:      repos.ChangeRequest,
			parts:     repos.Part,
			families:  repos.Family,
			users:     repos.User,
			sequences: repos.Sequence,
			approvals: approvals,
			ledger:    ledger,
			executor:  NewCommitExecutor(ledger),
			prefix:    prefix,
			logger:    logger.Named("change"),
			metrics:   cfg.Metrics,
			events:    dispatcher,
		},
		Part: &PartService{
			store:                   repos.Store,
			parts:                   repos.Part,
			families:                repos.Family,
			ledger:                  ledger,
			reviseAcceptsPartRevise: cfg.PLM.ReviseAcceptsPartRevise,
			logger:                  logger.Named("part"),
			metrics:                 cfg.Metrics,
			events:                  dispatcher,
		},
		Validation: &ValidationService{
			store:     repos.Store,
			repo:      repos.Validation,
			parts:     repos.Part,
			users:     repos.User,
			approvals: approvals,
			ledger:    ledger,
			logger:    logger.Named("validation"),
			events:    dispatcher,
		},
		Approvals: approvals,
		Allocator: allocator,
	}
}

// UserService 用户服务
type UserService struct {
	store *repository.Store
	repo  *repository.UserRepository
}

// Sync 按登录身份写入或更新用户，审核人必须是已知用户
func (s *UserService) Sync(ctx context.Context, id, name, email string) (*entity.User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, invalidError("user id is required")
	}
	now := time.Now()
	user := &entity.User{
		ID:        id,
		Name:      strings.TrimSpace(name),
		Email:     strings.TrimSpace(email),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Upsert(s.store.Read(ctx), user); err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return user, nil
}

// Get 获取用户
func (s *UserService) Get(ctx context.Context, id string) (*entity.User, error) {
	user, err := s.repo.FindByID(s.store.Read(ctx), id)
	if err != nil {
		return nil, lookupError(err, "user", id)
	}
	return user, nil
}

// List 获取全部用户，需要任一读取权限
func (s *UserService) List(ctx context.Context, caller authz.Caller) ([]entity.User, error) {
	if err := authz.Require(caller, authz.PermChangeRead, authz.PermPartRead, authz.PermValidationRead); err != nil {
		return nil, authorizationError(err)
	}
	return s.repo.List(s.store.Read(ctx))
}
