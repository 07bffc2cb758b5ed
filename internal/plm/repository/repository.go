package repository

import (
	"context"
	"errors"

	"github.com/bitfantasy/nimo-change/internal/pkg/dbctx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 错误定义
var (
	ErrNotFound         = errors.New("record not found")
	ErrCounterExhausted = errors.New("family counter exhausted")
)

// Store 事务边界
type Store struct {
	db *gorm.DB
}

// NewStore 创建事务边界
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// InTx 在一个数据库事务中执行 fn，fn 返回错误或 ctx 取消时整体回滚
func (s *Store) InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(dbctx.Context{Ctx: ctx, Tx: tx})
	})
}

// Read 非事务读取
func (s *Store) Read(ctx context.Context) dbctx.Context {
	return dbctx.Context{Ctx: ctx}
}

// Repositories 仓库集合
type Repositories struct {
	Store         *Store
	User          *UserRepository
	Family        *FamilyRepository
	Part          *PartRepository
	ChangeRequest *ChangeRequestRepository
	Approval      *ApprovalRepository
	Validation    *ValidationRepository
	Sequence      *SequenceRepository
}

// NewRepositories 创建仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Store:         NewStore(db),
		User:          NewUserRepository(db),
		Family:        NewFamilyRepository(db),
		Part:          NewPartRepository(db),
		ChangeRequest: NewChangeRequestRepository(db),
		Approval:      NewApprovalRepository(db),
		Validation:    NewValidationRepository(db),
		Sequence:      NewSequenceRepository(db),
	}
}

// lockForUpdate 对查询加行锁，sqlite 以单连接串行写入，不支持 FOR UPDATE
func lockForUpdate(db *gorm.DB) *gorm.DB {
	if db.Dialector.Name() == "postgres" {
		return db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return db
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
