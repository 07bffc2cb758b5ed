package service

import (
	"errors"
	"fmt"

	"github.com/bitfantasy/nimo-change/internal/pkg/dbctx"
	"github.com/bitfantasy/nimo-change/internal/plm/entity"
	"github.com/bitfantasy/nimo-change/internal/plm/repository"
)

// ReferenceAllocator 零件族基础编号分配器
type ReferenceAllocator struct {
	families *repository.FamilyRepository
	digits   int
	max      int
}

// NewReferenceAllocator 创建编号分配器，digits 为计数器位数
func NewReferenceAllocator(families *repository.FamilyRepository, digits int) *ReferenceAllocator {
	if digits <= 0 {
		digits = 3
	}
	max := 1
	for i := 0; i < digits; i++ {
		max *= 10
	}
	return &ReferenceAllocator{families: families, digits: digits, max: max - 1}
}

// Max 计数器上限
func (a *ReferenceAllocator) Max() int {
	return a.max
}

// Allocate 在调用方事务内递增计数器并返回新的基础编号
// 事务回滚时计数器一并回滚
func (a *ReferenceAllocator) Allocate(dbc dbctx.Context, familyID string) (string, *entity.PartFamily, error) {
	family, err := a.families.IncrementCounter(dbc, familyID, a.max)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrCounterExhausted):
			code := familyID
			if f, ferr := a.families.FindByID(dbc, familyID); ferr == nil {
				code = f.Code
			}
			return "", nil, &Error{
				Kind:    KindExhaustion,
				Message: fmt.Sprintf("family %s is exhausted: counter reached %d", code, a.max),
				Err:     err,
			}
		case errors.Is(err, repository.ErrNotFound):
			return "", nil, notFoundError("family", familyID)
		default:
			return "", nil, fmt.Errorf("allocate reference: %w", err)
		}
	}
	return FormatBaseRef(family.Code, family.Counter, a.digits), family, nil
}

// FormatBaseRef 族编码加补零计数器，如 F001
func FormatBaseRef(code string, counter, digits int) string {
	return fmt.Sprintf("%s%0*d", code, digits, counter)
}

// PartRef 零件引用号 baseRef.version
func PartRef(baseRef, version string) string {
	return baseRef + "." + version
}
