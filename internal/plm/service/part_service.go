package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bitfantasy/nimo-change/internal/pkg/dbctx"
	"github.com/bitfantasy/nimo-change/internal/plm/authz"
	"github.com/bitfantasy/nimo-change/internal/plm/entity"
	"github.com/bitfantasy/nimo-change/internal/plm/events"
	"github.com/bitfantasy/nimo-change/internal/plm/repository"
	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

var familyCodePattern = regexp.MustCompile(`^[A-Z][A-Z0-9]{0,7}$`)

// PartService 零件服务
type PartService struct {
	store                   *repository.Store
	parts                   *repository.PartRepository
	families                *repository.FamilyRepository
	ledger                  *Ledger
	reviseAcceptsPartRevise bool
	logger                  *zap.Logger
	metrics                 *Metrics
	events                  *events.Dispatcher
}

// CreatePartInput 创建零件
type CreatePartInput struct {
	FamilyID    string `json:"family_id" binding:"required"`
	Version     string `json:"version" binding:"required"`
	Designation string `json:"designation"`
}

// ForkPartInput 派生零件，Version 为空时取默认下一个版本
type ForkPartInput struct {
	Version     string `json:"version"`
	Designation string `json:"designation"`
}

// RevisePartInput 修订零件
type RevisePartInput struct {
	Designation string `json:"designation"`
}

// CreateFamilyInput 创建零件族
type CreateFamilyInput struct {
	Code string `json:"code" binding:"required"`
	Name string `json:"name" binding:"required"`
}

// PartListResult 零件列表结果
type PartListResult struct {
	Items      []entity.Part `json:"items"`
	Total      int64         `json:"total"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
	TotalPages int           `json:"total_pages"`
}

// CreatePart 分配新编号创建零件，返回修订 1
func (s *PartService) CreatePart(ctx context.Context, caller authz.Caller, input CreatePartInput) (*entity.PartRevision, error) {
	if err := authz.Require(caller, authz.PermPartCreate); err != nil {
		return nil, authorizationError(err)
	}

	var rev *entity.PartRevision
	err := s.store.InTx(ctx, func(dbc dbctx.Context) error {
		var err error
		rev, err = s.ledger.CreateNew(dbc, caller.UserID, input.FamilyID, input.Version, input.Designation, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	if rev.Part.Base.Family != nil {
		s.metrics.IncAllocation(rev.Part.Base.Family.Code)
	}
	s.afterCommit(ctx, caller, rev, "created")
	return rev, nil
}

// ForkPart 在同一基础标识下创建新版本
func (s *PartService) ForkPart(ctx context.Context, caller authz.Caller, partID string, input ForkPartInput) (*entity.PartRevision, error) {
	if err := authz.Require(caller, authz.PermPartCreate); err != nil {
		return nil, authorizationError(err)
	}

	var rev *entity.PartRevision
	err := s.store.InTx(ctx, func(dbc dbctx.Context) error {
		var err error
		rev, err = s.ledger.Fork(dbc, caller.UserID, partID, input.Version, input.Designation, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, caller, rev, "forked")
	return rev, nil
}

// RevisePart 创建下一个修订，最新修订必须已发布
func (s *PartService) RevisePart(ctx context.Context, caller authz.Caller, partID string, input RevisePartInput) (*entity.PartRevision, error) {
	perms := []string{authz.PermPartCreate}
	if s.reviseAcceptsPartRevise {
		perms = append(perms, authz.PermPartRevise)
	}
	if err := authz.Require(caller, perms...); err != nil {
		return nil, authorizationError(err)
	}

	var rev *entity.PartRevision
	err := s.store.InTx(ctx, func(dbc dbctx.Context) error {
		var err error
		rev, err = s.ledger.Revise(dbc, caller.UserID, partID, input.Designation, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, caller, rev, "revised")
	return rev, nil
}

// UpdateRevisionCycle 切换修订的编辑/发布状态
func (s *PartService) UpdateRevisionCycle(ctx context.Context, caller authz.Caller, revisionID, cycle string) (*entity.PartRevision, error) {
	if err := authz.Require(caller, authz.PermPartUpdate); err != nil {
		return nil, authorizationError(err)
	}

	var rev *entity.PartRevision
	err := s.store.InTx(ctx, func(dbc dbctx.Context) error {
		var err error
		rev, err = s.ledger.UpdateCycle(dbc, revisionID, cycle)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, caller, rev, "cycle_updated")
	return rev, nil
}

// GetPart 获取零件详情（含最新修订）
func (s *PartService) GetPart(ctx context.Context, caller authz.Caller, partID string) (*entity.Part, error) {
	if err := authz.Require(caller, authz.PermPartRead); err != nil {
		return nil, authorizationError(err)
	}
	dbc := s.store.Read(ctx)
	part, err := s.parts.FindPart(dbc, partID)
	if err != nil {
		return nil, lookupError(err, "part", partID)
	}
	latest, err := s.parts.LatestRevision(dbc, part.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("find latest revision: %w", err)
	}
	part.LatestRevision = latest
	return part, nil
}

// ListRevisions 获取零件的修订历史
func (s *PartService) ListRevisions(ctx context.Context, caller authz.Caller, partID string) ([]entity.PartRevision, error) {
	if err := authz.Require(caller, authz.PermPartRead); err != nil {
		return nil, authorizationError(err)
	}
	return s.parts.ListRevisions(s.store.Read(ctx), partID)
}

// ListParts 分页获取零件列表（含最新修订）
func (s *PartService) ListParts(ctx context.Context, caller authz.Caller, filter repository.PartFilter, page, pageSize int) (*PartListResult, error) {
	if err := authz.Require(caller, authz.PermPartRead); err != nil {
		return nil, authorizationError(err)
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}

	dbc := s.store.Read(ctx)
	parts, total, err := s.parts.ListParts(dbc, filter, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("list parts: %w", err)
	}
	if err := s.fillLatest(dbc, parts); err != nil {
		return nil, err
	}

	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}
	return &PartListResult{
		Items:      parts,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}

// CreateFamily 创建零件族，编码为大写字母开头的 1-8 位字母数字
func (s *PartService) CreateFamily(ctx context.Context, caller authz.Caller, input CreateFamilyInput) (*entity.PartFamily, error) {
	if err := authz.Require(caller, authz.PermFamilyCreate); err != nil {
		return nil, authorizationError(err)
	}
	code := strings.TrimSpace(input.Code)
	if !familyCodePattern.MatchString(code) {
		return nil, invalidError("invalid family code %q", input.Code)
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, invalidError("family name is required")
	}

	now := time.Now()
	family := &entity.PartFamily{
		ID:        uuid.New().String(),
		Code:      code,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.store.InTx(ctx, func(dbc dbctx.Context) error {
		if existing, err := s.families.FindByCode(dbc, code); err == nil {
			return conflictError("family code %s already used by %s", code, existing.Name)
		} else if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("find family: %w", err)
		}
		if err := s.families.Create(dbc, family); err != nil {
			return fmt.Errorf("create family: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("part family created", zap.String("code", code), zap.String("user_id", caller.UserID))
	return family, nil
}

// ListFamilies 获取全部零件族
func (s *PartService) ListFamilies(ctx context.Context, caller authz.Caller) ([]entity.PartFamily, error) {
	if err := authz.Require(caller, authz.PermFamilyRead, authz.PermPartRead); err != nil {
		return nil, authorizationError(err)
	}
	return s.families.List(s.store.Read(ctx))
}

var partExportHeaders = []string{"引用号", "基础编号", "版本", "名称", "零件族", "最新修订", "周期状态", "创建时间"}

// ExportParts 导出零件台账为xlsx
func (s *PartService) ExportParts(ctx context.Context, caller authz.Caller, filter repository.PartFilter) (*excelize.File, string, error) {
	if err := authz.Require(caller, authz.PermPartRead); err != nil {
		return nil, "", authorizationError(err)
	}

	dbc := s.store.Read(ctx)
	parts, _, err := s.parts.ListParts(dbc, filter, 1, 0)
	if err != nil {
		return nil, "", fmt.Errorf("list parts: %w", err)
	}
	if err := s.fillLatest(dbc, parts); err != nil {
		return nil, "", err
	}

	f := excelize.NewFile()
	sheet := "Parts"
	f.SetSheetName("Sheet1", sheet)

	// 表头样式: 加粗
	boldStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})

	for i, h := range partExportHeaders {
		col, _ := excelize.ColumnNumberToName(i + 1)
		cell := col + "1"
		f.SetCellValue(sheet, cell, h)
		f.SetCellStyle(sheet, cell, cell, boldStyle)
	}

	for rowIdx, part := range parts {
		row := rowIdx + 2
		baseRef, family := "", ""
		if part.Base != nil {
			baseRef = part.Base.BaseRef
			if part.Base.Family != nil {
				family = part.Base.Family.Code
			}
		}
		f.SetCellValue(sheet, fmt.Sprintf("A%d", row), part.Ref)
		f.SetCellValue(sheet, fmt.Sprintf("B%d", row), baseRef)
		f.SetCellValue(sheet, fmt.Sprintf("C%d", row), part.Version)
		f.SetCellValue(sheet, fmt.Sprintf("D%d", row), part.Designation)
		f.SetCellValue(sheet, fmt.Sprintf("E%d", row), family)
		if part.LatestRevision != nil {
			f.SetCellValue(sheet, fmt.Sprintf("F%d", row), part.LatestRevision.Revision)
			f.SetCellValue(sheet, fmt.Sprintf("G%d", row), part.LatestRevision.CycleState)
		}
		f.SetCellValue(sheet, fmt.Sprintf("H%d", row), part.CreatedAt.Format("2006-01-02 15:04"))
	}

	colWidths := []float64{16, 12, 8, 30, 10, 10, 10, 18}
	for i, w := range colWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheet, col, col, w)
	}

	filename := fmt.Sprintf("parts_%s.xlsx", time.Now().Format("20060102"))
	return f, filename, nil
}

func (s *PartService) fillLatest(dbc dbctx.Context, parts []entity.Part) error {
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		ids = append(ids, p.ID)
	}
	latest, err := s.parts.LatestRevisions(dbc, ids)
	if err != nil {
		return fmt.Errorf("load latest revisions: %w", err)
	}
	for i := range parts {
		parts[i].LatestRevision = latest[parts[i].ID]
	}
	return nil
}

func (s *PartService) afterCommit(ctx context.Context, caller authz.Caller, rev *entity.PartRevision, action string) {
	fields := []zap.Field{
		zap.String("action", action),
		zap.Int("revision", rev.Revision),
		zap.String("cycle", rev.CycleState),
		zap.String("user_id", caller.UserID),
	}
	if rev.Part != nil {
		fields = append(fields, zap.String("part", rev.Part.Ref))
	}
	s.logger.Info("part ledger updated", fields...)
	s.events.Dispatch(ctx, partEvent(rev, action, caller.UserID))
}
