package repository

import (
	"time"

	"github.com/bitfantasy/nimo-change/internal/pkg/dbctx"
	"github.com/bitfantasy/nimo-change/internal/plm/entity"
	"gorm.io/gorm"
)

// PartRepository 零件仓储（基础标识、版本、修订）
type PartRepository struct {
	db *gorm.DB
}

// NewPartRepository 创建零件仓储
func NewPartRepository(db *gorm.DB) *PartRepository {
	return &PartRepository{db: db}
}

// CreateBase 创建零件基础标识
func (r *PartRepository) CreateBase(dbc dbctx.Context, base *entity.PartBase) error {
	return dbc.DB(r.db).Create(base).Error
}

// CreatePart 创建零件版本
func (r *PartRepository) CreatePart(dbc dbctx.Context, part *entity.Part) error {
	return dbc.DB(r.db).Create(part).Error
}

// CreateRevision 创建零件修订
func (r *PartRepository) CreateRevision(dbc dbctx.Context, rev *entity.PartRevision) error {
	return dbc.DB(r.db).Create(rev).Error
}

// FindPart 根据ID查找零件
func (r *PartRepository) FindPart(dbc dbctx.Context, id string) (*entity.Part, error) {
	var part entity.Part
	err := dbc.DB(r.db).
		Preload("Base").
		Where("id = ?", id).
		First(&part).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &part, nil
}

// FindPartForUpdate 查找零件并加行锁，用于串行化同一零件的修订
func (r *PartRepository) FindPartForUpdate(dbc dbctx.Context, id string) (*entity.Part, error) {
	var part entity.Part
	if err := lockForUpdate(dbc.DB(r.db)).Where("id = ?", id).First(&part).Error; err != nil {
		return nil, notFound(err)
	}
	var base entity.PartBase
	if err := dbc.DB(r.db).Where("id = ?", part.BaseID).First(&base).Error; err != nil {
		return nil, notFound(err)
	}
	part.Base = &base
	return &part, nil
}

// FindPartByRef 根据引用号查找零件
func (r *PartRepository) FindPartByRef(dbc dbctx.Context, ref string) (*entity.Part, error) {
	var part entity.Part
	err := dbc.DB(r.db).
		Preload("Base").
		Where("ref = ?", ref).
		First(&part).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &part, nil
}

// FindPartByVersion 查找基础标识下指定版本的零件
func (r *PartRepository) FindPartByVersion(dbc dbctx.Context, baseID, version string) (*entity.Part, error) {
	var part entity.Part
	err := dbc.DB(r.db).
		Where("base_id = ? AND version = ?", baseID, version).
		First(&part).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &part, nil
}

// ListBaseVersions 获取基础标识下的全部版本（按创建顺序）
func (r *PartRepository) ListBaseVersions(dbc dbctx.Context, baseID string) ([]entity.Part, error) {
	var parts []entity.Part
	err := dbc.DB(r.db).
		Where("base_id = ?", baseID).
		Order("created_at ASC, version ASC").
		Find(&parts).Error
	return parts, err
}

// LatestRevision 获取零件的最新修订
func (r *PartRepository) LatestRevision(dbc dbctx.Context, partID string) (*entity.PartRevision, error) {
	var rev entity.PartRevision
	err := dbc.DB(r.db).
		Where("part_id = ?", partID).
		Order("revision DESC").
		First(&rev).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &rev, nil
}

// LatestRevisions 批量获取零件的最新修订，按零件ID索引
func (r *PartRepository) LatestRevisions(dbc dbctx.Context, partIDs []string) (map[string]*entity.PartRevision, error) {
	result := make(map[string]*entity.PartRevision, len(partIDs))
	if len(partIDs) == 0 {
		return result, nil
	}
	var revs []entity.PartRevision
	err := dbc.DB(r.db).
		Where("part_id IN ?", partIDs).
		Order("revision ASC").
		Find(&revs).Error
	if err != nil {
		return nil, err
	}
	for i := range revs {
		result[revs[i].PartID] = &revs[i]
	}
	return result, nil
}

// ListRevisions 获取零件的全部修订
func (r *PartRepository) ListRevisions(dbc dbctx.Context, partID string) ([]entity.PartRevision, error) {
	var revs []entity.PartRevision
	err := dbc.DB(r.db).
		Where("part_id = ?", partID).
		Order("revision ASC").
		Find(&revs).Error
	return revs, err
}

// FindRevision 根据ID查找修订
func (r *PartRepository) FindRevision(dbc dbctx.Context, id string) (*entity.PartRevision, error) {
	var rev entity.PartRevision
	err := dbc.DB(r.db).
		Preload("Part").
		Where("id = ?", id).
		First(&rev).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &rev, nil
}

// UpdateRevisionCycle 更新修订周期状态
func (r *PartRepository) UpdateRevisionCycle(dbc dbctx.Context, id, cycle string) error {
	result := dbc.DB(r.db).
		Model(&entity.PartRevision{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"cycle_state": cycle,
			"updated_at":  time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRevisionsByChangeRequest 获取变更请求提交产生的修订
func (r *PartRepository) ListRevisionsByChangeRequest(dbc dbctx.Context, changeRequestID string) ([]entity.PartRevision, error) {
	var revs []entity.PartRevision
	err := dbc.DB(r.db).
		Preload("Part").
		Where("change_request_id = ?", changeRequestID).
		Order("created_at ASC").
		Find(&revs).Error
	return revs, err
}

// PartFilter 零件列表过滤条件
type PartFilter struct {
	FamilyID string
	BaseID   string
	Keyword  string
}

// ListParts 分页获取零件列表
func (r *PartRepository) ListParts(dbc dbctx.Context, filter PartFilter, page, pageSize int) ([]entity.Part, int64, error) {
	var parts []entity.Part
	var total int64

	query := dbc.DB(r.db).Model(&entity.Part{})
	if filter.FamilyID != "" {
		query = query.Joins("JOIN part_bases ON part_bases.id = parts.base_id").
			Where("part_bases.family_id = ?", filter.FamilyID)
	}
	if filter.BaseID != "" {
		query = query.Where("parts.base_id = ?", filter.BaseID)
	}
	if filter.Keyword != "" {
		like := "%" + filter.Keyword + "%"
		query = query.Where("parts.ref LIKE ? OR parts.designation LIKE ?", like, like)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if pageSize > 0 {
		query = query.Offset((page - 1) * pageSize).Limit(pageSize)
	}
	err := query.
		Preload("Base").
		Preload("Base.Family").
		Order("parts.ref ASC").
		Find(&parts).Error
	if err != nil {
		return nil, 0, err
	}
	return parts, total, nil
}
