package repository

import (
	"github.com/bitfantasy/nimo-change/internal/pkg/dbctx"
	"github.com/bitfantasy/nimo-change/internal/plm/entity"
	"gorm.io/gorm"
)

// ValidationRepository 零件验证仓储
type ValidationRepository struct {
	db *gorm.DB
}

// NewValidationRepository 创建零件验证仓储
func NewValidationRepository(db *gorm.DB) *ValidationRepository {
	return &ValidationRepository{db: db}
}

// Create 创建零件验证
func (r *ValidationRepository) Create(dbc dbctx.Context, v *entity.PartValidation) error {
	return dbc.DB(r.db).Omit("PartRevision").Create(v).Error
}

// FindByID 根据ID查找零件验证
func (r *ValidationRepository) FindByID(dbc dbctx.Context, id string) (*entity.PartValidation, error) {
	var v entity.PartValidation
	err := dbc.DB(r.db).
		Preload("PartRevision").
		Preload("PartRevision.Part").
		Where("id = ?", id).
		First(&v).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &v, nil
}

// FindByIDForUpdate 查找零件验证并加行锁
func (r *ValidationRepository) FindByIDForUpdate(dbc dbctx.Context, id string) (*entity.PartValidation, error) {
	var v entity.PartValidation
	if err := lockForUpdate(dbc.DB(r.db)).Where("id = ?", id).First(&v).Error; err != nil {
		return nil, notFound(err)
	}
	return r.FindByID(dbc, id)
}

// FindOpenByRevision 查找修订上进行中的验证
func (r *ValidationRepository) FindOpenByRevision(dbc dbctx.Context, revisionID string) (*entity.PartValidation, error) {
	var v entity.PartValidation
	err := dbc.DB(r.db).
		Where("part_revision_id = ? AND state = ?", revisionID, entity.ValidationStateOpen).
		First(&v).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &v, nil
}

// ListByRevision 获取修订的全部验证
func (r *ValidationRepository) ListByRevision(dbc dbctx.Context, revisionID string) ([]entity.PartValidation, error) {
	var items []entity.PartValidation
	err := dbc.DB(r.db).
		Where("part_revision_id = ?", revisionID).
		Order("created_at DESC").
		Find(&items).Error
	return items, err
}

// Close 关闭验证并记录结论
func (r *ValidationRepository) Close(dbc dbctx.Context, v *entity.PartValidation) error {
	return dbc.DB(r.db).
		Model(&entity.PartValidation{}).
		Where("id = ?", v.ID).
		Updates(map[string]interface{}{
			"state":      v.State,
			"result":     v.Result,
			"comments":   v.Comments,
			"closed_at":  v.ClosedAt,
			"updated_at": v.UpdatedAt,
		}).Error
}
