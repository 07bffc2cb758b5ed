package repository

import (
	"time"

	"github.com/bitfantasy/nimo-change/internal/pkg/dbctx"
	"github.com/bitfantasy/nimo-change/internal/plm/entity"
	"gorm.io/gorm"
)

// FamilyRepository 零件族仓储
type FamilyRepository struct {
	db *gorm.DB
}

// NewFamilyRepository 创建零件族仓储
func NewFamilyRepository(db *gorm.DB) *FamilyRepository {
	return &FamilyRepository{db: db}
}

// Create 创建零件族
func (r *FamilyRepository) Create(dbc dbctx.Context, family *entity.PartFamily) error {
	return dbc.DB(r.db).Create(family).Error
}

// FindByID 根据ID查找零件族
func (r *FamilyRepository) FindByID(dbc dbctx.Context, id string) (*entity.PartFamily, error) {
	var family entity.PartFamily
	if err := dbc.DB(r.db).Where("id = ?", id).First(&family).Error; err != nil {
		return nil, notFound(err)
	}
	return &family, nil
}

// FindByCode 根据编码查找零件族
func (r *FamilyRepository) FindByCode(dbc dbctx.Context, code string) (*entity.PartFamily, error) {
	var family entity.PartFamily
	if err := dbc.DB(r.db).Where("code = ?", code).First(&family).Error; err != nil {
		return nil, notFound(err)
	}
	return &family, nil
}

// List 获取全部零件族
func (r *FamilyRepository) List(dbc dbctx.Context) ([]entity.PartFamily, error) {
	var families []entity.PartFamily
	err := dbc.DB(r.db).Order("code ASC").Find(&families).Error
	return families, err
}

// IncrementCounter 原子递增计数器并返回递增后的零件族
// 计数器已达 max 时返回 ErrCounterExhausted，不做任何修改
func (r *FamilyRepository) IncrementCounter(dbc dbctx.Context, id string, max int) (*entity.PartFamily, error) {
	db := dbc.DB(r.db)
	result := db.Model(&entity.PartFamily{}).
		Where("id = ? AND counter < ?", id, max).
		Updates(map[string]interface{}{
			"counter":    gorm.Expr("counter + 1"),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.FindByID(dbc, id); err != nil {
			return nil, err
		}
		return nil, ErrCounterExhausted
	}
	return r.FindByID(dbc, id)
}
