package repository

import (
	"github.com/bitfantasy/nimo-change/internal/pkg/dbctx"
	"github.com/bitfantasy/nimo-change/internal/plm/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SequenceRepository 命名序列仓储
type SequenceRepository struct {
	db *gorm.DB
}

// NewSequenceRepository 创建序列仓储
func NewSequenceRepository(db *gorm.DB) *SequenceRepository {
	return &SequenceRepository{db: db}
}

// Next 原子获取序列的下一个值（从1开始）
func (r *SequenceRepository) Next(dbc dbctx.Context, name string) (int64, error) {
	db := dbc.DB(r.db)
	seq := entity.Sequence{Name: name}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&seq).Error; err != nil {
		return 0, err
	}
	if err := db.Model(&entity.Sequence{}).
		Where("name = ?", name).
		Update("value", gorm.Expr("value + 1")).Error; err != nil {
		return 0, err
	}
	if err := db.Where("name = ?", name).First(&seq).Error; err != nil {
		return 0, notFound(err)
	}
	return seq.Value, nil
}
