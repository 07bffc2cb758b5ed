package repository

import (
	"github.com/bitfantasy/nimo-change/internal/pkg/dbctx"
	"github.com/bitfantasy/nimo-change/internal/plm/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserRepository 用户仓储
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository 创建用户仓储
func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByID 根据ID查找用户
func (r *UserRepository) FindByID(dbc dbctx.Context, id string) (*entity.User, error) {
	var user entity.User
	if err := dbc.DB(r.db).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// FindByIDs 批量查找用户
func (r *UserRepository) FindByIDs(dbc dbctx.Context, ids []string) ([]entity.User, error) {
	var users []entity.User
	if len(ids) == 0 {
		return users, nil
	}
	err := dbc.DB(r.db).Where("id IN ?", ids).Find(&users).Error
	return users, err
}

// Upsert 创建或更新用户显示信息
func (r *UserRepository) Upsert(dbc dbctx.Context, user *entity.User) error {
	return dbc.DB(r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "email", "updated_at"}),
	}).Create(user).Error
}

// List 获取用户列表
func (r *UserRepository) List(dbc dbctx.Context) ([]entity.User, error) {
	var users []entity.User
	err := dbc.DB(r.db).Order("name ASC").Find(&users).Error
	return users, err
}
