package repository

import (
	"time"

	"github.com/bitfantasy/nimo-change/internal/pkg/dbctx"
	"github.com/bitfantasy/nimo-change/internal/plm/entity"
	"gorm.io/gorm"
)

// ChangeRequestRepository 变更请求仓储
type ChangeRequestRepository struct {
	db *gorm.DB
}

// NewChangeRequestRepository 创建变更请求仓储
func NewChangeRequestRepository(db *gorm.DB) *ChangeRequestRepository {
	return &ChangeRequestRepository{db: db}
}

// Create 创建变更请求
func (r *ChangeRequestRepository) Create(dbc dbctx.Context, cr *entity.ChangeRequest) error {
	return dbc.DB(r.db).Omit("Creator", "PartCreations", "PartForks", "PartRevisions").Create(cr).Error
}

func (r *ChangeRequestRepository) preloadBatch(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Creator").
		Preload("PartCreations", func(db *gorm.DB) *gorm.DB { return db.Order("sequence ASC") }).
		Preload("PartCreations.Family").
		Preload("PartForks", func(db *gorm.DB) *gorm.DB { return db.Order("sequence ASC") }).
		Preload("PartForks.Part").
		Preload("PartForks.Part.Base").
		Preload("PartRevisions", func(db *gorm.DB) *gorm.DB { return db.Order("sequence ASC") }).
		Preload("PartRevisions.Part")
}

// FindByID 根据ID查找变更请求（含待提交批次）
func (r *ChangeRequestRepository) FindByID(dbc dbctx.Context, id string) (*entity.ChangeRequest, error) {
	var cr entity.ChangeRequest
	if err := r.preloadBatch(dbc.DB(r.db)).Where("id = ?", id).First(&cr).Error; err != nil {
		return nil, notFound(err)
	}
	return &cr, nil
}

// FindByIDForUpdate 查找变更请求并加行锁
func (r *ChangeRequestRepository) FindByIDForUpdate(dbc dbctx.Context, id string) (*entity.ChangeRequest, error) {
	var cr entity.ChangeRequest
	if err := lockForUpdate(dbc.DB(r.db)).Where("id = ?", id).First(&cr).Error; err != nil {
		return nil, notFound(err)
	}
	return r.FindByID(dbc, id)
}

// UpdateCycle 更新生命周期状态
func (r *ChangeRequestRepository) UpdateCycle(dbc dbctx.Context, id string, cycle entity.ChangeRequestCycle) error {
	return dbc.DB(r.db).
		Model(&entity.ChangeRequest{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"cycle":      cycle,
			"updated_at": time.Now(),
		}).Error
}

// UpdateDescription 更新描述
func (r *ChangeRequestRepository) UpdateDescription(dbc dbctx.Context, id, description string) error {
	return dbc.DB(r.db).
		Model(&entity.ChangeRequest{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"description": description,
			"updated_at":  time.Now(),
		}).Error
}

// Touch 更新修改时间
func (r *ChangeRequestRepository) Touch(dbc dbctx.Context, id string) error {
	return dbc.DB(r.db).
		Model(&entity.ChangeRequest{}).
		Where("id = ?", id).
		Update("updated_at", time.Now()).Error
}

// AddCreation 添加待创建零件
func (r *ChangeRequestRepository) AddCreation(dbc dbctx.Context, item *entity.ChangePartCreation) error {
	return dbc.DB(r.db).Omit("Family").Create(item).Error
}

// RemoveCreation 移除待创建零件，不存在时不报错
func (r *ChangeRequestRepository) RemoveCreation(dbc dbctx.Context, requestID, id string) error {
	return dbc.DB(r.db).Where("request_id = ? AND id = ?", requestID, id).Delete(&entity.ChangePartCreation{}).Error
}

// AddFork 添加待派生零件
func (r *ChangeRequestRepository) AddFork(dbc dbctx.Context, item *entity.ChangePartFork) error {
	return dbc.DB(r.db).Omit("Part").Create(item).Error
}

// RemoveFork 移除待派生零件，不存在时不报错
func (r *ChangeRequestRepository) RemoveFork(dbc dbctx.Context, requestID, id string) error {
	return dbc.DB(r.db).Where("request_id = ? AND id = ?", requestID, id).Delete(&entity.ChangePartFork{}).Error
}

// AddRevision 添加待修订零件
func (r *ChangeRequestRepository) AddRevision(dbc dbctx.Context, item *entity.ChangePartRevision) error {
	return dbc.DB(r.db).Omit("Part").Create(item).Error
}

// RemoveRevision 移除待修订零件，不存在时不报错
func (r *ChangeRequestRepository) RemoveRevision(dbc dbctx.Context, requestID, id string) error {
	return dbc.DB(r.db).Where("request_id = ? AND id = ?", requestID, id).Delete(&entity.ChangePartRevision{}).Error
}

// AddHistory 添加操作历史
func (r *ChangeRequestRepository) AddHistory(dbc dbctx.Context, h *entity.ChangeRequestHistory) error {
	return dbc.DB(r.db).Omit("User").Create(h).Error
}

// ListHistory 获取操作历史
func (r *ChangeRequestRepository) ListHistory(dbc dbctx.Context, requestID string) ([]entity.ChangeRequestHistory, error) {
	var histories []entity.ChangeRequestHistory
	err := dbc.DB(r.db).
		Preload("User").
		Where("request_id = ?", requestID).
		Order("created_at ASC").
		Find(&histories).Error
	return histories, err
}

// ChangeRequestFilter 列表过滤条件
type ChangeRequestFilter struct {
	Cycle     string
	CreatedBy string
	Keyword   string
}

// List 分页获取变更请求列表
func (r *ChangeRequestRepository) List(dbc dbctx.Context, filter ChangeRequestFilter, page, pageSize int) ([]entity.ChangeRequest, int64, error) {
	var items []entity.ChangeRequest
	var total int64

	query := dbc.DB(r.db).Model(&entity.ChangeRequest{})
	if filter.Cycle != "" {
		query = query.Where("cycle = ?", filter.Cycle)
	}
	if filter.CreatedBy != "" {
		query = query.Where("created_by = ?", filter.CreatedBy)
	}
	if filter.Keyword != "" {
		like := "%" + filter.Keyword + "%"
		query = query.Where("name LIKE ? OR description LIKE ?", like, like)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.
		Preload("Creator").
		Order("created_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&items).Error
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// ListPendingForAssignee 获取待某审核人决定的评审中变更请求
func (r *ChangeRequestRepository) ListPendingForAssignee(dbc dbctx.Context, userID string) ([]entity.ChangeRequest, error) {
	var items []entity.ChangeRequest
	err := dbc.DB(r.db).
		Joins("JOIN approval_sets ON approval_sets.subject_id = change_requests.id AND approval_sets.subject_type = ?", entity.ApprovalSubjectChangeRequest).
		Joins("JOIN approval_decisions ON approval_decisions.approval_set_id = approval_sets.id").
		Where("change_requests.cycle = ? AND approval_sets.open = ? AND approval_decisions.assignee_id = ? AND approval_decisions.decision = ?",
			entity.ChangeCycleEvaluation, true, userID, entity.DecisionPending).
		Preload("Creator").
		Order("change_requests.created_at DESC").
		Find(&items).Error
	return items, err
}
