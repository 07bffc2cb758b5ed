package repository

import (
	"time"

	"github.com/bitfantasy/nimo-change/internal/pkg/dbctx"
	"github.com/bitfantasy/nimo-change/internal/plm/entity"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ApprovalRepository 审批集合仓储
type ApprovalRepository struct {
	db *gorm.DB
}

// NewApprovalRepository 创建审批集合仓储
func NewApprovalRepository(db *gorm.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

// CreateSet 创建审批集合
func (r *ApprovalRepository) CreateSet(dbc dbctx.Context, set *entity.ApprovalSet) error {
	return dbc.DB(r.db).Omit("Decisions").Create(set).Error
}

func (r *ApprovalRepository) loadDecisions(dbc dbctx.Context, set *entity.ApprovalSet) error {
	return dbc.DB(r.db).
		Preload("Assignee").
		Where("approval_set_id = ?", set.ID).
		Order("sequence ASC").
		Find(&set.Decisions).Error
}

// FindBySubject 根据审批对象查找审批集合（含决定）
func (r *ApprovalRepository) FindBySubject(dbc dbctx.Context, subjectType entity.ApprovalSubject, subjectID string) (*entity.ApprovalSet, error) {
	var set entity.ApprovalSet
	err := dbc.DB(r.db).
		Where("subject_type = ? AND subject_id = ?", subjectType, subjectID).
		First(&set).Error
	if err != nil {
		return nil, notFound(err)
	}
	if err := r.loadDecisions(dbc, &set); err != nil {
		return nil, err
	}
	return &set, nil
}

// FindBySubjectForUpdate 查找审批集合并加行锁，串行化同一集合上的并发决定
func (r *ApprovalRepository) FindBySubjectForUpdate(dbc dbctx.Context, subjectType entity.ApprovalSubject, subjectID string) (*entity.ApprovalSet, error) {
	var set entity.ApprovalSet
	err := lockForUpdate(dbc.DB(r.db)).
		Where("subject_type = ? AND subject_id = ?", subjectType, subjectID).
		First(&set).Error
	if err != nil {
		return nil, notFound(err)
	}
	if err := r.loadDecisions(dbc, &set); err != nil {
		return nil, err
	}
	return &set, nil
}

// FindSetsBySubjects 批量查找审批集合（含决定）
func (r *ApprovalRepository) FindSetsBySubjects(dbc dbctx.Context, subjectType entity.ApprovalSubject, subjectIDs []string) (map[string]*entity.ApprovalSet, error) {
	result := make(map[string]*entity.ApprovalSet, len(subjectIDs))
	if len(subjectIDs) == 0 {
		return result, nil
	}
	var sets []entity.ApprovalSet
	err := dbc.DB(r.db).
		Preload("Decisions", func(db *gorm.DB) *gorm.DB { return db.Order("sequence ASC") }).
		Where("subject_type = ? AND subject_id IN ?", subjectType, subjectIDs).
		Find(&sets).Error
	if err != nil {
		return nil, err
	}
	for i := range sets {
		result[sets[i].SubjectID] = &sets[i]
	}
	return result, nil
}

// UpdateSet 更新审批集合的状态、轮次与开放标记
func (r *ApprovalRepository) UpdateSet(dbc dbctx.Context, set *entity.ApprovalSet) error {
	set.UpdatedAt = time.Now()
	return dbc.DB(r.db).
		Model(&entity.ApprovalSet{}).
		Where("id = ?", set.ID).
		Updates(map[string]interface{}{
			"state":      set.State,
			"round":      set.Round,
			"open":       set.Open,
			"updated_at": set.UpdatedAt,
		}).Error
}

// AddDecision 添加审核人
func (r *ApprovalRepository) AddDecision(dbc dbctx.Context, d *entity.ApprovalDecision) error {
	return dbc.DB(r.db).Omit("Assignee").Create(d).Error
}

// RemoveDecision 移除审核人，不存在时不报错
func (r *ApprovalRepository) RemoveDecision(dbc dbctx.Context, setID, assigneeID string) error {
	return dbc.DB(r.db).
		Where("approval_set_id = ? AND assignee_id = ?", setID, assigneeID).
		Delete(&entity.ApprovalDecision{}).Error
}

// SaveDecision 写入单个审核人的决定
func (r *ApprovalRepository) SaveDecision(dbc dbctx.Context, d *entity.ApprovalDecision) error {
	d.UpdatedAt = time.Now()
	return dbc.DB(r.db).
		Model(&entity.ApprovalDecision{}).
		Where("id = ?", d.ID).
		Updates(map[string]interface{}{
			"decision":   d.Decision,
			"comments":   d.Comments,
			"round":      d.Round,
			"decided_at": d.DecidedAt,
			"updated_at": d.UpdatedAt,
		}).Error
}

// ArchiveRound 将集合当前轮次的决定归档到历史
func (r *ApprovalRepository) ArchiveRound(dbc dbctx.Context, set *entity.ApprovalSet) error {
	if len(set.Decisions) == 0 {
		return nil
	}
	now := time.Now()
	histories := make([]entity.ApprovalDecisionHistory, 0, len(set.Decisions))
	for _, d := range set.Decisions {
		histories = append(histories, entity.ApprovalDecisionHistory{
			ID:            uuid.New().String(),
			ApprovalSetID: set.ID,
			AssigneeID:    d.AssigneeID,
			Decision:      d.Decision,
			Comments:      d.Comments,
			Round:         set.Round,
			DecidedAt:     d.DecidedAt,
			ArchivedAt:    now,
		})
	}
	return dbc.DB(r.db).Create(&histories).Error
}

// ResetDecisions 将集合内全部决定重置为待定并进入新轮次
func (r *ApprovalRepository) ResetDecisions(dbc dbctx.Context, setID string, round int) error {
	return dbc.DB(r.db).
		Model(&entity.ApprovalDecision{}).
		Where("approval_set_id = ?", setID).
		Updates(map[string]interface{}{
			"decision":   entity.DecisionPending,
			"comments":   "",
			"round":      round,
			"decided_at": nil,
			"updated_at": time.Now(),
		}).Error
}

// ListHistory 获取集合的历史轮次决定
func (r *ApprovalRepository) ListHistory(dbc dbctx.Context, setID string) ([]entity.ApprovalDecisionHistory, error) {
	var histories []entity.ApprovalDecisionHistory
	err := dbc.DB(r.db).
		Where("approval_set_id = ?", setID).
		Order("round ASC, archived_at ASC").
		Find(&histories).Error
	return histories, err
}
