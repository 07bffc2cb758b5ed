package service

import (
	"github.com/bitfantasy/nimo-change/internal/plm/entity"
)

// ChangeOp 变更请求操作
type ChangeOp string

const (
	OpUpdate   ChangeOp = "update"
	OpSubmit   ChangeOp = "submit"
	OpReview   ChangeOp = "review"
	OpWithdraw ChangeOp = "withdraw"
	OpApprove  ChangeOp = "approve"
	OpCancel   ChangeOp = "cancel"
)

// changeTransitions 状态 × 操作 → 目标状态，表中没有的组合即非法
var changeTransitions = map[entity.ChangeRequestCycle]map[ChangeOp]entity.ChangeRequestCycle{
	entity.ChangeCyclePreparation: {
		OpUpdate: entity.ChangeCyclePreparation,
		OpSubmit: entity.ChangeCycleEvaluation,
		OpCancel: entity.ChangeCycleCancelled,
	},
	entity.ChangeCycleEvaluation: {
		OpReview:   entity.ChangeCycleEvaluation,
		OpWithdraw: entity.ChangeCyclePreparation,
		OpApprove:  entity.ChangeCycleEngineering,
		OpCancel:   entity.ChangeCycleCancelled,
	},
}

// NextCycle 查询转换表，非法时返回指明当前状态的 State 错误
func NextCycle(from entity.ChangeRequestCycle, op ChangeOp) (entity.ChangeRequestCycle, error) {
	if to, ok := changeTransitions[from][op]; ok {
		return to, nil
	}
	return from, stateError(from, string(op)+" change request")
}
