package service

import (
	"testing"

	"github.com/bitfantasy/nimo-change/internal/plm/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextCycle(t *testing.T) {
	allowed := []struct {
		from entity.ChangeRequestCycle
		op   ChangeOp
		to   entity.ChangeRequestCycle
	}{
		{entity.ChangeCyclePreparation, OpUpdate, entity.ChangeCyclePreparation},
		{entity.ChangeCyclePreparation, OpSubmit, entity.ChangeCycleEvaluation},
		{entity.ChangeCyclePreparation, OpCancel, entity.ChangeCycleCancelled},
		{entity.ChangeCycleEvaluation, OpReview, entity.ChangeCycleEvaluation},
		{entity.ChangeCycleEvaluation, OpWithdraw, entity.ChangeCyclePreparation},
		{entity.ChangeCycleEvaluation, OpApprove, entity.ChangeCycleEngineering},
		{entity.ChangeCycleEvaluation, OpCancel, entity.ChangeCycleCancelled},
	}
	for _, tc := range allowed {
		to, err := NextCycle(tc.from, tc.op)
		require.NoError(t, err, "%s from %s", tc.op, tc.from)
		assert.Equal(t, tc.to, to)
	}

	ops := []ChangeOp{OpUpdate, OpSubmit, OpReview, OpWithdraw, OpApprove, OpCancel}
	for _, from := range []entity.ChangeRequestCycle{entity.ChangeCycleEngineering, entity.ChangeCycleCancelled} {
		for _, op := range ops {
			_, err := NextCycle(from, op)
			require.Error(t, err)
			assert.True(t, IsKind(err, KindState))
			assert.Contains(t, err.Error(), string(from))
		}
	}

	_, err := NextCycle(entity.ChangeCyclePreparation, OpApprove)
	assert.True(t, IsKind(err, KindState))
	assert.Contains(t, err.Error(), "preparation")

	_, err = NextCycle(entity.ChangeCycleEvaluation, OpUpdate)
	assert.Contains(t, err.Error(), "evaluation")
}
