package service

import (
	"testing"

	"github.com/bitfantasy/nimo-change/internal/pkg/dbctx"
	"github.com/bitfantasy/nimo-change/internal/plm/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decisions(values ...entity.ApprovalDecisionValue) []entity.ApprovalDecision {
	out := make([]entity.ApprovalDecision, 0, len(values))
	for _, v := range values {
		out = append(out, entity.ApprovalDecision{Decision: v})
	}
	return out
}

func TestAggregate(t *testing.T) {
	const (
		p  = entity.DecisionPending
		ok = entity.DecisionApproved
		no = entity.DecisionRejected
		rs = entity.DecisionReserved
	)
	tests := []struct {
		name      string
		decisions []entity.ApprovalDecision
		want      entity.ApprovalState
	}{
		{"no assignees", nil, entity.ApprovalStateApproved},
		{"all approved", decisions(ok, ok), entity.ApprovalStateApproved},
		{"one pending", decisions(ok, p), entity.ApprovalStatePending},
		{"rejected first", decisions(no, ok), entity.ApprovalStateRejected},
		{"rejected last", decisions(ok, p, no), entity.ApprovalStateRejected},
		{"reserved blocks approval", decisions(ok, rs), entity.ApprovalStatePending},
		{"rejected beats reserved", decisions(rs, no), entity.ApprovalStateRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Aggregate(tt.decisions))
		})
	}
}

func TestApprovalSets_Lifecycle(t *testing.T) {
	f := newFixture(t)
	sets := f.svc.Approvals

	err := f.repos.Store.InTx(f.ctx, func(dbc dbctx.Context) error {
		set, err := sets.Create(dbc, entity.ApprovalSubjectChangeRequest, "subject-1", []string{"u-rita", "u-bob", "u-rita"})
		require.NoError(t, err)
		require.Len(t, set.Decisions, 2)
		assert.False(t, set.Open)

		// 关闭的集合不接受决定
		_, err = sets.Record(dbc, set, "u-rita", "Rita", entity.DecisionApproved, "")
		requireKind(t, err, KindState)

		require.NoError(t, sets.Reset(dbc, set))
		assert.True(t, set.Open)
		assert.Equal(t, 1, set.Round)

		d, err := sets.Record(dbc, set, "u-rita", "Rita", entity.DecisionApproved, "looks good")
		require.NoError(t, err)
		assert.Equal(t, entity.DecisionApproved, d.Decision)
		assert.NotNil(t, d.DecidedAt)
		assert.Equal(t, entity.ApprovalStatePending, set.State)

		_, err = sets.Record(dbc, set, "u-bob", "Bob", entity.DecisionRejected, "")
		require.NoError(t, err)
		assert.Equal(t, entity.ApprovalStateRejected, set.State)

		// 新一轮：归档并重置
		require.NoError(t, sets.Reset(dbc, set))
		assert.Equal(t, 2, set.Round)
		assert.Equal(t, entity.ApprovalStatePending, set.State)
		history, err := sets.repo.ListHistory(dbc, set.ID)
		require.NoError(t, err)
		assert.Len(t, history, 2)

		stored, err := sets.Get(dbc, entity.ApprovalSubjectChangeRequest, "subject-1")
		require.NoError(t, err)
		for _, d := range stored.Decisions {
			assert.Equal(t, entity.DecisionPending, d.Decision)
			assert.Equal(t, 2, d.Round)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestApprovalSets_RecordChecks(t *testing.T) {
	f := newFixture(t)
	sets := f.svc.Approvals

	err := f.repos.Store.InTx(f.ctx, func(dbc dbctx.Context) error {
		set, err := sets.Create(dbc, entity.ApprovalSubjectPartValidation, "subject-2", []string{"u-rita"})
		require.NoError(t, err)
		require.NoError(t, sets.Reset(dbc, set))

		_, err = sets.Record(dbc, set, "u-bob", "Bob", entity.DecisionApproved, "")
		requireKind(t, err, KindOwnership)
		assert.Contains(t, err.Error(), "Bob")

		_, err = sets.Record(dbc, set, "u-rita", "Rita", entity.DecisionPending, "")
		requireKind(t, err, KindInvalid)

		_, err = sets.Record(dbc, set, "u-rita", "Rita", "maybe", "")
		requireKind(t, err, KindInvalid)

		_, err = sets.Record(dbc, set, "u-rita", "Rita", entity.DecisionReserved, "need more data")
		require.NoError(t, err)
		assert.Equal(t, entity.ApprovalStatePending, set.State)

		require.NoError(t, sets.RemoveAssignees(dbc, set, []string{"u-rita", "u-nobody"}))
		assert.Empty(t, set.Decisions)
		assert.Equal(t, entity.ApprovalStateApproved, Aggregate(set.Decisions))

		require.NoError(t, sets.Close(dbc, set))
		assert.False(t, set.Open)
		return nil
	})
	require.NoError(t, err)
}
