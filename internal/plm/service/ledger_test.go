package service

import (
	"testing"

	"github.com/bitfantasy/nimo-change/internal/pkg/dbctx"
	"github.com/bitfantasy/nimo-change/internal/plm/entity"
	"github.com/bitfantasy/nimo-change/internal/plm/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_CreateNew(t *testing.T) {
	f := newFixture(t)
	family := testutil.SeedFamily(t, f.db, "F", "Fasteners", 0)

	rev, err := f.svc.Part.CreatePart(f.ctx, f.owner, CreatePartInput{FamilyID: family.ID, Version: "A", Designation: "Bolt"})
	require.NoError(t, err)

	assert.Equal(t, 1, rev.Revision)
	assert.Equal(t, entity.PartCycleEdition, rev.CycleState)
	assert.Nil(t, rev.ChangeRequestID)
	require.NotNil(t, rev.Part)
	assert.Equal(t, "F001.A", rev.Part.Ref)
	assert.Equal(t, "Bolt", rev.Part.Designation)
	assert.Equal(t, "F001", rev.Part.Base.BaseRef)
}

func TestLedger_CreateNewInvalidVersion(t *testing.T) {
	f := newFixture(t)
	family := testutil.SeedFamily(t, f.db, "F", "Fasteners", 0)

	for _, v := range []string{"", "a", "A1", "ABCDEFGHI"} {
		_, err := f.svc.Part.CreatePart(f.ctx, f.owner, CreatePartInput{FamilyID: family.ID, Version: v})
		requireKind(t, err, KindInvalid)
	}
	assert.Equal(t, 0, testutil.FamilyCounter(t, f.db, family.ID))
}

func TestLedger_ForkDuplicateVersion(t *testing.T) {
	f := newFixture(t)
	family := testutil.SeedFamily(t, f.db, "F", "Fasteners", 0)
	rev := f.releasedPart(t, family.ID, "A")

	_, err := f.svc.Part.ForkPart(f.ctx, f.owner, rev.PartID, ForkPartInput{Version: "A"})
	requireKind(t, err, KindConflict)
	assert.Contains(t, err.Error(), "F001.A")
	assert.Equal(t, int64(1), testutil.CountRows(t, f.db, &entity.Part{}, ""))
	assert.Equal(t, int64(1), testutil.CountRows(t, f.db, &entity.PartRevision{}, ""))
}

func TestLedger_ForkDefaultVersion(t *testing.T) {
	f := newFixture(t)
	family := testutil.SeedFamily(t, f.db, "F", "Fasteners", 0)
	rev := f.releasedPart(t, family.ID, "A")

	forked, err := f.svc.Part.ForkPart(f.ctx, f.owner, rev.PartID, ForkPartInput{})
	require.NoError(t, err)
	assert.Equal(t, "F001.B", forked.Part.Ref)
	assert.Equal(t, "Bracket", forked.Part.Designation)
	assert.Equal(t, 1, forked.Revision)

	forked, err = f.svc.Part.ForkPart(f.ctx, f.owner, rev.PartID, ForkPartInput{Designation: "Bracket, wide"})
	require.NoError(t, err)
	assert.Equal(t, "F001.C", forked.Part.Ref)
	assert.Equal(t, "Bracket, wide", forked.Part.Designation)

	// 基础编号不变，计数器只分配一次
	assert.Equal(t, 1, testutil.FamilyCounter(t, f.db, family.ID))
}

func TestLedger_DefaultForkVersionSkipsReserved(t *testing.T) {
	f := newFixture(t)
	family := testutil.SeedFamily(t, f.db, "F", "Fasteners", 0)
	rev := f.releasedPart(t, family.ID, "A")

	err := f.repos.Store.InTx(f.ctx, func(dbc dbctx.Context) error {
		v, err := f.svc.Change.ledger.DefaultForkVersion(dbc, rev.Part.BaseID, []string{"B", "C"})
		require.NoError(t, err)
		assert.Equal(t, "D", v)
		return nil
	})
	require.NoError(t, err)
}

func TestLedger_ReviseBlockedWhileEdition(t *testing.T) {
	f := newFixture(t)
	family := testutil.SeedFamily(t, f.db, "F", "Fasteners", 0)
	rev, err := f.svc.Part.CreatePart(f.ctx, f.owner, CreatePartInput{FamilyID: family.ID, Version: "A"})
	require.NoError(t, err)

	_, err = f.svc.Part.RevisePart(f.ctx, f.owner, rev.PartID, RevisePartInput{})
	requireKind(t, err, KindPrecondition)
	assert.Contains(t, err.Error(), "F001.A")
	assert.Equal(t, int64(1), testutil.CountRows(t, f.db, &entity.PartRevision{}, "part_id = ?", rev.PartID))
}

func TestLedger_ReviseAfterRelease(t *testing.T) {
	f := newFixture(t)
	family := testutil.SeedFamily(t, f.db, "F", "Fasteners", 0)
	rev := f.releasedPart(t, family.ID, "A")

	next, err := f.svc.Part.RevisePart(f.ctx, f.owner, rev.PartID, RevisePartInput{Designation: "Bracket v2"})
	require.NoError(t, err)
	assert.Equal(t, 2, next.Revision)
	assert.Equal(t, entity.PartCycleEdition, next.CycleState)
	assert.Equal(t, "Bracket v2", next.Designation)

	revs, err := f.svc.Part.ListRevisions(f.ctx, f.owner, rev.PartID)
	require.NoError(t, err)
	require.Len(t, revs, 2)
	assert.Equal(t, entity.PartCycleRelease, revs[0].CycleState)
}

func TestLedger_UpdateCycleSingleEdition(t *testing.T) {
	f := newFixture(t)
	family := testutil.SeedFamily(t, f.db, "F", "Fasteners", 0)
	rev := f.releasedPart(t, family.ID, "A")
	_, err := f.svc.Part.RevisePart(f.ctx, f.owner, rev.PartID, RevisePartInput{})
	require.NoError(t, err)

	_, err = f.svc.Part.UpdateRevisionCycle(f.ctx, f.owner, rev.ID, entity.PartCycleEdition)
	requireKind(t, err, KindPrecondition)

	_, err = f.svc.Part.UpdateRevisionCycle(f.ctx, f.owner, rev.ID, "frozen")
	requireKind(t, err, KindInvalid)

	_, err = f.svc.Part.UpdateRevisionCycle(f.ctx, f.owner, "missing", entity.PartCycleRelease)
	requireKind(t, err, KindNotFound)
}

func TestLedger_UpdateCycleOnlyLatestReturnsToEdition(t *testing.T) {
	f := newFixture(t)
	family := testutil.SeedFamily(t, f.db, "F", "Fasteners", 0)
	first := f.releasedPart(t, family.ID, "A")
	second, err := f.svc.Part.RevisePart(f.ctx, f.owner, first.PartID, RevisePartInput{})
	require.NoError(t, err)
	_, err = f.svc.Part.UpdateRevisionCycle(f.ctx, f.owner, second.ID, entity.PartCycleRelease)
	require.NoError(t, err)

	_, err = f.svc.Part.UpdateRevisionCycle(f.ctx, f.owner, first.ID, entity.PartCycleEdition)
	requireKind(t, err, KindPrecondition)
	assert.Contains(t, err.Error(), "edition")

	// 旧修订未被重新打开，Revise 只新增一个编辑中的修订
	_, err = f.svc.Part.RevisePart(f.ctx, f.owner, first.PartID, RevisePartInput{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), testutil.CountRows(t, f.db, &entity.PartRevision{},
		"part_id = ? AND cycle_state = ?", first.PartID, entity.PartCycleEdition))

	// 已有更新的修订，second 同样不能退回编辑
	_, err = f.svc.Part.UpdateRevisionCycle(f.ctx, f.owner, second.ID, entity.PartCycleEdition)
	requireKind(t, err, KindPrecondition)
}

func TestLedger_UpdateCycleLatestBackToEdition(t *testing.T) {
	f := newFixture(t)
	family := testutil.SeedFamily(t, f.db, "F", "Fasteners", 0)
	rev := f.releasedPart(t, family.ID, "A")

	rev, err := f.svc.Part.UpdateRevisionCycle(f.ctx, f.owner, rev.ID, entity.PartCycleEdition)
	require.NoError(t, err)
	assert.Equal(t, entity.PartCycleEdition, rev.CycleState)
	require.NotNil(t, rev.Part)
	assert.Equal(t, "F001.A", rev.Part.Ref)
}
