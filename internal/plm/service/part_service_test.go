package service

import (
	"testing"

	"github.com/bitfantasy/nimo-change/internal/plm/authz"
	"github.com/bitfantasy/nimo-change/internal/plm/entity"
	"github.com/bitfantasy/nimo-change/internal/plm/repository"
	"github.com/bitfantasy/nimo-change/internal/plm/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartService_Permissions(t *testing.T) {
	f := newFixture(t)
	family := testutil.SeedFamily(t, f.db, "F", "Fasteners", 0)
	rev := f.releasedPart(t, family.ID, "A")

	reader := testutil.Caller("u-bob", authz.PermPartRead)
	_, err := f.svc.Part.CreatePart(f.ctx, reader, CreatePartInput{FamilyID: family.ID, Version: "A"})
	requireKind(t, err, KindAuthorization)
	assert.Contains(t, err.Error(), "part.create")

	_, err = f.svc.Part.UpdateRevisionCycle(f.ctx, reader, rev.ID, entity.PartCycleEdition)
	requireKind(t, err, KindAuthorization)

	reviser := testutil.Caller("u-bob", authz.PermPartRevise)
	next, err := f.svc.Part.RevisePart(f.ctx, reviser, rev.PartID, RevisePartInput{})
	require.NoError(t, err)
	assert.Equal(t, 2, next.Revision)

	_, err = f.svc.Part.GetPart(f.ctx, reviser, rev.PartID)
	requireKind(t, err, KindAuthorization)
}

func TestPartService_ReviseStrictPermission(t *testing.T) {
	f := newFixture(t)
	cfg := testutil.TestPLMConfig()
	cfg.ReviseAcceptsPartRevise = false
	svc := NewServices(f.repos, ServiceConfig{PLM: cfg})
	family := testutil.SeedFamily(t, f.db, "F", "Fasteners", 0)
	rev := f.releasedPart(t, family.ID, "A")

	_, err := svc.Part.RevisePart(f.ctx, testutil.Caller("u-bob", authz.PermPartRevise), rev.PartID, RevisePartInput{})
	requireKind(t, err, KindAuthorization)
	assert.Contains(t, err.Error(), "part.create")

	_, err = svc.Part.RevisePart(f.ctx, testutil.Caller("u-bob", authz.PermPartCreate), rev.PartID, RevisePartInput{})
	require.NoError(t, err)
}

func TestPartService_Families(t *testing.T) {
	f := newFixture(t)

	family, err := f.svc.Part.CreateFamily(f.ctx, f.owner, CreateFamilyInput{Code: "BRK", Name: "Brackets"})
	require.NoError(t, err)
	assert.Equal(t, 0, family.Counter)

	_, err = f.svc.Part.CreateFamily(f.ctx, f.owner, CreateFamilyInput{Code: "BRK", Name: "Other"})
	requireKind(t, err, KindConflict)
	assert.Contains(t, err.Error(), "Brackets")

	for _, code := range []string{"", "brk", "1AB", "TOOLONGCODE"} {
		_, err = f.svc.Part.CreateFamily(f.ctx, f.owner, CreateFamilyInput{Code: code, Name: "x"})
		requireKind(t, err, KindInvalid)
	}

	families, err := f.svc.Part.ListFamilies(f.ctx, testutil.Caller("u-bob", authz.PermFamilyRead))
	require.NoError(t, err)
	require.Len(t, families, 1)

	rev, err := f.svc.Part.CreatePart(f.ctx, f.owner, CreatePartInput{FamilyID: family.ID, Version: "01"})
	require.NoError(t, err)
	assert.Equal(t, "BRK001.01", rev.Part.Ref)
}

func TestPartService_ListAndGet(t *testing.T) {
	f := newFixture(t)
	fasteners := testutil.SeedFamily(t, f.db, "F", "Fasteners", 0)
	gears := testutil.SeedFamily(t, f.db, "G", "Gears", 0)
	bolt := f.releasedPart(t, fasteners.ID, "A")
	_, err := f.svc.Part.RevisePart(f.ctx, f.owner, bolt.PartID, RevisePartInput{})
	require.NoError(t, err)
	_, err = f.svc.Part.CreatePart(f.ctx, f.owner, CreatePartInput{FamilyID: gears.ID, Version: "A", Designation: "Spur gear"})
	require.NoError(t, err)

	all, err := f.svc.Part.ListParts(f.ctx, f.owner, repository.PartFilter{}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), all.Total)
	require.Len(t, all.Items, 2)
	assert.Equal(t, "F001.A", all.Items[0].Ref)
	require.NotNil(t, all.Items[0].LatestRevision)
	assert.Equal(t, 2, all.Items[0].LatestRevision.Revision)

	onlyGears, err := f.svc.Part.ListParts(f.ctx, f.owner, repository.PartFilter{FamilyID: gears.ID}, 1, 10)
	require.NoError(t, err)
	require.Len(t, onlyGears.Items, 1)
	assert.Equal(t, "G001.A", onlyGears.Items[0].Ref)

	found, err := f.svc.Part.ListParts(f.ctx, f.owner, repository.PartFilter{Keyword: "Spur"}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), found.Total)

	part, err := f.svc.Part.GetPart(f.ctx, f.owner, bolt.PartID)
	require.NoError(t, err)
	assert.Equal(t, "F001", part.Base.BaseRef)
	assert.Equal(t, entity.PartCycleEdition, part.LatestRevision.CycleState)

	_, err = f.svc.Part.GetPart(f.ctx, f.owner, "missing")
	requireKind(t, err, KindNotFound)
}

func TestPartService_ExportParts(t *testing.T) {
	f := newFixture(t)
	family := testutil.SeedFamily(t, f.db, "F", "Fasteners", 0)
	f.releasedPart(t, family.ID, "A")

	file, filename, err := f.svc.Part.ExportParts(f.ctx, f.owner, repository.PartFilter{})
	require.NoError(t, err)
	defer file.Close()
	assert.Contains(t, filename, "parts_")

	header, err := file.GetCellValue("Parts", "A1")
	require.NoError(t, err)
	assert.Equal(t, "引用号", header)

	ref, err := file.GetCellValue("Parts", "A2")
	require.NoError(t, err)
	assert.Equal(t, "F001.A", ref)

	family2, err := file.GetCellValue("Parts", "E2")
	require.NoError(t, err)
	assert.Equal(t, "F", family2)

	cycle, err := file.GetCellValue("Parts", "G2")
	require.NoError(t, err)
	assert.Equal(t, entity.PartCycleRelease, cycle)

	_, _, err = f.svc.Part.ExportParts(f.ctx, testutil.Caller("u-bob"), repository.PartFilter{})
	requireKind(t, err, KindAuthorization)
}
