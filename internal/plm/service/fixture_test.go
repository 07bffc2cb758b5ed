package service

import (
	"context"
	"testing"

	"github.com/bitfantasy/nimo-change/internal/plm/authz"
	"github.com/bitfantasy/nimo-change/internal/plm/entity"
	"github.com/bitfantasy/nimo-change/internal/plm/repository"
	"github.com/bitfantasy/nimo-change/internal/plm/testutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	ctx     context.Context
	db      *gorm.DB
	repos   *repository.Repositories
	svc     *Services
	metrics *Metrics

	owner    authz.Caller
	reviewer authz.Caller
	other    authz.Caller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db)
	metrics := NewMetrics(prometheus.NewRegistry())

	testutil.SeedTestUser(t, db, "u-alice", "Alice")
	testutil.SeedTestUser(t, db, "u-rita", "Rita")
	testutil.SeedTestUser(t, db, "u-bob", "Bob")

	return &fixture{
		ctx:   context.Background(),
		db:    db,
		repos: repos,
		svc: NewServices(repos, ServiceConfig{
			PLM:     testutil.TestPLMConfig(),
			Metrics: metrics,
		}),
		metrics:  metrics,
		owner:    testutil.Caller("u-alice", authz.PermAll),
		reviewer: testutil.Caller("u-rita", authz.PermAll),
		other:    testutil.Caller("u-bob", authz.PermAll),
	}
}

// releasedPart 创建零件并发布修订 1
func (f *fixture) releasedPart(t *testing.T, familyID, version string) *entity.PartRevision {
	t.Helper()
	rev, err := f.svc.Part.CreatePart(f.ctx, f.owner, CreatePartInput{FamilyID: familyID, Version: version, Designation: "Bracket"})
	require.NoError(t, err)
	rev, err = f.svc.Part.UpdateRevisionCycle(f.ctx, f.owner, rev.ID, entity.PartCycleRelease)
	require.NoError(t, err)
	return rev
}

// submitted 创建带一个审核人的变更请求并提交评审
func (f *fixture) submitted(t *testing.T, input CreateChangeRequestInput) *entity.ChangeRequest {
	t.Helper()
	if input.ReviewerIDs == nil {
		input.ReviewerIDs = []string{f.reviewer.UserID}
	}
	cr, err := f.svc.Change.Create(f.ctx, f.owner, input)
	require.NoError(t, err)
	cr, err = f.svc.Change.Submit(f.ctx, f.owner, cr.ID)
	require.NoError(t, err)
	require.Equal(t, entity.ChangeCycleEvaluation, cr.Cycle)
	return cr
}

func requireKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	require.Error(t, err)
	require.Truef(t, IsKind(err, kind), "expected %s error, got %v", kind, err)
}
