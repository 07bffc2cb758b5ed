package service

import (
	"fmt"
	"sort"

	"github.com/bitfantasy/nimo-change/internal/pkg/dbctx"
	"github.com/bitfantasy/nimo-change/internal/plm/entity"
)

// CommitResult 提交产出的修订
type CommitResult struct {
	Created []entity.PartRevision
	Revised []entity.PartRevision
	// Families 每次分配编号对应的族编码
	Families []string
}

// CommitExecutor 将变更请求的待提交批次写入零件台账
type CommitExecutor struct {
	ledger *Ledger
}

// NewCommitExecutor 创建提交执行器
func NewCommitExecutor(ledger *Ledger) *CommitExecutor {
	return &CommitExecutor{ledger: ledger}
}

// Execute 按创建、派生、修订的顺序（各自按 sequence）执行批次
// 必须在批准操作的事务内调用，任一步失败整个事务回滚
func (e *CommitExecutor) Execute(dbc dbctx.Context, cr *entity.ChangeRequest, userID string) (*CommitResult, error) {
	result := &CommitResult{}
	crID := cr.ID

	creations := append([]entity.ChangePartCreation(nil), cr.PartCreations...)
	sort.SliceStable(creations, func(i, j int) bool { return creations[i].Sequence < creations[j].Sequence })
	for _, c := range creations {
		rev, err := e.ledger.CreateNew(dbc, userID, c.FamilyID, c.Version, c.Designation, &crID)
		if err != nil {
			return nil, fmt.Errorf("commit %s: part creation #%d: %w", cr.Name, c.Sequence, err)
		}
		result.record(rev)
		if rev.Part != nil && rev.Part.Base != nil && rev.Part.Base.Family != nil {
			result.Families = append(result.Families, rev.Part.Base.Family.Code)
		}
	}

	forks := append([]entity.ChangePartFork(nil), cr.PartForks...)
	sort.SliceStable(forks, func(i, j int) bool { return forks[i].Sequence < forks[j].Sequence })
	for _, f := range forks {
		rev, err := e.ledger.Fork(dbc, userID, f.PartID, f.Version, f.Designation, &crID)
		if err != nil {
			return nil, fmt.Errorf("commit %s: part fork #%d: %w", cr.Name, f.Sequence, err)
		}
		result.record(rev)
	}

	revisions := append([]entity.ChangePartRevision(nil), cr.PartRevisions...)
	sort.SliceStable(revisions, func(i, j int) bool { return revisions[i].Sequence < revisions[j].Sequence })
	for _, r := range revisions {
		rev, err := e.ledger.Revise(dbc, userID, r.PartID, r.Designation, &crID)
		if err != nil {
			return nil, fmt.Errorf("commit %s: part revision #%d: %w", cr.Name, r.Sequence, err)
		}
		result.record(rev)
	}

	return result, nil
}

func (r *CommitResult) record(rev *entity.PartRevision) {
	if rev.Revision == 1 {
		r.Created = append(r.Created, *rev)
	} else {
		r.Revised = append(r.Revised, *rev)
	}
}
