package entity

// Models 需要迁移的全部实体
func Models() []interface{} {
	return []interface{}{
		&User{},
		&PartFamily{},
		&PartBase{},
		&Part{},
		&PartRevision{},
		&Sequence{},
		&ChangeRequest{},
		&ChangePartCreation{},
		&ChangePartFork{},
		&ChangePartRevision{},
		&ChangeRequestHistory{},
		&ApprovalSet{},
		&ApprovalDecision{},
		&ApprovalDecisionHistory{},
		&PartValidation{},
	}
}
