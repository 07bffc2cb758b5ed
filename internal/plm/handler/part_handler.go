package handler

import (
	"github.com/bitfantasy/nimo-change/internal/plm/repository"
	"github.com/bitfantasy/nimo-change/internal/plm/service"
	"github.com/gin-gonic/gin"
)

// PartHandler 零件与零件族处理器
type PartHandler struct {
	svc *service.PartService
}

func NewPartHandler(svc *service.PartService) *PartHandler {
	return &PartHandler{svc: svc}
}

func partFilter(c *gin.Context) repository.PartFilter {
	return repository.PartFilter{
		FamilyID: c.Query("family_id"),
		BaseID:   c.Query("base_id"),
		Keyword:  c.Query("keyword"),
	}
}

// List GET /parts?family_id=&base_id=&keyword=
func (h *PartHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)
	result, err := h.svc.ListParts(c.Request.Context(), GetCaller(c), partFilter(c), page, pageSize)
	if err != nil {
		ServiceError(c, err)
		return
	}

	Success(c, ListResponse{
		Items: result.Items,
		Pagination: &Pagination{
			Page:       result.Page,
			PageSize:   result.PageSize,
			Total:      result.Total,
			TotalPages: result.TotalPages,
		},
	})
}

// Create POST /parts
func (h *PartHandler) Create(c *gin.Context) {
	var input service.CreatePartInput
	if !bindJSON(c, &input) {
		return
	}

	rev, err := h.svc.CreatePart(c.Request.Context(), GetCaller(c), input)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Created(c, rev)
}

// Get GET /parts/:id
func (h *PartHandler) Get(c *gin.Context) {
	part, err := h.svc.GetPart(c.Request.Context(), GetCaller(c), c.Param("id"))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, part)
}

// ListRevisions GET /parts/:id/revisions
func (h *PartHandler) ListRevisions(c *gin.Context) {
	revs, err := h.svc.ListRevisions(c.Request.Context(), GetCaller(c), c.Param("id"))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, gin.H{"items": revs})
}

// Fork POST /parts/:id/fork
func (h *PartHandler) Fork(c *gin.Context) {
	var input service.ForkPartInput
	if !bindJSON(c, &input) {
		return
	}

	rev, err := h.svc.ForkPart(c.Request.Context(), GetCaller(c), c.Param("id"), input)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Created(c, rev)
}

// Revise POST /parts/:id/revise
func (h *PartHandler) Revise(c *gin.Context) {
	var input service.RevisePartInput
	if !bindJSON(c, &input) {
		return
	}

	rev, err := h.svc.RevisePart(c.Request.Context(), GetCaller(c), c.Param("id"), input)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Created(c, rev)
}

// UpdateCycle PUT /revisions/:id/cycle
func (h *PartHandler) UpdateCycle(c *gin.Context) {
	var input struct {
		Cycle string `json:"cycle" binding:"required"`
	}
	if !bindJSON(c, &input) {
		return
	}

	rev, err := h.svc.UpdateRevisionCycle(c.Request.Context(), GetCaller(c), c.Param("id"), input.Cycle)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, rev)
}

// Export GET /parts/export 导出零件台账
func (h *PartHandler) Export(c *gin.Context) {
	f, filename, err := h.svc.ExportParts(c.Request.Context(), GetCaller(c), partFilter(c))
	if err != nil {
		ServiceError(c, err)
		return
	}
	defer f.Close()

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", "attachment; filename="+filename)
	if err := f.Write(c.Writer); err != nil {
		_ = c.Error(err)
	}
}

// ListFamilies GET /families
func (h *PartHandler) ListFamilies(c *gin.Context) {
	families, err := h.svc.ListFamilies(c.Request.Context(), GetCaller(c))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, gin.H{"items": families})
}

// CreateFamily POST /families
func (h *PartHandler) CreateFamily(c *gin.Context) {
	var input service.CreateFamilyInput
	if !bindJSON(c, &input) {
		return
	}

	family, err := h.svc.CreateFamily(c.Request.Context(), GetCaller(c), input)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Created(c, family)
}
