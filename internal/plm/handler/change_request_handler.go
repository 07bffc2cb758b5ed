package handler

import (
	"github.com/bitfantasy/nimo-change/internal/plm/repository"
	"github.com/bitfantasy/nimo-change/internal/plm/service"
	"github.com/gin-gonic/gin"
)

// ChangeRequestHandler 变更请求处理器
type ChangeRequestHandler struct {
	svc *service.ChangeService
}

func NewChangeRequestHandler(svc *service.ChangeService) *ChangeRequestHandler {
	return &ChangeRequestHandler{svc: svc}
}

// List GET /change-requests?cycle=&created_by=&keyword=
func (h *ChangeRequestHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)
	filter := repository.ChangeRequestFilter{
		Cycle:     c.Query("cycle"),
		CreatedBy: c.Query("created_by"),
		Keyword:   c.Query("keyword"),
	}

	result, err := h.svc.List(c.Request.Context(), GetCaller(c), filter, page, pageSize)
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

// ListMyPending GET /change-requests/my-pending
func (h *ChangeRequestHandler) ListMyPending(c *gin.Context) {
	items, err := h.svc.ListMyPending(c.Request.Context(), GetCaller(c))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, gin.H{"items": items})
}

// Create POST /change-requests
func (h *ChangeRequestHandler) Create(c *gin.Context) {
	var input service.CreateChangeRequestInput
	if !bindJSON(c, &input) {
		return
	}

	cr, err := h.svc.Create(c.Request.Context(), GetCaller(c), input)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Created(c, cr)
}

// Get GET /change-requests/:id
func (h *ChangeRequestHandler) Get(c *gin.Context) {
	cr, err := h.svc.Get(c.Request.Context(), GetCaller(c), c.Param("id"))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, cr)
}

// Update PUT /change-requests/:id
func (h *ChangeRequestHandler) Update(c *gin.Context) {
	var input service.UpdateChangeRequestInput
	if !bindJSON(c, &input) {
		return
	}

	cr, err := h.svc.Update(c.Request.Context(), GetCaller(c), c.Param("id"), input)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, cr)
}

// ListHistory GET /change-requests/:id/history
func (h *ChangeRequestHandler) ListHistory(c *gin.Context) {
	items, err := h.svc.ListHistory(c.Request.Context(), GetCaller(c), c.Param("id"))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, gin.H{"items": items})
}

// Submit POST /change-requests/:id/submit
func (h *ChangeRequestHandler) Submit(c *gin.Context) {
	cr, err := h.svc.Submit(c.Request.Context(), GetCaller(c), c.Param("id"))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, cr)
}

// Review POST /change-requests/:id/review
func (h *ChangeRequestHandler) Review(c *gin.Context) {
	var input service.ReviewInput
	if !bindJSON(c, &input) {
		return
	}

	decision, err := h.svc.Review(c.Request.Context(), GetCaller(c), c.Param("id"), input)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, decision)
}

// Withdraw POST /change-requests/:id/withdraw
func (h *ChangeRequestHandler) Withdraw(c *gin.Context) {
	cr, err := h.svc.Withdraw(c.Request.Context(), GetCaller(c), c.Param("id"))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, cr)
}

// Approve POST /change-requests/:id/approve
func (h *ChangeRequestHandler) Approve(c *gin.Context) {
	cr, err := h.svc.Approve(c.Request.Context(), GetCaller(c), c.Param("id"))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, cr)
}

// Cancel POST /change-requests/:id/cancel
func (h *ChangeRequestHandler) Cancel(c *gin.Context) {
	cr, err := h.svc.Cancel(c.Request.Context(), GetCaller(c), c.Param("id"))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, cr)
}
