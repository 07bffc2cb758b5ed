package handler

import (
	"github.com/bitfantasy/nimo-change/internal/plm/service"
	"github.com/gin-gonic/gin"
)

// ValidationHandler 零件验证处理器
type ValidationHandler struct {
	svc *service.ValidationService
}

func NewValidationHandler(svc *service.ValidationService) *ValidationHandler {
	return &ValidationHandler{svc: svc}
}

// Start POST /revisions/:id/validations
func (h *ValidationHandler) Start(c *gin.Context) {
	var input service.StartValidationInput
	if !bindJSON(c, &input) {
		return
	}

	v, err := h.svc.Start(c.Request.Context(), GetCaller(c), c.Param("id"), input)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Created(c, v)
}

// ListByRevision GET /revisions/:id/validations
func (h *ValidationHandler) ListByRevision(c *gin.Context) {
	items, err := h.svc.ListByRevision(c.Request.Context(), GetCaller(c), c.Param("id"))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, gin.H{"items": items})
}

// Get GET /validations/:id
func (h *ValidationHandler) Get(c *gin.Context) {
	v, err := h.svc.Get(c.Request.Context(), GetCaller(c), c.Param("id"))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, v)
}

// Review POST /validations/:id/review
func (h *ValidationHandler) Review(c *gin.Context) {
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

// Close POST /validations/:id/close
func (h *ValidationHandler) Close(c *gin.Context) {
	var input service.CloseValidationInput
	if !bindJSON(c, &input) {
		return
	}

	v, err := h.svc.Close(c.Request.Context(), GetCaller(c), c.Param("id"), input)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, v)
}
