package handler

import (
	"github.com/bitfantasy/nimo-change/internal/plm/service"
	"github.com/gin-gonic/gin"
)

type UserHandler struct {
	svc *service.UserService
}

func NewUserHandler(svc *service.UserService) *UserHandler {
	return &UserHandler{svc: svc}
}

// List GET /users 可指定为审核人的用户
func (h *UserHandler) List(c *gin.Context) {
	users, err := h.svc.List(c.Request.Context(), GetCaller(c))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, gin.H{"items": users})
}
