package handler

import (
	"strconv"

	"github.com/bitfantasy/nimo-change/internal/plm/authz"
	"github.com/bitfantasy/nimo-change/internal/plm/service"
	"github.com/bitfantasy/nimo-change/internal/plm/sse"
	"github.com/gin-gonic/gin"
)

// Handlers 处理器集合
type Handlers struct {
	Change     *ChangeRequestHandler
	Part       *PartHandler
	Validation *ValidationHandler
	User       *UserHandler
	SSE        *SSEHandler
}

// NewHandlers 创建处理器集合
func NewHandlers(svc *service.Services, hub *sse.Hub) *Handlers {
	return &Handlers{
		Change:     NewChangeRequestHandler(svc.Change),
		Part:       NewPartHandler(svc.Part),
		Validation: NewValidationHandler(svc.Validation),
		User:       NewUserHandler(svc.User),
		SSE:        NewSSEHandler(hub),
	}
}

// RegisterRoutes 注册 /api/v1 下需要认证的路由
func (h *Handlers) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/users", h.User.List)

	families := rg.Group("/families")
	families.GET("", h.Part.ListFamilies)
	families.POST("", h.Part.CreateFamily)

	parts := rg.Group("/parts")
	parts.GET("", h.Part.List)
	parts.POST("", h.Part.Create)
	parts.GET("/export", h.Part.Export)
	parts.GET("/:id", h.Part.Get)
	parts.GET("/:id/revisions", h.Part.ListRevisions)
	parts.POST("/:id/fork", h.Part.Fork)
	parts.POST("/:id/revise", h.Part.Revise)

	revisions := rg.Group("/revisions")
	revisions.PUT("/:id/cycle", h.Part.UpdateCycle)
	revisions.GET("/:id/validations", h.Validation.ListByRevision)
	revisions.POST("/:id/validations", h.Validation.Start)

	validations := rg.Group("/validations")
	validations.GET("/:id", h.Validation.Get)
	validations.POST("/:id/review", h.Validation.Review)
	validations.POST("/:id/close", h.Validation.Close)

	crs := rg.Group("/change-requests")
	crs.GET("", h.Change.List)
	crs.POST("", h.Change.Create)
	crs.GET("/my-pending", h.Change.ListMyPending)
	crs.GET("/:id", h.Change.Get)
	crs.PUT("/:id", h.Change.Update)
	crs.GET("/:id/history", h.Change.ListHistory)
	crs.POST("/:id/submit", h.Change.Submit)
	crs.POST("/:id/review", h.Change.Review)
	crs.POST("/:id/withdraw", h.Change.Withdraw)
	crs.POST("/:id/approve", h.Change.Approve)
	crs.POST("/:id/cancel", h.Change.Cancel)

	rg.GET("/events", h.SSE.Stream)
}

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ListResponse 列表响应结构
type ListResponse struct {
	Items      interface{} `json:"items"`
	Pagination *Pagination `json:"pagination"`
}

// Pagination 分页信息
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(200, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Created 创建成功响应
func Created(c *gin.Context, data interface{}) {
	c.JSON(201, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Error 错误响应，HTTP 状态码取 code 的前三位
func Error(c *gin.Context, code int, message string) {
	statusCode := code / 100
	if statusCode < 100 || statusCode > 599 {
		statusCode = 500
	}
	c.JSON(statusCode, Response{
		Code:    code,
		Message: message,
	})
}

// BadRequest 参数错误响应
func BadRequest(c *gin.Context, message string) {
	Error(c, 40000, message)
}

// Unauthorized 未授权响应
func Unauthorized(c *gin.Context, message string) {
	Error(c, 40100, message)
}

// Forbidden 禁止访问响应
func Forbidden(c *gin.Context, message string) {
	Error(c, 40300, message)
}

// NotFound 资源不存在响应
func NotFound(c *gin.Context, message string) {
	Error(c, 40400, message)
}

// InternalError 服务器错误响应
func InternalError(c *gin.Context, message string) {
	Error(c, 50000, message)
}

// 业务错误类别 → 响应码
var kindCodes = map[service.Kind]int{
	service.KindInvalid:            40000,
	service.KindAuthorization:      40300,
	service.KindOwnership:          40301,
	service.KindNotFound:           40400,
	service.KindState:              40900,
	service.KindConflict:           40901,
	service.KindExhaustion:         40902,
	service.KindPrecondition:       42200,
	service.KindApprovalIncomplete: 42201,
}

// ServiceError 按业务错误类别输出响应，未分类的错误挂到上下文由日志中间件记录并返回 500
func ServiceError(c *gin.Context, err error) {
	if code, ok := kindCodes[service.KindOf(err)]; ok {
		Error(c, code, err.Error())
		return
	}
	_ = c.Error(err)
	InternalError(c, "internal error")
}

// GetUserID 从上下文获取用户ID
func GetUserID(c *gin.Context) string {
	return c.GetString("user_id")
}

// GetCaller 从认证上下文构造调用方
func GetCaller(c *gin.Context) authz.Caller {
	caller := authz.Caller{UserID: GetUserID(c)}
	if perms, ok := c.Get("permissions"); ok {
		if list, ok := perms.([]string); ok {
			caller.Permissions = list
		}
	}
	return caller
}

// GetPagination 从请求获取分页参数
func GetPagination(c *gin.Context) (page, pageSize int) {
	page = 1
	pageSize = 20

	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}

	if ps := c.Query("page_size"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= 100 {
			pageSize = v
		}
	}

	return page, pageSize
}

// bindJSON 绑定请求体，失败时输出 400
func bindJSON(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		BadRequest(c, "Invalid request body: "+err.Error())
		return false
	}
	return true
}
