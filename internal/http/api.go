package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"voicebridge/internal/registry"
	"voicebridge/internal/relay"
)

// Handler wires HTTP routes to the user registry and the relay proxy.
type Handler struct {
	users *registry.Registry
	proxy *relay.Proxy
}

func NewHandler(users *registry.Registry, proxy *relay.Proxy) *Handler {
	return &Handler{
		users: users,
		proxy: proxy,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())

	api := router.Group("/api")
	{
		api.POST("/users", h.createUser)
		api.GET("/users", h.listUsers)
		api.GET("/users/:username", h.getUser)
		api.PUT("/users/:username/email", h.updateUserEmail)
		api.DELETE("/users/:username", h.deleteUser)
		api.POST("/users/prune", h.pruneUsers)
		api.GET("/health", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
		})
	}

	router.GET("/ws", func(ctx *gin.Context) {
		h.proxy.Serve(ctx.Writer, ctx.Request)
	})
}

type createUserRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required"`
}

type updateEmailRequest struct {
	Email string `json:"email" binding:"required"`
}

type pruneRequest struct {
	InactiveDays *int `json:"inactiveDays" binding:"required"`
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (h *Handler) createUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.users.AddUser(req.Username, req.Email)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, user)
}

func (h *Handler) listUsers(c *gin.Context) {
	c.JSON(http.StatusOK, h.users.Users())
}

func (h *Handler) getUser(c *gin.Context) {
	user, ok := h.users.FindUser(c.Param("username"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) updateUserEmail(c *gin.Context) {
	var req updateEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.users.UpdateUserEmail(c.Param("username"), req.Email)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, user)
}

func (h *Handler) deleteUser(c *gin.Context) {
	user, err := h.users.RemoveUser(c.Param("username"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, user)
}

func (h *Handler) pruneUsers(c *gin.Context) {
	var req pruneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	removed, err := h.users.DeleteInactiveUsers(*req.InactiveDays)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// statusFor maps registry failure kinds onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrDuplicateUser):
		return http.StatusConflict
	case errors.Is(err, registry.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrInvalidEmail), errors.Is(err, registry.ErrInvalidArgument):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
