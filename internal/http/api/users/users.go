// Package users exposes the current principal and superuser provisioning endpoints.
package users

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/SchoolAuth/internal/auth"
	"github.com/router-for-me/SchoolAuth/internal/http/middleware"
	"github.com/router-for-me/SchoolAuth/internal/models"
	"github.com/router-for-me/SchoolAuth/internal/security"
	"github.com/router-for-me/SchoolAuth/internal/store"
)

// RegisterRoutes mounts /users endpoints under group.
func RegisterRoutes(group *gin.RouterGroup, gate *auth.Gate, users *store.Users) {
	h := NewHandler(users)
	usersGroup := group.Group("/users")
	usersGroup.Use(middleware.Authenticate(gate))
	usersGroup.GET("/me", h.Me)

	admin := usersGroup.Group("")
	admin.Use(middleware.Require(auth.RequireSuperuser()))
	admin.GET("/", h.List)
	admin.POST("/", h.Create)
	admin.GET("/:roll_number", h.Get)
	admin.PUT("/:roll_number", h.Update)
	admin.DELETE("/:roll_number", h.Delete)
}

// Handler serves the /users endpoints.
type Handler struct {
	users *store.Users
}

// NewHandler constructs a Handler.
func NewHandler(users *store.Users) *Handler {
	return &Handler{users: users}
}

// Me returns the authenticated principal.
func (h *Handler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, middleware.CurrentPrincipal(c))
}

// List returns principals filtered by q and role with offset pagination.
func (h *Handler) List(c *gin.Context) {
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if offset < 0 {
		offset = 0
	}
	list, total, errList := h.users.List(c.Request.Context(), store.UserFilter{
		Query:  c.Query("q"),
		Role:   c.Query("role"),
		Offset: offset,
		Limit:  limit,
	})
	if errList != nil {
		middleware.RespondError(c, errList)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list, "count": total})
}

type createUserRequest struct {
	RollNumber  string `json:"roll_number"`
	Email       string `json:"email"`
	FullName    string `json:"full_name"`
	Password    string `json:"password"`
	Role        string `json:"role"`
	IsSuperuser bool   `json:"is_superuser"`
	IsActive    *bool  `json:"is_active"`
}

// Create provisions a new principal.
func (h *Handler) Create(c *gin.Context) {
	var body createUserRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		middleware.RespondBadRequest(c, "invalid json")
		return
	}
	rollNumber := strings.TrimSpace(body.RollNumber)
	if rollNumber == "" {
		middleware.RespondBadRequest(c, "missing roll_number")
		return
	}
	if body.Password == "" {
		middleware.RespondBadRequest(c, "missing password")
		return
	}
	role := strings.TrimSpace(body.Role)
	if role == "" {
		role = models.RoleStudent
	}
	if !models.ValidRole(role) {
		middleware.RespondBadRequest(c, "invalid role")
		return
	}

	hash, errHash := security.HashPassword(body.Password)
	if errHash != nil {
		middleware.RespondError(c, errHash)
		return
	}
	user := &models.User{
		RollNumber:  rollNumber,
		FullName:    strings.TrimSpace(body.FullName),
		Password:    hash,
		Role:        role,
		IsSuperuser: body.IsSuperuser,
		Active:      body.IsActive == nil || *body.IsActive,
	}
	if email := strings.TrimSpace(body.Email); email != "" {
		user.Email = &email
	}
	if errCreate := h.users.Create(c.Request.Context(), user); errCreate != nil {
		if errors.Is(errCreate, store.ErrConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": "Conflict", "detail": "a user with this roll number or email already exists"})
			return
		}
		middleware.RespondError(c, errCreate)
		return
	}
	c.JSON(http.StatusCreated, user)
}

// Get returns one principal by roll number.
func (h *Handler) Get(c *gin.Context) {
	user, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, user)
}

type updateUserRequest struct {
	Email       *string `json:"email"`
	FullName    *string `json:"full_name"`
	Password    *string `json:"password"`
	Role        *string `json:"role"`
	IsSuperuser *bool   `json:"is_superuser"`
	IsActive    *bool   `json:"is_active"`
}

// Update applies a partial update to a principal.
func (h *Handler) Update(c *gin.Context) {
	user, ok := h.load(c)
	if !ok {
		return
	}
	var body updateUserRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		middleware.RespondBadRequest(c, "invalid json")
		return
	}

	updates := map[string]any{}
	if body.Email != nil {
		updates["email"] = *body.Email
	}
	if body.FullName != nil {
		updates["full_name"] = strings.TrimSpace(*body.FullName)
	}
	if body.Role != nil {
		role := strings.TrimSpace(*body.Role)
		if !models.ValidRole(role) {
			middleware.RespondBadRequest(c, "invalid role")
			return
		}
		updates["role"] = role
	}
	if body.IsSuperuser != nil {
		updates["is_superuser"] = *body.IsSuperuser
	}
	if body.IsActive != nil {
		if !*body.IsActive && user.ID == middleware.CurrentPrincipal(c).ID {
			middleware.RespondError(c, errSelfDisable)
			return
		}
		updates["active"] = *body.IsActive
	}
	if body.Password != nil {
		if *body.Password == "" {
			middleware.RespondBadRequest(c, "empty password")
			return
		}
		hash, errHash := security.HashPassword(*body.Password)
		if errHash != nil {
			middleware.RespondError(c, errHash)
			return
		}
		updates["password"] = hash
	}
	if len(updates) == 0 {
		c.JSON(http.StatusOK, user)
		return
	}

	updated, errUpdate := h.users.Update(c.Request.Context(), user.ID, updates)
	if errUpdate != nil {
		if errors.Is(errUpdate, store.ErrConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": "Conflict", "detail": "a user with this email already exists"})
			return
		}
		middleware.RespondError(c, errUpdate)
		return
	}
	c.JSON(http.StatusOK, updated)
}

var errSelfDisable = &auth.Error{Kind: auth.ErrForbidden.Kind, Status: http.StatusForbidden, Detail: "superusers cannot disable themselves"}

// Delete deactivates a principal. The row is kept.
func (h *Handler) Delete(c *gin.Context) {
	user, ok := h.load(c)
	if !ok {
		return
	}
	if user.ID == middleware.CurrentPrincipal(c).ID {
		middleware.RespondError(c, errSelfDisable)
		return
	}
	if errDisable := h.users.SetActive(c.Request.Context(), user.ID, false); errDisable != nil {
		middleware.RespondError(c, errDisable)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "detail": "user deactivated"})
}

func (h *Handler) load(c *gin.Context) (*models.User, bool) {
	user, errFind := h.users.FindByRollNumber(c.Request.Context(), strings.TrimSpace(c.Param("roll_number")))
	if errFind != nil {
		if errors.Is(errFind, store.ErrNotFound) {
			middleware.RespondError(c, auth.ErrUserNotFound)
			return nil, false
		}
		middleware.RespondError(c, errFind)
		return nil, false
	}
	return user, true
}
