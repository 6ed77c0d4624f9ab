package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mariantrack/backend/internal/identity"
	"github.com/mariantrack/backend/internal/models"
	"github.com/mariantrack/backend/pkg/database"
	"github.com/mariantrack/backend/pkg/response"
	"github.com/mariantrack/backend/pkg/utils"
)

// SelfRegistrationRoles are the roles a new account may ask for.
var SelfRegistrationRoles = []models.Role{models.RoleIncubatee, models.RolePortfolioManager, models.RoleTBIAssistant}

// UserStore is the user persistence used by the handler.
type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, p CreateUserParams) (*models.User, error)
	List(ctx context.Context, f models.UserFilter) ([]models.UserPublic, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, p ProfileUpdate) (*models.User, error)
}

// Invalidator drops cached identities.
type Invalidator interface {
	Invalidate(ids ...uuid.UUID)
}

// RegistrationListener is told about every new pending account.
type RegistrationListener interface {
	UserRegistered(ctx context.Context, u *models.User)
}

// RegisterRequest is the body for POST /auth/register.
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name" binding:"required"`
	Lastname string `json:"lastname"`
	Mobile   string `json:"mobile"`
	Role     string `json:"role"` // optional, defaults to Incubatee
}

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// UpdateProfileRequest is the body for PATCH /me.
type UpdateProfileRequest struct {
	Name        *string             `json:"name"`
	Lastname    *string             `json:"lastname"`
	Mobile      *string             `json:"mobile"`
	SocialLinks *models.SocialLinks `json:"social_links"`
}

// TokenResponse is the auth response with JWT.
type TokenResponse struct {
	Token string            `json:"token"`
	User  models.UserPublic `json:"user"`
}

// RegisterResponse is returned for a new pending account.
type RegisterResponse struct {
	User    models.UserPublic `json:"user"`
	Message string            `json:"message"`
}

// Handler handles auth and directory HTTP endpoints.
type Handler struct {
	users    UserStore
	jwt      *JWTService
	cache    Invalidator
	listener RegistrationListener
	logger   *zap.Logger
}

// NewHandler creates an auth handler. listener may be nil.
func NewHandler(users UserStore, jwt *JWTService, cache Invalidator, listener RegistrationListener, logger *zap.Logger) *Handler {
	return &Handler{users: users, jwt: jwt, cache: cache, listener: listener, logger: logger}
}

// Register handles POST /auth/register.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		response.BadRequest(c, "name is required")
		return
	}
	if len(req.Password) < utils.MinPasswordLength {
		response.BadRequest(c, "password must be at least 8 characters")
		return
	}

	role := models.RoleIncubatee
	if req.Role != "" {
		role = models.Role(req.Role)
		if !allowedSelfRole(role) {
			response.BadRequest(c, "invalid role")
			return
		}
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		response.Internal(c, "failed to hash password")
		return
	}

	user, err := h.users.Create(c.Request.Context(), CreateUserParams{
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash: hash,
		Name:         req.Name,
		Lastname:     strings.TrimSpace(req.Lastname),
		Mobile:       strings.TrimSpace(req.Mobile),
		Role:         role,
		Status:       models.StatusPending,
	})
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			response.Conflict(c, "email already registered")
			return
		}
		h.logger.Error("create user failed", zap.Error(err))
		response.Internal(c, "failed to create user")
		return
	}

	if h.listener != nil {
		h.listener.UserRegistered(context.WithoutCancel(c.Request.Context()), user)
	}

	response.Created(c, RegisterResponse{User: user.ToPublic(), Message: "registration submitted, awaiting approval"})
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	user, err := h.users.GetByEmail(c.Request.Context(), strings.TrimSpace(req.Email))
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			h.logger.Error("login lookup failed", zap.Error(err))
		}
		response.Unauthorized(c, "invalid email or password")
		return
	}

	if !utils.CheckPassword(req.Password, user.Password) {
		response.Unauthorized(c, "invalid email or password")
		return
	}
	if user.Status != models.StatusApproved {
		response.Forbidden(c, "account awaiting approval")
		return
	}

	token, err := h.jwt.Generate(user)
	if err != nil {
		response.Internal(c, "failed to generate token")
		return
	}

	h.cache.Invalidate(user.ID)
	response.OK(c, TokenResponse{Token: token, User: user.ToPublic()})
}

// Logout handles POST /auth/logout. Tokens are stateless, so this only drops the cached identity.
func (h *Handler) Logout(c *gin.Context) {
	if id, ok := identity.UserID(c); ok {
		h.cache.Invalidate(id)
	}
	response.OK(c, gin.H{"logged_out": true})
}

// Me handles GET /me. Pending accounts may call it.
func (h *Handler) Me(c *gin.Context) {
	id, ok := identity.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	user, err := h.users.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			response.NotFound(c, "user not found")
			return
		}
		h.logger.Error("get current user failed", zap.Error(err))
		response.Internal(c, "failed to get user")
		return
	}
	response.OK(c, user.ToPublic())
}

// UpdateProfile handles PATCH /me.
func (h *Handler) UpdateProfile(c *gin.Context) {
	id, ok := identity.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			response.BadRequest(c, "name cannot be empty")
			return
		}
		req.Name = &name
	}

	user, err := h.users.UpdateProfile(c.Request.Context(), id, ProfileUpdate{
		Name:        req.Name,
		Lastname:    req.Lastname,
		Mobile:      req.Mobile,
		SocialLinks: req.SocialLinks,
	})
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			response.NotFound(c, "user not found")
			return
		}
		h.logger.Error("update profile failed", zap.Error(err))
		response.Internal(c, "failed to update profile")
		return
	}
	h.cache.Invalidate(id)
	response.OK(c, user.ToPublic())
}

// List handles GET /users?status=&role=&unassigned=true for admins and portfolio managers.
func (h *Handler) List(c *gin.Context) {
	var f models.UserFilter
	switch s := c.Query("status"); s {
	case "":
		f.Status = models.StatusApproved
	case string(models.StatusPending), string(models.StatusApproved):
		f.Status = models.UserStatus(s)
	default:
		response.BadRequest(c, "invalid status")
		return
	}
	for _, r := range c.QueryArray("role") {
		role := models.Role(r)
		if !role.Valid() {
			response.BadRequest(c, "invalid role: "+r)
			return
		}
		f.Roles = append(f.Roles, role)
	}
	if c.Query("unassigned") == "true" {
		f.Unassigned = true
		if len(f.Roles) == 0 {
			f.Roles = []models.Role{models.RoleIncubatee}
		}
	}

	list, err := h.users.List(c.Request.Context(), f)
	if err != nil {
		h.logger.Error("list users failed", zap.Error(err))
		response.Internal(c, "failed to list users")
		return
	}
	response.OK(c, list)
}

func allowedSelfRole(r models.Role) bool {
	for _, allowed := range SelfRegistrationRoles {
		if r == allowed {
			return true
		}
	}
	return false
}
