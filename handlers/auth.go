package handlers

import (
	"database/sql"
	"errors"
	"net/http"

	"cinema-svc/auth"
	"cinema-svc/database"
	"cinema-svc/middleware"
	"cinema-svc/models"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type AuthHandler struct {
	db     *sqlx.DB
	issuer *auth.Issuer
	logger *zap.Logger
}

func NewAuthHandler(db *sqlx.DB, issuer *auth.Issuer, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		db:     db,
		issuer: issuer,
		logger: logger,
	}
}

const insertUserQuery = `INSERT INTO users (email, hashed_password, group_id) ` +
	`SELECT $1, $2, id FROM user_groups WHERE name = $3 ` +
	`RETURNING id, email, is_active, created_at, updated_at`

const selectUserQuery = `SELECT u.id, u.email, u.hashed_password, u.is_active, g.name AS group_name, u.created_at, u.updated_at ` +
	`FROM users u JOIN user_groups g ON g.id = u.group_id WHERE u.email = $1`

// Register creates an active account in the user group.
func (h *AuthHandler) Register(c *gin.Context) {
	ctx := c.Request.Context()
	traceID := middleware.GetTraceID(ctx)

	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.logger.Error("Failed to hash password", zap.String("trace_id", traceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	user := models.User{Group: models.UserGroupUser}
	err = h.db.QueryRowxContext(ctx, insertUserQuery, req.Email, string(hashedPassword), string(user.Group)).
		Scan(&user.ID, &user.Email, &user.IsActive, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			c.JSON(http.StatusConflict, gin.H{"error": "User already exists"})
			return
		}
		h.logger.Error("Failed to create user", zap.String("trace_id", traceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	h.logger.Info("User registered", zap.String("trace_id", traceID), zap.Int64("user_id", user.ID))
	c.JSON(http.StatusCreated, user)
}

func (h *AuthHandler) Login(c *gin.Context) {
	ctx := c.Request.Context()
	traceID := middleware.GetTraceID(ctx)

	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var user models.User
	if err := h.db.GetContext(ctx, &user, selectUserQuery, req.Email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}
		h.logger.Error("Database error", zap.String("trace_id", traceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}
	if !user.IsActive {
		c.JSON(http.StatusForbidden, gin.H{"error": "Account is not active"})
		return
	}

	token, err := h.issuer.Issue(&user)
	if err != nil {
		h.logger.Error("Failed to issue token", zap.String("trace_id", traceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	h.logger.Info("User logged in", zap.String("trace_id", traceID), zap.Int64("user_id", user.ID))
	c.JSON(http.StatusOK, models.LoginResponse{AccessToken: token, TokenType: "bearer", User: user})
}
