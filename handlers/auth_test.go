package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cinema-svc/auth"
	"cinema-svc/config"
	"cinema-svc/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

var userColumns = []string{"id", "email", "hashed_password", "is_active", "group_name", "created_at", "updated_at"}

func setupAuthTest(t *testing.T) (*auth.Issuer, sqlmock.Sqlmock, *gin.Engine) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	issuer := auth.NewIssuer(config.Auth{JWTSecret: "test-secret", TokenTTL: time.Hour})
	logger := zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))
	handler := NewAuthHandler(sqlx.NewDb(db, "postgres"), issuer, logger)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/register", handler.Register)
	router.POST("/login", handler.Login)

	return issuer, mock, router
}

func postJSON(router http.Handler, path string, body any) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest("POST", path, bytes.NewBuffer(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAuthHandler_Register_Success(t *testing.T) {
	_, mock, router := setupAuthTest(t)
	now := time.Now()

	mock.ExpectQuery("INSERT INTO users").
		WithArgs("new@cinema.test", sqlmock.AnyArg(), "user").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "is_active", "created_at", "updated_at"}).
			AddRow(5, "new@cinema.test", true, now, now))

	w := postJSON(router, "/register", models.RegisterRequest{Email: "new@cinema.test", Password: "long-enough"})

	require.Equal(t, http.StatusCreated, w.Code)
	var user models.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &user))
	assert.Equal(t, int64(5), user.ID)
	assert.Equal(t, models.UserGroupUser, user.Group)
	assert.NotContains(t, w.Body.String(), "password")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuthHandler_Register_Duplicate(t *testing.T) {
	_, mock, router := setupAuthTest(t)

	mock.ExpectQuery("INSERT INTO users").WillReturnError(&pq.Error{Code: "23505"})

	w := postJSON(router, "/register", models.RegisterRequest{Email: "dup@cinema.test", Password: "long-enough"})

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuthHandler_Register_Validation(t *testing.T) {
	_, _, router := setupAuthTest(t)

	w := postJSON(router, "/register", models.RegisterRequest{Email: "not-an-email", Password: "long-enough"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postJSON(router, "/register", models.RegisterRequest{Email: "a@cinema.test", Password: "short"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthHandler_Login(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	require.NoError(t, err)
	now := time.Now()

	tests := []struct {
		name       string
		password   string
		active     bool
		dbErr      error
		wantStatus int
	}{
		{name: "valid credentials", password: "correct-horse", active: true, wantStatus: http.StatusOK},
		{name: "wrong password", password: "battery-staple", active: true, wantStatus: http.StatusUnauthorized},
		{name: "inactive account", password: "correct-horse", active: false, wantStatus: http.StatusForbidden},
		{name: "database failure", password: "correct-horse", dbErr: errors.New("connection refused"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issuer, mock, router := setupAuthTest(t)

			expect := mock.ExpectQuery("SELECT u.id, u.email, u.hashed_password").WithArgs("fan@cinema.test")
			if tt.dbErr != nil {
				expect.WillReturnError(tt.dbErr)
			} else {
				expect.WillReturnRows(sqlmock.NewRows(userColumns).
					AddRow(3, "fan@cinema.test", string(hash), tt.active, "moderator", now, now))
			}

			w := postJSON(router, "/login", models.LoginRequest{Email: "fan@cinema.test", Password: tt.password})
			require.Equal(t, tt.wantStatus, w.Code)

			if tt.wantStatus == http.StatusOK {
				var resp models.LoginResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.Equal(t, "bearer", resp.TokenType)

				claims, err := issuer.Parse(resp.AccessToken)
				require.NoError(t, err)
				id, err := claims.UserID()
				require.NoError(t, err)
				assert.Equal(t, int64(3), id)
				assert.Equal(t, models.UserGroupModerator, claims.Group)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestAuthHandler_Login_UnknownUser(t *testing.T) {
	_, mock, router := setupAuthTest(t)

	mock.ExpectQuery("SELECT u.id").WillReturnRows(sqlmock.NewRows(userColumns))

	w := postJSON(router, "/login", models.LoginRequest{Email: "ghost@cinema.test", Password: "whatever"})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
