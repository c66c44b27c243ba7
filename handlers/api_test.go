package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cinema-svc/auth"
	"cinema-svc/config"
	"cinema-svc/ledger"
	"cinema-svc/memstore"
	"cinema-svc/middleware"
	"cinema-svc/models"
	"cinema-svc/reconciler"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

const gatewayToken = "gw-secret"

type fakeCatalog map[int64]models.Movie

func (f fakeCatalog) CurrentPrice(ctx context.Context, movieID int64) (decimal.Decimal, error) {
	movie, ok := f[movieID]
	if !ok {
		return decimal.Zero, models.ErrMovieNotFound
	}
	return movie.Price, nil
}

func (f fakeCatalog) GetMovie(ctx context.Context, movieID int64) (*models.Movie, error) {
	movie, ok := f[movieID]
	if !ok {
		return nil, models.ErrMovieNotFound
	}
	return &movie, nil
}

func (f fakeCatalog) ListMovies(ctx context.Context, page, size int) (*models.MoviePage, error) {
	result := &models.MoviePage{Movies: []models.Movie{}, Total: len(f), Page: page, Size: size}
	for _, m := range f {
		result.Movies = append(result.Movies, m)
	}
	return result, nil
}

type apiFixture struct {
	router *gin.Engine
	issuer *auth.Issuer
}

func setupAPITest(t *testing.T) *apiFixture {
	store := memstore.New()
	logger := zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))
	catalog := fakeCatalog{
		1: {ID: 1, Name: "Alien", Price: decimal.RequireFromString("10.00")},
		2: {ID: 2, Name: "Heat", Price: decimal.RequireFromString("15.00")},
		3: {ID: 3, Name: "Free Sample", Price: decimal.Zero},
	}
	l := ledger.New(store, catalog, nil, logger)
	r := reconciler.New(store, l, nil, logger)
	issuer := auth.NewIssuer(config.Auth{JWTSecret: "test-secret", TokenTTL: time.Hour})

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.LoggerMiddleware(logger))
	Routes{
		Movies:       NewMovieHandler(catalog, logger),
		Orders:       NewOrderHandler(l, logger),
		Payments:     NewPaymentHandler(l, r, logger),
		Issuer:       issuer,
		WebhookToken: gatewayToken,
	}.Register(router)

	return &apiFixture{router: router, issuer: issuer}
}

func (f *apiFixture) token(t *testing.T, userID int64, group models.UserGroup) string {
	t.Helper()
	token, err := f.issuer.Issue(&models.User{ID: userID, Group: group})
	require.NoError(t, err)
	return token
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, "/api/v1"+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token == gatewayToken {
		req.Header.Set(middleware.WebhookTokenHeader, token)
	} else if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if out != nil && w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
	}
	return w.Code
}

func (f *apiFixture) createOrder(t *testing.T, token string, movieIDs ...int64) models.Order {
	t.Helper()
	var order models.Order
	status := f.do(t, "POST", "/orders", token, models.CreateOrderRequest{CartID: 1, MovieIDs: movieIDs}, &order)
	require.Equal(t, http.StatusCreated, status)
	return order
}

func path(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}

func TestOrders_CreateAndRead(t *testing.T) {
	f := setupAPITest(t)
	alice := f.token(t, 1, models.UserGroupUser)

	order := f.createOrder(t, alice, 1, 2)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.True(t, order.Total().Equal(decimal.RequireFromString("25.00")))
	assert.Len(t, order.Items, 2)

	var got models.Order
	assert.Equal(t, http.StatusOK, f.do(t, "GET", path("/orders/%d", order.ID), alice, nil, &got))
	assert.Equal(t, order.ID, got.ID)

	var list []models.Order
	assert.Equal(t, http.StatusOK, f.do(t, "GET", "/orders", alice, nil, &list))
	assert.Len(t, list, 1)
}

func TestOrders_RequireToken(t *testing.T) {
	f := setupAPITest(t)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, "GET", "/orders", "", nil, nil))
}

func TestOrders_CreateRejections(t *testing.T) {
	f := setupAPITest(t)
	alice := f.token(t, 1, models.UserGroupUser)

	tests := []struct {
		name       string
		movieIDs   []int64
		wantStatus int
		wantKind   string
	}{
		{name: "empty cart", movieIDs: nil, wantStatus: http.StatusBadRequest, wantKind: "invalid_cart"},
		{name: "duplicate movie", movieIDs: []int64{1, 1}, wantStatus: http.StatusBadRequest, wantKind: "invalid_cart"},
		{name: "unknown movie", movieIDs: []int64{1, 99}, wantStatus: http.StatusUnprocessableEntity, wantKind: "catalog_item_unavailable"},
		{name: "unpriced movie", movieIDs: []int64{3}, wantStatus: http.StatusUnprocessableEntity, wantKind: "catalog_item_unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp errorResponse
			status := f.do(t, "POST", "/orders", alice, models.CreateOrderRequest{CartID: 1, MovieIDs: tt.movieIDs}, &resp)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantKind, resp.Kind)
		})
	}
}

func TestOrders_OtherUsersAreHidden(t *testing.T) {
	f := setupAPITest(t)
	alice := f.token(t, 1, models.UserGroupUser)
	bob := f.token(t, 2, models.UserGroupUser)
	mod := f.token(t, 3, models.UserGroupModerator)

	order := f.createOrder(t, alice, 1)

	assert.Equal(t, http.StatusNotFound, f.do(t, "GET", path("/orders/%d", order.ID), bob, nil, nil))
	assert.Equal(t, http.StatusNotFound, f.do(t, "POST", path("/orders/%d/cancel", order.ID), bob, nil, nil))
	assert.Equal(t, http.StatusNotFound, f.do(t, "POST", path("/orders/%d/payments", order.ID), bob, models.InitiatePaymentRequest{Amount: decimal.RequireFromString("10")}, nil))
	assert.Equal(t, http.StatusOK, f.do(t, "GET", path("/orders/%d", order.ID), mod, nil, nil))
}

func TestOrders_CancelThenDelete(t *testing.T) {
	f := setupAPITest(t)
	alice := f.token(t, 1, models.UserGroupUser)
	order := f.createOrder(t, alice, 1)

	var canceled models.Order
	require.Equal(t, http.StatusOK, f.do(t, "POST", path("/orders/%d/cancel", order.ID), alice, nil, &canceled))
	assert.Equal(t, models.OrderStatusCanceled, canceled.Status)

	var resp errorResponse
	assert.Equal(t, http.StatusConflict, f.do(t, "POST", path("/orders/%d/cancel", order.ID), alice, nil, &resp))
	assert.Equal(t, "invalid_order_state", resp.Kind)
	assert.Equal(t, "order", resp.Entity)
	assert.Equal(t, "canceled", resp.State)

	assert.Equal(t, http.StatusNoContent, f.do(t, "DELETE", path("/orders/%d", order.ID), alice, nil, nil))
	assert.Equal(t, http.StatusNotFound, f.do(t, "GET", path("/orders/%d", order.ID), alice, nil, nil))
}

func TestOrders_InvalidID(t *testing.T) {
	f := setupAPITest(t)
	alice := f.token(t, 1, models.UserGroupUser)
	assert.Equal(t, http.StatusBadRequest, f.do(t, "GET", "/orders/abc", alice, nil, nil))
}

func TestPayments_FullFlow(t *testing.T) {
	f := setupAPITest(t)
	alice := f.token(t, 1, models.UserGroupUser)
	order := f.createOrder(t, alice, 1, 2)

	var payment models.Payment
	require.Equal(t, http.StatusCreated, f.do(t, "POST", path("/orders/%d/payments", order.ID), alice,
		models.InitiatePaymentRequest{Amount: decimal.RequireFromString("25.00")}, &payment))
	assert.Equal(t, models.PaymentStatusPending, payment.Status)

	var dup errorResponse
	assert.Equal(t, http.StatusConflict, f.do(t, "POST", path("/orders/%d/payments", order.ID), alice,
		models.InitiatePaymentRequest{Amount: decimal.RequireFromString("1.00")}, &dup))
	assert.Equal(t, "duplicate_pending_payment", dup.Kind)

	var confirmed models.Payment
	require.Equal(t, http.StatusOK, f.do(t, "POST", path("/payments/%d/confirm", payment.ID), gatewayToken,
		models.ConfirmPaymentRequest{ExternalRef: "gw-77"}, &confirmed))
	assert.Equal(t, models.PaymentStatusSuccessful, confirmed.Status)
	assert.Len(t, confirmed.Items, 2)

	var paid models.Order
	require.Equal(t, http.StatusOK, f.do(t, "GET", path("/orders/%d", order.ID), alice, nil, &paid))
	assert.Equal(t, models.OrderStatusPaid, paid.Status)

	var payments []models.Payment
	require.Equal(t, http.StatusOK, f.do(t, "GET", path("/orders/%d/payments", order.ID), alice, nil, &payments))
	assert.Len(t, payments, 1)

	var again errorResponse
	assert.Equal(t, http.StatusConflict, f.do(t, "POST", path("/payments/%d/confirm", payment.ID), gatewayToken,
		models.ConfirmPaymentRequest{ExternalRef: "gw-77"}, &again))
	assert.Equal(t, "payment_not_settleable", again.Kind)
}

func TestPayments_InvalidAmount(t *testing.T) {
	f := setupAPITest(t)
	alice := f.token(t, 1, models.UserGroupUser)
	order := f.createOrder(t, alice, 1)

	for _, amount := range []string{"0", "-5", "1.234"} {
		var resp errorResponse
		status := f.do(t, "POST", path("/orders/%d/payments", order.ID), alice,
			models.InitiatePaymentRequest{Amount: decimal.RequireFromString(amount)}, &resp)
		assert.Equal(t, http.StatusBadRequest, status, amount)
		assert.Equal(t, "invalid_amount", resp.Kind, amount)
	}

	var over errorResponse
	assert.Equal(t, http.StatusConflict, f.do(t, "POST", path("/orders/%d/payments", order.ID), alice,
		models.InitiatePaymentRequest{Amount: decimal.RequireFromString("10.01")}, &over))
	assert.Equal(t, "order_not_payable", over.Kind)
}

func TestPayments_FailWebhook(t *testing.T) {
	f := setupAPITest(t)
	alice := f.token(t, 1, models.UserGroupUser)
	order := f.createOrder(t, alice, 1)

	var payment models.Payment
	require.Equal(t, http.StatusCreated, f.do(t, "POST", path("/orders/%d/payments", order.ID), alice,
		models.InitiatePaymentRequest{Amount: decimal.RequireFromString("10.00")}, &payment))

	assert.Equal(t, http.StatusUnauthorized, f.do(t, "POST", path("/payments/%d/fail", payment.ID), alice,
		models.FailPaymentRequest{Reason: "declined"}, nil))

	var failed models.Payment
	require.Equal(t, http.StatusOK, f.do(t, "POST", path("/payments/%d/fail", payment.ID), gatewayToken,
		models.FailPaymentRequest{Reason: "declined"}, &failed))
	assert.Equal(t, models.PaymentStatusCanceled, failed.Status)

	// A failed attempt frees the order for a new one.
	assert.Equal(t, http.StatusCreated, f.do(t, "POST", path("/orders/%d/payments", order.ID), alice,
		models.InitiatePaymentRequest{Amount: decimal.RequireFromString("10.00")}, nil))
}

func TestPayments_RefundNeedsStaff(t *testing.T) {
	f := setupAPITest(t)
	alice := f.token(t, 1, models.UserGroupUser)
	admin := f.token(t, 9, models.UserGroupAdmin)
	order := f.createOrder(t, alice, 1)

	var payment models.Payment
	require.Equal(t, http.StatusCreated, f.do(t, "POST", path("/orders/%d/payments", order.ID), alice,
		models.InitiatePaymentRequest{Amount: decimal.RequireFromString("10.00")}, &payment))
	require.Equal(t, http.StatusOK, f.do(t, "POST", path("/payments/%d/confirm", payment.ID), gatewayToken,
		models.ConfirmPaymentRequest{ExternalRef: "gw-1"}, nil))

	refund := models.RefundPaymentRequest{Amount: decimal.RequireFromString("4.00")}
	assert.Equal(t, http.StatusForbidden, f.do(t, "POST", path("/payments/%d/refund", payment.ID), alice, refund, nil))

	var tooMuch errorResponse
	assert.Equal(t, http.StatusUnprocessableEntity, f.do(t, "POST", path("/payments/%d/refund", payment.ID), admin,
		models.RefundPaymentRequest{Amount: decimal.RequireFromString("10.01")}, &tooMuch))
	assert.Equal(t, "refund_exceeds_settlement", tooMuch.Kind)

	var refunded models.Payment
	require.Equal(t, http.StatusOK, f.do(t, "POST", path("/payments/%d/refund", payment.ID), admin, refund, &refunded))
	assert.Equal(t, models.PaymentStatusPartiallyRefunded, refunded.Status)
	assert.True(t, refunded.RefundedAmount.Equal(decimal.RequireFromString("4.00")))
}

func TestPayments_GetIsScopedToOwner(t *testing.T) {
	f := setupAPITest(t)
	alice := f.token(t, 1, models.UserGroupUser)
	bob := f.token(t, 2, models.UserGroupUser)
	order := f.createOrder(t, alice, 2)

	var payment models.Payment
	require.Equal(t, http.StatusCreated, f.do(t, "POST", path("/orders/%d/payments", order.ID), alice,
		models.InitiatePaymentRequest{Amount: decimal.RequireFromString("5.00")}, &payment))

	assert.Equal(t, http.StatusOK, f.do(t, "GET", path("/payments/%d", payment.ID), alice, nil, nil))
	assert.Equal(t, http.StatusNotFound, f.do(t, "GET", path("/payments/%d", payment.ID), bob, nil, nil))
	assert.Equal(t, http.StatusNotFound, f.do(t, "GET", "/payments/999", alice, nil, nil))
}

func TestMovies_ListAndGet(t *testing.T) {
	f := setupAPITest(t)

	var page models.MoviePage
	require.Equal(t, http.StatusOK, f.do(t, "GET", "/movies?page=1&per_page=10", "", nil, &page))
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 10, page.Size)

	assert.Equal(t, http.StatusBadRequest, f.do(t, "GET", "/movies?page=0", "", nil, nil))
	assert.Equal(t, http.StatusBadRequest, f.do(t, "GET", "/movies?per_page=500", "", nil, nil))

	var movie models.Movie
	require.Equal(t, http.StatusOK, f.do(t, "GET", "/movies/2", "", nil, &movie))
	assert.Equal(t, "Heat", movie.Name)

	var missing errorResponse
	assert.Equal(t, http.StatusNotFound, f.do(t, "GET", "/movies/42", "", nil, &missing))
	assert.Equal(t, "movie_not_found", missing.Kind)
}
