package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"cinema-svc/middleware"
	"cinema-svc/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// errorKinds is checked in order; the first match decides the response.
// ErrInvalidAmount comes before ErrOrderNotPayable because a bad amount
// carries both.
var errorKinds = []struct {
	err    error
	status int
	kind   string
}{
	{models.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
	{models.ErrPaymentNotFound, http.StatusNotFound, "payment_not_found"},
	{models.ErrMovieNotFound, http.StatusNotFound, "movie_not_found"},
	{models.ErrInvalidCart, http.StatusBadRequest, "invalid_cart"},
	{models.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{models.ErrCatalogItemUnavailable, http.StatusUnprocessableEntity, "catalog_item_unavailable"},
	{models.ErrRefundExceedsSettlement, http.StatusUnprocessableEntity, "refund_exceeds_settlement"},
	{models.ErrInvalidOrderState, http.StatusConflict, "invalid_order_state"},
	{models.ErrUnderpaidOrder, http.StatusConflict, "underpaid_order"},
	{models.ErrOrderNotPayable, http.StatusConflict, "order_not_payable"},
	{models.ErrDuplicatePendingPayment, http.StatusConflict, "duplicate_pending_payment"},
	{models.ErrPaymentNotSettleable, http.StatusConflict, "payment_not_settleable"},
	{models.ErrPersistence, http.StatusServiceUnavailable, "persistence"},
}

type errorResponse struct {
	Error  string `json:"error"`
	Kind   string `json:"kind"`
	Entity string `json:"entity,omitempty"`
	ID     int64  `json:"id,omitempty"`
	State  string `json:"state,omitempty"`
	Detail string `json:"detail,omitempty"`
}

func respondError(c *gin.Context, logger *zap.Logger, err error) {
	status, kind := http.StatusInternalServerError, "internal"
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			status, kind = k.status, k.kind
			break
		}
	}

	if status >= http.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("trace_id", middleware.GetTraceID(c.Request.Context())),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		msg := "Internal server error"
		if status == http.StatusServiceUnavailable {
			msg = "Service temporarily unavailable"
		}
		c.JSON(status, errorResponse{Error: msg, Kind: kind})
		return
	}

	resp := errorResponse{Error: err.Error(), Kind: kind}
	var stateErr *models.StateError
	if errors.As(err, &stateErr) {
		resp.Entity = stateErr.Entity
		resp.ID = stateErr.ID
		resp.State = stateErr.Status
		resp.Detail = stateErr.Detail
	}
	c.JSON(status, resp)
}

func parseID(c *gin.Context, param string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(param), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + param})
		return 0, false
	}
	return id, true
}

// isStaff reports whether the caller may act on other users' orders.
func isStaff(c *gin.Context) bool {
	group := middleware.CurrentGroup(c)
	return group == models.UserGroupModerator || group == models.UserGroupAdmin
}
